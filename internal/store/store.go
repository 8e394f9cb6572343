package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    exchange TEXT NOT NULL,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    entry_price REAL,
    stop_loss REAL,
    position_size REAL,
    leverage INTEGER,
    margin_mode TEXT,
    confidence REAL,
    channel TEXT,
    payload TEXT,
    instance_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS signal_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id TEXT,
    event TEXT NOT NULL,
    exchange TEXT,
    symbol TEXT,
    payload TEXT,
    instance_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signal_events_signal ON signal_events(signal_id);
CREATE INDEX IF NOT EXISTS idx_signal_events_event ON signal_events(event);
`

// Store is the append-only signal lifecycle log. The execution core never
// reads it back for decisions; it exists for audit and the operator API.
type Store struct {
	db         *sql.DB
	instanceID string
}

// Open creates (if needed) and opens the SQLite log at path.
func Open(path, instanceID string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, instanceID: instanceID}, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSignal records a normalized signal.
func (s *Store) SaveSignal(ctx context.Context, sig *signal.TradingSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT OR REPLACE INTO signals
        (id, exchange, symbol, action, entry_price, stop_loss, position_size, leverage, margin_mode, confidence, channel, payload, instance_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, string(sig.Exchange), sig.Symbol, string(sig.Action),
		sig.EntryReference(), sig.StopLoss, sig.PositionSize, sig.Leverage,
		string(sig.MarginMode), sig.Confidence, sig.Source.Channel,
		string(payload), s.instanceID)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RecordEvent appends one lifecycle event.
func (s *Store) RecordEvent(ctx context.Context, signalID, event, exchange, symbol string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO signal_events (signal_id, event, exchange, symbol, payload, instance_id)
        VALUES (?, ?, ?, ?, ?, ?)`,
		signalID, event, exchange, symbol, string(body), s.instanceID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventRecord is one row of the lifecycle log.
type EventRecord struct {
	ID        int64           `json:"id"`
	SignalID  string          `json:"signal_id"`
	Event     string          `json:"event"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecentEvents returns the newest lifecycle events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, signal_id, event, exchange, symbol, payload, created_at
        FROM signal_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var payload, created string
		if err := rows.Scan(&r.ID, &r.SignalID, &r.Event, &r.Exchange, &r.Symbol, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		// SQLite stores CURRENT_TIMESTAMP as "2006-01-02 15:04:05".
		r.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", created)
		out = append(out, r)
	}
	return out, rows.Err()
}
