package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), "test-instance")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveSignalAndEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := &signal.TradingSignal{
		ID:           "sig-1",
		Exchange:     exchange.Binance,
		Symbol:       "BTCUSDT",
		Action:       signal.ActionOpenLong,
		EntryPrice:   50000,
		StopLoss:     49000,
		PositionSize: 100,
		Leverage:     10,
		MarginMode:   exchange.MarginCross,
		Confidence:   0.8,
	}
	if err := s.SaveSignal(ctx, sig); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	// Replacing the same signal must not error.
	if err := s.SaveSignal(ctx, sig); err != nil {
		t.Fatalf("SaveSignal replace: %v", err)
	}

	if err := s.RecordEvent(ctx, sig.ID, "order.placed", "BINANCE", "BTCUSDT", map[string]any{"order_id": "1"}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, sig.ID, "position.closed", "BINANCE", "BTCUSDT", nil); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	events, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	// Most recent first.
	if events[0].Event != "position.closed" || events[1].Event != "order.placed" {
		t.Errorf("unexpected order: %s, %s", events[0].Event, events[1].Event)
	}
	if events[0].SignalID != "sig-1" || events[0].Symbol != "BTCUSDT" {
		t.Errorf("event row missing identity: %+v", events[0])
	}
}

func TestRecentEventsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.RecordEvent(ctx, "sig", "signal.received", "OKX", "ETHUSDT", nil); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}
	events, err := s.RecentEvents(ctx, 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("events = %d, want 3", len(events))
	}
}
