package events

import (
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// Event enumerates signal lifecycle topics.
type Event string

const (
	EventSignalReceived  Event = "signal.received"
	EventSignalRejected  Event = "signal.rejected"
	EventSignalCompleted Event = "signal.completed"
	EventOrderPlaced     Event = "order.placed"
	EventOrderFailed     Event = "order.failed"
	EventTakeProfitHit   Event = "position.take_profit_hit"
	EventStopAdjusted    Event = "position.stop_adjusted"
	EventPositionClosed  Event = "position.closed"
)

// SignalEvent accompanies signal.received / signal.completed. Signal is a
// snapshot: publishers clone before handing it to the bus, so subscribers
// may read it without coordinating with the execution registry.
type SignalEvent struct {
	Signal *signal.TradingSignal
	Time   time.Time
}

// RejectionEvent accompanies signal.rejected.
type RejectionEvent struct {
	Raw    map[string]any
	Reason string
	Time   time.Time
}

// OrderEvent accompanies order.placed / order.failed.
type OrderEvent struct {
	SignalID string
	Exchange exchange.Name
	Symbol   string
	Side     exchange.Side
	Type     exchange.OrderType
	Result   exchange.OrderResult
	Time     time.Time
}

// TakeProfitEvent accompanies position.take_profit_hit.
type TakeProfitEvent struct {
	SignalID string
	Exchange exchange.Name
	Symbol   string
	Level    int
	Price    float64
	Closed   float64
	Time     time.Time
}

// StopEvent accompanies position.stop_adjusted.
type StopEvent struct {
	SignalID string
	Exchange exchange.Name
	Symbol   string
	OldStop  float64
	NewStop  float64
	Time     time.Time
}

// CloseEvent accompanies position.closed.
type CloseEvent struct {
	SignalID string
	Exchange exchange.Name
	Symbol   string
	Size     float64
	Time     time.Time
}
