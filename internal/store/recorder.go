package store

import (
	"context"
	"log"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
)

// Recorder subscribes to the event bus and appends lifecycle events to the
// store. It is fire-and-forget: a write failure is logged, never surfaced to
// the publisher.
type Recorder struct {
	store *Store
	bus   *events.Bus
}

// NewRecorder wires a recorder to the bus.
func NewRecorder(s *Store, bus *events.Bus) *Recorder {
	return &Recorder{store: s, bus: bus}
}

// Run consumes lifecycle events until the context ends.
func (r *Recorder) Run(ctx context.Context) {
	topics := []events.Event{
		events.EventSignalReceived,
		events.EventSignalRejected,
		events.EventSignalCompleted,
		events.EventOrderPlaced,
		events.EventOrderFailed,
		events.EventTakeProfitHit,
		events.EventStopAdjusted,
		events.EventPositionClosed,
	}
	for _, topic := range topics {
		ch, unsub := r.bus.Subscribe(topic, 256)
		go r.consume(ctx, topic, ch, unsub)
	}
	log.Printf("[STORE] recorder subscribed to %d topics", len(topics))
}

func (r *Recorder) consume(ctx context.Context, topic events.Event, ch <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			r.record(topic, payload)
		}
	}
}

func (r *Recorder) record(topic events.Event, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		signalID, exch, symbol string
		err                    error
	)
	switch p := payload.(type) {
	case events.SignalEvent:
		signalID, exch, symbol = p.Signal.ID, string(p.Signal.Exchange), p.Signal.Symbol
		if saveErr := r.store.SaveSignal(ctx, p.Signal); saveErr != nil {
			log.Printf("[STORE] save signal %s: %v", signalID, saveErr)
		}
	case events.RejectionEvent:
	case events.OrderEvent:
		signalID, exch, symbol = p.SignalID, string(p.Exchange), p.Symbol
	case events.TakeProfitEvent:
		signalID, exch, symbol = p.SignalID, string(p.Exchange), p.Symbol
	case events.StopEvent:
		signalID, exch, symbol = p.SignalID, string(p.Exchange), p.Symbol
	case events.CloseEvent:
		signalID, exch, symbol = p.SignalID, string(p.Exchange), p.Symbol
	}

	err = r.store.RecordEvent(ctx, signalID, string(topic), exch, symbol, payload)
	if err != nil {
		log.Printf("[STORE] record %s: %v", topic, err)
	}
}
