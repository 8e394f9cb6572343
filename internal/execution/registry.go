package execution

import (
	"fmt"
	"log"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// registerSignal records the signal in its exchange+symbol slot, replacing
// any previous occupant.
func (m *Manager) registerSignal(sig *signal.TradingSignal) {
	m.mu.Lock()
	old := m.signals[sig.Key()]
	m.signals[sig.Key()] = sig
	m.mu.Unlock()
	if old != nil {
		log.Printf("[EXECUTOR] %s: signal %s replaces %s", sig.Key(), sig.ID, old.ID)
	}
}

// ActiveSignal returns the signal occupying the exchange+symbol slot, nil
// when the slot is free.
func (m *Manager) ActiveSignal(name exchange.Name, symbol string) *signal.TradingSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signals[fmt.Sprintf("%s_%s", name, symbol)]
}

// ActiveSignals snapshots the registry.
func (m *Manager) ActiveSignals() []*signal.TradingSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*signal.TradingSignal, 0, len(m.signals))
	for _, s := range m.signals {
		out = append(out, s)
	}
	return out
}

// Deregister frees a slot.
func (m *Manager) Deregister(key string) {
	m.mu.Lock()
	delete(m.signals, key)
	m.mu.Unlock()
}

// UpdateStop writes back a newly applied stop so later monitor passes
// compare against the applied level, keeping the ratchet monotonic. It
// publishes the adjustment and returns the previous stop.
func (m *Manager) UpdateStop(sig *signal.TradingSignal, newStop float64) float64 {
	m.mu.Lock()
	old := sig.StopLoss
	sig.StopLoss = newStop
	m.mu.Unlock()
	m.bus.Publish(events.EventStopAdjusted, events.StopEvent{
		SignalID: sig.ID,
		Exchange: sig.Exchange,
		Symbol:   sig.Symbol,
		OldStop:  old,
		NewStop:  newStop,
		Time:     time.Now(),
	})
	return old
}

// MarkTakeProfitHit flags level i as filled and publishes the hit. When the
// last level goes, the slot is freed and the signal completes.
func (m *Manager) MarkTakeProfitHit(sig *signal.TradingSignal, i int, closed float64) {
	m.mu.Lock()
	if i < 0 || i >= len(sig.TakeProfits) || sig.TakeProfits[i].IsHit {
		m.mu.Unlock()
		return
	}
	sig.TakeProfits[i].IsHit = true
	sig.TakeProfits[i].HitTime = time.Now()
	remaining := 0
	for _, tp := range sig.TakeProfits {
		if !tp.IsHit {
			remaining++
		}
	}
	price := sig.TakeProfits[i].Price
	// Snapshot under the lock: subscribers read the event concurrently with
	// further registry mutations.
	var snap *signal.TradingSignal
	if remaining == 0 {
		snap = sig.Clone()
	}
	m.mu.Unlock()

	m.bus.Publish(events.EventTakeProfitHit, events.TakeProfitEvent{
		SignalID: sig.ID,
		Exchange: sig.Exchange,
		Symbol:   sig.Symbol,
		Level:    i + 1,
		Price:    price,
		Closed:   closed,
		Time:     time.Now(),
	})

	if remaining == 0 {
		m.Deregister(sig.Key())
		m.bus.Publish(events.EventSignalCompleted, events.SignalEvent{Signal: snap, Time: time.Now()})
		log.Printf("[EXECUTOR] %s: all targets hit, signal %s complete", sig.Key(), sig.ID)
	}
}

// TakeProfitHit reports whether level i is already filled.
func (m *Manager) TakeProfitHit(sig *signal.TradingSignal, i int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return i >= 0 && i < len(sig.TakeProfits) && sig.TakeProfits[i].IsHit
}

// SignalStop reads the current stop under the registry lock.
func (m *Manager) SignalStop(sig *signal.TradingSignal) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sig.StopLoss
}
