package monitor

import (
	"context"
	"log"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

const (
	// DefaultInterval is the pass cadence.
	DefaultInterval = time.Second

	// trailRatio is the share of favorable distance the dynamic stop locks
	// in: halfway between entry and the current price.
	trailRatio = 0.5
)

// Monitor walks open positions every interval, ratcheting dynamic stops and
// firing take-profit levels for their active signals. One venue's failure
// never stops the others, and the loop itself only ends with the context.
type Monitor struct {
	manager  *execution.Manager
	interval time.Duration
}

// New creates a monitor over the manager's clients and registry.
func New(manager *execution.Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{manager: manager, interval: interval}
}

// Run blocks until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Printf("[MONITOR] started, interval %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[MONITOR] stopped")
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass runs one sweep over every venue.
func (m *Monitor) Pass(ctx context.Context) {
	for _, name := range m.manager.Exchanges() {
		client, err := m.manager.Client(name)
		if err != nil {
			continue
		}
		m.checkExchange(ctx, name, client)
	}
}

func (m *Monitor) checkExchange(ctx context.Context, name exchange.Name, client exchange.Client) {
	for _, pos := range client.Positions(ctx, "") {
		sig := m.manager.ActiveSignal(name, pos.Symbol)
		if sig == nil {
			continue
		}
		price, ok := m.currentPrice(ctx, client, pos)
		if !ok {
			continue
		}
		m.checkDynamicStop(ctx, sig, pos, price)
		m.checkTakeProfits(ctx, client, sig, pos, price)
	}
}

// currentPrice prefers the mark price; stops and triggers follow mark on
// both venues.
func (m *Monitor) currentPrice(ctx context.Context, client exchange.Client, pos exchange.PositionInfo) (float64, bool) {
	if pos.MarkPrice > 0 {
		return pos.MarkPrice, true
	}
	mi, err := client.MarketInfo(ctx, pos.Symbol)
	if err != nil {
		log.Printf("[MONITOR] %s %s price unavailable: %v", client.Name(), pos.Symbol, err)
		return 0, false
	}
	if mi.MarkPrice > 0 {
		return mi.MarkPrice, true
	}
	if mi.LastPrice > 0 {
		return mi.LastPrice, true
	}
	return 0, false
}

// checkDynamicStop moves the stop to lock in half the favorable distance.
// The stop only ever tightens, and a successfully applied stop is written
// back to the signal so the next pass compares against the applied level.
func (m *Monitor) checkDynamicStop(ctx context.Context, sig *signal.TradingSignal, pos exchange.PositionInfo, price float64) {
	if !sig.DynamicSL || pos.EntryPrice <= 0 {
		return
	}

	current := m.manager.SignalStop(sig)
	var newStop float64
	switch pos.Side {
	case exchange.PositionLong:
		if price <= pos.EntryPrice {
			return
		}
		newStop = pos.EntryPrice + (price-pos.EntryPrice)*trailRatio
		if current > 0 && newStop <= current {
			return
		}
	case exchange.PositionShort:
		if price >= pos.EntryPrice {
			return
		}
		newStop = pos.EntryPrice - (pos.EntryPrice-price)*trailRatio
		if current > 0 && newStop >= current {
			return
		}
	default:
		return
	}

	if !m.manager.ModifyPosition(ctx, sig.Exchange, sig.Symbol, newStop, 0) {
		log.Printf("[MONITOR] %s: stop move to %v not applied", sig.Key(), newStop)
		return
	}
	m.manager.UpdateStop(sig, newStop)
	log.Printf("[MONITOR] %s: stop %v -> %v (price %v)", sig.Key(), current, newStop, price)
}

// checkTakeProfits fires levels the price has crossed. A level is marked
// hit only after its close order succeeds, so a failed close retries on the
// next pass.
func (m *Monitor) checkTakeProfits(ctx context.Context, client exchange.Client, sig *signal.TradingSignal, pos exchange.PositionInfo, price float64) {
	long := pos.Side == exchange.PositionLong
	for i := range sig.TakeProfits {
		if m.manager.TakeProfitHit(sig, i) {
			continue
		}
		tp := sig.TakeProfits[i]
		triggered := (long && price >= tp.Price) || (!long && price <= tp.Price)
		if !triggered {
			continue
		}

		closeQty := pos.Size * tp.Percentage
		res, err := client.CreateOrder(ctx, exchange.OrderParams{
			Symbol:     sig.Symbol,
			Side:       pos.Side.Opposite(),
			Type:       exchange.OrderTypeMarket,
			Amount:     closeQty,
			ReduceOnly: true,
		})
		if err != nil {
			log.Printf("[MONITOR] %s: close %v at target %d failed: %v", sig.Key(), closeQty, i+1, err)
			continue
		}
		m.manager.MarkTakeProfitHit(sig, i, res.ExecutedAmount)
		log.Printf("[MONITOR] %s: target %d hit @ %v, closed %v", sig.Key(), i+1, tp.Price, res.ExecutedAmount)
	}
}
