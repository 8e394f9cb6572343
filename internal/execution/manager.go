package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

var (
	// ErrExchangeNotConfigured means no client is registered for the venue.
	ErrExchangeNotConfigured = errors.New("execution: exchange not configured")

	// ErrNoPosition means a close or modify found nothing open.
	ErrNoPosition = errors.New("execution: no open position")
)

// Manager routes validated signals to exchange clients and owns the
// active-signal registry the monitor consults. One signal per
// exchange+symbol slot; a new signal for an occupied slot replaces it.
type Manager struct {
	mu      sync.RWMutex
	clients map[exchange.Name]exchange.Client
	signals map[string]*signal.TradingSignal
	bus     *events.Bus
}

// NewManager creates an empty manager publishing to bus.
func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		clients: make(map[exchange.Name]exchange.Client),
		signals: make(map[string]*signal.TradingSignal),
		bus:     bus,
	}
}

// Register adds a ready client.
func (m *Manager) Register(c exchange.Client) {
	m.mu.Lock()
	m.clients[c.Name()] = c
	m.mu.Unlock()
	log.Printf("[EXECUTOR] registered %s", c.Name())
}

// Client returns the client for a venue.
func (m *Manager) Client(name exchange.Name) (exchange.Client, error) {
	m.mu.RLock()
	c, ok := m.clients[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotConfigured, name)
	}
	return c, nil
}

// Exchanges lists registered venues.
func (m *Manager) Exchanges() []exchange.Name {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]exchange.Name, 0, len(m.clients))
	for n := range m.clients {
		names = append(names, n)
	}
	return names
}

// ExecuteSignal places the orders a signal asks for. Configuration problems
// come back as a failed result rather than a panic; order rejections carry
// the venue's message. For zoned entries every zone is attempted even when
// an earlier one fails, and the first zone's result is returned.
func (m *Manager) ExecuteSignal(ctx context.Context, sig *signal.TradingSignal) exchange.OrderResult {
	if sig.Action == signal.ActionClose {
		res, err := m.ClosePosition(ctx, sig.Exchange, sig.Symbol)
		if err != nil {
			return exchange.OrderResult{Error: err.Error()}
		}
		return res
	}

	client, err := m.Client(sig.Exchange)
	if err != nil {
		log.Printf("[EXECUTOR] %s: %v", sig.Key(), err)
		return exchange.OrderResult{Error: err.Error()}
	}

	side := exchange.SideBuy
	if sig.Action == signal.ActionOpenShort {
		side = exchange.SideSell
	}

	if len(sig.EntryZones) > 0 {
		return m.executeZones(ctx, client, sig, side)
	}
	return m.executeSingle(ctx, client, sig, side)
}

// executeZones ladders limit orders across the entry zones.
func (m *Manager) executeZones(ctx context.Context, client exchange.Client, sig *signal.TradingSignal, side exchange.Side) exchange.OrderResult {
	results := make([]exchange.OrderResult, 0, len(sig.EntryZones))
	anyPlaced := false

	for i := range sig.EntryZones {
		zone := &sig.EntryZones[i]
		res, err := client.CreateOrder(ctx, exchange.OrderParams{
			Symbol:     sig.Symbol,
			Side:       side,
			Type:       exchange.OrderTypeLimit,
			Amount:     sig.PositionSize * zone.Percentage,
			Price:      zone.Price,
			Leverage:   sig.Leverage,
			MarginMode: sig.MarginMode,
		})
		if err != nil {
			log.Printf("[EXECUTOR] %s zone %d @ %v failed: %v", sig.Key(), i+1, zone.Price, err)
			zone.Status = signal.ZoneFailed
			m.publishOrder(events.EventOrderFailed, sig, side, exchange.OrderTypeLimit, res)
		} else {
			zone.Status = signal.ZonePlaced
			zone.OrderID = res.OrderID
			anyPlaced = true
			m.publishOrder(events.EventOrderPlaced, sig, side, exchange.OrderTypeLimit, res)
		}
		results = append(results, res)
	}

	if anyPlaced {
		m.registerSignal(sig)
	}
	return results[0]
}

// executeSingle places one order at the entry price, or at market when the
// signal carries no price.
func (m *Manager) executeSingle(ctx context.Context, client exchange.Client, sig *signal.TradingSignal, side exchange.Side) exchange.OrderResult {
	orderType := exchange.OrderTypeMarket
	if sig.EntryPrice > 0 {
		orderType = exchange.OrderTypeLimit
	}
	res, err := client.CreateOrder(ctx, exchange.OrderParams{
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       orderType,
		Amount:     sig.PositionSize,
		Price:      sig.EntryPrice,
		Leverage:   sig.Leverage,
		MarginMode: sig.MarginMode,
	})
	if err != nil {
		log.Printf("[EXECUTOR] %s entry failed: %v", sig.Key(), err)
		m.publishOrder(events.EventOrderFailed, sig, side, orderType, res)
		return res
	}
	m.publishOrder(events.EventOrderPlaced, sig, side, orderType, res)
	m.registerSignal(sig)
	return res
}

// ClosePosition flattens the open position with a reduce-only market order.
func (m *Manager) ClosePosition(ctx context.Context, name exchange.Name, symbol string) (exchange.OrderResult, error) {
	client, err := m.Client(name)
	if err != nil {
		return exchange.OrderResult{Error: err.Error()}, err
	}

	pos := findPosition(client.Positions(ctx, symbol), symbol)
	if pos == nil {
		return exchange.OrderResult{Error: ErrNoPosition.Error()}, fmt.Errorf("%w: %s %s", ErrNoPosition, name, symbol)
	}

	res, err := client.CreateOrder(ctx, exchange.OrderParams{
		Symbol:     symbol,
		Side:       pos.Side.Opposite(),
		Type:       exchange.OrderTypeMarket,
		Amount:     pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return res, err
	}

	key := fmt.Sprintf("%s_%s", name, symbol)
	sigID := ""
	if sig := m.ActiveSignal(name, symbol); sig != nil {
		sigID = sig.ID
		m.cancelPendingZones(ctx, client, sig)
	}
	m.Deregister(key)
	m.bus.Publish(events.EventPositionClosed, events.CloseEvent{
		SignalID: sigID,
		Exchange: name,
		Symbol:   symbol,
		Size:     pos.Size,
		Time:     time.Now(),
	})
	log.Printf("[EXECUTOR] closed %s %s size %v", name, symbol, pos.Size)
	return res, nil
}

// ModifyPosition (re)arms protective orders for an open position: a
// reduce-only stop-market at stopLoss and/or a reduce-only
// take-profit-market at takeProfit. Zero skips a leg. Both requested legs
// must succeed for a true return.
func (m *Manager) ModifyPosition(ctx context.Context, name exchange.Name, symbol string, stopLoss, takeProfit float64) bool {
	client, err := m.Client(name)
	if err != nil {
		log.Printf("[EXECUTOR] modify %s %s: %v", name, symbol, err)
		return false
	}
	pos := findPosition(client.Positions(ctx, symbol), symbol)
	if pos == nil {
		log.Printf("[EXECUTOR] modify %s %s: no open position", name, symbol)
		return false
	}

	ok := true
	if stopLoss > 0 {
		if _, err := client.CreateOrder(ctx, exchange.OrderParams{
			Symbol:     symbol,
			Side:       pos.Side.Opposite(),
			Type:       exchange.OrderTypeStopMarket,
			Amount:     pos.Size,
			StopPrice:  stopLoss,
			ReduceOnly: true,
		}); err != nil {
			log.Printf("[EXECUTOR] %s %s stop @ %v failed: %v", name, symbol, stopLoss, err)
			ok = false
		}
	}
	if takeProfit > 0 {
		if _, err := client.CreateOrder(ctx, exchange.OrderParams{
			Symbol:     symbol,
			Side:       pos.Side.Opposite(),
			Type:       exchange.OrderTypeTakeProfitMarket,
			Amount:     pos.Size,
			StopPrice:  takeProfit,
			ReduceOnly: true,
		}); err != nil {
			log.Printf("[EXECUTOR] %s %s target @ %v failed: %v", name, symbol, takeProfit, err)
			ok = false
		}
	}
	return ok
}

// cancelPendingZones pulls resting zone limit orders so a closed position
// cannot be reopened by a stale ladder.
func (m *Manager) cancelPendingZones(ctx context.Context, client exchange.Client, sig *signal.TradingSignal) {
	for i := range sig.EntryZones {
		zone := &sig.EntryZones[i]
		if zone.Status != signal.ZonePlaced || zone.OrderID == "" {
			continue
		}
		if err := client.CancelOrder(ctx, sig.Symbol, zone.OrderID); err != nil {
			log.Printf("[EXECUTOR] %s: cancel zone order %s failed: %v", sig.Key(), zone.OrderID, err)
			continue
		}
		zone.Status = signal.ZoneCanceled
	}
}

func findPosition(positions []exchange.PositionInfo, symbol string) *exchange.PositionInfo {
	for i := range positions {
		if positions[i].Symbol == symbol && positions[i].Size > 0 {
			return &positions[i]
		}
	}
	return nil
}

func (m *Manager) publishOrder(topic events.Event, sig *signal.TradingSignal, side exchange.Side, ot exchange.OrderType, res exchange.OrderResult) {
	m.bus.Publish(topic, events.OrderEvent{
		SignalID: sig.ID,
		Exchange: sig.Exchange,
		Symbol:   sig.Symbol,
		Side:     side,
		Type:     ot,
		Result:   res,
		Time:     time.Now(),
	})
}
