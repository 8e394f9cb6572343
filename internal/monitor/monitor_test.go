package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/signal"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// fakeClient serves one mutable position and records orders.
type fakeClient struct {
	name       exchange.Name
	positions  []exchange.PositionInfo
	orders     []exchange.OrderParams
	failOrders bool
}

func (f *fakeClient) Name() exchange.Name                  { return f.name }
func (f *fakeClient) Initialize(context.Context) error     { return nil }
func (f *fakeClient) Close() error                         { return nil }
func (f *fakeClient) PrimeTicker(string, float64, float64) {}

func (f *fakeClient) MarketInfo(_ context.Context, symbol string) (exchange.MarketInfo, error) {
	return exchange.MarketInfo{Symbol: symbol, AmountPrecision: 3}, nil
}

func (f *fakeClient) Balance(context.Context) exchange.AccountBalance {
	return exchange.AccountBalance{}
}

func (f *fakeClient) Positions(_ context.Context, symbol string) []exchange.PositionInfo {
	if symbol == "" {
		return f.positions
	}
	var out []exchange.PositionInfo
	for _, p := range f.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeClient) CreateOrder(_ context.Context, p exchange.OrderParams) (exchange.OrderResult, error) {
	f.orders = append(f.orders, p)
	if f.failOrders {
		err := errors.New("rejected by venue")
		return exchange.OrderResult{Error: err.Error()}, err
	}
	return exchange.OrderResult{
		Success:        true,
		OrderID:        fmt.Sprintf("ord-%d", len(f.orders)),
		ExecutedAmount: p.Amount,
	}, nil
}

func (f *fakeClient) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeClient) Order(_ context.Context, symbol, id string) (exchange.OrderInfo, error) {
	return exchange.OrderInfo{ID: id, Symbol: symbol}, nil
}

func (f *fakeClient) SetLeverage(_ context.Context, _ string, lev int, _ exchange.MarginMode) (int, error) {
	return lev, nil
}

func (f *fakeClient) ConvertAmountToContracts(_ context.Context, _ string, usdt, price float64, lev int) (exchange.ConversionDetails, error) {
	return exchange.SizeOrder(usdt, price, lev, 3)
}

func (f *fakeClient) LeverageBrackets(context.Context, string) ([]exchange.LeverageBracket, error) {
	return nil, nil
}

func (f *fakeClient) FundingRate(context.Context, string) (float64, error) { return 0, nil }

func longPosition(mark float64) exchange.PositionInfo {
	return exchange.PositionInfo{
		Symbol:     "BTCUSDT",
		Side:       exchange.PositionLong,
		Size:       0.1,
		EntryPrice: 50000,
		MarkPrice:  mark,
	}
}

func trailingSignal() *signal.TradingSignal {
	return &signal.TradingSignal{
		ID:        "sig-1",
		Exchange:  exchange.Binance,
		Symbol:    "BTCUSDT",
		Action:    signal.ActionOpenLong,
		StopLoss:  49000,
		DynamicSL: true,
		TakeProfits: []signal.TakeProfitLevel{
			{Price: 55000, Percentage: 0.5},
			{Price: 60000, Percentage: 0.5},
		},
	}
}

func setup(sig *signal.TradingSignal, pos exchange.PositionInfo) (*Monitor, *execution.Manager, *fakeClient) {
	mgr := execution.NewManager(events.NewBus())
	client := &fakeClient{name: exchange.Binance, positions: []exchange.PositionInfo{pos}}
	mgr.Register(client)
	mon := New(mgr, DefaultInterval)
	if sig != nil {
		mgr.ExecuteSignal(context.Background(), seed(sig))
	}
	return mon, mgr, client
}

// seed turns a prepared signal into a registered one via a market entry.
func seed(sig *signal.TradingSignal) *signal.TradingSignal {
	sig.PositionSize = 100
	sig.Leverage = 10
	return sig
}

func TestDynamicStopRatchetsUp(t *testing.T) {
	sig := trailingSignal()
	mon, _, client := setup(sig, longPosition(52000))
	client.orders = nil // drop the entry order

	mon.Pass(context.Background())

	// Favorable by 2000: stop moves to entry + 1000.
	if sig.StopLoss != 51000 {
		t.Fatalf("stop = %v, want 51000", sig.StopLoss)
	}
	if len(client.orders) != 1 {
		t.Fatalf("orders = %d, want one stop order", len(client.orders))
	}
	o := client.orders[0]
	if o.Type != exchange.OrderTypeStopMarket || o.StopPrice != 51000 || !o.ReduceOnly || o.Side != exchange.SideSell {
		t.Errorf("stop order wrong shape: %+v", o)
	}
}

func TestDynamicStopOnlyTightens(t *testing.T) {
	sig := trailingSignal()
	mon, _, client := setup(sig, longPosition(52000))
	client.orders = nil

	mon.Pass(context.Background())
	if sig.StopLoss != 51000 {
		t.Fatalf("stop = %v, want 51000", sig.StopLoss)
	}

	// Price retreats; a looser stop must not be issued.
	client.positions = []exchange.PositionInfo{longPosition(51200)}
	client.orders = nil
	mon.Pass(context.Background())
	if sig.StopLoss != 51000 {
		t.Errorf("stop loosened to %v", sig.StopLoss)
	}
	if len(client.orders) != 0 {
		t.Errorf("issued %d orders on retreat, want 0", len(client.orders))
	}
}

func TestDynamicStopShortDirection(t *testing.T) {
	sig := trailingSignal()
	sig.Action = signal.ActionOpenShort
	sig.StopLoss = 51000
	sig.TakeProfits = []signal.TakeProfitLevel{{Price: 45000, Percentage: 1}}

	pos := longPosition(48000)
	pos.Side = exchange.PositionShort
	mon, _, client := setup(sig, pos)
	client.orders = nil

	mon.Pass(context.Background())

	// Favorable by 2000 downward: stop moves to entry - 1000.
	if sig.StopLoss != 49000 {
		t.Fatalf("stop = %v, want 49000", sig.StopLoss)
	}
	if client.orders[0].Side != exchange.SideBuy {
		t.Errorf("short stop closes with %s, want BUY", client.orders[0].Side)
	}
}

func TestDynamicStopIgnoredWhenDisabled(t *testing.T) {
	sig := trailingSignal()
	sig.DynamicSL = false
	sig.TakeProfits = []signal.TakeProfitLevel{{Price: 99000, Percentage: 1}}
	mon, _, client := setup(sig, longPosition(52000))
	client.orders = nil

	mon.Pass(context.Background())
	if sig.StopLoss != 49000 || len(client.orders) != 0 {
		t.Errorf("static stop touched: stop %v, %d orders", sig.StopLoss, len(client.orders))
	}
}

func TestDynamicStopUnappliedIsNotRecorded(t *testing.T) {
	sig := trailingSignal()
	mon, _, client := setup(sig, longPosition(52000))
	client.orders = nil
	client.failOrders = true

	mon.Pass(context.Background())
	if sig.StopLoss != 49000 {
		t.Errorf("stop written back despite venue rejection: %v", sig.StopLoss)
	}
}

func TestTakeProfitFiresAndMarks(t *testing.T) {
	sig := trailingSignal()
	sig.DynamicSL = false
	mon, mgr, client := setup(sig, longPosition(55500))
	client.orders = nil

	mon.Pass(context.Background())

	if !sig.TakeProfits[0].IsHit {
		t.Fatal("first target not marked hit")
	}
	if sig.TakeProfits[1].IsHit {
		t.Fatal("second target marked without trigger")
	}
	if len(client.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(client.orders))
	}
	o := client.orders[0]
	if o.Type != exchange.OrderTypeMarket || !o.ReduceOnly || o.Side != exchange.SideSell {
		t.Errorf("close order wrong shape: %+v", o)
	}
	// Half of the 0.1 position.
	if o.Amount != 0.05 {
		t.Errorf("close size = %v, want 0.05", o.Amount)
	}

	// Second pass at the same price must not re-fire.
	client.orders = nil
	mon.Pass(context.Background())
	if len(client.orders) != 0 {
		t.Errorf("target re-fired: %d orders", len(client.orders))
	}
	if mgr.ActiveSignal(exchange.Binance, "BTCUSDT") == nil {
		t.Error("signal deregistered with a target remaining")
	}
}

func TestTakeProfitFailureRetries(t *testing.T) {
	sig := trailingSignal()
	sig.DynamicSL = false
	mon, _, client := setup(sig, longPosition(55500))
	client.orders = nil
	client.failOrders = true

	mon.Pass(context.Background())
	if sig.TakeProfits[0].IsHit {
		t.Fatal("target marked hit despite failed close")
	}

	// Venue recovers; the same level fires on the next pass.
	client.failOrders = false
	client.orders = nil
	mon.Pass(context.Background())
	if !sig.TakeProfits[0].IsHit {
		t.Error("target did not retry after failure")
	}
}

func TestAllTargetsHitCompletesSignal(t *testing.T) {
	sig := trailingSignal()
	sig.DynamicSL = false
	mon, mgr, client := setup(sig, longPosition(61000))
	client.orders = nil

	mon.Pass(context.Background())
	if len(client.orders) != 2 {
		t.Fatalf("orders = %d, want both targets closed", len(client.orders))
	}
	if mgr.ActiveSignal(exchange.Binance, "BTCUSDT") != nil {
		t.Error("slot not freed after all targets hit")
	}
}

func TestFailingExchangeDoesNotBlockOthers(t *testing.T) {
	mgr := execution.NewManager(events.NewBus())
	bad := &fakeClient{name: exchange.Binance, positions: []exchange.PositionInfo{longPosition(55500)}}
	good := &fakeClient{name: exchange.OKX, positions: []exchange.PositionInfo{longPosition(55500)}}
	mgr.Register(bad)
	mgr.Register(good)
	mon := New(mgr, DefaultInterval)

	sigA := trailingSignal()
	sigA.DynamicSL = false
	mgr.ExecuteSignal(context.Background(), seed(sigA))

	sigB := trailingSignal()
	sigB.ID = "sig-2"
	sigB.Exchange = exchange.OKX
	sigB.DynamicSL = false
	mgr.ExecuteSignal(context.Background(), seed(sigB))

	// Every order on the first venue now fails.
	bad.failOrders = true
	bad.orders, good.orders = nil, nil

	mon.Pass(context.Background())

	if sigA.TakeProfits[0].IsHit {
		t.Error("failing venue marked its target hit")
	}
	if !sigB.TakeProfits[0].IsHit {
		t.Error("healthy venue's target did not fire in the same pass")
	}
	if len(good.orders) != 1 || !good.orders[0].ReduceOnly {
		t.Errorf("healthy venue orders = %+v, want one reduce-only close", good.orders)
	}
}

func TestPositionsWithoutSignalIgnored(t *testing.T) {
	mon, _, client := setup(nil, longPosition(55500))
	mon.Pass(context.Background())
	if len(client.orders) != 0 {
		t.Errorf("orders issued for unmanaged position: %d", len(client.orders))
	}
}
