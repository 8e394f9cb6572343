package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeVenue counts calls and serves canned data so the client core's
// caching, clamping and order pipeline can be exercised offline.
type fakeVenue struct {
	balanceCalls   int
	positionCalls  int
	marketCalls    int
	leverageCalls  int
	marginCalls    int
	submitted      []OrderRequest
	lastLeverage   int
	maxLeverage    int
	balanceErr     error
	positionsBySym map[string][]PositionInfo
	allPositions   []PositionInfo
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{maxLeverage: 20, positionsBySym: map[string][]PositionInfo{}}
}

func (f *fakeVenue) Name() Name                  { return Binance }
func (f *fakeVenue) MinInterval() time.Duration  { return 0 }
func (f *fakeVenue) Probe(context.Context) error { return nil }
func (f *fakeVenue) Close() error                { return nil }

func (f *fakeVenue) FetchMarkets(context.Context) ([]MarketInfo, error) {
	return []MarketInfo{{Symbol: "BTCUSDT", AmountPrecision: 3, PricePrecision: 1, LastPrice: 50000, MarkPrice: 50000}}, nil
}

func (f *fakeVenue) FetchMarket(_ context.Context, symbol string) (MarketInfo, error) {
	f.marketCalls++
	if symbol != "BTCUSDT" {
		return MarketInfo{}, ErrUnknownSymbol
	}
	return MarketInfo{Symbol: symbol, AmountPrecision: 3, PricePrecision: 1, LastPrice: 50000, MarkPrice: 50000}, nil
}

func (f *fakeVenue) FetchBalance(context.Context) (AccountBalance, error) {
	f.balanceCalls++
	if f.balanceErr != nil {
		return AccountBalance{}, f.balanceErr
	}
	return AccountBalance{TotalEquity: 1000, UsedMargin: 100, FreeMargin: 900, MarginRatio: 10}, nil
}

func (f *fakeVenue) FetchPositions(_ context.Context, symbol string) ([]PositionInfo, error) {
	f.positionCalls++
	if symbol == "" {
		return f.allPositions, nil
	}
	return f.positionsBySym[symbol], nil
}

func (f *fakeVenue) SubmitOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	f.submitted = append(f.submitted, req)
	return OrderAck{OrderID: "ord-1", Price: req.Price, Status: "NEW"}, nil
}

func (f *fakeVenue) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeVenue) FetchOrder(_ context.Context, symbol, id string) (OrderInfo, error) {
	return OrderInfo{ID: id, Symbol: symbol, Status: "NEW"}, nil
}

func (f *fakeVenue) SetMarginMode(_ context.Context, _ string, _ MarginMode) error {
	f.marginCalls++
	return nil
}

func (f *fakeVenue) SetLeverage(_ context.Context, _ string, lev int) error {
	f.leverageCalls++
	f.lastLeverage = lev
	return nil
}

func (f *fakeVenue) FetchLeverageBrackets(context.Context, string) ([]LeverageBracket, error) {
	return []LeverageBracket{{Bracket: 1, MaxLeverage: f.maxLeverage, NotionalCap: 50000}}, nil
}

func (f *fakeVenue) FetchFundingRate(context.Context, string) (float64, error) { return 0.0001, nil }

func initClient(t *testing.T, v Venue) Client {
	t.Helper()
	c := New(v)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func TestBalanceIsCached(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)

	ctx := context.Background()
	c.Balance(ctx)
	c.Balance(ctx)
	if v.balanceCalls != 1 {
		t.Errorf("balance calls = %d, want 1 (second read should hit cache)", v.balanceCalls)
	}
}

func TestBalanceDegradesToZero(t *testing.T) {
	v := newFakeVenue()
	v.balanceErr = errors.New("http 503")
	c := initClient(t, v)

	b := c.Balance(context.Background())
	if b.TotalEquity != 0 || b.UsedMargin != 0 {
		t.Errorf("expected zero balance on venue error, got %+v", b)
	}
}

func TestPositionCachesAreIndependent(t *testing.T) {
	v := newFakeVenue()
	v.positionsBySym["BTCUSDT"] = []PositionInfo{{Symbol: "BTCUSDT", Side: PositionLong, Size: 0.5}}
	v.allPositions = []PositionInfo{
		{Symbol: "BTCUSDT", Side: PositionLong, Size: 0.5},
		{Symbol: "ETHUSDT", Side: PositionShort, Size: 2},
	}
	c := initClient(t, v)
	ctx := context.Background()

	if got := c.Positions(ctx, "BTCUSDT"); len(got) != 1 {
		t.Fatalf("per-symbol positions = %d, want 1", len(got))
	}
	// The all-symbols query must not be answered by the per-symbol entry.
	if got := c.Positions(ctx, ""); len(got) != 2 {
		t.Fatalf("all positions = %d, want 2", len(got))
	}
	if v.positionCalls != 2 {
		t.Errorf("position fetches = %d, want 2 (one per cache key)", v.positionCalls)
	}

	// Repeats hit their own cached entries.
	c.Positions(ctx, "BTCUSDT")
	c.Positions(ctx, "")
	if v.positionCalls != 2 {
		t.Errorf("position fetches after cached reads = %d, want 2", v.positionCalls)
	}
}

func TestPositionsDropFlat(t *testing.T) {
	v := newFakeVenue()
	v.allPositions = []PositionInfo{
		{Symbol: "BTCUSDT", Side: PositionLong, Size: 0.5},
		{Symbol: "ETHUSDT", Side: PositionLong, Size: 0},
	}
	c := initClient(t, v)

	got := c.Positions(context.Background(), "")
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Errorf("expected only the non-flat position, got %+v", got)
	}
}

func TestSetLeverageClampsToVenueMax(t *testing.T) {
	v := newFakeVenue()
	v.maxLeverage = 20
	c := initClient(t, v)

	applied, err := c.SetLeverage(context.Background(), "BTCUSDT", 125, MarginCross)
	if err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	if applied != 20 {
		t.Errorf("applied leverage = %d, want clamp to 20", applied)
	}
	if v.lastLeverage != 20 {
		t.Errorf("venue received leverage %d, want 20", v.lastLeverage)
	}
	if v.marginCalls != 1 {
		t.Errorf("margin mode calls = %d, want 1 (mode set before leverage)", v.marginCalls)
	}
}

func TestSetLeverageWithinMaxUnchanged(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)

	applied, err := c.SetLeverage(context.Background(), "BTCUSDT", 10, MarginIsolated)
	if err != nil {
		t.Fatalf("SetLeverage: %v", err)
	}
	if applied != 10 {
		t.Errorf("applied leverage = %d, want 10", applied)
	}
}

func TestCreateOrderSizesEntry(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)

	res, err := c.CreateOrder(context.Background(), OrderParams{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeMarket,
		Amount:   100,
		Leverage: 10,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !res.Success || res.OrderID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(v.submitted) != 1 {
		t.Fatalf("submitted %d orders, want 1", len(v.submitted))
	}
	// 100 USDT * 10x / 50000 = 0.02 contracts.
	if !closeTo(v.submitted[0].Qty, 0.020) {
		t.Errorf("qty = %v, want 0.020", v.submitted[0].Qty)
	}
	if v.leverageCalls != 1 {
		t.Errorf("leverage calls = %d, want 1", v.leverageCalls)
	}
}

func TestCreateOrderReduceOnlySkipsLeverage(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)

	res, err := c.CreateOrder(context.Background(), OrderParams{
		Symbol:     "BTCUSDT",
		Side:       SideSell,
		Type:       OrderTypeMarket,
		Amount:     0.0305,
		ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if v.leverageCalls != 0 {
		t.Errorf("reduce-only order changed leverage (%d calls)", v.leverageCalls)
	}
	// Quantity floored to amount precision, not treated as USDT.
	if !closeTo(v.submitted[0].Qty, 0.030) {
		t.Errorf("qty = %v, want 0.030", v.submitted[0].Qty)
	}
	if !v.submitted[0].ReduceOnly {
		t.Error("reduce-only flag not forwarded")
	}
}

func TestCreateOrderRejectsInvalid(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)

	res, err := c.CreateOrder(context.Background(), OrderParams{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeLimit, Amount: 100})
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder (limit without price)", err)
	}
	if res.Success {
		t.Error("result marked success on invalid order")
	}
}

func TestPrimeTickerUpdatesCachedMarket(t *testing.T) {
	v := newFakeVenue()
	c := initClient(t, v)
	ctx := context.Background()

	if _, err := c.MarketInfo(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("MarketInfo: %v", err)
	}
	c.PrimeTicker("BTCUSDT", 51000, 50990)
	m, err := c.MarketInfo(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("MarketInfo: %v", err)
	}
	if m.LastPrice != 51000 || m.MarkPrice != 50990 {
		t.Errorf("streamed prices not visible, got last=%v mark=%v", m.LastPrice, m.MarkPrice)
	}
}

func TestCreateOrderInvalidatesPositionAndBalanceCaches(t *testing.T) {
	v := newFakeVenue()
	v.positionsBySym["BTCUSDT"] = []PositionInfo{{Symbol: "BTCUSDT", Side: PositionLong, Size: 0.02}}
	c := initClient(t, v)
	ctx := context.Background()

	c.Positions(ctx, "BTCUSDT")
	c.Positions(ctx, "BTCUSDT")
	c.Balance(ctx)
	if v.positionCalls != 1 || v.balanceCalls != 1 {
		t.Fatalf("warm-up fetches = %d/%d, want 1 each", v.positionCalls, v.balanceCalls)
	}

	_, err := c.CreateOrder(ctx, OrderParams{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Amount: 100, Leverage: 10,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Both caches must refetch after the fill.
	c.Positions(ctx, "BTCUSDT")
	c.Balance(ctx)
	if v.positionCalls != 2 {
		t.Errorf("position fetches after order = %d, want 2", v.positionCalls)
	}
	if v.balanceCalls != 2 {
		t.Errorf("balance fetches after order = %d, want 2", v.balanceCalls)
	}
}
