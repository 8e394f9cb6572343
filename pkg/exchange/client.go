package exchange

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/cache"
)

const (
	// DefaultLeverage applies when an order carries no leverage.
	DefaultLeverage = 10

	tickerTTL   = 5 * time.Second
	balanceTTL  = 5 * time.Second
	positionTTL = 5 * time.Second
	bracketTTL  = time.Hour
)

// Client is the capability surface the execution core programs against.
//
// Read methods (MarketInfo excepted) degrade rather than fail: on venue
// errors they log and return zero values so the monitor loop keeps running.
// Write methods propagate errors.
type Client interface {
	Name() Name
	Initialize(ctx context.Context) error
	Close() error

	MarketInfo(ctx context.Context, symbol string) (MarketInfo, error)
	Balance(ctx context.Context) AccountBalance
	Positions(ctx context.Context, symbol string) []PositionInfo

	CreateOrder(ctx context.Context, p OrderParams) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	Order(ctx context.Context, symbol, orderID string) (OrderInfo, error)

	// SetLeverage applies the margin mode and leverage for a symbol,
	// clamping the request to the venue's maximum. It returns the leverage
	// actually applied.
	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) (int, error)

	ConvertAmountToContracts(ctx context.Context, symbol string, usdtAmount, price float64, leverage int) (ConversionDetails, error)

	LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error)
	FundingRate(ctx context.Context, symbol string) (float64, error)

	// PrimeTicker pushes a streamed price into the market cache so readers
	// between REST refreshes see live marks.
	PrimeTicker(symbol string, last, mark float64)
}

type client struct {
	venue Venue
	pacer *Pacer

	markets   *cache.TTL[MarketInfo]
	balances  *cache.TTL[AccountBalance]
	positions *cache.TTL[[]PositionInfo]
	brackets  *cache.TTL[[]LeverageBracket]

	ready bool
}

// New wraps a venue backend in the shared client core.
func New(v Venue) Client {
	return &client{
		venue:     v,
		pacer:     NewPacer(v.MinInterval()),
		markets:   cache.NewTTL[MarketInfo](tickerTTL),
		balances:  cache.NewTTL[AccountBalance](balanceTTL),
		positions: cache.NewTTL[[]PositionInfo](positionTTL),
		brackets:  cache.NewTTL[[]LeverageBracket](bracketTTL),
	}
}

func (c *client) Name() Name { return c.venue.Name() }

// Initialize probes credentials and warms the market cache. Any error means
// the client must not be used.
func (c *client) Initialize(ctx context.Context) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := c.venue.Probe(ctx); err != nil {
		return fmt.Errorf("%s probe: %w", c.venue.Name(), err)
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	markets, err := c.venue.FetchMarkets(ctx)
	if err != nil {
		return fmt.Errorf("%s load markets: %w", c.venue.Name(), err)
	}
	for _, m := range markets {
		c.markets.Set(m.Symbol, m)
	}
	c.ready = true
	log.Printf("[EXCHANGE] %s initialized, %d markets", c.venue.Name(), len(markets))
	return nil
}

func (c *client) Close() error {
	c.ready = false
	return c.venue.Close()
}

// MarketInfo serves from the 5s cache, refetching definition and ticker on
// expiry. This is the one read path that returns an error: without a price
// and precision nothing downstream can size an order.
func (c *client) MarketInfo(ctx context.Context, symbol string) (MarketInfo, error) {
	if !c.ready {
		return MarketInfo{}, ErrNotInitialized
	}
	if m, ok := c.markets.Get(symbol); ok && m.LastPrice > 0 {
		return m, nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return MarketInfo{}, err
	}
	m, err := c.venue.FetchMarket(ctx, symbol)
	if err != nil {
		return MarketInfo{}, fmt.Errorf("%s market %s: %w", c.venue.Name(), symbol, err)
	}
	m.Timestamp = time.Now()
	c.markets.Set(symbol, m)
	return m, nil
}

func (c *client) PrimeTicker(symbol string, last, mark float64) {
	c.markets.Update(symbol, func(m MarketInfo) MarketInfo {
		if last > 0 {
			m.LastPrice = last
		}
		if mark > 0 {
			m.MarkPrice = mark
		}
		return m
	})
}

// Balance returns the cached account snapshot, refreshing on expiry. Venue
// errors degrade to a zero snapshot with a logged warning.
func (c *client) Balance(ctx context.Context) AccountBalance {
	if b, ok := c.balances.Get("account"); ok {
		return b
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return AccountBalance{}
	}
	b, err := c.venue.FetchBalance(ctx)
	if err != nil {
		log.Printf("[EXCHANGE] %s balance fetch failed: %v", c.venue.Name(), err)
		return AccountBalance{}
	}
	b.Timestamp = time.Now()
	c.balances.Set("account", b)
	return b
}

// Positions returns open positions, symbol "" meaning all. Per-symbol and
// all-symbol results live in independent cache entries so one never answers
// for the other. Venue errors degrade to nil with a logged warning.
func (c *client) Positions(ctx context.Context, symbol string) []PositionInfo {
	key := "all"
	if symbol != "" {
		key = symbol
	}
	if ps, ok := c.positions.Get(key); ok {
		return ps
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil
	}
	raw, err := c.venue.FetchPositions(ctx, symbol)
	if err != nil {
		log.Printf("[EXCHANGE] %s positions fetch failed: %v", c.venue.Name(), err)
		return nil
	}
	now := time.Now()
	ps := make([]PositionInfo, 0, len(raw))
	for _, p := range raw {
		if p.Size == 0 {
			continue
		}
		p.Timestamp = now
		ps = append(ps, p)
	}
	c.positions.Set(key, ps)
	return ps
}

// SetLeverage configures margin mode then leverage. A request above the
// venue's maximum is clamped, never rejected. Margin-mode errors are logged
// and tolerated (venues reject mode changes while a position is open);
// leverage errors propagate.
func (c *client) SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) (int, error) {
	if leverage < 1 {
		leverage = DefaultLeverage
	}
	if mode == "" {
		mode = MarginCross
	}

	brackets, err := c.LeverageBrackets(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("leverage brackets %s: %w", symbol, err)
	}
	applied := leverage
	if max := maxLeverage(brackets); max > 0 && applied > max {
		log.Printf("[EXCHANGE] %s %s: leverage %dx capped to venue max %dx", c.venue.Name(), symbol, leverage, max)
		applied = max
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	if err := c.venue.SetMarginMode(ctx, symbol, mode); err != nil {
		log.Printf("[EXCHANGE] %s %s: margin mode %s not applied: %v", c.venue.Name(), symbol, mode, err)
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	if err := c.venue.SetLeverage(ctx, symbol, applied); err != nil {
		return 0, fmt.Errorf("set leverage %s %dx: %w", symbol, applied, err)
	}
	return applied, nil
}

func maxLeverage(brackets []LeverageBracket) int {
	max := 0
	for _, b := range brackets {
		if b.MaxLeverage > max {
			max = b.MaxLeverage
		}
	}
	return max
}

// ConvertAmountToContracts sizes a USDT amount into a contract quantity
// using the symbol's amount precision and the venue-clamped leverage.
func (c *client) ConvertAmountToContracts(ctx context.Context, symbol string, usdtAmount, price float64, leverage int) (ConversionDetails, error) {
	m, err := c.MarketInfo(ctx, symbol)
	if err != nil {
		return ConversionDetails{}, err
	}
	if price <= 0 {
		price = m.LastPrice
	}
	if price <= 0 {
		return ConversionDetails{}, ErrNoPrice
	}
	if brackets, err := c.LeverageBrackets(ctx, symbol); err == nil {
		if max := maxLeverage(brackets); max > 0 && leverage > max {
			leverage = max
		}
	}
	det, err := SizeOrder(usdtAmount, price, leverage, m.AmountPrecision)
	if err != nil {
		return ConversionDetails{}, err
	}
	if det.Quantity <= 0 || (m.MinAmount > 0 && det.Quantity < m.MinAmount) {
		return det, fmt.Errorf("%w: %s qty %v min %v", ErrBelowMinimum, symbol, det.Quantity, m.MinAmount)
	}
	return det, nil
}

// CreateOrder runs the full order pipeline: resolve price, apply leverage
// and margin mode, convert the USDT amount to contracts, submit. Reduce-only
// orders skip leverage and conversion; their Amount is already a quantity.
func (c *client) CreateOrder(ctx context.Context, p OrderParams) (OrderResult, error) {
	if err := p.Validate(); err != nil {
		return failed(err), err
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}

	req := OrderRequest{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Type:       p.Type,
		Price:      p.Price,
		StopPrice:  p.StopPrice,
		ReduceOnly: p.ReduceOnly,
		ClientID:   p.ClientID,
	}

	if p.ReduceOnly {
		m, err := c.MarketInfo(ctx, p.Symbol)
		if err != nil {
			return failed(err), err
		}
		req.Qty = FloorToPrecision(p.Amount, m.AmountPrecision)
		if req.Qty <= 0 {
			err := fmt.Errorf("%w: close qty %v", ErrBelowMinimum, p.Amount)
			return failed(err), err
		}
	} else {
		m, err := c.MarketInfo(ctx, p.Symbol)
		if err != nil {
			return failed(err), err
		}
		usePrice := p.Price
		if usePrice <= 0 {
			usePrice = m.LastPrice
		}
		if usePrice <= 0 {
			return failed(ErrNoPrice), ErrNoPrice
		}

		lev := p.Leverage
		if lev < 1 {
			lev = DefaultLeverage
		}
		applied, err := c.SetLeverage(ctx, p.Symbol, lev, p.MarginMode)
		if err != nil {
			return failed(err), err
		}
		det, err := c.ConvertAmountToContracts(ctx, p.Symbol, p.Amount, usePrice, applied)
		if err != nil {
			return failed(err), err
		}
		req.Qty = det.Quantity
		log.Printf("[EXCHANGE] %s %s: %.2f USDT @ %v -> qty %v (margin %.2f, %dx)",
			c.venue.Name(), p.Symbol, p.Amount, usePrice, det.Quantity, det.InitialMargin, det.Leverage)
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return failed(err), err
	}
	ack, err := c.venue.SubmitOrder(ctx, req)
	if err != nil {
		err = fmt.Errorf("submit %s %s %s: %w", p.Symbol, p.Side, p.Type, err)
		return failed(err), err
	}

	// The fill can change positions and margin well inside the TTL window;
	// force the next read to refetch.
	c.positions.Delete(p.Symbol)
	c.positions.Delete("all")
	c.balances.Delete("account")

	price := ack.Price
	if price <= 0 {
		price = req.Price
	}
	return OrderResult{
		Success:        true,
		OrderID:        ack.OrderID,
		ExecutedPrice:  price,
		ExecutedAmount: req.Qty,
	}, nil
}

func (c *client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := c.venue.CancelOrder(ctx, symbol, orderID); err != nil {
		return fmt.Errorf("cancel %s %s: %w", symbol, orderID, err)
	}
	return nil
}

func (c *client) Order(ctx context.Context, symbol, orderID string) (OrderInfo, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return OrderInfo{}, err
	}
	o, err := c.venue.FetchOrder(ctx, symbol, orderID)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("fetch order %s %s: %w", symbol, orderID, err)
	}
	return o, nil
}

func (c *client) LeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	if bs, ok := c.brackets.Get(symbol); ok {
		return bs, nil
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	bs, err := c.venue.FetchLeverageBrackets(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s brackets %s: %w", c.venue.Name(), symbol, err)
	}
	c.brackets.Set(symbol, bs)
	return bs, nil
}

func (c *client) FundingRate(ctx context.Context, symbol string) (float64, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return 0, err
	}
	r, err := c.venue.FetchFundingRate(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s funding %s: %w", c.venue.Name(), symbol, err)
	}
	return r, nil
}

func failed(err error) OrderResult {
	return OrderResult{Success: false, Error: err.Error()}
}
