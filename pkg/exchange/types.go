package exchange

import "time"

// Name identifies a supported trading venue.
type Name string

const (
	Binance Name = "BINANCE"
	OKX     Name = "OKX"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types the execution core places.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// PositionSide distinguishes long from short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// MarginMode is cross (shared margin pool) or isolated (per-position margin).
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Credentials holds API access for one venue.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // OKX only
	Testnet    bool
}

// OrderParams captures one order intent before venue-specific translation.
//
// For entry orders Amount is a USDT notional that the client converts into a
// contract quantity under leverage. For reduce-only orders Amount is already
// a contract quantity and is submitted as-is.
type OrderParams struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Amount     float64
	Price      float64 // required for LIMIT
	StopPrice  float64 // required for STOP_MARKET / TAKE_PROFIT_MARKET
	ReduceOnly bool
	Leverage   int
	MarginMode MarginMode
	ClientID   string
}

// Validate checks the locally-verifiable invariants of an order.
func (p OrderParams) Validate() error {
	if p.Symbol == "" || p.Side == "" || p.Type == "" {
		return ErrInvalidOrder
	}
	if p.Amount <= 0 {
		return ErrInvalidOrder
	}
	if p.Type == OrderTypeLimit && p.Price <= 0 {
		return ErrInvalidOrder
	}
	if (p.Type == OrderTypeStopMarket || p.Type == OrderTypeTakeProfitMarket) && p.StopPrice <= 0 {
		return ErrInvalidOrder
	}
	return nil
}

// OrderResult is the outcome of a single order attempt.
type OrderResult struct {
	Success        bool
	OrderID        string
	ExecutedPrice  float64
	ExecutedAmount float64
	Error          string
}

// OrderInfo is a point-in-time view of an order on the exchange.
type OrderInfo struct {
	ID        string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	Amount    float64
	Filled    float64
	Remaining float64
	Status    string
	Timestamp time.Time
}

// AccountBalance is a point-in-time snapshot of futures account margin.
// A zero value means "unknown", not "empty account".
type AccountBalance struct {
	TotalEquity   float64
	UsedMargin    float64
	FreeMargin    float64
	MarginRatio   float64 // used/total*100
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

// PositionInfo is a point-in-time snapshot of one open position.
type PositionInfo struct {
	Symbol           string
	Side             PositionSide
	Size             float64 // contract quantity, always positive
	EntryPrice       float64
	MarkPrice        float64
	LiquidationPrice float64
	Leverage         int
	MarginMode       MarginMode
	InitialMargin    float64
	MaintMargin      float64
	UnrealizedPnL    float64
	Notional         float64
	Timestamp        time.Time
}

// MarketInfo combines a market definition with the latest ticker.
type MarketInfo struct {
	Symbol          string
	Base            string
	Quote           string
	PricePrecision  int
	AmountPrecision int
	MinAmount       float64
	MinCost         float64
	ContractSize    float64
	LastPrice       float64
	MarkPrice       float64
	Timestamp       time.Time
}

// LeverageBracket is one tier of a symbol's leverage ladder.
type LeverageBracket struct {
	Bracket          int
	MaxLeverage      int
	NotionalCap      float64
	NotionalFloor    float64
	MaintMarginRatio float64
}

// ConversionDetails documents how a USDT amount became a contract quantity.
type ConversionDetails struct {
	RawQuantity   float64
	Quantity      float64
	InitialMargin float64
	NotionalValue float64
	Price         float64
	Leverage      int
}

// OrderRequest is the venue-level order shape after amount conversion.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
	ClientID   string
}

// OrderAck is the venue's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID string
	Price   float64
	Status  string
}

// Opposite returns the closing side for a position side.
func (s PositionSide) Opposite() Side {
	if s == PositionLong {
		return SideSell
	}
	return SideBuy
}
