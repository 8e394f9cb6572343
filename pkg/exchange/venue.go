package exchange

import (
	"context"
	"time"
)

// Venue is the raw REST surface a concrete exchange backend implements.
// Venue methods translate canonical types to wire formats and back; all
// caching, pacing, sizing and leverage policy live in the Client built on
// top (see New).
type Venue interface {
	Name() Name

	// MinInterval is the venue's minimum spacing between REST requests.
	MinInterval() time.Duration

	// Probe verifies connectivity and credentials (a signed read).
	Probe(ctx context.Context) error

	// FetchMarkets returns definitions for all tradable contracts.
	FetchMarkets(ctx context.Context) ([]MarketInfo, error)

	// FetchMarket returns the definition plus current ticker for one symbol.
	FetchMarket(ctx context.Context, symbol string) (MarketInfo, error)

	FetchBalance(ctx context.Context) (AccountBalance, error)

	// FetchPositions returns open positions; symbol "" means all symbols.
	FetchPositions(ctx context.Context, symbol string) ([]PositionInfo, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (OrderInfo, error)

	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	FetchLeverageBrackets(ctx context.Context, symbol string) ([]LeverageBracket, error)
	FetchFundingRate(ctx context.Context, symbol string) (float64, error)

	Close() error
}
