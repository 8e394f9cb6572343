package exchange

import "errors"

var (
	// ErrInvalidOrder means the order parameters failed local validation.
	ErrInvalidOrder = errors.New("exchange: invalid order parameters")

	// ErrNoPrice means neither an explicit price nor a ticker price was
	// available to size the order.
	ErrNoPrice = errors.New("exchange: no price available")

	// ErrUnknownSymbol means the venue does not list the symbol.
	ErrUnknownSymbol = errors.New("exchange: unknown symbol")

	// ErrNotInitialized means a client method was called before Initialize.
	ErrNotInitialized = errors.New("exchange: client not initialized")

	// ErrBelowMinimum means the computed quantity rounds below the venue's
	// minimum order size.
	ErrBelowMinimum = errors.New("exchange: quantity below venue minimum")
)
