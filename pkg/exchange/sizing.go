package exchange

import (
	"fmt"
	"math"
)

// SizeOrder converts a USDT amount into a contract quantity under leverage.
//
// Notional is amplified by leverage before dividing by price, and the raw
// quantity is floored (never rounded up) to the venue's amount precision so
// the order can never exceed the intended margin. The returned details carry
// the initial margin actually consumed by the floored quantity.
func SizeOrder(usdtAmount, price float64, leverage, amountPrecision int) (ConversionDetails, error) {
	if usdtAmount <= 0 {
		return ConversionDetails{}, fmt.Errorf("size order: amount must be positive, got %v", usdtAmount)
	}
	if price <= 0 {
		return ConversionDetails{}, fmt.Errorf("size order: price must be positive, got %v", price)
	}
	if leverage < 1 {
		leverage = 1
	}
	if amountPrecision < 0 {
		amountPrecision = 0
	}

	notional := usdtAmount * float64(leverage)
	raw := notional / price
	qty := FloorToPrecision(raw, amountPrecision)

	return ConversionDetails{
		RawQuantity:   raw,
		Quantity:      qty,
		InitialMargin: qty * price / float64(leverage),
		NotionalValue: qty * price,
		Price:         price,
		Leverage:      leverage,
	}, nil
}

// FloorToPrecision truncates v to n decimal places.
func FloorToPrecision(v float64, n int) float64 {
	pow := math.Pow10(n)
	return math.Floor(v*pow) / pow
}
