package exchange

import (
	"math"
	"testing"
)

func TestSizeOrder(t *testing.T) {
	tests := []struct {
		name       string
		usdt       float64
		price      float64
		leverage   int
		precision  int
		wantQty    float64
		wantMargin float64
	}{
		{"reference vector", 100, 50000, 10, 3, 0.020, 100},
		{"floor rounds down", 100, 30000, 10, 2, 0.03, 90},
		{"no leverage amplification at 1x", 500, 2500, 1, 1, 0.2, 500},
		{"zero precision floors to whole contracts", 75, 4.2, 5, 0, 89, 74.76},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := SizeOrder(tt.usdt, tt.price, tt.leverage, tt.precision)
			if err != nil {
				t.Fatalf("SizeOrder: %v", err)
			}
			if !closeTo(det.Quantity, tt.wantQty) {
				t.Errorf("quantity = %v, want %v", det.Quantity, tt.wantQty)
			}
			if !closeTo(det.InitialMargin, tt.wantMargin) {
				t.Errorf("margin = %v, want %v", det.InitialMargin, tt.wantMargin)
			}
			if det.InitialMargin > tt.usdt+1e-9 {
				t.Errorf("margin %v exceeds requested amount %v", det.InitialMargin, tt.usdt)
			}
			if !closeTo(det.NotionalValue, det.Quantity*tt.price) {
				t.Errorf("notional = %v, want qty*price = %v", det.NotionalValue, det.Quantity*tt.price)
			}
		})
	}
}

func TestSizeOrderRejectsBadInput(t *testing.T) {
	if _, err := SizeOrder(0, 50000, 10, 3); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := SizeOrder(100, 0, 10, 3); err == nil {
		t.Error("expected error for zero price")
	}
	if _, err := SizeOrder(-5, 50000, 10, 3); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestFloorToPrecision(t *testing.T) {
	tests := []struct {
		v    float64
		n    int
		want float64
	}{
		{0.0209999, 3, 0.020},
		{1.999, 0, 1},
		{123.456789, 4, 123.4567},
		{0.1, 3, 0.1},
	}
	for _, tt := range tests {
		if got := FloorToPrecision(tt.v, tt.n); !closeTo(got, tt.want) {
			t.Errorf("FloorToPrecision(%v, %d) = %v, want %v", tt.v, tt.n, got, tt.want)
		}
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
