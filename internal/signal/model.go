package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// Action is what a signal asks the executor to do.
type Action string

const (
	ActionOpenLong  Action = "OPEN_LONG"
	ActionOpenShort Action = "OPEN_SHORT"
	ActionClose     Action = "CLOSE"
)

// RiskLevel is the source's own risk annotation, passed through untouched.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ZoneStatus tracks one entry zone's order lifecycle.
type ZoneStatus string

const (
	ZonePending  ZoneStatus = "PENDING"
	ZonePlaced   ZoneStatus = "PLACED"
	ZoneFilled   ZoneStatus = "FILLED"
	ZoneFailed   ZoneStatus = "FAILED"
	ZoneCanceled ZoneStatus = "CANCELED"
)

// EntryZone is one laddered entry level with its share of the position.
type EntryZone struct {
	Price      float64    `json:"price"`
	Percentage float64    `json:"percentage"` // fraction of position size, 0..1
	OrderID    string     `json:"order_id,omitempty"`
	Status     ZoneStatus `json:"status"`
}

// TakeProfitLevel is one profit target with its share of the position.
type TakeProfitLevel struct {
	Price      float64   `json:"price"`
	Percentage float64   `json:"percentage"` // fraction of position to close, 0..1
	IsHit      bool      `json:"is_hit"`
	HitTime    time.Time `json:"hit_time,omitempty"`
}

// TradingSignal is the canonical signal the execution core operates on.
// EntryPrice and EntryZones are mutually exclusive; zones win when both are
// present.
type TradingSignal struct {
	ID           string                `json:"id"`
	Exchange     exchange.Name         `json:"exchange"`
	Symbol       string                `json:"symbol"`
	Action       Action                `json:"action"`
	EntryPrice   float64               `json:"entry_price,omitempty"`
	EntryZones   []EntryZone           `json:"entry_zones,omitempty"`
	TakeProfits  []TakeProfitLevel     `json:"take_profit_levels,omitempty"`
	StopLoss     float64               `json:"stop_loss,omitempty"`
	PositionSize float64               `json:"position_size"` // USDT notional before leverage
	Leverage     int                   `json:"leverage"`
	MarginMode   exchange.MarginMode   `json:"margin_mode"`
	Confidence   float64               `json:"confidence"`
	RiskLevel    RiskLevel             `json:"risk_level,omitempty"`
	DynamicSL    bool                  `json:"dynamic_sl"`
	Source       Source                `json:"source"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Source records where a signal came from.
type Source struct {
	Channel   string `json:"channel,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Key identifies the signal's position slot: one active signal per
// exchange+symbol pair.
func (s *TradingSignal) Key() string {
	return fmt.Sprintf("%s_%s", s.Exchange, s.Symbol)
}

// EntryReference is the price all risk math anchors on: the single entry
// price, or the average of the zone prices when zones are present.
func (s *TradingSignal) EntryReference() float64 {
	if len(s.EntryZones) > 0 {
		sum := 0.0
		for _, z := range s.EntryZones {
			sum += z.Price
		}
		return sum / float64(len(s.EntryZones))
	}
	return s.EntryPrice
}

// IsValid reports whether the signal is executable: identity fields set, and
// for opening actions an entry, a stop and at least one target.
func (s *TradingSignal) IsValid() bool {
	if s.Symbol == "" || s.Action == "" {
		return false
	}
	if s.Exchange != exchange.Binance && s.Exchange != exchange.OKX {
		return false
	}
	if s.Action == ActionClose {
		return true
	}
	return s.EntryReference() > 0 && s.StopLoss > 0 && len(s.TakeProfits) > 0
}

// RiskRewardRatio is distance to the extreme take-profit (furthest in the
// trade's direction) over distance to the stop. Zero when it cannot be
// computed.
func (s *TradingSignal) RiskRewardRatio() float64 {
	entry := s.EntryReference()
	if entry <= 0 || s.StopLoss <= 0 || len(s.TakeProfits) == 0 {
		return 0
	}
	risk := math.Abs(entry - s.StopLoss)
	if risk == 0 {
		return 0
	}
	short := s.Action == ActionOpenShort
	extreme := s.TakeProfits[0].Price
	for _, tp := range s.TakeProfits[1:] {
		if short && tp.Price < extreme {
			extreme = tp.Price
		}
		if !short && tp.Price > extreme {
			extreme = tp.Price
		}
	}
	return math.Abs(extreme-entry) / risk
}

// ValidateLevels checks that the stop and targets sit on the correct side of
// the entry and that zone prices are distinct.
func (s *TradingSignal) ValidateLevels() error {
	if s.Action == ActionClose {
		return nil
	}
	entry := s.EntryReference()
	long := s.Action == ActionOpenLong

	if s.StopLoss > 0 {
		if long && s.StopLoss >= entry {
			return fmt.Errorf("%w: long stop %v at or above entry %v", ErrInvalidSignal, s.StopLoss, entry)
		}
		if !long && s.StopLoss <= entry {
			return fmt.Errorf("%w: short stop %v at or below entry %v", ErrInvalidSignal, s.StopLoss, entry)
		}
	}
	for _, tp := range s.TakeProfits {
		if long && tp.Price <= entry {
			return fmt.Errorf("%w: long target %v at or below entry %v", ErrInvalidSignal, tp.Price, entry)
		}
		if !long && tp.Price >= entry {
			return fmt.Errorf("%w: short target %v at or above entry %v", ErrInvalidSignal, tp.Price, entry)
		}
	}
	for i := 0; i < len(s.EntryZones); i++ {
		for j := i + 1; j < len(s.EntryZones); j++ {
			if math.Abs(s.EntryZones[i].Price-s.EntryZones[j].Price) < minZoneSpacing {
				return fmt.Errorf("%w: entry zones %v and %v too close", ErrInvalidSignal, s.EntryZones[i].Price, s.EntryZones[j].Price)
			}
		}
	}
	return nil
}

// Clone returns a deep copy, safe to hand to other goroutines while the
// original keeps being mutated under the owner's lock.
func (s *TradingSignal) Clone() *TradingSignal {
	c := *s
	c.EntryZones = append([]EntryZone(nil), s.EntryZones...)
	c.TakeProfits = append([]TakeProfitLevel(nil), s.TakeProfits...)
	return &c
}

// RemainingTargets counts take-profit levels not yet hit.
func (s *TradingSignal) RemainingTargets() int {
	n := 0
	for _, tp := range s.TakeProfits {
		if !tp.IsHit {
			n++
		}
	}
	return n
}
