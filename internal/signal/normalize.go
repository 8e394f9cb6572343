package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// ErrInvalidSignal means a raw candidate cannot become an executable signal.
var ErrInvalidSignal = errors.New("signal: invalid")

const (
	defaultStopPct = 0.02 // 2% from entry when the source gives no stop
	minRiskReward  = 1.5
	pctTolerance   = 1e-5
	minZoneSpacing = 0.001
)

// Default take-profit ladder: 2R/3R/4R closing 40/30/30.
var (
	defaultTPMultiples = []float64{2, 3, 4}
	defaultTPShares    = []float64{0.4, 0.3, 0.3}
)

// Defaults fills fields a raw candidate omits. Sources get their own
// profiles; BaseDefaults is the fallback.
type Defaults struct {
	PositionSize float64
	Leverage     int
	MarginMode   exchange.MarginMode
	Confidence   float64
	DynamicSL    bool
}

// BaseDefaults returns the stock defaults.
func BaseDefaults() Defaults {
	return Defaults{
		PositionSize: 50,
		Leverage:     10,
		MarginMode:   exchange.MarginCross,
		Confidence:   0.8,
	}
}

// Normalizer turns raw extraction candidates into validated signals.
type Normalizer struct {
	defaults Defaults
}

// NewNormalizer builds a normalizer over the given defaults.
func NewNormalizer(d Defaults) *Normalizer {
	if d.PositionSize <= 0 {
		d.PositionSize = 50
	}
	if d.Leverage < 1 {
		d.Leverage = 10
	}
	if d.MarginMode == "" {
		d.MarginMode = exchange.MarginCross
	}
	if d.Confidence <= 0 {
		d.Confidence = 0.8
	}
	return &Normalizer{defaults: d}
}

// Normalize validates and coerces one raw candidate. The policy is forgiving
// on non-essential fields (malformed zones and targets are skipped with a
// warning, bad numerics fall back to defaults) and strict on essentials:
// missing identity, levels on the wrong side of entry, or a reward/risk
// under 1.5 reject the candidate.
func (n *Normalizer) Normalize(raw map[string]any) (*TradingSignal, error) {
	exch := exchange.Name(strings.ToUpper(toString(raw["exchange"])))
	if exch != exchange.Binance && exch != exchange.OKX {
		return nil, fmt.Errorf("%w: unsupported exchange %q", ErrInvalidSignal, raw["exchange"])
	}
	symbol := normalizeSymbol(toString(raw["symbol"]))
	if symbol == "" {
		return nil, fmt.Errorf("%w: missing symbol", ErrInvalidSignal)
	}
	action := Action(strings.ToUpper(toString(raw["action"])))
	switch action {
	case ActionOpenLong, ActionOpenShort, ActionClose:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidSignal, raw["action"])
	}

	sig := &TradingSignal{
		ID:        uuid.NewString(),
		Exchange:  exch,
		Symbol:    symbol,
		Action:    action,
		Source:    parseSource(raw),
		CreatedAt: time.Now(),
	}

	if action == ActionClose {
		return sig, nil
	}

	sig.EntryZones = n.parseZones(raw)
	if len(sig.EntryZones) == 0 {
		if entry, ok := toFloat(raw["entry_price"]); ok && entry > 0 {
			sig.EntryPrice = entry
		}
	}
	if sig.EntryReference() <= 0 {
		return nil, fmt.Errorf("%w: no usable entry", ErrInvalidSignal)
	}

	if sl, ok := toFloat(raw["stop_loss"]); ok && sl > 0 {
		sig.StopLoss = sl
	} else {
		sig.StopLoss = defaultStop(sig.EntryReference(), action)
	}

	sig.TakeProfits = n.parseTakeProfits(raw)
	if len(sig.TakeProfits) == 0 {
		sig.TakeProfits = defaultLadder(sig.EntryReference(), sig.StopLoss, action)
	}

	sig.PositionSize = n.defaults.PositionSize
	if v, ok := toFloat(raw["position_size"]); ok && v > 0 {
		sig.PositionSize = v
	}
	sig.Leverage = n.defaults.Leverage
	if v, ok := toFloat(raw["leverage"]); ok && v >= 1 {
		sig.Leverage = int(v)
	}
	sig.MarginMode = n.defaults.MarginMode
	if m := exchange.MarginMode(strings.ToLower(toString(raw["margin_mode"]))); m == exchange.MarginCross || m == exchange.MarginIsolated {
		sig.MarginMode = m
	}
	sig.Confidence = n.defaults.Confidence
	if v, ok := toFloat(raw["confidence"]); ok && v > 0 && v <= 1 {
		sig.Confidence = v
	}
	if rl := RiskLevel(strings.ToUpper(toString(raw["risk_level"]))); rl == RiskLow || rl == RiskMedium || rl == RiskHigh {
		sig.RiskLevel = rl
	}
	sig.DynamicSL = n.defaults.DynamicSL
	if b, ok := raw["dynamic_sl"].(bool); ok {
		sig.DynamicSL = b
	}

	if err := sig.ValidateLevels(); err != nil {
		return nil, err
	}
	if rr := sig.RiskRewardRatio(); rr < minRiskReward {
		return nil, fmt.Errorf("%w: reward/risk %.2f below %.1f", ErrInvalidSignal, rr, minRiskReward)
	}
	if !sig.IsValid() {
		return nil, fmt.Errorf("%w: incomplete after normalization", ErrInvalidSignal)
	}
	return sig, nil
}

// parseZones reads entry_zones, or an entry_price given as a list of prices.
// Malformed entries are skipped, zone shares default to an equal split, and
// shares are renormalized to sum to 1.
func (n *Normalizer) parseZones(raw map[string]any) []EntryZone {
	var zones []EntryZone

	switch v := raw["entry_zones"].(type) {
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				log.Printf("[SIGNAL] skipping malformed entry zone %v", item)
				continue
			}
			price, ok := toFloat(m["price"])
			if !ok || price <= 0 {
				log.Printf("[SIGNAL] skipping entry zone with bad price %v", m["price"])
				continue
			}
			z := EntryZone{Price: price, Status: ZonePending}
			if pct, ok := toFloat(m["percentage"]); ok && pct > 0 {
				z.Percentage = pct
			}
			zones = append(zones, z)
		}
	}

	// A multi-price entry_price is shorthand for equal zones.
	if len(zones) == 0 {
		if list, ok := raw["entry_price"].([]any); ok && len(list) > 1 {
			for _, item := range list {
				if price, ok := toFloat(item); ok && price > 0 {
					zones = append(zones, EntryZone{Price: price, Status: ZonePending})
				}
			}
		}
	}
	if len(zones) == 0 {
		return nil
	}

	equal := 1.0 / float64(len(zones))
	sum := 0.0
	for i := range zones {
		if zones[i].Percentage <= 0 {
			zones[i].Percentage = equal
		} else if zones[i].Percentage > 1 {
			zones[i].Percentage /= 100
		}
		sum += zones[i].Percentage
	}
	if sum > 0 && math.Abs(sum-1) > pctTolerance {
		for i := range zones {
			zones[i].Percentage /= sum
		}
	}
	return zones
}

// parseTakeProfits reads take_profit_levels as either {price, percentage}
// objects or bare prices. Shares are renormalized to sum to 1.
func (n *Normalizer) parseTakeProfits(raw map[string]any) []TakeProfitLevel {
	list, ok := raw["take_profit_levels"].([]any)
	if !ok {
		return nil
	}
	var tps []TakeProfitLevel
	for _, item := range list {
		switch t := item.(type) {
		case map[string]any:
			price, ok := toFloat(t["price"])
			if !ok || price <= 0 {
				log.Printf("[SIGNAL] skipping take-profit with bad price %v", t["price"])
				continue
			}
			tp := TakeProfitLevel{Price: price}
			if pct, ok := toFloat(t["percentage"]); ok && pct > 0 {
				tp.Percentage = pct
			}
			tps = append(tps, tp)
		default:
			if price, ok := toFloat(item); ok && price > 0 {
				tps = append(tps, TakeProfitLevel{Price: price})
			} else {
				log.Printf("[SIGNAL] skipping malformed take-profit %v", item)
			}
		}
	}
	if len(tps) == 0 {
		return nil
	}

	equal := 1.0 / float64(len(tps))
	sum := 0.0
	for i := range tps {
		if tps[i].Percentage <= 0 {
			tps[i].Percentage = equal
		} else if tps[i].Percentage > 1 {
			tps[i].Percentage /= 100
		}
		sum += tps[i].Percentage
	}
	if sum > 0 && math.Abs(sum-1) > pctTolerance {
		for i := range tps {
			tps[i].Percentage /= sum
		}
	}
	return tps
}

func defaultStop(entry float64, action Action) float64 {
	if action == ActionOpenShort {
		return entry * (1 + defaultStopPct)
	}
	return entry * (1 - defaultStopPct)
}

// defaultLadder builds targets at 2R/3R/4R from entry.
func defaultLadder(entry, stop float64, action Action) []TakeProfitLevel {
	risk := math.Abs(entry - stop)
	dir := 1.0
	if action == ActionOpenShort {
		dir = -1
	}
	tps := make([]TakeProfitLevel, len(defaultTPMultiples))
	for i, mult := range defaultTPMultiples {
		tps[i] = TakeProfitLevel{
			Price:      entry + dir*risk*mult,
			Percentage: defaultTPShares[i],
		}
	}
	return tps
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if s != "" && !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}

func parseSource(raw map[string]any) Source {
	src := Source{Channel: toString(raw["channel"]), Text: toString(raw["raw_text"])}
	if id, ok := toFloat(raw["message_id"]); ok {
		src.MessageID = int64(id)
	}
	return src
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// toFloat coerces the numeric shapes JSON and LLM output produce.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(t, "%")), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
