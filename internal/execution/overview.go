package execution

import (
	"context"
	"math"
	"time"

	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/exchange"
)

// Health classifies account margin pressure.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)

// Margin-ratio thresholds, in percent of equity in use.
const (
	marginWarnPct     = 60
	marginCriticalPct = 80
)

// Overview is one venue's account snapshot with derived risk data.
type Overview struct {
	Exchange      exchange.Name  `json:"exchange"`
	TotalEquity   float64        `json:"total_equity"`
	UsedMargin    float64        `json:"used_margin"`
	FreeMargin    float64        `json:"free_margin"`
	MarginRatio   float64        `json:"margin_ratio"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Health        Health         `json:"health"`
	Positions     []PositionRisk `json:"positions"`
	Timestamp     time.Time      `json:"timestamp"`
}

// PositionRisk is a position with its derived risk metrics.
type PositionRisk struct {
	exchange.PositionInfo
	LiquidationDistancePct float64 `json:"liquidation_distance_pct"`
}

// classifyHealth maps a margin ratio to a health band.
func classifyHealth(marginRatio float64) Health {
	switch {
	case marginRatio > marginCriticalPct:
		return HealthCritical
	case marginRatio > marginWarnPct:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// AccountOverview snapshots balance, positions and health per venue. Venue
// read failures surface as zero-value entries, never as errors.
func (m *Manager) AccountOverview(ctx context.Context) map[exchange.Name]Overview {
	out := make(map[exchange.Name]Overview)
	for _, name := range m.Exchanges() {
		client, err := m.Client(name)
		if err != nil {
			continue
		}
		bal := client.Balance(ctx)
		positions := client.Positions(ctx, "")

		ov := Overview{
			Exchange:      name,
			TotalEquity:   bal.TotalEquity,
			UsedMargin:    bal.UsedMargin,
			FreeMargin:    bal.FreeMargin,
			MarginRatio:   bal.MarginRatio,
			UnrealizedPnL: bal.UnrealizedPnL,
			Health:        classifyHealth(bal.MarginRatio),
			Positions:     make([]PositionRisk, 0, len(positions)),
			Timestamp:     time.Now(),
		}
		for _, p := range positions {
			ov.Positions = append(ov.Positions, PositionRisk{
				PositionInfo:           p,
				LiquidationDistancePct: liquidationDistance(p),
			})
		}
		out[name] = ov
	}
	return out
}

// liquidationDistance is how far the mark is from liquidation, in percent
// of the mark price.
func liquidationDistance(p exchange.PositionInfo) float64 {
	if p.MarkPrice <= 0 || p.LiquidationPrice <= 0 {
		return 0
	}
	return math.Abs(p.MarkPrice-p.LiquidationPrice) / p.MarkPrice * 100
}

// AllPositions lists open positions per venue.
func (m *Manager) AllPositions(ctx context.Context) map[exchange.Name][]exchange.PositionInfo {
	out := make(map[exchange.Name][]exchange.PositionInfo)
	for _, name := range m.Exchanges() {
		client, err := m.Client(name)
		if err != nil {
			continue
		}
		out[name] = client.Positions(ctx, "")
	}
	return out
}

// FundingRates sweeps funding across symbols with open positions.
func (m *Manager) FundingRates(ctx context.Context) map[exchange.Name]map[string]float64 {
	out := make(map[exchange.Name]map[string]float64)
	for _, name := range m.Exchanges() {
		client, err := m.Client(name)
		if err != nil {
			continue
		}
		rates := make(map[string]float64)
		for _, p := range client.Positions(ctx, "") {
			rate, err := client.FundingRate(ctx, p.Symbol)
			if err != nil {
				continue
			}
			rates[p.Symbol] = rate
		}
		out[name] = rates
	}
	return out
}

// Brackets passes through the venue's leverage ladder for a symbol.
func (m *Manager) Brackets(ctx context.Context, name exchange.Name, symbol string) ([]exchange.LeverageBracket, error) {
	client, err := m.Client(name)
	if err != nil {
		return nil, err
	}
	return client.LeverageBrackets(ctx, symbol)
}
