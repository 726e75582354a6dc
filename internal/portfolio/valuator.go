// Package portfolio implements the portfolio valuator: it prices
// each position through the valuation kernel, aggregates total value and
// per-position weights, and feeds a weighted-average volatility into the
// risk engine.
package portfolio

import (
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/risk"
	"github.com/finrisk/valuation-service/internal/valuation"
)

// Position is one line of a portfolio: a quantity of some instrument,
// optionally carrying a cost basis for P&L.
type Position struct {
	ID           string
	InstrumentID string
	Quantity     float64
	AvgCost      *float64
}

// PositionValuation is the per-position detail behind a Valuation's
// aggregate figures, carrying the kernel's raw ValuationResult so a
// caller can inspect Greeks or confidence.
type PositionValuation struct {
	PositionID      string
	InstrumentID    string
	Quantity        float64
	UnitValue       float64
	TotalValue      float64
	Weight          float64
	PnL             *float64
	PnLPercent      *float64
	ValuationResult domain.ValuationResult
}

// Performance bundles return metrics computable purely from cost-basis
// data. Fields that would require historical return series are left nil
// rather than stubbed.
type Performance struct {
	TotalReturn        float64
	TotalReturnPercent float64
	DailyReturn        *float64
	SharpeRatio        *float64
	MaxDrawdown        *float64
	Volatility         *float64
}

// Valuation is the full result of valuing a portfolio at a point in time.
type Valuation struct {
	TotalValue  float64
	Currency    string
	Positions   []PositionValuation
	RiskMetrics *domain.RiskMetrics
	Timestamp   time.Time
	Performance *Performance
}

// PositionAttribution is one position's contribution to the return
// between two valuations of the same portfolio.
type PositionAttribution struct {
	InstrumentID    string
	Contribution    float64
	PositionReturn  float64
	WeightEffect    float64
	SelectionEffect float64
}

// Attribution compares two valuations of the same portfolio, breaking
// the total return down per position.
type Attribution struct {
	TotalReturn        float64
	TotalReturnPercent float64
	Positions          []PositionAttribution
	Timestamp          time.Time
}

const (
	defaultVolatility = 0.20
	assumedDrift      = 0.08
)

// Valuator values a portfolio's positions against an instrument catalog,
// using a pricing Valuator and feeding a weighted-average volatility to
// a risk Engine.
type Valuator struct {
	risk *risk.Engine
}

// New constructs a portfolio Valuator backed by the given risk engine.
func New(riskEngine *risk.Engine) *Valuator {
	return &Valuator{risk: riskEngine}
}

// Value prices every position through pricer against instruments, then
// aggregates totals, weights, P&L, weighted volatility, risk metrics,
// and (when every position carries a cost basis) performance.
func (v *Valuator) Value(
	positions []Position,
	instruments map[string]domain.Instrument,
	pricer valuation.Valuator,
	ctx domain.MarketContext,
	currency string,
) (Valuation, error) {
	positionValuations := make([]PositionValuation, 0, len(positions))
	var totalValue float64

	for _, pos := range positions {
		instrument, ok := instruments[pos.InstrumentID]
		if !ok {
			return Valuation{}, domain.NewError(domain.Portfolio, "instrument not found: "+pos.InstrumentID, nil)
		}

		result, err := pricer.Value(instrument, ctx)
		if err != nil {
			return Valuation{}, err
		}

		unitValue := result.Value / instrument.Notional()
		posValue := unitValue * pos.Quantity

		var pnl, pnlPercent *float64
		if pos.AvgCost != nil {
			totalCost := *pos.AvgCost * pos.Quantity
			p := posValue - totalCost
			pnl = &p
			if totalCost != 0 {
				pct := p / totalCost * 100
				pnlPercent = &pct
			} else {
				zero := 0.0
				pnlPercent = &zero
			}
		}

		positionValuations = append(positionValuations, PositionValuation{
			PositionID:      pos.ID,
			InstrumentID:    pos.InstrumentID,
			Quantity:        pos.Quantity,
			UnitValue:       unitValue,
			TotalValue:      posValue,
			PnL:             pnl,
			PnLPercent:      pnlPercent,
			ValuationResult: result,
		})
		totalValue += posValue
	}

	for i := range positionValuations {
		if totalValue != 0 {
			positionValuations[i].Weight = positionValuations[i].TotalValue / totalValue * 100
		}
	}

	riskMetrics, err := v.portfolioRiskMetrics(positionValuations, totalValue)
	if err != nil {
		return Valuation{}, err
	}

	return Valuation{
		TotalValue:  totalValue,
		Currency:    currency,
		Positions:   positionValuations,
		RiskMetrics: riskMetrics,
		Timestamp:   time.Now().UTC(),
		Performance: performance(positionValuations),
	}, nil
}

// portfolioRiskMetrics computes the weighted-average volatility across
// positions whose per-position volatility is known (defaulting to 20%
// when none is), then delegates to the risk engine.
func (v *Valuator) portfolioRiskMetrics(positions []PositionValuation, totalValue float64) (*domain.RiskMetrics, error) {
	if len(positions) == 0 || totalValue == 0 {
		return nil, nil
	}

	var weightedVol, totalWeight float64
	for _, pos := range positions {
		if pos.ValuationResult.RiskMetrics == nil || pos.ValuationResult.RiskMetrics.Volatility == nil {
			continue
		}
		weight := pos.TotalValue / totalValue
		weightedVol += weight * *pos.ValuationResult.RiskMetrics.Volatility
		totalWeight += weight
	}

	volatility := defaultVolatility
	if totalWeight > 0 {
		volatility = weightedVol / totalWeight
	}

	metrics, err := v.risk.CalculatePortfolioRiskMetrics(totalValue, volatility, assumedDrift)
	if err != nil {
		return nil, err
	}
	return &metrics, nil
}

// performance computes return metrics purely from cost-basis data,
// present only when every position carries one.
func performance(positions []PositionValuation) *Performance {
	if len(positions) == 0 {
		return nil
	}

	var totalValue, totalCost float64
	for _, pos := range positions {
		if pos.PnL == nil {
			return nil
		}
		totalValue += pos.TotalValue
		totalCost += pos.TotalValue - *pos.PnL
	}

	if totalCost == 0 {
		return nil
	}

	totalReturn := totalValue - totalCost
	return &Performance{
		TotalReturn:        totalReturn,
		TotalReturnPercent: totalReturn / totalCost * 100,
	}
}

// Attribute compares two valuations of the same portfolio, breaking the
// total return down per position matched by instrument ID.
func Attribute(current, previous Valuation) Attribution {
	totalReturn := current.TotalValue - previous.TotalValue

	var totalReturnPercent float64
	if previous.TotalValue != 0 {
		totalReturnPercent = totalReturn / previous.TotalValue * 100
	}

	attributions := make([]PositionAttribution, 0, len(current.Positions))
	for _, cur := range current.Positions {
		for _, prev := range previous.Positions {
			if prev.InstrumentID != cur.InstrumentID {
				continue
			}
			positionReturn := cur.TotalValue - prev.TotalValue
			var contribution float64
			if previous.TotalValue != 0 {
				contribution = positionReturn / previous.TotalValue * 100
			}
			attributions = append(attributions, PositionAttribution{
				InstrumentID:    cur.InstrumentID,
				Contribution:    contribution,
				PositionReturn:  positionReturn,
				SelectionEffect: contribution,
			})
			break
		}
	}

	return Attribution{
		TotalReturn:        totalReturn,
		TotalReturnPercent: totalReturnPercent,
		Positions:          attributions,
		Timestamp:          time.Now().UTC(),
	}
}
