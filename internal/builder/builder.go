// Package builder joins the Lot Engine's lot map with the Instrument
// Registry's price map into a PortfolioSnapshot. Building is a pure
// function of its two inputs.
package builder

import (
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
)

// Build produces a snapshot from a lot map and a price map. A lot whose
// symbol has no known price values at zero rather than erroring —
// ingest may not have seen that symbol yet.
func Build(lotsBySymbol map[string][]domain.Lot, prices map[string]float64) domain.PortfolioSnapshot {
	var positions []domain.Position
	var total float64

	for symbol, symbolLots := range lotsBySymbol {
		price := prices[symbol]
		for _, lot := range symbolLots {
			if lot.RemainingQty <= 0 {
				continue
			}
			value := price * lot.RemainingQty
			pnl := (price - lot.UnitCost) * lot.RemainingQty
			var pnlPercent float64
			if lot.UnitCost > 0 {
				pnlPercent = 100 * (price - lot.UnitCost) / lot.UnitCost
			}
			positions = append(positions, domain.Position{
				Symbol:     symbol,
				Quantity:   lot.RemainingQty,
				Price:      price,
				Value:      value,
				AvgCost:    lot.UnitCost,
				PnL:        pnl,
				PnLPercent: pnlPercent,
			})
			total += value
		}
	}

	return domain.PortfolioSnapshot{
		Timestamp:      time.Now().UTC(),
		PortfolioValue: total,
		Positions:      positions,
	}
}
