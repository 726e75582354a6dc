package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finrisk/valuation-service/internal/domain"
)

func TestBuild_ValueEqualsSumOfPositions(t *testing.T) {
	lots := map[string][]domain.Lot{
		"AAPL": {{Symbol: "AAPL", RemainingQty: 10, UnitCost: 100}},
		"MSFT": {{Symbol: "MSFT", RemainingQty: 5, UnitCost: 200}},
	}
	prices := map[string]float64{"AAPL": 110, "MSFT": 190}

	snap := Build(lots, prices)

	var sum float64
	for _, p := range snap.Positions {
		sum += p.Value
	}
	assert.Equal(t, sum, snap.PortfolioValue)
	assert.Equal(t, 1100.0+950.0, snap.PortfolioValue)
}

func TestBuild_UnknownSymbolDefaultsZeroPrice(t *testing.T) {
	lots := map[string][]domain.Lot{"ZZZZ": {{Symbol: "ZZZZ", RemainingQty: 10, UnitCost: 5}}}
	snap := Build(lots, map[string]float64{})

	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, 0.0, snap.Positions[0].Value)
	assert.Equal(t, -50.0, snap.Positions[0].PnL)
}

func TestBuild_PnLPercentZeroWhenNoCostBasis(t *testing.T) {
	lots := map[string][]domain.Lot{"AAPL": {{Symbol: "AAPL", RemainingQty: 10, UnitCost: 0}}}
	snap := Build(lots, map[string]float64{"AAPL": 50})

	assert.Equal(t, 0.0, snap.Positions[0].PnLPercent)
}

func TestBuild_LotsNotMergedAcrossSameSymbol(t *testing.T) {
	lots := map[string][]domain.Lot{
		"AAPL": {
			{Symbol: "AAPL", RemainingQty: 10, UnitCost: 100},
			{Symbol: "AAPL", RemainingQty: 5, UnitCost: 100},
		},
	}
	snap := Build(lots, map[string]float64{"AAPL": 100})
	assert.Len(t, snap.Positions, 2)
}
