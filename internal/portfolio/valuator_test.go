package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/domain"
	"github.com/finrisk/valuation-service/internal/risk"
	"github.com/finrisk/valuation-service/internal/valuation"
)

func ptrF(f float64) *float64 { return &f }

func TestValue_AggregatesTotalAndWeights(t *testing.T) {
	v := New(risk.NewEngine(0.95, 1, 200))
	instruments := map[string]domain.Instrument{
		"AAPL": &domain.Stock{IDValue: "AAPL", Symbol: "AAPL", Curr: "USD", Shares: 1},
		"MSFT": &domain.Stock{IDValue: "MSFT", Symbol: "MSFT", Curr: "USD", Shares: 1},
	}
	positions := []Position{
		{ID: "p1", InstrumentID: "AAPL", Quantity: 10},
		{ID: "p2", InstrumentID: "MSFT", Quantity: 5},
	}
	ctx := domain.MarketContext{SpotPrice: ptrF(100)}

	result, err := v.Value(positions, instruments, valuation.NewAnalyticValuator(), ctx, "USD")
	require.NoError(t, err)

	assert.Equal(t, 1500.0, result.TotalValue) // 10*100 + 5*100
	require.Len(t, result.Positions, 2)
	var weightSum float64
	for _, p := range result.Positions {
		weightSum += p.Weight
	}
	assert.InDelta(t, 100.0, weightSum, 1e-9)
	require.NotNil(t, result.RiskMetrics)
	assert.Equal(t, defaultVolatility, *result.RiskMetrics.Volatility)
}

func TestValue_PnLComputedWhenAvgCostPresent(t *testing.T) {
	v := New(risk.NewEngine(0.95, 1, 200))
	instruments := map[string]domain.Instrument{
		"AAPL": &domain.Stock{IDValue: "AAPL", Symbol: "AAPL", Curr: "USD", Shares: 1},
	}
	positions := []Position{
		{ID: "p1", InstrumentID: "AAPL", Quantity: 10, AvgCost: ptrF(80)},
	}
	ctx := domain.MarketContext{SpotPrice: ptrF(100)}

	result, err := v.Value(positions, instruments, valuation.NewAnalyticValuator(), ctx, "USD")
	require.NoError(t, err)

	require.NotNil(t, result.Positions[0].PnL)
	assert.Equal(t, 200.0, *result.Positions[0].PnL) // (100-80)*10
	require.NotNil(t, result.Positions[0].PnLPercent)
	assert.InDelta(t, 25.0, *result.Positions[0].PnLPercent, 1e-9)

	require.NotNil(t, result.Performance)
	assert.Equal(t, 200.0, result.Performance.TotalReturn)
}

func TestValue_NoPerformanceWithoutFullCostBasis(t *testing.T) {
	v := New(risk.NewEngine(0.95, 1, 200))
	instruments := map[string]domain.Instrument{
		"AAPL": &domain.Stock{IDValue: "AAPL", Symbol: "AAPL", Curr: "USD", Shares: 1},
		"MSFT": &domain.Stock{IDValue: "MSFT", Symbol: "MSFT", Curr: "USD", Shares: 1},
	}
	positions := []Position{
		{ID: "p1", InstrumentID: "AAPL", Quantity: 10, AvgCost: ptrF(80)},
		{ID: "p2", InstrumentID: "MSFT", Quantity: 5},
	}
	ctx := domain.MarketContext{SpotPrice: ptrF(100)}

	result, err := v.Value(positions, instruments, valuation.NewAnalyticValuator(), ctx, "USD")
	require.NoError(t, err)
	assert.Nil(t, result.Performance)
}

func TestValue_UnknownInstrumentErrors(t *testing.T) {
	v := New(risk.NewEngine(0.95, 1, 200))
	positions := []Position{{ID: "p1", InstrumentID: "GHOST", Quantity: 1}}

	_, err := v.Value(positions, map[string]domain.Instrument{}, valuation.NewAnalyticValuator(), domain.MarketContext{}, "USD")
	assert.True(t, domain.IsKind(err, domain.Portfolio))
}

func TestAttribute_ComparesTwoValuations(t *testing.T) {
	previous := Valuation{
		TotalValue: 1000,
		Positions: []PositionValuation{
			{InstrumentID: "AAPL", TotalValue: 1000},
		},
	}
	current := Valuation{
		TotalValue: 1100,
		Positions: []PositionValuation{
			{InstrumentID: "AAPL", TotalValue: 1100},
		},
	}

	attribution := Attribute(current, previous)
	assert.Equal(t, 100.0, attribution.TotalReturn)
	assert.InDelta(t, 10.0, attribution.TotalReturnPercent, 1e-9)
	require.Len(t, attribution.Positions, 1)
	assert.Equal(t, 100.0, attribution.Positions[0].PositionReturn)
}
