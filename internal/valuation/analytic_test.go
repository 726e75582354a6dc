package valuation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrisk/valuation-service/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestBlackScholes_Sanity(t *testing.T) {
	// Known reference values: S=100, K=100, tau=1, r=0.05, sigma=0.2, q=0.
	call := blackScholesPrice(100, 100, 1, 0.05, 0.2, 0, domain.Call)
	put := blackScholesPrice(100, 100, 1, 0.05, 0.2, 0, domain.Put)

	assert.InDelta(t, 10.4506, call, 0.001)
	assert.InDelta(t, 5.5735, put, 0.001)
}

func TestBlackScholes_PutCallParity(t *testing.T) {
	// C - P == S*exp(-q*tau) - K*exp(-r*tau)
	const spot, strike, tau, riskFree, vol, divYield = 100.0, 95.0, 0.5, 0.03, 0.25, 0.01

	call := blackScholesPrice(spot, strike, tau, riskFree, vol, divYield, domain.Call)
	put := blackScholesPrice(spot, strike, tau, riskFree, vol, divYield, domain.Put)

	lhs := call - put
	rhs := spot*math.Exp(-divYield*tau) - strike*math.Exp(-riskFree*tau)
	assert.InDelta(t, rhs, lhs, 1e-6)
}

func TestBlackScholes_Monotonicity(t *testing.T) {
	// Call price is non-decreasing in S and sigma; put price is
	// non-increasing in S, non-decreasing in sigma.
	const strike, tau, riskFree, divYield = 100.0, 1.0, 0.05, 0.0

	var prevCall, prevPut float64
	for i, spot := range []float64{60, 80, 100, 120, 140} {
		call := blackScholesPrice(spot, strike, tau, riskFree, 0.2, divYield, domain.Call)
		put := blackScholesPrice(spot, strike, tau, riskFree, 0.2, divYield, domain.Put)
		if i > 0 {
			assert.GreaterOrEqual(t, call, prevCall)
			assert.LessOrEqual(t, put, prevPut)
		}
		prevCall, prevPut = call, put
	}

	prevCall, prevPut = 0, 0
	for i, vol := range []float64{0.1, 0.2, 0.3, 0.5} {
		call := blackScholesPrice(100, strike, tau, riskFree, vol, divYield, domain.Call)
		put := blackScholesPrice(100, strike, tau, riskFree, vol, divYield, domain.Put)
		if i > 0 {
			assert.GreaterOrEqual(t, call, prevCall)
			assert.GreaterOrEqual(t, put, prevPut)
		}
		prevCall, prevPut = call, put
	}
}

func TestBlackScholes_AtExpiryIsIntrinsic(t *testing.T) {
	assert.Equal(t, 5.0, blackScholesPrice(105, 100, 0, 0.05, 0.2, 0, domain.Call))
	assert.Equal(t, 0.0, blackScholesPrice(95, 100, 0, 0.05, 0.2, 0, domain.Call))
	assert.Equal(t, 5.0, blackScholesPrice(95, 100, 0, 0.05, 0.2, 0, domain.Put))
}

func TestBlackScholesGreeks_CallDeltaBetweenZeroAndOne(t *testing.T) {
	greeks := blackScholesGreeks(100, 100, 1, 0.05, 0.2, 0, domain.Call)
	assert.Greater(t, greeks.Delta, 0.0)
	assert.Less(t, greeks.Delta, 1.0)
	assert.Greater(t, greeks.Gamma, 0.0)
	assert.Greater(t, greeks.Vega, 0.0)
}

func TestBlackScholesGreeks_AtExpiryAllZero(t *testing.T) {
	greeks := blackScholesGreeks(100, 100, 0, 0.05, 0.2, 0, domain.Call)
	assert.Equal(t, domain.Greeks{}, greeks)
}

func TestAnalyticValuator_Stock(t *testing.T) {
	v := NewAnalyticValuator()
	stock := &domain.Stock{IDValue: "s1", Symbol: "AAPL", Curr: "USD", Shares: 10}
	ctx := domain.MarketContext{SpotPrice: ptr(150)}

	result, err := v.Value(stock, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, result.Value)
	assert.Nil(t, result.Greeks)
}

func TestAnalyticValuator_StockMissingSpotPrice(t *testing.T) {
	v := NewAnalyticValuator()
	stock := &domain.Stock{IDValue: "s1", Symbol: "AAPL", Curr: "USD", Shares: 10}

	_, err := v.Value(stock, domain.MarketContext{})
	assert.True(t, domain.IsKind(err, domain.MarketData))
}

func TestAnalyticValuator_Option(t *testing.T) {
	v := NewAnalyticValuator()
	expiry := time.Now().Add(365 * 24 * time.Hour)
	opt := &domain.Option{
		IDValue: "o1", Underlying: "AAPL", Curr: "USD",
		Kind: domain.Call, Strike: 100, Expiry: expiry, Quantity: 1,
	}
	ctx := domain.MarketContext{RiskFreeRate: 0.05, SpotPrice: ptr(100), Volatility: ptr(0.2)}

	result, err := v.Value(opt, ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.4506, result.Value, 0.05)
	require.NotNil(t, result.Greeks)
}

func TestAnalyticValuator_OptionMissingVolatility(t *testing.T) {
	v := NewAnalyticValuator()
	opt := &domain.Option{IDValue: "o1", Expiry: time.Now().Add(time.Hour), Kind: domain.Call, Strike: 100}
	_, err := v.Value(opt, domain.MarketContext{SpotPrice: ptr(100)})
	assert.True(t, domain.IsKind(err, domain.MarketData))
}

func TestAnalyticValuator_RejectsNonEuropeanExercise(t *testing.T) {
	v := NewAnalyticValuator()
	opt := &domain.Option{
		IDValue: "o1", Kind: domain.Call, Strike: 100, Quantity: 1,
		Expiry: time.Now().Add(365 * 24 * time.Hour), ExerciseStyle: domain.American,
	}
	ctx := domain.MarketContext{RiskFreeRate: 0.05, SpotPrice: ptr(100), Volatility: ptr(0.2)}

	_, err := v.Value(opt, ctx)
	assert.True(t, domain.IsKind(err, domain.PricingModel))

	_, err = v.Greeks(opt, ctx)
	assert.True(t, domain.IsKind(err, domain.PricingModel))
}
