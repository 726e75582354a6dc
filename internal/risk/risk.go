// Package risk computes historical VaR, Expected Shortfall, sample
// volatility, a GBM portfolio-return simulator, parametric
// portfolio/component VaR over a covariance structure, a Pearson
// correlation matrix, and fixed-shape stress testing.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/finrisk/valuation-service/internal/domain"
)

const tradingDaysPerYear = 252.0

// Engine bundles the confidence level, simulation horizon, and path
// count shared by every risk calculation it performs.
type Engine struct {
	ConfidenceLevel float64
	TimeHorizonDays int
	NumSimulations  int
}

// NewEngine constructs a risk engine. confidenceLevel is e.g. 0.95 for
// a 95% VaR/ES; timeHorizonDays controls the simulated path length and
// whether VaR10D is computed (requires >= 10).
func NewEngine(confidenceLevel float64, timeHorizonDays, numSimulations int) *Engine {
	return &Engine{ConfidenceLevel: confidenceLevel, TimeHorizonDays: timeHorizonDays, NumSimulations: numSimulations}
}

// DefaultEngine is a 95% confidence, 1-day horizon, 10k-path engine.
func DefaultEngine() *Engine {
	return NewEngine(0.95, 1, 10000)
}

// VaR computes historical Value-at-Risk: the loss at the
// (1-confidence) percentile of the sorted return distribution, expressed
// as a positive number.
func (e *Engine) VaR(returns []float64) (float64, error) {
	if len(returns) == 0 {
		return 0, domain.NewError(domain.RiskCalculation, "empty returns vector", nil)
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	index := int((1.0 - e.ConfidenceLevel) * float64(len(sorted)))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return -sorted[index], nil
}

// ExpectedShortfall averages the tail beyond the VaR cutoff.
func (e *Engine) ExpectedShortfall(returns []float64) (float64, error) {
	if len(returns) == 0 {
		return 0, domain.NewError(domain.RiskCalculation, "empty returns vector", nil)
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	cutoff := int((1.0 - e.ConfidenceLevel) * float64(len(sorted)))
	if cutoff+1 > len(sorted) {
		cutoff = len(sorted) - 1
	}
	tail := sorted[:cutoff+1]
	if len(tail) == 0 {
		return 0, nil
	}

	var sum float64
	for _, r := range tail {
		sum += r
	}
	return -sum / float64(len(tail)), nil
}

// Volatility is the sample standard deviation of returns.
func (e *Engine) Volatility(returns []float64) (float64, error) {
	if len(returns) < 2 {
		return 0, domain.NewError(domain.RiskCalculation, "insufficient data for volatility calculation", nil)
	}
	return stat.StdDev(returns, nil), nil
}

// SimulatePortfolioReturns runs NumSimulations independent GBM paths of
// TimeHorizonDays daily steps and returns the realized total return of
// each path.
func (e *Engine) SimulatePortfolioReturns(portfolioValue, volatility, drift float64) []float64 {
	const dt = 1.0 / tradingDaysPerYear
	sqrtDt := math.Sqrt(dt)

	returns := make([]float64, e.NumSimulations)
	for i := 0; i < e.NumSimulations; i++ {
		value := portfolioValue
		for day := 0; day < e.TimeHorizonDays; day++ {
			z := standardNormal.Rand()
			value *= 1.0 + drift*dt + volatility*sqrtDt*z
		}
		returns[i] = (value - portfolioValue) / portfolioValue
	}
	return returns
}

var standardNormal = distuv.Normal{Mu: 0, Sigma: 1}

// CalculatePortfolioRiskMetrics is the single entry point the portfolio
// valuator calls after computing a weighted-average volatility: it
// bundles VaR-1d, VaR-10d (when the horizon allows), Expected Shortfall,
// and volatility into one record.
func (e *Engine) CalculatePortfolioRiskMetrics(portfolioValue, volatility, drift float64) (domain.RiskMetrics, error) {
	returns := e.SimulatePortfolioReturns(portfolioValue, volatility, drift)

	var metrics domain.RiskMetrics

	if e.TimeHorizonDays >= 1 {
		var1d, err := e.VaR(returns)
		if err != nil {
			return domain.RiskMetrics{}, err
		}
		scaled := var1d * portfolioValue
		metrics.VaR1D = &scaled
	}

	if e.TimeHorizonDays >= 10 {
		scaledVol := volatility * math.Sqrt(10)
		returns10d := e.SimulatePortfolioReturns(portfolioValue, scaledVol, drift*10)
		var10d, err := e.VaR(returns10d)
		if err != nil {
			return domain.RiskMetrics{}, err
		}
		scaled := var10d * portfolioValue
		metrics.VaR10D = &scaled
	}

	es, err := e.ExpectedShortfall(returns)
	if err != nil {
		return domain.RiskMetrics{}, err
	}
	esScaled := es * portfolioValue
	metrics.ExpectedShortfall = &esScaled
	metrics.Volatility = &volatility

	return metrics, nil
}

// CorrelationMatrix builds the Pearson correlation matrix across assets
// from their aligned return series.
func (e *Engine) CorrelationMatrix(returnsMatrix [][]float64) (*mat.Dense, error) {
	if len(returnsMatrix) == 0 {
		return nil, domain.NewError(domain.RiskCalculation, "empty returns matrix", nil)
	}
	n := len(returnsMatrix)
	observations := len(returnsMatrix[0])
	for _, r := range returnsMatrix {
		if len(r) != observations {
			return nil, domain.NewError(domain.RiskCalculation, "inconsistent number of observations", nil)
		}
	}

	corr := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		corr.Set(i, i, 1.0)
		for j := i + 1; j < n; j++ {
			c := stat.Correlation(returnsMatrix[i], returnsMatrix[j], nil)
			corr.Set(i, j, c)
			corr.Set(j, i, c)
		}
	}
	return corr, nil
}

// PortfolioVaR computes parametric VaR from per-asset weights,
// volatilities, and a correlation matrix: portfolioVariance = wᵀΣw where
// Σ_ij = vol_i * vol_j * corr_ij, scaled by the horizon and the
// confidence level's z-score.
func (e *Engine) PortfolioVaR(weights, volatilities []float64, correlation *mat.Dense, portfolioValue float64) (float64, error) {
	n := len(weights)
	if n != len(volatilities) {
		return 0, domain.NewError(domain.RiskCalculation, "dimension mismatch in portfolio VaR calculation", nil)
	}
	r, c := correlation.Dims()
	if r != n || c != n {
		return 0, domain.NewError(domain.RiskCalculation, "dimension mismatch in portfolio VaR calculation", nil)
	}

	var portfolioVariance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			portfolioVariance += weights[i] * weights[j] * volatilities[i] * volatilities[j] * correlation.At(i, j)
		}
	}
	portfolioVol := math.Sqrt(portfolioVariance)
	zScore := standardNormal.Quantile(1.0 - e.ConfidenceLevel)

	return portfolioValue * portfolioVol * zScore * math.Sqrt(float64(e.TimeHorizonDays)/tradingDaysPerYear), nil
}

// ComponentVaR attributes the total portfolio VaR across assets via
// their marginal contribution to portfolio volatility: each asset's raw
// contribution w_i*PV*(sigma_i*sum_j(w_j*sigma_j*rho_ij))/|sigma_p| is
// rescaled so the components sum exactly to the total portfolio VaR.
func (e *Engine) ComponentVaR(weights, volatilities []float64, correlation *mat.Dense, portfolioValue float64) ([]float64, error) {
	n := len(weights)
	if n != len(volatilities) {
		return nil, domain.NewError(domain.RiskCalculation, "dimension mismatch in portfolio VaR calculation", nil)
	}
	r, c := correlation.Dims()
	if r != n || c != n {
		return nil, domain.NewError(domain.RiskCalculation, "dimension mismatch in portfolio VaR calculation", nil)
	}

	var portfolioVariance float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			portfolioVariance += weights[i] * weights[j] * volatilities[i] * volatilities[j] * correlation.At(i, j)
		}
	}
	portfolioVol := math.Sqrt(portfolioVariance)

	portfolioVaR, err := e.PortfolioVaR(weights, volatilities, correlation, portfolioValue)
	if err != nil {
		return nil, err
	}

	componentVars := make([]float64, n)
	if portfolioVol == 0 {
		return componentVars, nil
	}
	scale := portfolioVaR / (portfolioValue * portfolioVol)
	for i := 0; i < n; i++ {
		var marginal float64
		for j := 0; j < n; j++ {
			marginal += weights[j] * volatilities[j] * correlation.At(i, j)
		}
		raw := weights[i] * portfolioValue * volatilities[i] * marginal / portfolioVol
		componentVars[i] = raw * scale
	}
	return componentVars, nil
}

// StressType names a shock category; each applies a fixed, simplified
// impact model rather than a full repricing.
type StressType string

const (
	MarketShock     StressType = "market_shock"
	VolatilityShock StressType = "volatility_shock"
	RateShock       StressType = "rate_shock"
)

// StressScenario is one shock to apply to a base portfolio value.
// ShockMagnitude is a signed fraction, e.g. -0.20 for a 20% market drop.
type StressScenario struct {
	Name           string
	Type           StressType
	ShockMagnitude float64
}

// StressTestResult is the outcome of applying one StressScenario.
type StressTestResult struct {
	ScenarioName  string
	BaseValue     float64
	StressedValue float64
	PnL           float64
	PnLPercent    float64
}

// StressTest applies each scenario's shock model to baseValue.
func (e *Engine) StressTest(baseValue float64, scenarios []StressScenario) []StressTestResult {
	results := make([]StressTestResult, 0, len(scenarios))
	for _, scenario := range scenarios {
		var stressed float64
		switch scenario.Type {
		case MarketShock:
			stressed = baseValue * (1.0 + scenario.ShockMagnitude)
		case VolatilityShock:
			volImpact := scenario.ShockMagnitude * 0.1
			stressed = baseValue * (1.0 - math.Abs(volImpact))
		case RateShock:
			rateImpact := scenario.ShockMagnitude * 0.05
			stressed = baseValue * (1.0 - rateImpact)
		default:
			stressed = baseValue
		}

		results = append(results, StressTestResult{
			ScenarioName:  scenario.Name,
			BaseValue:     baseValue,
			StressedValue: stressed,
			PnL:           stressed - baseValue,
			PnLPercent:    (stressed - baseValue) / baseValue * 100.0,
		})
	}
	return results
}
