// Package valuation implements the valuation kernel: the analytic
// Black-Scholes pricer with closed-form Greeks, a Monte-Carlo GBM pricer,
// and the trivial Stock pricer, all behind a common Valuator interface
// selected by the caller rather than by instrument type.
package valuation

import (
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
)

// Valuator prices an Instrument under a MarketContext and, where the
// model supports it, derives Greeks. Two implementations are provided:
// AnalyticValuator (closed-form) and MonteCarloValuator (simulated).
type Valuator interface {
	Value(instrument domain.Instrument, ctx domain.MarketContext) (domain.ValuationResult, error)
	Greeks(instrument domain.Instrument, ctx domain.MarketContext) (*domain.Greeks, error)
}

// timeToExpiry converts a maturity into an Act/365.25 year fraction from
// now. A nil maturity (e.g. a Stock) has no expiry and returns 0.
func timeToExpiry(maturity *time.Time, now time.Time) float64 {
	if maturity == nil {
		return 0
	}
	const secondsPerYear = 365.25 * 24 * 3600
	return maturity.Sub(now).Seconds() / secondsPerYear
}

func dividendYield(ctx domain.MarketContext) float64 {
	if ctx.DividendYield == nil {
		return 0
	}
	return *ctx.DividendYield
}
