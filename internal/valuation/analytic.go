package valuation

import (
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
)

// AnalyticValuator prices Stock instruments trivially (spot * notional)
// and Option instruments via Black-Scholes, with closed-form Greeks.
// It is the default Valuator; MonteCarloValuator is the alternative
// a caller opts into explicitly.
type AnalyticValuator struct{}

func NewAnalyticValuator() *AnalyticValuator { return &AnalyticValuator{} }

func (v *AnalyticValuator) Value(instrument domain.Instrument, ctx domain.MarketContext) (domain.ValuationResult, error) {
	now := time.Now().UTC()

	switch inst := instrument.(type) {
	case *domain.Stock:
		if ctx.SpotPrice == nil {
			return domain.ValuationResult{}, domain.NewError(domain.MarketData, "missing spot price for stock valuation", nil)
		}
		return domain.ValuationResult{
			InstrumentID: inst.ID(),
			Value:        *ctx.SpotPrice * inst.Notional(),
			Currency:     inst.Currency(),
			Timestamp:    now,
			Confidence:   0.99,
		}, nil

	case *domain.Option:
		if inst.ExerciseStyle != "" && inst.ExerciseStyle != domain.European {
			return domain.ValuationResult{}, domain.NewError(domain.PricingModel, "only European exercise is priced by the analytic valuator", nil)
		}
		if ctx.SpotPrice == nil {
			return domain.ValuationResult{}, domain.NewError(domain.MarketData, "missing spot price for option valuation", nil)
		}
		if ctx.Volatility == nil {
			return domain.ValuationResult{}, domain.NewError(domain.MarketData, "missing volatility for option valuation", nil)
		}

		tau := timeToExpiry(inst.Maturity(), now)
		divYield := dividendYield(ctx)

		price := blackScholesPrice(*ctx.SpotPrice, inst.Strike, tau, ctx.RiskFreeRate, *ctx.Volatility, divYield, inst.Kind)
		greeks := blackScholesGreeks(*ctx.SpotPrice, inst.Strike, tau, ctx.RiskFreeRate, *ctx.Volatility, divYield, inst.Kind)

		return domain.ValuationResult{
			InstrumentID: inst.ID(),
			Value:        price * inst.Notional(),
			Currency:     inst.Currency(),
			Timestamp:    now,
			Confidence:   0.95,
			Greeks:       &greeks,
		}, nil

	default:
		return domain.ValuationResult{}, domain.NewError(domain.PricingModel, "instrument type not supported by analytic valuator", nil)
	}
}

func (v *AnalyticValuator) Greeks(instrument domain.Instrument, ctx domain.MarketContext) (*domain.Greeks, error) {
	opt, ok := instrument.(*domain.Option)
	if !ok {
		return nil, nil
	}
	if opt.ExerciseStyle != "" && opt.ExerciseStyle != domain.European {
		return nil, domain.NewError(domain.PricingModel, "only European exercise is priced by the analytic valuator", nil)
	}
	if ctx.SpotPrice == nil {
		return nil, domain.NewError(domain.MarketData, "missing spot price", nil)
	}
	if ctx.Volatility == nil {
		return nil, domain.NewError(domain.MarketData, "missing volatility", nil)
	}

	now := time.Now().UTC()
	tau := timeToExpiry(opt.Maturity(), now)
	greeks := blackScholesGreeks(*ctx.SpotPrice, opt.Strike, tau, ctx.RiskFreeRate, *ctx.Volatility, dividendYield(ctx), opt.Kind)
	return &greeks, nil
}
