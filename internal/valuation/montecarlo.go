package valuation

import (
	"math"
	"time"

	"github.com/finrisk/valuation-service/internal/domain"
)

// MonteCarloValuator prices a European option by simulating geometric
// Brownian motion paths to expiry and discounting the average terminal
// payoff. It does not derive Greeks; Value's Confidence field
// instead reports the simulation's relative standard error, clamped to
// [0.5, 0.99].
type MonteCarloValuator struct {
	NumSimulations int
	TimeSteps      int
}

// NewMonteCarloValuator constructs a valuator with the given path count
// and steps per path. Value rejects fewer than 2 paths or fewer than 1
// step with a PricingModel error; the caller is responsible
// for choosing a count that balances runtime against the confidence it
// wants, trading runtime against accuracy.
func NewMonteCarloValuator(numSimulations, timeSteps int) *MonteCarloValuator {
	return &MonteCarloValuator{NumSimulations: numSimulations, TimeSteps: timeSteps}
}

func (v *MonteCarloValuator) simulateTerminal(spot, riskFree, vol, tau, divYield float64) []float64 {
	dt := tau / float64(v.TimeSteps)
	drift := riskFree - divYield - 0.5*vol*vol
	diffusion := vol * math.Sqrt(dt)

	terminals := make([]float64, v.NumSimulations)
	for i := 0; i < v.NumSimulations; i++ {
		price := spot
		for step := 0; step < v.TimeSteps; step++ {
			z := standardNormal.Rand()
			price *= math.Exp(drift*dt + diffusion*z)
		}
		terminals[i] = price
	}
	return terminals
}

func (v *MonteCarloValuator) Value(instrument domain.Instrument, ctx domain.MarketContext) (domain.ValuationResult, error) {
	opt, ok := instrument.(*domain.Option)
	if !ok {
		return domain.ValuationResult{}, domain.NewError(domain.PricingModel, "instrument type not supported by monte carlo valuator", nil)
	}
	if opt.ExerciseStyle != "" && opt.ExerciseStyle != domain.European {
		return domain.ValuationResult{}, domain.NewError(domain.PricingModel, "only European exercise is priced by the monte carlo valuator", nil)
	}
	if ctx.SpotPrice == nil {
		return domain.ValuationResult{}, domain.NewError(domain.MarketData, "missing spot price for option valuation", nil)
	}
	if ctx.Volatility == nil {
		return domain.ValuationResult{}, domain.NewError(domain.MarketData, "missing volatility for option valuation", nil)
	}
	if v.NumSimulations < 2 || v.TimeSteps < 1 {
		return domain.ValuationResult{}, domain.NewError(domain.PricingModel, "simulation requires at least 2 paths and 1 time step", nil)
	}

	now := time.Now().UTC()
	tau := timeToExpiry(opt.Maturity(), now)
	if tau <= 0 {
		var intrinsic float64
		if opt.Kind == domain.Call {
			intrinsic = math.Max(*ctx.SpotPrice-opt.Strike, 0)
		} else {
			intrinsic = math.Max(opt.Strike-*ctx.SpotPrice, 0)
		}
		return domain.ValuationResult{
			InstrumentID: opt.ID(),
			Value:        intrinsic * opt.Notional(),
			Currency:     opt.Currency(),
			Timestamp:    now,
			Confidence:   0.99,
		}, nil
	}
	divYield := dividendYield(ctx)

	terminals := v.simulateTerminal(*ctx.SpotPrice, ctx.RiskFreeRate, *ctx.Volatility, tau, divYield)

	payoffs := make([]float64, len(terminals))
	var sum float64
	for i, t := range terminals {
		var payoff float64
		if opt.Kind == domain.Call {
			payoff = math.Max(t-opt.Strike, 0)
		} else {
			payoff = math.Max(opt.Strike-t, 0)
		}
		payoffs[i] = payoff
		sum += payoff
	}
	avgPayoff := sum / float64(len(payoffs))

	var variance float64
	for _, p := range payoffs {
		d := p - avgPayoff
		variance += d * d
	}
	variance /= float64(len(payoffs) - 1)
	stdErr := math.Sqrt(variance / float64(len(payoffs)))

	confidence := 0.95
	if stdErr > 0 && avgPayoff != 0 {
		confidence = math.Min(math.Max(1.96*stdErr/avgPayoff, 0.5), 0.99)
	}

	discounted := avgPayoff * math.Exp(-ctx.RiskFreeRate*tau)

	return domain.ValuationResult{
		InstrumentID: opt.ID(),
		Value:        discounted * opt.Notional(),
		Currency:     opt.Currency(),
		Timestamp:    now,
		Confidence:   confidence,
	}, nil
}

// Greeks is not implemented by finite differences; callers that need
// Greeks should use AnalyticValuator.
func (v *MonteCarloValuator) Greeks(instrument domain.Instrument, ctx domain.MarketContext) (*domain.Greeks, error) {
	return nil, nil
}
