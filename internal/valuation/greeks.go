package valuation

import (
	"math"

	"github.com/finrisk/valuation-service/internal/domain"
)

// blackScholesGreeks computes the five closed-form sensitivities: delta,
// gamma, theta, vega, and rho. Theta is converted to a daily figure;
// Vega and Rho are scaled per 1% move, matching common market convention.
func blackScholesGreeks(spot, strike, tau, riskFree, vol, divYield float64, kind domain.OptionKind) domain.Greeks {
	if tau <= 0 {
		return domain.Greeks{}
	}

	d1, d2 := blackScholesD1D2(spot, strike, tau, riskFree, vol, divYield)
	phiD1 := standardNormal.Prob(d1)
	nD1 := standardNormal.CDF(d1)
	nD2 := standardNormal.CDF(d2)

	var delta float64
	if kind == domain.Call {
		delta = math.Exp(-divYield*tau) * nD1
	} else {
		delta = math.Exp(-divYield*tau) * (nD1 - 1)
	}

	gamma := math.Exp(-divYield*tau) * phiD1 / (spot * vol * math.Sqrt(tau))

	var theta float64
	decay := -spot * phiD1 * vol * math.Exp(-divYield*tau) / (2 * math.Sqrt(tau))
	if kind == domain.Call {
		theta = decay - riskFree*strike*math.Exp(-riskFree*tau)*nD2 + divYield*spot*math.Exp(-divYield*tau)*nD1
	} else {
		theta = decay + riskFree*strike*math.Exp(-riskFree*tau)*standardNormal.CDF(-d2) -
			divYield*spot*math.Exp(-divYield*tau)*standardNormal.CDF(-d1)
	}

	vega := spot * math.Exp(-divYield*tau) * phiD1 * math.Sqrt(tau) / 100

	var rho float64
	if kind == domain.Call {
		rho = strike * tau * math.Exp(-riskFree*tau) * nD2 / 100
	} else {
		rho = -strike * tau * math.Exp(-riskFree*tau) * standardNormal.CDF(-d2) / 100
	}

	return domain.Greeks{
		Delta: delta,
		Gamma: gamma,
		Theta: theta / 365.0,
		Vega:  vega,
		Rho:   rho,
	}
}
