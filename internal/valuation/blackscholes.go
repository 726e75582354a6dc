package valuation

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/finrisk/valuation-service/internal/domain"
)

var standardNormal = distuv.Normal{Mu: 0, Sigma: 1}

// blackScholesD1D2 computes the two standardized moneyness terms shared by
// the price and every closed-form Greek.
func blackScholesD1D2(spot, strike, tau, riskFree, vol, divYield float64) (d1, d2 float64) {
	d1 = (math.Log(spot/strike) + (riskFree-divYield+0.5*vol*vol)*tau) / (vol * math.Sqrt(tau))
	d2 = d1 - vol*math.Sqrt(tau)
	return d1, d2
}

// blackScholesPrice prices a European option. At or past
// expiry (tau <= 0) it falls back to intrinsic value.
func blackScholesPrice(spot, strike, tau, riskFree, vol, divYield float64, kind domain.OptionKind) float64 {
	if tau <= 0 {
		if kind == domain.Call {
			return math.Max(spot-strike, 0)
		}
		return math.Max(strike-spot, 0)
	}

	d1, d2 := blackScholesD1D2(spot, strike, tau, riskFree, vol, divYield)

	if kind == domain.Call {
		return spot*math.Exp(-divYield*tau)*standardNormal.CDF(d1) -
			strike*math.Exp(-riskFree*tau)*standardNormal.CDF(d2)
	}
	return strike*math.Exp(-riskFree*tau)*standardNormal.CDF(-d2) -
		spot*math.Exp(-divYield*tau)*standardNormal.CDF(-d1)
}
