package greeks

import (
	"math"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// EstimateParams carries the inputs for a scenario price estimate.
type EstimateParams struct {
	CurrentPrice     float64
	TargetPrice      float64
	Strike           float64
	Greeks           *Greeks // nil degrades to intrinsic value
	DaysToExpiration float64
	OptionType       marketdata.OptionType
}

// EstimateOptionPrice projects the option price at a target underlying price
// using a second-order (delta + gamma) expansion plus linear theta decay:
//
//	price = base + delta·Δ + 0.5·gamma·Δ² + theta·days
//
// where Δ = target − current. The approximation is local: it is accurate for
// small-to-moderate moves and degrades for large Δ. Without Greeks the
// estimate falls back to intrinsic value at the target price. The result is
// floored at zero.
func EstimateOptionPrice(p EstimateParams) float64 {
	if p.Greeks == nil {
		return IntrinsicValue(p.TargetPrice, p.Strike, p.OptionType)
	}

	base := p.Greeks.Price
	if base <= 0 {
		base = IntrinsicValue(p.CurrentPrice, p.Strike, p.OptionType)
	}

	move := p.TargetPrice - p.CurrentPrice
	estimate := base +
		p.Greeks.Delta*move +
		0.5*p.Greeks.Gamma*move*move +
		p.Greeks.Theta*p.DaysToExpiration

	return math.Max(0, estimate)
}

// IntrinsicValue returns the exercise value of an option at the given
// underlying price.
func IntrinsicValue(underlying, strike float64, optionType marketdata.OptionType) float64 {
	if optionType == marketdata.OptionTypePut {
		return math.Max(0, strike-underlying)
	}
	return math.Max(0, underlying-strike)
}
