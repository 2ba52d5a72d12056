// Package greeks computes Black-Scholes option Greeks and local option price
// estimates. All computation is stateless; missing market data is reported as
// an error rather than papered over with defaults.
package greeks

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// RiskFreeRate is the fixed annualized risk-free rate used throughout the
// pricing model. Kept as a named constant for behavioral parity rather than
// sourcing a live rate.
const RiskFreeRate = 0.05

// minTimeToExpiry floors T to roughly one trading hour in years so that
// same-day expirations do not divide by zero.
const minTimeToExpiry = 1.0 / (365.0 * 24.0)

// daysPerYear converts annualized theta to a daily figure.
const daysPerYear = 365.0

// ErrComputationDomain indicates inputs that would produce NaN or Inf in the
// Black-Scholes formulas (zero volatility, expired contract, etc.).
var ErrComputationDomain = errors.New("inputs outside pricing model domain")

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Greeks holds option price sensitivities. Theta is daily and negative for
// normal time decay. Price is the option mark the Greeks were computed
// against.
type Greeks struct {
	Delta             float64 `json:"delta"`
	Gamma             float64 `json:"gamma"`
	Theta             float64 `json:"theta"`
	Vega              float64 `json:"vega"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Price             float64 `json:"price"`
}

// Compute derives Greeks for an option quote at the given underlying price.
// Broker-reported Greeks on the quote take precedence over computed values;
// market data is trusted over the model when both exist. Returns
// marketdata.ErrDataUnavailable (wrapped) when implied volatility or the
// underlying price cannot be resolved; callers must degrade explicitly
// instead of synthesizing plausible-looking numbers.
func Compute(quote *marketdata.OptionQuote, currentPrice float64, now time.Time) (Greeks, error) {
	if quote == nil {
		return Greeks{}, fmt.Errorf("%w: no option quote", marketdata.ErrDataUnavailable)
	}
	if currentPrice <= 0 {
		return Greeks{}, fmt.Errorf("%w: no underlying price for %s", marketdata.ErrDataUnavailable, quote.Ticker)
	}
	if !quote.OptionType.Valid() {
		return Greeks{}, fmt.Errorf("unknown option type %q", quote.OptionType)
	}
	if quote.Strike <= 0 {
		return Greeks{}, fmt.Errorf("invalid strike %.2f", quote.Strike)
	}

	if g := quote.Greeks; g != nil && g.Delta != 0 {
		iv := g.MidIV
		if quote.ImpliedVolatility != nil {
			iv = *quote.ImpliedVolatility
		}
		return Greeks{
			Delta:             g.Delta,
			Gamma:             g.Gamma,
			Theta:             dailyTheta(g.Theta),
			Vega:              g.Vega,
			ImpliedVolatility: iv,
			Price:             quote.MidPrice(),
		}, nil
	}

	if quote.ImpliedVolatility == nil || *quote.ImpliedVolatility <= 0 {
		return Greeks{}, fmt.Errorf("%w: no implied volatility for %s %.2f %s",
			marketdata.ErrDataUnavailable, quote.Ticker, quote.Strike, quote.OptionType)
	}
	sigma := *quote.ImpliedVolatility

	dte := marketdata.DaysToExpiration(quote.Expiration, now)
	if dte < 0 {
		return Greeks{}, fmt.Errorf("%w: contract expired %d days ago", ErrComputationDomain, -dte)
	}
	t := float64(dte) / daysPerYear
	if t < minTimeToExpiry {
		t = minTimeToExpiry
	}

	g, err := blackScholes(currentPrice, quote.Strike, sigma, t, quote.OptionType)
	if err != nil {
		return Greeks{}, err
	}
	g.ImpliedVolatility = sigma
	g.Price = quote.MidPrice()
	return g, nil
}

// blackScholes computes the standard Black-Scholes Greeks for a European
// option. sigma and t must be strictly positive.
func blackScholes(s, k, sigma, t float64, optionType marketdata.OptionType) (Greeks, error) {
	if sigma <= 0 || t <= 0 {
		return Greeks{}, fmt.Errorf("%w: sigma=%.4f t=%.6f", ErrComputationDomain, sigma, t)
	}

	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (RiskFreeRate+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	if math.IsNaN(d1) || math.IsInf(d1, 0) {
		return Greeks{}, fmt.Errorf("%w: degenerate d1 for S=%.2f K=%.2f", ErrComputationDomain, s, k)
	}

	pdfD1 := stdNormal.Prob(d1)
	gamma := pdfD1 / (s * sigma * sqrtT)
	vega := s * pdfD1 * sqrtT * 0.01 // per 1% vol move

	var delta, annualTheta float64
	discountedK := k * math.Exp(-RiskFreeRate*t)
	if optionType == marketdata.OptionTypeCall {
		delta = stdNormal.CDF(d1)
		annualTheta = -(s*pdfD1*sigma)/(2*sqrtT) - RiskFreeRate*discountedK*stdNormal.CDF(d2)
	} else {
		delta = stdNormal.CDF(d1) - 1
		annualTheta = -(s*pdfD1*sigma)/(2*sqrtT) + RiskFreeRate*discountedK*stdNormal.CDF(-d2)
	}

	return Greeks{
		Delta: delta,
		Gamma: gamma,
		Theta: annualTheta / daysPerYear,
		Vega:  vega,
	}, nil
}

// dailyTheta normalizes a broker-reported theta to a daily figure. Tradier
// reports theta per day already; anything with an implausibly large
// magnitude is treated as annualized.
func dailyTheta(theta float64) float64 {
	if math.Abs(theta) > 5 {
		return theta / daysPerYear
	}
	return theta
}
