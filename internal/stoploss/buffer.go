package stoploss

import "github.com/rfinnegan/thetaguard/internal/marketdata"

// BufferPolicy returns the maximum allowed stop distance from the current
// price as a fraction, driven by days-to-expiration. Short-dated contracts
// get tight caps because gamma makes every point of underlying movement
// expensive. Long-dated puts are allowed a wider cap than calls: downside
// moves are faster and a 5% cap stops puts out of otherwise sound positions.
func BufferPolicy(dte int, optionType marketdata.OptionType) float64 {
	switch {
	case dte <= 1:
		return 0.01
	case dte == 2:
		return 0.02
	case dte <= 5:
		return 0.03
	case dte <= 60:
		return 0.05
	default:
		if optionType == marketdata.OptionTypePut {
			return 0.07
		}
		return 0.05
	}
}

// EnforceBufferLimit clamps a stop level so its percentage distance from the
// current price never exceeds BufferPolicy(dte, optionType). A level on the
// wrong side of the price for the option type is also pulled to the buffer
// edge, which guarantees the directionality invariant (call stops below the
// price, put stops above it). Returns the adjusted level and whether it was
// changed.
func EnforceBufferLimit(stopLevel, currentPrice float64, optionType marketdata.OptionType, dte int) (float64, bool) {
	maxBuffer := BufferPolicy(dte, optionType)

	if optionType == marketdata.OptionTypePut {
		ceiling := currentPrice * (1 + maxBuffer)
		if stopLevel > ceiling || stopLevel <= currentPrice {
			return ceiling, true
		}
		return stopLevel, false
	}

	floor := currentPrice * (1 - maxBuffer)
	if stopLevel < floor || stopLevel >= currentPrice {
		return floor, true
	}
	return stopLevel, false
}
