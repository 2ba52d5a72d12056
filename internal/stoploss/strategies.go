package stoploss

import (
	"math"

	"github.com/rfinnegan/thetaguard/internal/indicators"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// Basis identifies which sub-strategy produced a stop level.
type Basis string

// Recommendation bases, strongest signal first.
const (
	BasisPattern      Basis = "pattern"
	BasisTechnical    Basis = "technical"
	BasisBufferCapped Basis = "buffer-capped"
	BasisFallback     Basis = "fallback"
)

// candidate is a raw stop level before buffer enforcement.
type candidate struct {
	level               float64
	basis               Basis
	requiresCandleClose bool
}

// strategyFn produces a candidate stop or nil when the strategy has nothing
// valid to offer. Strategies are ordered per horizon; the first success wins
// and EnforceBufferLimit is always applied afterwards.
type strategyFn func() *candidate

// firstCandidate walks the chain and returns the first non-nil candidate.
// The chains below always end with a fixed-percentage strategy, so a
// candidate is guaranteed.
func firstCandidate(chain []strategyFn) *candidate {
	for _, fn := range chain {
		if c := fn(); c != nil {
			return c
		}
	}
	return nil
}

// protectiveSide reports whether level sits on the protective side of the
// current price for the option type: below for calls, above for puts.
func protectiveSide(level, currentPrice float64, optionType marketdata.OptionType) bool {
	if optionType == marketdata.OptionTypePut {
		return level > currentPrice
	}
	return level < currentPrice
}

// patternStop derives a stop from a confirmed candlestick pattern whose
// direction matches the option type: bullish patterns protect calls with a
// stop at the pattern pivot below price, bearish patterns protect puts with
// a stop at the pivot above price.
func patternStop(bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType, spec horizonSpec) *candidate {
	p := indicators.DetectPattern(bars, spec.PatternRange, spec.VolumeWindow)
	if p == nil {
		return nil
	}
	if p.Bullish != (optionType == marketdata.OptionTypeCall) {
		return nil
	}
	if !protectiveSide(p.Level, currentPrice, optionType) {
		return nil
	}
	return &candidate{level: p.Level, basis: BasisPattern}
}

// VWAPStop returns the VWAP as a stop level and whether it is valid for the
// option type. The VWAP is only a protective stop when it sits on the
// correct side of the current price: below for calls, above for puts.
func VWAPStop(vwap, currentPrice float64, optionType marketdata.OptionType) (float64, bool) {
	return vwap, protectiveSide(vwap, currentPrice, optionType)
}

// latestSession returns the trailing bars sharing the last bar's trading
// date. VWAP is anchored to the session open, so bars from earlier sessions
// must not contribute.
func latestSession(bars []marketdata.PriceBar) []marketdata.PriceBar {
	if len(bars) == 0 {
		return bars
	}
	y, m, d := bars[len(bars)-1].Timestamp.UTC().Date()
	start := len(bars) - 1
	for start > 0 {
		py, pm, pd := bars[start-1].Timestamp.UTC().Date()
		if py != y || pm != m || pd != d {
			break
		}
		start--
	}
	return bars[start:]
}

// scalpWickVWAPStop implements the combined wick/VWAP method for short-dated
// contracts: the tightest-stop wick level from the last three bars and the
// session VWAP level compete, and whichever sits closer to the current price
// wins. A VWAP-derived stop is a directional signal, not an intrabar trigger,
// so it requires a full bar close beyond the VWAP.
func scalpWickVWAPStop(bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType) *candidate {
	var wickLevel float64
	wickValid := false
	if len(bars) >= 3 {
		tail := bars[len(bars)-3:]
		if optionType == marketdata.OptionTypeCall {
			wickLevel = tail[0].Low
			for _, b := range tail[1:] {
				if b.Low < wickLevel {
					wickLevel = b.Low
				}
			}
		} else {
			wickLevel = tail[0].High
			for _, b := range tail[1:] {
				if b.High > wickLevel {
					wickLevel = b.High
				}
			}
		}
		wickValid = protectiveSide(wickLevel, currentPrice, optionType)
	}

	vwapLevel, vwapValid := 0.0, false
	if v, err := indicators.VWAP(latestSession(bars)); err == nil {
		vwapLevel, vwapValid = VWAPStop(v, currentPrice, optionType)
	}

	switch {
	case wickValid && vwapValid:
		// Tighter stop wins
		if math.Abs(vwapLevel-currentPrice) < math.Abs(wickLevel-currentPrice) {
			return &candidate{level: vwapLevel, basis: BasisTechnical, requiresCandleClose: true}
		}
		return &candidate{level: wickLevel, basis: BasisTechnical}
	case vwapValid:
		return &candidate{level: vwapLevel, basis: BasisTechnical, requiresCandleClose: true}
	case wickValid:
		return &candidate{level: wickLevel, basis: BasisTechnical}
	}
	return nil
}

// atrMultiplier scales ATR stops with DTE: more room for longer-dated
// contracts, tighter for expiring ones.
func atrMultiplier(dte int) float64 {
	switch {
	case dte >= 60:
		return 2.0
	case dte >= 30:
		return 1.5
	case dte >= 10:
		return 1.2
	default:
		return 1.0
	}
}

// swingLevelStop picks the nearest support (calls) or resistance (puts)
// within a DTE-scaled ATR window of the current price.
func swingLevelStop(bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType, dte, atrWindow int) *candidate {
	atr, err := indicators.ATR(bars, atrWindow)
	if err != nil || atr <= 0 {
		return nil
	}
	window := atrMultiplier(dte) * atr * 2

	levels := indicators.SupportResistance(bars, currentPrice)
	if optionType == marketdata.OptionTypeCall {
		if level, ok := indicators.NearestBelow(levels.Support, currentPrice); ok && currentPrice-level <= window {
			return &candidate{level: level, basis: BasisTechnical}
		}
	} else {
		if level, ok := indicators.NearestAbove(levels.Resistance, currentPrice); ok && level-currentPrice <= window {
			return &candidate{level: level, basis: BasisTechnical}
		}
	}
	return nil
}

// atrStop places the stop a DTE-scaled multiple of ATR away from the price.
func atrStop(bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType, dte, atrWindow int) *candidate {
	atr, err := indicators.ATR(bars, atrWindow)
	if err != nil || atr <= 0 {
		// Degrade to the synthetic band from average range when the series
		// is too short for a full ATR window.
		adr, aerr := indicators.AverageDailyRange(bars)
		if aerr != nil || adr <= 0 {
			return nil
		}
		atr = adr
	}
	distance := atrMultiplier(dte) * atr
	return &candidate{level: directionalLevel(currentPrice, distance, optionType), basis: BasisTechnical}
}

// longTermBandPercent returns the percentage floor and ceiling for a
// weekly-ATR stop, with the ceiling shrinking as residual DTE shortens.
func longTermBandPercent(dte int) (floor, ceiling float64) {
	switch {
	case dte >= 365:
		return 0.05, 0.15
	case dte >= 180:
		return 0.05, 0.12
	default:
		return 0.05, 0.10
	}
}

// longTermStop derives a weekly-ATR stop clamped into a wide percentage band.
func longTermStop(bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType, dte, atrWindow int) *candidate {
	atr, err := indicators.ATR(bars, atrWindow)
	if err != nil || atr <= 0 {
		return nil
	}
	floorPct, ceilPct := longTermBandPercent(dte)
	distance := 1.5 * atr
	distance = math.Max(distance, currentPrice*floorPct)
	distance = math.Min(distance, currentPrice*ceilPct)
	return &candidate{level: directionalLevel(currentPrice, distance, optionType), basis: BasisTechnical}
}

// fixedPercentStop is the terminal fallback: a stop at the full buffer-policy
// distance. It always succeeds.
func fixedPercentStop(currentPrice float64, optionType marketdata.OptionType, dte int) *candidate {
	distance := currentPrice * BufferPolicy(dte, optionType)
	return &candidate{level: directionalLevel(currentPrice, distance, optionType), basis: BasisFallback}
}

func directionalLevel(currentPrice, distance float64, optionType marketdata.OptionType) float64 {
	if optionType == marketdata.OptionTypePut {
		return currentPrice + distance
	}
	return currentPrice - distance
}

// chainForHorizon builds the ordered strategy chain for one horizon:
// [pattern, technical, ATR, fixed-percentage]. bars may be nil when market
// data for the horizon could not be retrieved, in which case only the fixed
// fallback contributes. atrWindow overrides the horizon's ATR window when
// positive.
func chainForHorizon(h Horizon, bars []marketdata.PriceBar, currentPrice float64, optionType marketdata.OptionType, dte, atrWindow int) []strategyFn {
	spec := horizonSpecs[h]
	if atrWindow <= 0 {
		atrWindow = spec.ATRWindow
	}

	var chain []strategyFn
	if len(bars) > 0 {
		chain = append(chain, func() *candidate {
			return patternStop(bars, currentPrice, optionType, spec)
		})
		switch h {
		case HorizonScalp:
			chain = append(chain, func() *candidate {
				return scalpWickVWAPStop(bars, currentPrice, optionType)
			})
		case HorizonSwing:
			chain = append(chain,
				func() *candidate {
					return swingLevelStop(bars, currentPrice, optionType, dte, atrWindow)
				},
				func() *candidate {
					return atrStop(bars, currentPrice, optionType, dte, atrWindow)
				},
			)
		case HorizonLongTerm:
			chain = append(chain, func() *candidate {
				return longTermStop(bars, currentPrice, optionType, dte, atrWindow)
			})
		}
	}
	chain = append(chain, func() *candidate {
		return fixedPercentStop(currentPrice, optionType, dte)
	})
	return chain
}
