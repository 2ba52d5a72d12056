package indicators

import (
	"gonum.org/v1/gonum/stat"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// volumeConfirmationRatio is the minimum multiple of recent average volume a
// pattern bar must print before the pattern is considered confirmed.
const volumeConfirmationRatio = 1.5

// PatternType identifies a detected candlestick formation.
type PatternType string

// Detected pattern families.
const (
	PatternBreakout         PatternType = "breakout"
	PatternBreakdown        PatternType = "breakdown"
	PatternBullishEngulfing PatternType = "bullish_engulfing"
	PatternBearishEngulfing PatternType = "bearish_engulfing"
)

// Pattern is a confirmed candlestick signal. Level is the price the pattern
// pivots on: the broken range boundary for breakouts, the engulfing bar's
// protective extreme for engulfings.
type Pattern struct {
	Type        PatternType
	Bullish     bool
	Level       float64
	VolumeRatio float64
}

// DetectPattern scans the tail of the series for a breakout/breakdown over
// the trailing rangeBars, or a two-bar engulfing. Either family only counts
// when the latest bar's volume is at least 1.5× the mean volume of the
// preceding volumeLookback bars. Returns nil when nothing confirmed exists.
func DetectPattern(bars []marketdata.PriceBar, rangeBars, volumeLookback int) *Pattern {
	if rangeBars <= 0 {
		rangeBars = 10
	}
	if volumeLookback <= 0 {
		volumeLookback = 10
	}
	if len(bars) < 2 {
		return nil
	}

	ratio, confirmed := volumeConfirmed(bars, volumeLookback)
	if !confirmed {
		return nil
	}

	latest := bars[len(bars)-1]

	if p := detectRangeBreak(bars, rangeBars); p != nil {
		p.VolumeRatio = ratio
		return p
	}

	prev := bars[len(bars)-2]
	if p := detectEngulfing(prev, latest); p != nil {
		p.VolumeRatio = ratio
		return p
	}
	return nil
}

// volumeConfirmed checks the latest bar's volume against the mean of the
// preceding lookback bars.
func volumeConfirmed(bars []marketdata.PriceBar, lookback int) (float64, bool) {
	if len(bars) < 2 {
		return 0, false
	}
	start := len(bars) - 1 - lookback
	if start < 0 {
		start = 0
	}
	prior := bars[start : len(bars)-1]
	if len(prior) == 0 {
		return 0, false
	}
	vols := make([]float64, len(prior))
	for i, b := range prior {
		vols[i] = float64(b.Volume)
	}
	avg := stat.Mean(vols, nil)
	if avg <= 0 {
		return 0, false
	}
	ratio := float64(bars[len(bars)-1].Volume) / avg
	return ratio, ratio >= volumeConfirmationRatio
}

// detectRangeBreak reports a close beyond the high/low of the trailing
// rangeBars bars (the latest bar excluded from the range).
func detectRangeBreak(bars []marketdata.PriceBar, rangeBars int) *Pattern {
	if len(bars) < rangeBars+1 {
		return nil
	}
	window := bars[len(bars)-1-rangeBars : len(bars)-1]
	latest := bars[len(bars)-1]

	rangeHigh := window[0].High
	rangeLow := window[0].Low
	for _, b := range window[1:] {
		if b.High > rangeHigh {
			rangeHigh = b.High
		}
		if b.Low < rangeLow {
			rangeLow = b.Low
		}
	}

	if latest.Close > rangeHigh {
		return &Pattern{Type: PatternBreakout, Bullish: true, Level: rangeHigh}
	}
	if latest.Close < rangeLow {
		return &Pattern{Type: PatternBreakdown, Bullish: false, Level: rangeLow}
	}
	return nil
}

// detectEngulfing applies the strict two-bar body-containment rule: the
// latest bar's real body must fully contain the previous bar's real body and
// reverse its direction.
func detectEngulfing(prev, latest marketdata.PriceBar) *Pattern {
	prevBearish := prev.Close < prev.Open
	prevBullish := prev.Close > prev.Open
	latestBullish := latest.Close > latest.Open
	latestBearish := latest.Close < latest.Open

	if prevBearish && latestBullish &&
		latest.Open < prev.Close && latest.Close > prev.Open {
		return &Pattern{Type: PatternBullishEngulfing, Bullish: true, Level: latest.Low}
	}
	if prevBullish && latestBearish &&
		latest.Open > prev.Close && latest.Close < prev.Open {
		return &Pattern{Type: PatternBearishEngulfing, Bullish: false, Level: latest.High}
	}
	return nil
}
