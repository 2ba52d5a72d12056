// Package indicators computes technical indicators over OHLCV bar series:
// ATR, support/resistance levels, VWAP, and candlestick patterns with volume
// confirmation. Everything here is a pure function over a bounded window of
// bars: no state, no data fetching.
package indicators

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// DefaultATRWindow is the conventional 14-bar ATR window.
const DefaultATRWindow = 14

// ErrInsufficientBars indicates the series is too short for the requested
// indicator.
var ErrInsufficientBars = errors.New("not enough bars")

// ATR returns the Average True Range over the trailing window: the rolling
// mean of true range, where true range per bar is
// max(H−L, |H−prevClose|, |L−prevClose|). Requires window+1 bars so every
// true range has a previous close.
func ATR(bars []marketdata.PriceBar, window int) (float64, error) {
	if window <= 0 {
		window = DefaultATRWindow
	}
	if len(bars) < window+1 {
		return 0, fmt.Errorf("%w: need %d bars for ATR(%d), have %d", ErrInsufficientBars, window+1, window, len(bars))
	}

	start := len(bars) - window
	trs := make([]float64, 0, window)
	for i := start; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1].Close))
	}
	return stat.Mean(trs, nil), nil
}

func trueRange(bar marketdata.PriceBar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// AverageDailyRange returns the mean high-low range across the series. Used
// to build a synthetic buffer band when no technical levels exist.
func AverageDailyRange(bars []marketdata.PriceBar) (float64, error) {
	if len(bars) == 0 {
		return 0, ErrInsufficientBars
	}
	ranges := make([]float64, len(bars))
	for i, b := range bars {
		ranges[i] = b.High - b.Low
	}
	return stat.Mean(ranges, nil), nil
}

// Levels holds support and resistance price levels relative to the current
// price, each sorted ascending with duplicates removed.
type Levels struct {
	Support    []float64
	Resistance []float64
}

// SupportResistance detects local extrema with a symmetric order-k filter,
// k = min(5, n/10) floored at 1. Local minima below the current price become
// support; local maxima above it become resistance.
func SupportResistance(bars []marketdata.PriceBar, currentPrice float64) Levels {
	n := len(bars)
	if n < 3 {
		return Levels{}
	}
	k := n / 10
	if k > 5 {
		k = 5
	}
	if k < 1 {
		k = 1
	}

	var support, resistance []float64
	for i := k; i < n-k; i++ {
		isMin, isMax := true, true
		for j := i - k; j <= i+k; j++ {
			if j == i {
				continue
			}
			if bars[j].Low < bars[i].Low {
				isMin = false
			}
			if bars[j].High > bars[i].High {
				isMax = false
			}
			if !isMin && !isMax {
				break
			}
		}
		if isMin && bars[i].Low < currentPrice {
			support = append(support, bars[i].Low)
		}
		if isMax && bars[i].High > currentPrice {
			resistance = append(resistance, bars[i].High)
		}
	}

	return Levels{
		Support:    dedupeSorted(support),
		Resistance: dedupeSorted(resistance),
	}
}

func dedupeSorted(levels []float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sort.Float64s(levels)
	out := levels[:1]
	for _, l := range levels[1:] {
		if l != out[len(out)-1] {
			out = append(out, l)
		}
	}
	return out
}

// NearestBelow returns the highest level strictly below price, or false.
func NearestBelow(levels []float64, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if l < price && (!found || l > best) {
			best, found = l, true
		}
	}
	return best, found
}

// NearestAbove returns the lowest level strictly above price, or false.
func NearestAbove(levels []float64, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range levels {
		if l > price && (!found || l < best) {
			best, found = l, true
		}
	}
	return best, found
}

// VWAP returns the session-anchored volume-weighted average price:
// cumulative typical-price·volume over cumulative volume, with typical price
// (H+L+C)/3. The bars passed in define the session anchor.
func VWAP(bars []marketdata.PriceBar) (float64, error) {
	if len(bars) == 0 {
		return 0, ErrInsufficientBars
	}
	var pv, vol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		vol += float64(b.Volume)
	}
	if vol == 0 {
		return 0, errors.New("no volume in session")
	}
	return pv / vol, nil
}
