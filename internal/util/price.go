// Package util holds small price arithmetic helpers shared across the
// analytics packages.
package util

import "math"

// RoundToTick rounds a price to the nearest multiple of tick, with ties
// rounding away from zero. A non-positive tick or a non-finite price returns
// the input unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	tick = math.Abs(tick)
	return math.Round(price/tick) * tick
}

// PercentChange returns the percentage move from one value to another,
// signed. A non-positive starting value yields zero rather than a blowup.
func PercentChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	return (to - from) / from * 100
}
