// Package stoploss recommends stop-loss levels for open option positions.
// A trading horizon is classified from days-to-expiration, a candidate stop
// is computed per horizon from technical signals, and every candidate is
// clamped by a DTE-driven buffer policy before being converted to an option
// price.
package stoploss

import "github.com/rfinnegan/thetaguard/internal/marketdata"

// Horizon is the trading timeframe classification derived from DTE.
type Horizon string

// Horizon values, tightest first.
const (
	HorizonScalp    Horizon = "scalp"
	HorizonSwing    Horizon = "swing"
	HorizonLongTerm Horizon = "longterm"
)

// HorizonForDTE classifies days-to-expiration into a trading horizon:
// scalp for DTE ≤ 2, swing for 2 < DTE ≤ 90, longterm beyond.
func HorizonForDTE(dte int) Horizon {
	switch {
	case dte <= 2:
		return HorizonScalp
	case dte <= 90:
		return HorizonSwing
	default:
		return HorizonLongTerm
	}
}

// AllHorizons lists every horizon in tightest-first order.
var AllHorizons = []Horizon{HorizonScalp, HorizonSwing, HorizonLongTerm}

// horizonSpec binds a horizon to the bar timeframe its signals are computed
// from.
type horizonSpec struct {
	Interval     marketdata.Interval
	PeriodDays   int
	ATRWindow    int
	PatternRange int
	VolumeWindow int
}

// horizonSpecs maps each horizon to its data requirements: intraday bars for
// scalp, dailies for swing, weeklies for longterm.
var horizonSpecs = map[Horizon]horizonSpec{
	HorizonScalp: {
		Interval:     marketdata.Interval5Min,
		PeriodDays:   5,
		ATRWindow:    14,
		PatternRange: 12,
		VolumeWindow: 12,
	},
	HorizonSwing: {
		Interval:     marketdata.IntervalDaily,
		PeriodDays:   120,
		ATRWindow:    14,
		PatternRange: 10,
		VolumeWindow: 10,
	},
	HorizonLongTerm: {
		Interval:     marketdata.IntervalWeekly,
		PeriodDays:   730,
		ATRWindow:    14,
		PatternRange: 8,
		VolumeWindow: 8,
	},
}
