// Package theta projects interval-by-interval time decay of an option price
// until expiration.
package theta

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// WarningThresholdPercent is the cumulative decay magnitude beyond which a
// projection is flagged.
const WarningThresholdPercent = 5.0

// ErrExpired indicates the contract expires today or already expired, so no
// decay projection exists.
var ErrExpired = errors.New("contract expired or expires today")

// Interval is one step of a decay projection.
type Interval struct {
	Index             int       `json:"index"`
	Date              time.Time `json:"date"`
	ProjectedPrice    float64   `json:"projected_price"`
	IntervalPercent   float64   `json:"interval_percent"`
	CumulativePercent float64   `json:"cumulative_percent"`
}

// Projection is an ordered sequence of decay intervals. Warning is set once
// the cumulative decay magnitude exceeds WarningThresholdPercent.
type Projection struct {
	Intervals    []Interval `json:"intervals"`
	IntervalDays int        `json:"interval_days"`
	Warning      bool       `json:"warning"`
}

// Project applies dailyTheta over fixed intervals until expiration, flooring
// the running price at zero. Theta is coerced negative when non-negative:
// decay is assumed one-directional, and a positive reported theta would
// otherwise project a free money machine. The number of intervals is
// min(ceil(daysToExpiry/intervalDays), maxIntervals).
func Project(currentOptionPrice, dailyTheta float64, expiration time.Time, maxIntervals, intervalDays int, now time.Time) (Projection, error) {
	if currentOptionPrice < 0 {
		return Projection{}, fmt.Errorf("negative option price %.4f", currentOptionPrice)
	}
	if intervalDays <= 0 {
		intervalDays = 1
	}
	if maxIntervals <= 0 {
		maxIntervals = 10
	}

	daysToExpiry := marketdata.DaysToExpiration(expiration, now)
	if daysToExpiry <= 0 {
		return Projection{}, fmt.Errorf("%w: expiration %s", ErrExpired, expiration.Format("2006-01-02"))
	}

	if dailyTheta > 0 {
		dailyTheta = -dailyTheta
	}

	n := (daysToExpiry + intervalDays - 1) / intervalDays
	if n > maxIntervals {
		n = maxIntervals
	}

	proj := Projection{
		Intervals:    make([]Interval, 0, n),
		IntervalDays: intervalDays,
	}

	price := currentOptionPrice
	for i := 1; i <= n; i++ {
		prev := price
		price = math.Max(0, price+dailyTheta*float64(intervalDays))

		var intervalPct, cumulativePct float64
		if prev > 0 {
			intervalPct = (price - prev) / prev * 100
		}
		if currentOptionPrice > 0 {
			cumulativePct = (price - currentOptionPrice) / currentOptionPrice * 100
		}

		proj.Intervals = append(proj.Intervals, Interval{
			Index:             i,
			Date:              now.AddDate(0, 0, i*intervalDays),
			ProjectedPrice:    price,
			IntervalPercent:   intervalPct,
			CumulativePercent: cumulativePct,
		})

		if math.Abs(cumulativePct) > WarningThresholdPercent {
			proj.Warning = true
		}
	}

	return proj, nil
}

// IntervalDaysForDTE picks projection granularity to match the trading
// horizon: daily for short-dated contracts, 2-day for swing, weekly for
// long-dated/LEAPS.
func IntervalDaysForDTE(dte int) int {
	switch {
	case dte <= 2:
		return 1
	case dte <= 90:
		return 2
	default:
		return 7
	}
}
