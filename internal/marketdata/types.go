// Package marketdata provides market data access for the analytics engine.
// It defines the Provider interface consumed by the stop-loss recommender and
// Greeks engine, plus a Tradier-backed implementation, a deterministic mock,
// and resilience wrappers (retry, circuit breaker).
package marketdata

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across provider implementations.
var (
	// ErrDataUnavailable indicates a quote, implied volatility, or price
	// history required for a computation could not be resolved. Callers must
	// degrade or surface it; they must never substitute invented values.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidExpiration indicates no options trade on or near the
	// requested expiration date for the ticker.
	ErrInvalidExpiration = errors.New("no options for requested expiration")
)

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "put"
)

// Valid reports whether the option type is one of the two known values.
func (o OptionType) Valid() bool {
	return o == OptionTypeCall || o == OptionTypePut
}

// Interval identifies the bar timeframe of a price history request.
type Interval string

// Supported bar intervals. Intraday intervals map to the timesales endpoint,
// daily and weekly to the history endpoint.
const (
	Interval5Min   Interval = "5min"
	Interval15Min  Interval = "15min"
	Interval1Hour  Interval = "1hour"
	Interval4Hour  Interval = "4hour"
	IntervalDaily  Interval = "daily"
	IntervalWeekly Interval = "weekly"
)

// Intraday reports whether the interval requires intraday (timesales) data.
func (i Interval) Intraday() bool {
	switch i {
	case Interval5Min, Interval15Min, Interval1Hour, Interval4Hour:
		return true
	}
	return false
}

// PriceBar is a single OHLCV bar. Bars are delivered in ascending time order
// and treated as immutable snapshots for the duration of one computation.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// BrokerGreeks contains broker-reported option Greeks. When present on a
// quote they take precedence over model-computed values.
type BrokerGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	MidIV float64 `json:"mid_iv"`
}

// OptionQuote is a single option contract quote from the provider.
// ImpliedVolatility is nil when the provider could not supply one; callers
// must treat that as missing data rather than assuming a default.
type OptionQuote struct {
	Ticker            string        `json:"ticker"`
	Strike            float64       `json:"strike"`
	OptionType        OptionType    `json:"option_type"`
	Expiration        time.Time     `json:"expiration"`
	Last              float64       `json:"last"`
	Bid               float64       `json:"bid"`
	Ask               float64       `json:"ask"`
	ImpliedVolatility *float64      `json:"implied_volatility,omitempty"`
	Volume            int64         `json:"volume"`
	OpenInterest      int64         `json:"open_interest"`
	Greeks            *BrokerGreeks `json:"greeks,omitempty"`
}

// MidPrice returns the bid/ask midpoint, falling back to the last trade when
// the book is one-sided or empty.
func (q *OptionQuote) MidPrice() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Provider supplies price bars, option chains, and current prices.
// Implementations own the only mutable, time-varying state in the system;
// the engine treats every response as a read-only snapshot.
type Provider interface {
	GetPriceHistory(ctx context.Context, ticker string, interval Interval, periodDays int) ([]PriceBar, error)
	GetOptionChain(ctx context.Context, ticker string, expiration time.Time, optionType OptionType) ([]OptionQuote, error)
	GetCurrentPrice(ctx context.Context, ticker string) (float64, error)
	GetExpirations(ctx context.Context, ticker string) ([]time.Time, error)
}

// DaysBetween calculates the number of calendar days between two dates.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// DaysToExpiration returns the signed number of days from now until the
// expiration date. Negative values mean the contract has already expired.
func DaysToExpiration(expiration, now time.Time) int {
	f := now.UTC().Truncate(24 * time.Hour)
	t := expiration.UTC().Truncate(24 * time.Hour)
	return int(t.Sub(f).Hours() / 24)
}
