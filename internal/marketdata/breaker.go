package marketdata

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerProvider wraps a Provider with circuit breaker functionality
// so a failing upstream does not get hammered by every incoming request.
type CircuitBreakerProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

// Compile-time interface compliance check.
var _ Provider = (*CircuitBreakerProvider)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	provider Provider,
	fn func(Provider) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(provider) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerProvider creates a CircuitBreakerProvider with sensible defaults.
func NewCircuitBreakerProvider(provider Provider) *CircuitBreakerProvider {
	return NewCircuitBreakerProviderWithSettings(provider, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerProviderWithSettings creates a CircuitBreakerProvider with custom settings.
func NewCircuitBreakerProviderWithSettings(provider Provider, settings CircuitBreakerSettings) *CircuitBreakerProvider {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPriceHistory wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetPriceHistory(ctx context.Context, ticker string, interval Interval, periodDays int) ([]PriceBar, error) {
	return execBreaker(c.breaker, c.provider, func(p Provider) ([]PriceBar, error) {
		return p.GetPriceHistory(ctx, ticker, interval, periodDays)
	})
}

// GetOptionChain wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, optionType OptionType) ([]OptionQuote, error) {
	return execBreaker(c.breaker, c.provider, func(p Provider) ([]OptionQuote, error) {
		return p.GetOptionChain(ctx, ticker, expiration, optionType)
	})
}

// GetCurrentPrice wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	return execBreaker(c.breaker, c.provider, func(p Provider) (float64, error) {
		return p.GetCurrentPrice(ctx, ticker)
	})
}

// GetExpirations wraps the underlying provider call with circuit breaker.
func (c *CircuitBreakerProvider) GetExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	return execBreaker(c.breaker, c.provider, func(p Provider) ([]time.Time, error) {
		return p.GetExpirations(ctx, ticker)
	})
}
