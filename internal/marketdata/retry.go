package marketdata

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig controls per-call timeout and retry behavior.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig applies a timeout plus a single retry around each
// provider call.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     1,
	InitialBackoff: 500 * time.Millisecond,
	Timeout:        15 * time.Second,
}

// RetryProvider wraps a Provider with a per-call timeout and bounded retry
// on transient failures. Permanent failures (4xx, missing data) return
// immediately.
type RetryProvider struct {
	provider Provider
	logger   *logrus.Logger
	config   RetryConfig
}

// Compile-time interface compliance check.
var _ Provider = (*RetryProvider)(nil)

// NewRetryProvider wraps provider with retry behavior. A nil logger discards
// retry diagnostics.
func NewRetryProvider(provider Provider, logger *logrus.Logger, config ...RetryConfig) *RetryProvider {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(nullWriter{})
	}
	return &RetryProvider{
		provider: provider,
		logger:   logger,
		config:   cfg,
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// retryCall runs fn under the configured timeout, retrying transient errors
// up to MaxRetries times with jittered backoff.
func retryCall[T any](ctx context.Context, r *RetryProvider, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := callCtx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		res, err := fn(callCtx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}

		r.logger.WithError(err).Warnf("%s attempt %d failed, retrying in %v", op, attempt+1, backoff)
		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		case <-callCtx.Done():
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, callCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempt(s): %w", op, r.config.MaxRetries+1, lastErr)
}

func nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// isTransientError reports whether a provider error is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDataUnavailable) || errors.Is(err, ErrInvalidExpiration) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// 429 and 5xx are retryable; other 4xx are permanent
		return apiErr.Status == 429 || apiErr.Status >= 500
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"deadline exceeded",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// GetPriceHistory wraps the underlying provider call with timeout and retry.
func (r *RetryProvider) GetPriceHistory(ctx context.Context, ticker string, interval Interval, periodDays int) ([]PriceBar, error) {
	return retryCall(ctx, r, "price history", func(ctx context.Context) ([]PriceBar, error) {
		return r.provider.GetPriceHistory(ctx, ticker, interval, periodDays)
	})
}

// GetOptionChain wraps the underlying provider call with timeout and retry.
func (r *RetryProvider) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, optionType OptionType) ([]OptionQuote, error) {
	return retryCall(ctx, r, "option chain", func(ctx context.Context) ([]OptionQuote, error) {
		return r.provider.GetOptionChain(ctx, ticker, expiration, optionType)
	})
}

// GetCurrentPrice wraps the underlying provider call with timeout and retry.
func (r *RetryProvider) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	return retryCall(ctx, r, "current price", func(ctx context.Context) (float64, error) {
		return r.provider.GetCurrentPrice(ctx, ticker)
	})
}

// GetExpirations wraps the underlying provider call with timeout and retry.
func (r *RetryProvider) GetExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	return retryCall(ctx, r, "expirations", func(ctx context.Context) ([]time.Time, error) {
		return r.provider.GetExpirations(ctx, ticker)
	})
}
