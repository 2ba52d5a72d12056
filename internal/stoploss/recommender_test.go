package stoploss

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

// stubProvider is a hand-rolled Provider with canned responses per method.
type stubProvider struct {
	price       float64
	priceErr    error
	bars        []marketdata.PriceBar
	barsErr     error
	chain       []marketdata.OptionQuote
	chainErr    error
	expirations []time.Time
	expErr      error
}

var _ marketdata.Provider = (*stubProvider)(nil)

func (s *stubProvider) GetPriceHistory(_ context.Context, _ string, _ marketdata.Interval, _ int) ([]marketdata.PriceBar, error) {
	return s.bars, s.barsErr
}

func (s *stubProvider) GetOptionChain(_ context.Context, _ string, _ time.Time, _ marketdata.OptionType) ([]marketdata.OptionQuote, error) {
	return s.chain, s.chainErr
}

func (s *stubProvider) GetCurrentPrice(_ context.Context, _ string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubProvider) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	return s.expirations, s.expErr
}

func testClock() time.Time {
	return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
}

// healthyProvider returns a provider with a flat 100-dollar underlying, a
// listed expiration 30 days out, and a quoted 100-strike contract carrying
// broker greeks.
func healthyProvider(expiration time.Time) *stubProvider {
	return &stubProvider{
		price:       100,
		bars:        seriesBars(130, 100, 101, 99, 100, 1000),
		expirations: []time.Time{expiration},
		chain: []marketdata.OptionQuote{
			{
				Ticker:     "SPY",
				Strike:     100,
				OptionType: marketdata.OptionTypeCall,
				Expiration: expiration,
				Bid:        4.90,
				Ask:        5.10,
				Greeks: &marketdata.BrokerGreeks{
					Delta: 0.5,
					Gamma: 0.04,
					Theta: -0.05,
					Vega:  0.11,
					MidIV: 0.30,
				},
			},
		},
	}
}

func newTestRecommender(p marketdata.Provider) *Recommender {
	r := NewRecommender(p, nil)
	r.now = testClock
	return r
}

func callRequest(expiration time.Time) Request {
	return Request{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: expiration,
		OptionType: marketdata.OptionTypeCall,
	}
}

func TestRecommendHappyPath(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	r := newTestRecommender(healthyProvider(expiration))

	result, err := r.Recommend(context.Background(), callRequest(expiration))
	require.NoError(t, err)

	assert.Equal(t, 30, result.DTE)
	assert.Equal(t, HorizonSwing, result.TradeHorizon)
	assert.Equal(t, expiration, result.Expiration)
	assert.InDelta(t, 100.0, result.CurrentPrice, 1e-9)
	assert.InDelta(t, 5.0, result.CurrentOptionPrice, 1e-9)
	assert.Empty(t, result.Warnings)

	require.Len(t, result.ByHorizon, len(AllHorizons))
	assert.Equal(t, result.ByHorizon[HorizonSwing], result.Primary)

	// Flat dailies put support at 99 inside the ATR window.
	swing := result.ByHorizon[HorizonSwing]
	assert.InDelta(t, 99.0, swing.Level, 1e-9)
	assert.Equal(t, BasisTechnical, swing.Basis)
	// 5 - 0.5 + 0.5*0.04*1, rounded to a cent.
	assert.InDelta(t, 4.52, swing.OptionStopPrice, 1e-9)
	assert.InDelta(t, -9.6, swing.PercentLoss, 1e-6)
	assert.NotEmpty(t, swing.ID)

	for h, rec := range result.ByHorizon {
		assert.Equal(t, h, rec.Horizon)
		assert.Less(t, rec.Level, result.CurrentPrice, "call stop must sit below the price (%s)", h)

		distance := math.Abs(rec.Level-result.CurrentPrice) / result.CurrentPrice
		assert.LessOrEqual(t, distance, BufferPolicy(result.DTE, marketdata.OptionTypeCall)+1e-9,
			"stop distance within buffer (%s)", h)
	}
}

func TestRecommendPutDirectionality(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.chain[0].OptionType = marketdata.OptionTypePut
	r := newTestRecommender(p)

	req := callRequest(expiration)
	req.OptionType = marketdata.OptionTypePut
	req.Strike = 100

	result, err := r.Recommend(context.Background(), req)
	require.NoError(t, err)

	for h, rec := range result.ByHorizon {
		assert.Greater(t, rec.Level, result.CurrentPrice, "put stop must sit above the price (%s)", h)
	}
}

func TestRecommendValidation(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	r := newTestRecommender(healthyProvider(expiration))

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing ticker", func(q *Request) { q.Ticker = "" }},
		{"zero strike", func(q *Request) { q.Strike = 0 }},
		{"negative strike", func(q *Request) { q.Strike = -5 }},
		{"bad option type", func(q *Request) { q.OptionType = "straddle" }},
		{"zero expiration", func(q *Request) { q.Expiration = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := callRequest(expiration)
			tt.mutate(&req)
			_, err := r.Recommend(context.Background(), req)
			assert.Error(t, err)
		})
	}
}

func TestRecommendPriceFailureIsFatal(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.priceErr = errors.New("quote feed down")
	r := newTestRecommender(p)

	_, err := r.Recommend(context.Background(), callRequest(expiration))
	assert.ErrorContains(t, err, "current price")
}

func TestRecommendNoListedOptions(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.expirations = nil
	r := newTestRecommender(p)

	_, err := r.Recommend(context.Background(), callRequest(expiration))
	assert.ErrorIs(t, err, marketdata.ErrInvalidExpiration)
}

func TestRecommendAdjustsExpiration(t *testing.T) {
	requested := testClock().AddDate(0, 0, 30)
	listed := requested.AddDate(0, 0, 3)
	p := healthyProvider(listed)
	r := newTestRecommender(p)

	result, err := r.Recommend(context.Background(), callRequest(requested))
	require.NoError(t, err)

	assert.Equal(t, listed, result.Expiration)
	assert.Equal(t, 33, result.DTE)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "nearest available expiration")
}

func TestRecommendExpiredContract(t *testing.T) {
	expired := testClock().AddDate(0, 0, -7)
	p := healthyProvider(expired)
	r := newTestRecommender(p)

	_, err := r.Recommend(context.Background(), callRequest(expired))
	assert.ErrorContains(t, err, "expired")
}

func TestRecommendDegradesWithoutHistory(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.bars = nil
	p.barsErr = errors.New("history feed down")
	r := newTestRecommender(p)

	result, err := r.Recommend(context.Background(), callRequest(expiration))
	require.NoError(t, err)

	// Every horizon degrades to its fixed-percentage fallback, with one
	// warning per horizon.
	for h, rec := range result.ByHorizon {
		assert.Equal(t, BasisFallback, rec.Basis, "horizon %s", h)
		assert.InDelta(t, 95.0, rec.Level, 1e-9, "horizon %s", h)
	}
	assert.GreaterOrEqual(t, len(result.Warnings), len(AllHorizons))
}

func TestRecommendDegradesWithEmptyHistory(t *testing.T) {
	// A provider can answer with an empty series and no error; that must
	// degrade the same way a failed fetch does, warnings included.
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.bars = []marketdata.PriceBar{}
	r := newTestRecommender(p)

	result, err := r.Recommend(context.Background(), callRequest(expiration))
	require.NoError(t, err)

	for h, rec := range result.ByHorizon {
		assert.Equal(t, BasisFallback, rec.Basis, "horizon %s", h)
		assert.InDelta(t, 95.0, rec.Level, 1e-9, "horizon %s", h)
	}
	assert.GreaterOrEqual(t, len(result.Warnings), len(AllHorizons))
}

func TestRecommendATRWindowOverride(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.bars = seriesBars(16, 100, 101, 99, 100, 1000)

	r := NewRecommender(p, nil, RecommenderConfig{ATRWindow: 20})
	r.now = testClock

	result, err := r.Recommend(context.Background(), callRequest(expiration))
	require.NoError(t, err)

	// Sixteen bars cannot fill a 20-bar ATR window, so the swing horizon
	// skips the support lookup and takes the average-range stop (range 2.0,
	// 30-DTE multiplier 1.5) instead of the 99 support the default window
	// would find.
	swing := result.ByHorizon[HorizonSwing]
	assert.InDelta(t, 97.0, swing.Level, 1e-9)
	assert.Equal(t, BasisTechnical, swing.Basis)
}

func TestRecommendDegradesWithoutChain(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	p.chain = nil
	p.chainErr = marketdata.ErrDataUnavailable
	r := newTestRecommender(p)

	req := callRequest(expiration)
	req.Strike = 95 // in the money so intrinsic value is nonzero

	result, err := r.Recommend(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, result.CurrentOptionPrice, 1e-9)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "option chain unavailable")

	// Stops still exist; the option stop price falls back to intrinsic value
	// at the stop level.
	swing := result.ByHorizon[HorizonSwing]
	assert.InDelta(t, 99.0, swing.Level, 1e-9)
	assert.InDelta(t, 4.0, swing.OptionStopPrice, 1e-9)
}

func TestRecommendStrikeNotListed(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := healthyProvider(expiration)
	r := newTestRecommender(p)

	req := callRequest(expiration)
	req.Strike = 230

	result, err := r.Recommend(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "not found")
	assert.InDelta(t, 0.0, result.CurrentOptionPrice, 1e-9)
}
