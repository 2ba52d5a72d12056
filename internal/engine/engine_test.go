package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfinnegan/thetaguard/internal/marketdata"
)

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

func (s *stubProvider) GetPriceHistory(context.Context, string, marketdata.Interval, int) ([]marketdata.PriceBar, error) {
	return s.bars, s.barsErr
}

func (s *stubProvider) GetOptionChain(context.Context, string, time.Time, marketdata.OptionType) ([]marketdata.OptionQuote, error) {
	return s.chain, s.chainErr
}

func (s *stubProvider) GetCurrentPrice(context.Context, string) (float64, error) {
	return s.price, s.priceErr
}

func (s *stubProvider) GetExpirations(context.Context, string) ([]time.Time, error) {
	return s.expirations, s.expErr
}

func testClock() time.Time {
	return time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
}

func testProvider(expiration time.Time) *stubProvider {
	return &stubProvider{
		price:       100,
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

func newTestEngine(p marketdata.Provider) *Engine {
	e := New(p, nil)
	e.now = testClock
	return e
}

func TestEstimateOptionPrice(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	e := newTestEngine(testProvider(expiration))

	res, err := e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:      "SPY",
		Strike:      100,
		Expiration:  expiration,
		OptionType:  marketdata.OptionTypeCall,
		TargetPrice: 104,
	})
	require.NoError(t, err)

	assert.True(t, res.DataAvailable)
	assert.Equal(t, 30, res.DTE)
	assert.InDelta(t, 100.0, res.CurrentPrice, 1e-9)
	assert.InDelta(t, 5.0, res.CurrentOptionPrice, 1e-9)
	// 5 + 0.5*4 + 0.5*0.04*16 - 0.05*30
	assert.InDelta(t, 5.82, res.EstimatedPrice, 1e-9)
	require.NotNil(t, res.Greeks)
	assert.Empty(t, res.Warnings)
}

func TestEstimateDefaultsTargetToSpot(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	e := newTestEngine(testProvider(expiration))

	res, err := e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: expiration,
		OptionType: marketdata.OptionTypeCall,
	})
	require.NoError(t, err)
	// Zero move leaves only the theta term: 5 - 0.05*30.
	assert.InDelta(t, 3.5, res.EstimatedPrice, 1e-9)
}

func TestEstimateDegradesToIntrinsic(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := testProvider(expiration)
	p.chainErr = marketdata.ErrDataUnavailable
	e := newTestEngine(p)

	res, err := e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:      "SPY",
		Strike:      100,
		Expiration:  expiration,
		OptionType:  marketdata.OptionTypeCall,
		TargetPrice: 104,
	})
	require.NoError(t, err)

	assert.False(t, res.DataAvailable)
	assert.Nil(t, res.Greeks)
	assert.InDelta(t, 4.0, res.EstimatedPrice, 1e-9)
	assert.NotEmpty(t, res.Warnings)
}

func TestEstimateInvalidRequest(t *testing.T) {
	e := newTestEngine(testProvider(testClock().AddDate(0, 0, 30)))

	_, err := e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:     "",
		Strike:     100,
		OptionType: marketdata.OptionTypeCall,
	})
	assert.Error(t, err)

	_, err = e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:     "SPY",
		Strike:     100,
		OptionType: "straddle",
	})
	assert.Error(t, err)
}

func TestEstimatePriceFailure(t *testing.T) {
	p := testProvider(testClock().AddDate(0, 0, 30))
	p.priceErr = errors.New("feed down")
	e := newTestEngine(p)

	_, err := e.EstimateOptionPrice(context.Background(), EstimateRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: testClock().AddDate(0, 0, 30),
		OptionType: marketdata.OptionTypeCall,
	})
	assert.ErrorContains(t, err, "current price")
}

func TestProjectThetaDecay(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	e := newTestEngine(testProvider(expiration))

	res, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: expiration,
		OptionType: marketdata.OptionTypeCall,
	})
	require.NoError(t, err)

	assert.False(t, res.Expired)
	assert.InDelta(t, -0.05, res.DailyTheta, 1e-9)
	assert.InDelta(t, 5.0, res.CurrentOptionPrice, 1e-9)

	require.NotNil(t, res.Projection)
	// 30 DTE picks 2-day intervals, capped at the default interval bound.
	assert.Equal(t, 2, res.Projection.IntervalDays)
	require.Len(t, res.Projection.Intervals, defaultMaxDecayIntervals)
	assert.InDelta(t, 4.90, res.Projection.Intervals[0].ProjectedPrice, 1e-9)

	prev := res.CurrentOptionPrice
	for _, iv := range res.Projection.Intervals {
		assert.LessOrEqual(t, iv.ProjectedPrice, prev)
		prev = iv.ProjectedPrice
	}
}

func TestProjectThetaDecayCustomIntervals(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	e := newTestEngine(testProvider(expiration))

	res, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:       "SPY",
		Strike:       100,
		Expiration:   expiration,
		OptionType:   marketdata.OptionTypeCall,
		IntervalDays: 1,
		MaxIntervals: 3,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Projection)
	assert.Equal(t, 1, res.Projection.IntervalDays)
	assert.Len(t, res.Projection.Intervals, 3)
}

func TestProjectThetaDecayConfiguredBound(t *testing.T) {
	// The configured interval bound applies when the request does not set
	// its own.
	expiration := testClock().AddDate(0, 0, 30)
	e := New(testProvider(expiration), nil, Config{DecayMaxIntervals: 5})
	e.now = testClock

	res, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:       "SPY",
		Strike:       100,
		Expiration:   expiration,
		OptionType:   marketdata.OptionTypeCall,
		IntervalDays: 1,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Projection)
	assert.Len(t, res.Projection.Intervals, 5)
}

func TestProjectThetaDecayExpired(t *testing.T) {
	expiration := testClock()
	e := newTestEngine(testProvider(expiration))

	res, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: expiration,
		OptionType: marketdata.OptionTypeCall,
	})
	require.NoError(t, err)

	assert.True(t, res.Expired)
	assert.Nil(t, res.Projection)
	assert.NotEmpty(t, res.Warnings)
}

func TestProjectThetaDecayNoGreeks(t *testing.T) {
	expiration := testClock().AddDate(0, 0, 30)
	p := testProvider(expiration)
	p.chain[0].Greeks = nil // no broker greeks and no IV either
	e := newTestEngine(p)

	_, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: expiration,
		OptionType: marketdata.OptionTypeCall,
	})
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)
}

func TestProjectThetaDecayInvalidExpiration(t *testing.T) {
	p := testProvider(testClock().AddDate(0, 0, 30))
	p.expirations = nil
	e := newTestEngine(p)

	_, err := e.ProjectThetaDecay(context.Background(), DecayRequest{
		Ticker:     "SPY",
		Strike:     100,
		Expiration: testClock().AddDate(0, 0, 30),
		OptionType: marketdata.OptionTypeCall,
	})
	assert.ErrorIs(t, err, marketdata.ErrInvalidExpiration)
}
