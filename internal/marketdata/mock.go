package marketdata

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"
)

// MockProvider is a synthetic market data source for tests and offline
// (paper) runs. Price action is a gentle random walk around a base price so
// indicator code sees realistic-looking bars. Safe for concurrent use: in
// serve mode one instance is shared across requests.
type MockProvider struct {
	ticker string
	now    func() time.Time

	mu           sync.Mutex
	currentPrice float64
	midIV        float64
}

// Compile-time interface compliance check.
var _ Provider = (*MockProvider)(nil)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1.
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1.
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

// NewMockProvider creates a mock provider around a base price of ~450.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		currentPrice: 450.0 + secureFloat64()*10,
		midIV:        0.12 + secureFloat64()*0.18, // 12-30% annualized
		now:          time.Now,
	}
}

// NewMockProviderAt creates a mock provider pinned to a base price and IV,
// for deterministic tests.
func NewMockProviderAt(price, iv float64) *MockProvider {
	return &MockProvider{currentPrice: price, midIV: iv, now: time.Now}
}

// GetCurrentPrice returns the simulated spot price with small random drift.
func (m *MockProvider) GetCurrentPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPrice += (secureFloat64() - 0.5) * 2
	return m.currentPrice, nil
}

// snapshot reads the drifting state once so a generation pass sees a
// consistent spot/IV pair.
func (m *MockProvider) snapshot() (spot, iv float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPrice, m.midIV
}

// GetExpirations returns weekly Friday expirations for the next six months.
func (m *MockProvider) GetExpirations(_ context.Context, _ string) ([]time.Time, error) {
	var dates []time.Time
	d := m.now().UTC().Truncate(24 * time.Hour)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	for i := 0; i < 26; i++ {
		dates = append(dates, d)
		d = d.AddDate(0, 0, 7)
	}
	return dates, nil
}

// GetOptionChain generates strikes around the current price with
// approximately consistent deltas and mid-IV.
func (m *MockProvider) GetOptionChain(_ context.Context, ticker string, expiration time.Time, optionType OptionType) ([]OptionQuote, error) {
	dte := DaysToExpiration(expiration, m.now())
	if dte < 0 {
		dte = 0
	}
	spot, midIV := m.snapshot()

	var quotes []OptionQuote

	strikeInterval := 5.0
	startStrike := math.Floor(spot/strikeInterval)*strikeInterval - 50
	endStrike := startStrike + 100

	for strike := startStrike; strike <= endStrike; strike += strikeInterval {
		// Approximate delta from distance to spot
		distance := math.Abs(strike - spot)
		deltaDecay := math.Exp(-distance * 0.02)

		var delta float64
		if optionType == OptionTypePut {
			delta = -0.5 * deltaDecay
			if strike > spot {
				delta = -0.5 * (1 - deltaDecay)
			}
		} else {
			delta = 0.5 * deltaDecay
			if strike < spot {
				delta = 0.5 * (1 - deltaDecay)
			}
		}

		timeValue := math.Max(0, float64(dte)/365.0)
		price := math.Max(0.5, midIV*math.Sqrt(timeValue)*spot*0.01*math.Abs(delta)*100)

		iv := midIV
		quotes = append(quotes, OptionQuote{
			Ticker:            ticker,
			Strike:            strike,
			OptionType:        optionType,
			Expiration:        expiration,
			Last:              price,
			Bid:               price - 0.05,
			Ask:               price + 0.05,
			ImpliedVolatility: &iv,
			Volume:            secureInt63n(10000),
			OpenInterest:      secureInt63n(50000),
			Greeks: &BrokerGreeks{
				Delta: delta,
				Gamma: 0.02 * deltaDecay,
				Theta: -0.05 * midIV * price,
				Vega:  0.10 * midIV * spot * 0.01,
				MidIV: midIV,
			},
		})
	}

	return quotes, nil
}

// GetPriceHistory generates a random walk of OHLCV bars ending at the
// current price, spaced according to the requested interval.
func (m *MockProvider) GetPriceHistory(_ context.Context, _ string, interval Interval, periodDays int) ([]PriceBar, error) {
	step := barStep(interval)
	count := int(float64(periodDays) * 24 * float64(time.Hour) / float64(step))
	if count < 20 {
		count = 20
	}
	if count > 500 {
		count = 500
	}

	spot, _ := m.snapshot()
	bars := make([]PriceBar, 0, count)
	ts := m.now().Add(-time.Duration(count) * step)

	// Walk backwards-consistent: end the series at the current price
	price := spot * (1 - 0.002*float64(count)*0.1)
	for i := 0; i < count; i++ {
		drift := (secureFloat64() - 0.48) * price * 0.004
		open := price
		close := price + drift
		high := math.Max(open, close) + secureFloat64()*price*0.002
		low := math.Min(open, close) - secureFloat64()*price*0.002
		bars = append(bars, PriceBar{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1_000_000 + secureInt63n(4_000_000),
		})
		price = close
		ts = ts.Add(step)
	}
	// Anchor the final close at the advertised current price
	bars[len(bars)-1].Close = spot
	if bars[len(bars)-1].High < spot {
		bars[len(bars)-1].High = spot
	}
	if bars[len(bars)-1].Low > spot {
		bars[len(bars)-1].Low = spot
	}
	return bars, nil
}

func barStep(interval Interval) time.Duration {
	switch interval {
	case Interval5Min:
		return 5 * time.Minute
	case Interval15Min:
		return 15 * time.Minute
	case Interval1Hour:
		return time.Hour
	case Interval4Hour:
		return 4 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
