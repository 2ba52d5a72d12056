package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const expirationDateLayout = "2006-01-02"

// APIError represents a provider API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierClient implements Provider on top of the Tradier market data API.
type TradierClient struct {
	client  *http.Client
	apiKey  string
	baseURL string
	sandbox bool
}

// Compile-time interface compliance check.
var _ Provider = (*TradierClient)(nil)

// NewTradierClient creates a Tradier-backed provider. baseURL overrides the
// default endpoint when non-empty (tests, proxies).
func NewTradierClient(apiKey string, sandbox bool, baseURL string) *TradierClient {
	if baseURL == "" {
		if sandbox {
			baseURL = "https://sandbox.tradier.com/v1"
		} else {
			baseURL = "https://api.tradier.com/v1"
		}
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &TradierClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		apiKey:  apiKey,
		baseURL: baseURL,
		sandbox: sandbox,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradierClient) WithHTTPClient(c *http.Client) *TradierClient {
	if c != nil {
		t.client = c
	}
	return t
}

// singleOrArray handles single-object vs array responses from Tradier.
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

type quotesResponse struct {
	Quotes struct {
		Quote singleOrArray[quoteItem] `json:"quote"`
	} `json:"quotes"`
}

type quoteItem struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type expirationsResponse struct {
	Expirations struct {
		Date []string `json:"date"`
	} `json:"expirations"`
}

type chainResponse struct {
	Options struct {
		Option singleOrArray[chainOption] `json:"option"`
	} `json:"options"`
}

type chainOption struct {
	Symbol         string        `json:"symbol"`
	OptionType     string        `json:"option_type"`
	ExpirationDate string        `json:"expiration_date"`
	Strike         float64       `json:"strike"`
	Bid            float64       `json:"bid"`
	Ask            float64       `json:"ask"`
	Last           float64       `json:"last"`
	Volume         int64         `json:"volume"`
	OpenInterest   int64         `json:"open_interest"`
	Greeks         *tradierGreek `json:"greeks,omitempty"`
}

type tradierGreek struct {
	Delta  float64 `json:"delta"`
	Gamma  float64 `json:"gamma"`
	Theta  float64 `json:"theta"`
	Vega   float64 `json:"vega"`
	BidIV  float64 `json:"bid_iv"`
	MidIV  float64 `json:"mid_iv"`
	AskIV  float64 `json:"ask_iv"`
	SmvVol float64 `json:"smv_vol"`
}

type historyResponse struct {
	History struct {
		Day []struct {
			Date   string  `json:"date"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume int64   `json:"volume"`
		} `json:"day"`
	} `json:"history"`
}

type timesalesResponse struct {
	Series struct {
		Data singleOrArray[timesalesBar] `json:"data"`
	} `json:"series"`
}

type timesalesBar struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// GetCurrentPrice retrieves the last traded price for a symbol.
func (t *TradierClient) GetCurrentPrice(ctx context.Context, ticker string) (float64, error) {
	params := url.Values{}
	params.Set("symbols", ticker)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response quotesResponse
	if err := t.makeRequest(ctx, endpoint, &response); err != nil {
		return 0, err
	}

	quotes := response.Quotes.Quote
	if len(quotes) == 0 || quotes[0].Last <= 0 {
		return 0, fmt.Errorf("%w: no quote for %s", ErrDataUnavailable, ticker)
	}
	return quotes[0].Last, nil
}

// GetExpirations retrieves available option expiration dates for a symbol,
// sorted ascending.
func (t *TradierClient) GetExpirations(ctx context.Context, ticker string) ([]time.Time, error) {
	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("includeAllRoots", "true")
	params.Set("strikes", "false")
	endpoint := t.baseURL + "/markets/options/expirations?" + params.Encode()

	var response expirationsResponse
	if err := t.makeRequest(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, len(response.Expirations.Date))
	for _, d := range response.Expirations.Date {
		parsed, err := time.Parse(expirationDateLayout, d)
		if err != nil {
			log.Printf("Skipping unparseable expiration %q for %s: %v", d, ticker, err)
			continue
		}
		dates = append(dates, parsed)
	}
	return dates, nil
}

// GetOptionChain retrieves the option chain for a symbol and expiration,
// filtered to the requested option type. Greeks are always requested so the
// engine can prefer broker-reported values over model output.
func (t *TradierClient) GetOptionChain(ctx context.Context, ticker string, expiration time.Time, optionType OptionType) ([]OptionQuote, error) {
	if !optionType.Valid() {
		return nil, fmt.Errorf("invalid option type: %q", optionType)
	}

	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("expiration", expiration.Format(expirationDateLayout))
	params.Set("greeks", "true")
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response chainResponse
	if err := t.makeRequest(ctx, endpoint, &response); err != nil {
		return nil, err
	}

	quotes := make([]OptionQuote, 0, len(response.Options.Option))
	for _, opt := range response.Options.Option {
		if opt.OptionType != string(optionType) {
			continue
		}
		expDate, err := time.Parse(expirationDateLayout, opt.ExpirationDate)
		if err != nil {
			expDate = expiration
		}
		q := OptionQuote{
			Ticker:       ticker,
			Strike:       opt.Strike,
			OptionType:   optionType,
			Expiration:   expDate,
			Last:         opt.Last,
			Bid:          opt.Bid,
			Ask:          opt.Ask,
			Volume:       opt.Volume,
			OpenInterest: opt.OpenInterest,
		}
		if g := opt.Greeks; g != nil {
			q.Greeks = &BrokerGreeks{
				Delta: g.Delta,
				Gamma: g.Gamma,
				Theta: g.Theta,
				Vega:  g.Vega,
				MidIV: g.MidIV,
			}
			if g.MidIV > 0 {
				iv := g.MidIV
				q.ImpliedVolatility = &iv
			} else if g.SmvVol > 0 {
				iv := g.SmvVol
				q.ImpliedVolatility = &iv
			}
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: empty %s chain for %s %s",
			ErrDataUnavailable, optionType, ticker, expiration.Format(expirationDateLayout))
	}
	return quotes, nil
}

// GetPriceHistory retrieves OHLCV bars for a symbol over the trailing
// periodDays. Daily and weekly intervals use the history endpoint; intraday
// intervals use timesales. Bars are returned in ascending time order.
func (t *TradierClient) GetPriceHistory(ctx context.Context, ticker string, interval Interval, periodDays int) ([]PriceBar, error) {
	if periodDays <= 0 {
		periodDays = 1
	}
	end := time.Now()
	start := end.AddDate(0, 0, -periodDays)

	if interval.Intraday() {
		return t.getTimesales(ctx, ticker, interval, start, end)
	}
	return t.getHistory(ctx, ticker, interval, start, end)
}

func (t *TradierClient) getHistory(ctx context.Context, ticker string, interval Interval, start, end time.Time) ([]PriceBar, error) {
	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("interval", string(interval))
	params.Set("start", start.Format(expirationDateLayout))
	params.Set("end", end.Format(expirationDateLayout))
	endpoint := t.baseURL + "/markets/history?" + params.Encode()

	var response historyResponse
	if err := t.makeRequest(ctx, endpoint, &response); err != nil {
		return nil, fmt.Errorf("history for %s: %w", ticker, err)
	}

	bars := make([]PriceBar, 0, len(response.History.Day))
	for _, day := range response.History.Day {
		date, err := time.Parse(expirationDateLayout, day.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing history date %q: %w", day.Date, err)
		}
		bars = append(bars, PriceBar{
			Timestamp: date,
			Open:      day.Open,
			High:      day.High,
			Low:       day.Low,
			Close:     day.Close,
			Volume:    day.Volume,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no %s history for %s", ErrDataUnavailable, interval, ticker)
	}
	return bars, nil
}

// timesalesInterval maps engine intervals onto the granularities the
// timesales endpoint actually supports. 1h and 4h bars are aggregated
// client-side from 15min data.
func timesalesInterval(interval Interval) (apiInterval string, aggregate int) {
	switch interval {
	case Interval5Min:
		return "5min", 1
	case Interval15Min:
		return "15min", 1
	case Interval1Hour:
		return "15min", 4
	case Interval4Hour:
		return "15min", 16
	}
	return "15min", 1
}

func (t *TradierClient) getTimesales(ctx context.Context, ticker string, interval Interval, start, end time.Time) ([]PriceBar, error) {
	apiInterval, aggregate := timesalesInterval(interval)

	params := url.Values{}
	params.Set("symbol", ticker)
	params.Set("interval", apiInterval)
	params.Set("start", start.Format("2006-01-02 15:04"))
	params.Set("end", end.Format("2006-01-02 15:04"))
	params.Set("session_filter", "open")
	endpoint := t.baseURL + "/markets/timesales?" + params.Encode()

	var response timesalesResponse
	if err := t.makeRequest(ctx, endpoint, &response); err != nil {
		return nil, fmt.Errorf("timesales for %s: %w", ticker, err)
	}

	bars := make([]PriceBar, 0, len(response.Series.Data))
	for _, d := range response.Series.Data {
		ts, err := time.Parse("2006-01-02T15:04:05", d.Time)
		if err != nil {
			// Some responses carry a zone offset
			ts, err = time.Parse(time.RFC3339, d.Time)
			if err != nil {
				return nil, fmt.Errorf("parsing timesales timestamp %q: %w", d.Time, err)
			}
		}
		bars = append(bars, PriceBar{
			Timestamp: ts,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    d.Volume,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no %s timesales for %s", ErrDataUnavailable, interval, ticker)
	}
	if aggregate > 1 {
		bars = aggregateBars(bars, aggregate)
	}
	return bars, nil
}

// aggregateBars merges consecutive bars n-at-a-time into coarser bars.
// A trailing partial group still produces a bar so the latest price action
// is never dropped.
func aggregateBars(bars []PriceBar, n int) []PriceBar {
	if n <= 1 || len(bars) == 0 {
		return bars
	}
	out := make([]PriceBar, 0, (len(bars)+n-1)/n)
	for i := 0; i < len(bars); i += n {
		end := i + n
		if end > len(bars) {
			end = len(bars)
		}
		group := bars[i:end]
		merged := PriceBar{
			Timestamp: group[0].Timestamp,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, b := range group {
			if b.High > merged.High {
				merged.High = b.High
			}
			if b.Low < merged.Low {
				merged.Low = b.Low
			}
			merged.Volume += b.Volume
		}
		out = append(out, merged)
	}
	return out
}

func (t *TradierClient) makeRequest(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "thetaguard/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
