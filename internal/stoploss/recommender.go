package stoploss

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rfinnegan/thetaguard/internal/greeks"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
	"github.com/rfinnegan/thetaguard/internal/util"
)

// Request identifies the option position to recommend a stop for.
type Request struct {
	Ticker     string
	Strike     float64
	Expiration time.Time
	OptionType marketdata.OptionType
}

// Validate checks the request fields.
func (r *Request) Validate() error {
	if r.Ticker == "" {
		return errors.New("ticker is required")
	}
	if r.Strike <= 0 {
		return fmt.Errorf("strike must be positive, got %.2f", r.Strike)
	}
	if !r.OptionType.Valid() {
		return fmt.Errorf("option type must be call or put, got %q", r.OptionType)
	}
	if r.Expiration.IsZero() {
		return errors.New("expiration is required")
	}
	return nil
}

// Recommendation is a stop-loss level for one horizon, already clamped by
// the buffer policy and converted to an option price.
type Recommendation struct {
	ID                  string  `json:"id"`
	Horizon             Horizon `json:"horizon"`
	Level               float64 `json:"level"`
	Basis               Basis   `json:"basis"`
	OptionStopPrice     float64 `json:"option_stop_price"`
	PercentLoss         float64 `json:"percent_loss"`
	RequiresCandleClose bool    `json:"requires_candle_close"`
}

// Result is the full multi-horizon recommendation. Primary is always present
// by construction and matches ByHorizon[TradeHorizon].
type Result struct {
	ByHorizon          map[Horizon]Recommendation `json:"by_horizon"`
	Primary            Recommendation             `json:"primary"`
	TradeHorizon       Horizon                    `json:"trade_horizon"`
	CurrentPrice       float64                    `json:"current_price"`
	CurrentOptionPrice float64                    `json:"current_option_price"`
	Expiration         time.Time                  `json:"expiration"`
	DTE                int                        `json:"dte"`
	Warnings           []string                   `json:"warnings,omitempty"`
}

// RecommenderConfig carries tunables for a Recommender. Zero values keep the
// per-horizon defaults.
type RecommenderConfig struct {
	// ATRWindow overrides the per-horizon ATR window when positive.
	ATRWindow int
}

// Recommender computes stop-loss recommendations from live market data.
type Recommender struct {
	provider  marketdata.Provider
	logger    *logrus.Logger
	atrWindow int
	now       func() time.Time
}

// NewRecommender creates a Recommender. A nil logger discards diagnostics.
func NewRecommender(provider marketdata.Provider, logger *logrus.Logger, config ...RecommenderConfig) *Recommender {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discardWriter{})
	}
	var cfg RecommenderConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Recommender{
		provider:  provider,
		logger:    logger,
		atrWindow: cfg.ATRWindow,
		now:       time.Now,
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Recommend computes a stop-loss recommendation per horizon plus a primary
// pick matching the DTE-derived trade horizon. Market data failures for a
// single horizon degrade that horizon to a fixed-percentage fallback; the
// call only fails outright when no current price can be resolved at all or
// the ticker has no listed options.
func (r *Recommender) Recommend(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	currentPrice, err := r.provider.GetCurrentPrice(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("current price for %s: %w", req.Ticker, err)
	}

	result := &Result{ByHorizon: make(map[Horizon]Recommendation)}
	result.CurrentPrice = currentPrice

	expiration := req.Expiration
	resolved, err := marketdata.ResolveExpiration(ctx, r.provider, req.Ticker, req.Expiration)
	switch {
	case errors.Is(err, marketdata.ErrInvalidExpiration):
		return nil, err
	case err != nil:
		r.logger.WithError(err).Warn("expiration resolution failed, using requested date")
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("could not verify expiration %s against listed dates", req.Expiration.Format("2006-01-02")))
	default:
		expiration = resolved.Date
		if resolved.Adjusted {
			result.Warnings = append(result.Warnings, resolved.Warning)
		}
	}
	result.Expiration = expiration

	now := r.now()
	dte := marketdata.DaysToExpiration(expiration, now)
	if dte < 0 {
		return nil, fmt.Errorf("%s expired %d days ago", expiration.Format("2006-01-02"), -dte)
	}
	result.DTE = dte
	result.TradeHorizon = HorizonForDTE(dte)

	g, currentOptionPrice := r.resolveGreeks(ctx, req, expiration, currentPrice, now, result)
	result.CurrentOptionPrice = currentOptionPrice

	barsByHorizon := r.fetchHorizonBars(ctx, req.Ticker)

	for _, h := range AllHorizons {
		bars := barsByHorizon[h]
		if len(bars) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no %s price history for %s; using percentage fallback", horizonSpecs[h].Interval, req.Ticker))
		}
		rec := r.buildRecommendation(h, bars, currentPrice, currentOptionPrice, g, req, dte)
		result.ByHorizon[h] = rec
	}

	result.Primary = result.ByHorizon[result.TradeHorizon]

	r.logger.WithFields(logrus.Fields{
		"ticker":  req.Ticker,
		"horizon": result.TradeHorizon,
		"level":   result.Primary.Level,
		"basis":   result.Primary.Basis,
	}).Info("stop-loss recommendation computed")

	return result, nil
}

// resolveGreeks looks up the contract's quote and computes Greeks. Missing
// data degrades to intrinsic-value pricing with a warning instead of
// fabricated Greeks.
func (r *Recommender) resolveGreeks(ctx context.Context, req Request, expiration time.Time, currentPrice float64, now time.Time, result *Result) (*greeks.Greeks, float64) {
	chain, err := r.provider.GetOptionChain(ctx, req.Ticker, expiration, req.OptionType)
	if err != nil {
		r.logger.WithError(err).Warn("option chain unavailable")
		result.Warnings = append(result.Warnings,
			"option chain unavailable; stop prices use intrinsic value only")
		return nil, greeks.IntrinsicValue(currentPrice, req.Strike, req.OptionType)
	}

	quote := marketdata.FindQuoteByStrike(chain, req.Strike)
	if quote == nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("strike %.2f not found in %s chain; stop prices use intrinsic value only", req.Strike, req.Ticker))
		return nil, greeks.IntrinsicValue(currentPrice, req.Strike, req.OptionType)
	}

	g, err := greeks.Compute(quote, currentPrice, now)
	if err != nil {
		r.logger.WithError(err).Warn("greeks unavailable")
		result.Warnings = append(result.Warnings,
			"greeks unavailable; stop prices use intrinsic value only")
		return nil, quote.MidPrice()
	}
	return &g, quote.MidPrice()
}

// fetchHorizonBars retrieves each horizon's bar series concurrently. A
// failed fetch leaves a nil entry so only that horizon degrades.
func (r *Recommender) fetchHorizonBars(ctx context.Context, ticker string) map[Horizon][]marketdata.PriceBar {
	type fetched struct {
		horizon Horizon
		bars    []marketdata.PriceBar
	}

	results := make(chan fetched, len(AllHorizons))
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range AllHorizons {
		h := h
		spec := horizonSpecs[h]
		g.Go(func() error {
			bars, err := r.provider.GetPriceHistory(gctx, ticker, spec.Interval, spec.PeriodDays)
			if err != nil {
				r.logger.WithError(err).WithField("interval", spec.Interval).
					Warn("price history fetch failed")
				results <- fetched{horizon: h}
				return nil
			}
			results <- fetched{horizon: h, bars: bars}
			return nil
		})
	}
	// Error returns are swallowed above; Wait only orders the channel close.
	_ = g.Wait()
	close(results)

	out := make(map[Horizon][]marketdata.PriceBar, len(AllHorizons))
	for f := range results {
		out[f.horizon] = f.bars
	}
	return out
}

// buildRecommendation runs the horizon's strategy chain, clamps the result,
// and converts the stock-level stop to an option price.
func (r *Recommender) buildRecommendation(h Horizon, bars []marketdata.PriceBar, currentPrice, currentOptionPrice float64, g *greeks.Greeks, req Request, dte int) Recommendation {
	c := firstCandidate(chainForHorizon(h, bars, currentPrice, req.OptionType, dte, r.atrWindow))

	level, capped := EnforceBufferLimit(c.level, currentPrice, req.OptionType, dte)
	basis := c.basis
	if capped && basis != BasisFallback {
		basis = BasisBufferCapped
	}

	// Pure delta+gamma conversion: a stop can trigger at any time, so no
	// theta decay is baked into the stop price.
	optionStop := util.RoundToTick(greeks.EstimateOptionPrice(greeks.EstimateParams{
		CurrentPrice:     currentPrice,
		TargetPrice:      level,
		Strike:           req.Strike,
		Greeks:           g,
		DaysToExpiration: 0,
		OptionType:       req.OptionType,
	}), 0.01)

	percentLoss := util.PercentChange(currentOptionPrice, optionStop)

	return Recommendation{
		ID:                  uuid.NewString(),
		Horizon:             h,
		Level:               level,
		Basis:               basis,
		OptionStopPrice:     optionStop,
		PercentLoss:         percentLoss,
		RequiresCandleClose: c.requiresCandleClose,
	}
}
