// Package engine exposes the analytics entry points consumed by the
// presentation layer: stop-loss recommendation, option price estimation, and
// theta-decay projection. It owns the market-data plumbing those operations
// share (expiration resolution, quote lookup, Greeks computation).
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rfinnegan/thetaguard/internal/greeks"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
	"github.com/rfinnegan/thetaguard/internal/stoploss"
	"github.com/rfinnegan/thetaguard/internal/theta"
)

// defaultMaxDecayIntervals bounds a decay projection's length.
const defaultMaxDecayIntervals = 12

// Config carries the engine tunables. Zero values fall back to the
// package defaults.
type Config struct {
	// ATRWindow overrides the per-horizon ATR window of the stop-loss
	// recommender when positive.
	ATRWindow int
	// DecayMaxIntervals bounds decay projections when the request does not
	// set its own bound.
	DecayMaxIntervals int
}

// Engine wires the analytics components to a market data provider.
type Engine struct {
	provider          marketdata.Provider
	recommender       *stoploss.Recommender
	logger            *logrus.Logger
	maxDecayIntervals int
	now               func() time.Time
}

// New creates an Engine. A nil logger discards diagnostics.
func New(provider marketdata.Provider, logger *logrus.Logger, config ...Config) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discard{})
	}
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	maxDecayIntervals := cfg.DecayMaxIntervals
	if maxDecayIntervals <= 0 {
		maxDecayIntervals = defaultMaxDecayIntervals
	}
	return &Engine{
		provider:          provider,
		recommender:       stoploss.NewRecommender(provider, logger, stoploss.RecommenderConfig{ATRWindow: cfg.ATRWindow}),
		logger:            logger,
		maxDecayIntervals: maxDecayIntervals,
		now:               time.Now,
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// RecommendStopLoss computes multi-horizon stop-loss recommendations for an
// open option position.
func (e *Engine) RecommendStopLoss(ctx context.Context, req stoploss.Request) (*stoploss.Result, error) {
	return e.recommender.Recommend(ctx, req)
}

// EstimateRequest asks what an option would be worth if the underlying
// reached TargetPrice.
type EstimateRequest struct {
	Ticker      string
	Strike      float64
	Expiration  time.Time
	OptionType  marketdata.OptionType
	TargetPrice float64
}

// EstimateResult is a scenario price estimate. DataAvailable is false when
// Greeks could not be resolved and the estimate degraded to intrinsic value.
type EstimateResult struct {
	EstimatedPrice     float64        `json:"estimated_price"`
	CurrentPrice       float64        `json:"current_price"`
	CurrentOptionPrice float64        `json:"current_option_price"`
	Greeks             *greeks.Greeks `json:"greeks,omitempty"`
	DataAvailable      bool           `json:"data_available"`
	DTE                int            `json:"dte"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// EstimateOptionPrice estimates the option price at a target underlying
// price using the delta+gamma+theta local approximation, degrading to
// intrinsic value when Greeks are unavailable.
func (e *Engine) EstimateOptionPrice(ctx context.Context, req EstimateRequest) (*EstimateResult, error) {
	if req.Ticker == "" || req.Strike <= 0 || !req.OptionType.Valid() {
		return nil, fmt.Errorf("invalid estimate request: ticker=%q strike=%.2f type=%q", req.Ticker, req.Strike, req.OptionType)
	}

	currentPrice, err := e.provider.GetCurrentPrice(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("current price for %s: %w", req.Ticker, err)
	}
	if req.TargetPrice <= 0 {
		req.TargetPrice = currentPrice
	}

	res := &EstimateResult{CurrentPrice: currentPrice}

	contract, warnings := e.lookupContract(ctx, req.Ticker, req.Strike, req.Expiration, req.OptionType, currentPrice)
	res.Warnings = warnings
	if contract.err != nil {
		return nil, contract.err
	}
	res.DTE = contract.dte
	res.Greeks = contract.greeks
	res.DataAvailable = contract.greeks != nil
	res.CurrentOptionPrice = contract.optionPrice

	res.EstimatedPrice = greeks.EstimateOptionPrice(greeks.EstimateParams{
		CurrentPrice:     currentPrice,
		TargetPrice:      req.TargetPrice,
		Strike:           req.Strike,
		Greeks:           contract.greeks,
		DaysToExpiration: float64(contract.dte),
		OptionType:       req.OptionType,
	})
	return res, nil
}

// DecayRequest asks for a theta-decay projection of an option position.
type DecayRequest struct {
	Ticker       string
	Strike       float64
	Expiration   time.Time
	OptionType   marketdata.OptionType
	IntervalDays int // 0 picks a granularity from DTE
	MaxIntervals int // 0 uses the default bound
}

// DecayResult carries a projection, or an expired-contract warning when no
// projection is possible.
type DecayResult struct {
	Projection         *theta.Projection `json:"projection,omitempty"`
	CurrentOptionPrice float64           `json:"current_option_price"`
	DailyTheta         float64           `json:"daily_theta"`
	Expired            bool              `json:"expired"`
	Warnings           []string          `json:"warnings,omitempty"`
}

// ProjectThetaDecay projects interval-by-interval price decay until
// expiration. An expired contract yields an explicit Expired result rather
// than an error: the caller renders the warning, it is not a system failure.
func (e *Engine) ProjectThetaDecay(ctx context.Context, req DecayRequest) (*DecayResult, error) {
	if req.Ticker == "" || req.Strike <= 0 || !req.OptionType.Valid() {
		return nil, fmt.Errorf("invalid decay request: ticker=%q strike=%.2f type=%q", req.Ticker, req.Strike, req.OptionType)
	}

	currentPrice, err := e.provider.GetCurrentPrice(ctx, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("current price for %s: %w", req.Ticker, err)
	}

	contract, warnings := e.lookupContract(ctx, req.Ticker, req.Strike, req.Expiration, req.OptionType, currentPrice)
	if contract.err != nil {
		return nil, contract.err
	}
	res := &DecayResult{
		CurrentOptionPrice: contract.optionPrice,
		Warnings:           warnings,
	}
	if contract.greeks == nil {
		// No theta means no decay model; surfacing a fabricated projection
		// would be worse than saying so.
		return nil, fmt.Errorf("theta for %s %.2f %s: %w", req.Ticker, req.Strike, req.OptionType, marketdata.ErrDataUnavailable)
	}
	res.DailyTheta = contract.greeks.Theta

	intervalDays := req.IntervalDays
	if intervalDays <= 0 {
		intervalDays = theta.IntervalDaysForDTE(contract.dte)
	}
	maxIntervals := req.MaxIntervals
	if maxIntervals <= 0 {
		maxIntervals = e.maxDecayIntervals
	}

	proj, err := theta.Project(contract.optionPrice, contract.greeks.Theta, contract.expiration, maxIntervals, intervalDays, e.now())
	if err != nil {
		if errors.Is(err, theta.ErrExpired) {
			res.Expired = true
			res.Warnings = append(res.Warnings, "contract expires today or has already expired; no decay to project")
			return res, nil
		}
		return nil, err
	}
	res.Projection = &proj
	return res, nil
}

// contractInfo is the shared outcome of resolving one option contract.
type contractInfo struct {
	expiration  time.Time
	dte         int
	greeks      *greeks.Greeks
	optionPrice float64
	err         error
}

// lookupContract resolves the expiration, finds the contract in the chain,
// and computes its Greeks. Missing chain/Greeks data degrades with warnings;
// an unresolvable ticker or expiration is fatal.
func (e *Engine) lookupContract(ctx context.Context, ticker string, strike float64, expiration time.Time, optionType marketdata.OptionType, currentPrice float64) (contractInfo, []string) {
	var warnings []string

	resolved, err := marketdata.ResolveExpiration(ctx, e.provider, ticker, expiration)
	switch {
	case errors.Is(err, marketdata.ErrInvalidExpiration):
		return contractInfo{err: err}, warnings
	case err != nil:
		warnings = append(warnings, fmt.Sprintf("could not verify expiration %s against listed dates", expiration.Format("2006-01-02")))
	default:
		expiration = resolved.Date
		if resolved.Adjusted {
			warnings = append(warnings, resolved.Warning)
		}
	}

	info := contractInfo{
		expiration: expiration,
		dte:        marketdata.DaysToExpiration(expiration, e.now()),
	}

	chain, err := e.provider.GetOptionChain(ctx, ticker, expiration, optionType)
	if err != nil {
		e.logger.WithError(err).Warn("option chain unavailable")
		warnings = append(warnings, "option chain unavailable; using intrinsic value")
		info.optionPrice = greeks.IntrinsicValue(currentPrice, strike, optionType)
		return info, warnings
	}

	quote := marketdata.FindQuoteByStrike(chain, strike)
	if quote == nil {
		warnings = append(warnings, fmt.Sprintf("strike %.2f not listed; using intrinsic value", strike))
		info.optionPrice = greeks.IntrinsicValue(currentPrice, strike, optionType)
		return info, warnings
	}
	info.optionPrice = quote.MidPrice()

	g, err := greeks.Compute(quote, currentPrice, e.now())
	if err != nil {
		e.logger.WithError(err).Warn("greeks unavailable")
		warnings = append(warnings, "greeks unavailable for this contract")
		return info, warnings
	}
	info.greeks = &g
	return info, warnings
}
