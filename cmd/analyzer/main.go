// Command analyzer runs the option analytics engine: one-shot analysis of a
// contract from the command line, or -serve to expose the JSON API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rfinnegan/thetaguard/internal/config"
	"github.com/rfinnegan/thetaguard/internal/engine"
	"github.com/rfinnegan/thetaguard/internal/marketdata"
	"github.com/rfinnegan/thetaguard/internal/server"
	"github.com/rfinnegan/thetaguard/internal/stoploss"
)

func main() {
	var (
		configPath string
		ticker     string
		strike     float64
		expiration string
		optionType string
		target     float64
		serve      bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&ticker, "ticker", "", "Underlying ticker symbol")
	flag.Float64Var(&strike, "strike", 0, "Option strike price")
	flag.StringVar(&expiration, "expiration", "", "Expiration date (YYYY-MM-DD)")
	flag.StringVar(&optionType, "type", "call", "Option type: call or put")
	flag.Float64Var(&target, "target", 0, "Optional target underlying price for a price estimate")
	flag.BoolVar(&serve, "serve", false, "Run the JSON API server instead of a one-shot analysis")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.Infof("Starting analyzer in %s mode with %s provider", cfg.Environment.Mode, cfg.Provider.Name)

	provider := buildProvider(cfg, logger)
	eng := engine.New(provider, logger, engine.Config{
		ATRWindow:         cfg.Engine.ATRWindow,
		DecayMaxIntervals: cfg.Engine.DecayMaxIntervals,
	})

	if serve {
		runServer(cfg, eng, logger)
		return
	}

	if ticker == "" || strike <= 0 || expiration == "" {
		logger.Fatal("one-shot analysis requires -ticker, -strike, and -expiration")
	}
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		logger.Fatalf("Invalid expiration %q: %v", expiration, err)
	}

	runAnalysis(eng, logger, ticker, strike, expDate, marketdata.OptionType(optionType), target)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// buildProvider assembles the provider chain: concrete source, then retry,
// then circuit breaker. Paper mode always runs against the mock provider.
func buildProvider(cfg *config.Config, logger *logrus.Logger) marketdata.Provider {
	var base marketdata.Provider
	if cfg.IsPaperTrading() || cfg.Provider.Name == "mock" {
		logger.Info("Using mock market data provider")
		base = marketdata.NewMockProvider()
	} else {
		base = marketdata.NewTradierClient(cfg.Provider.APIKey, cfg.Provider.Sandbox, cfg.Provider.BaseURL)
	}

	retried := marketdata.NewRetryProvider(base, logger, marketdata.RetryConfig{
		MaxRetries:     cfg.Provider.MaxRetries,
		InitialBackoff: 500 * time.Millisecond,
		Timeout:        cfg.GetProviderTimeout(),
	})
	return marketdata.NewCircuitBreakerProvider(retried)
}

func runServer(cfg *config.Config, eng *engine.Engine, logger *logrus.Logger) {
	srv := server.NewServer(server.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, eng, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Info("Server stopped")
}

func runAnalysis(eng *engine.Engine, logger *logrus.Logger, ticker string, strike float64, expiration time.Time, optionType marketdata.OptionType, target float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := make(map[string]interface{})

	stops, err := eng.RecommendStopLoss(ctx, stoploss.Request{
		Ticker:     ticker,
		Strike:     strike,
		Expiration: expiration,
		OptionType: optionType,
	})
	if err != nil {
		logger.Fatalf("Stop-loss recommendation failed: %v", err)
	}
	out["stop_loss"] = stops

	decay, err := eng.ProjectThetaDecay(ctx, engine.DecayRequest{
		Ticker:     ticker,
		Strike:     strike,
		Expiration: expiration,
		OptionType: optionType,
	})
	if err != nil {
		logger.WithError(err).Warn("Theta decay projection unavailable")
	} else {
		out["theta_decay"] = decay
	}

	if target > 0 {
		estimate, err := eng.EstimateOptionPrice(ctx, engine.EstimateRequest{
			Ticker:      ticker,
			Strike:      strike,
			Expiration:  expiration,
			OptionType:  optionType,
			TargetPrice: target,
		})
		if err != nil {
			logger.WithError(err).Warn("Price estimate unavailable")
		} else {
			out["estimate"] = estimate
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		os.Exit(1)
	}
}
