// Package config provides configuration management for the analytics engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when optional settings are unset.
const (
	// defaultProviderTimeout bounds a single market data call
	defaultProviderTimeout = "15s"
	// defaultATRWindow is the conventional 14-bar ATR window
	defaultATRWindow = 14
	// defaultDecayMaxIntervals bounds theta projection length
	defaultDecayMaxIntervals = 12
	// defaultServerPort is the JSON API listen port
	defaultServerPort = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Provider    ProviderConfig    `yaml:"provider"`
	Engine      EngineConfig      `yaml:"engine"`
	Server      ServerConfig      `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// ProviderConfig defines market data provider settings.
type ProviderConfig struct {
	Name       string `yaml:"name"` // tradier | mock
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Sandbox    bool   `yaml:"sandbox"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// EngineConfig defines analytics engine tunables.
type EngineConfig struct {
	ATRWindow         int `yaml:"atr_window"`
	DecayMaxIntervals int `yaml:"decay_max_intervals"`
}

// ServerConfig defines the JSON API server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "tradier"
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = defaultProviderTimeout
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 1
	}
	if c.Engine.ATRWindow == 0 {
		c.Engine.ATRWindow = defaultATRWindow
	}
	if c.Engine.DecayMaxIntervals == 0 {
		c.Engine.DecayMaxIntervals = defaultDecayMaxIntervals
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug, info, warn, or error")
	}

	switch c.Provider.Name {
	case "tradier":
		if !c.IsPaperTrading() && c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required in live mode")
		}
	case "mock":
	default:
		return fmt.Errorf("provider.name must be 'tradier' or 'mock'")
	}

	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		return fmt.Errorf("provider.timeout invalid: %w", err)
	}
	if c.Provider.MaxRetries < 0 || c.Provider.MaxRetries > 5 {
		return fmt.Errorf("provider.max_retries must be between 0 and 5")
	}

	if c.Engine.ATRWindow < 2 || c.Engine.ATRWindow > 100 {
		return fmt.Errorf("engine.atr_window must be between 2 and 100")
	}
	if c.Engine.DecayMaxIntervals < 1 || c.Engine.DecayMaxIntervals > 52 {
		return fmt.Errorf("engine.decay_max_intervals must be between 1 and 52")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port number")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper mode.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetProviderTimeout returns the configured provider call timeout.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil {
		return 15 * time.Second // default
	}
	return d
}
