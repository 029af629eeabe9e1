// Package config loads and validates the trader configuration file.
// Defaults are applied first, so a minimal file only needs a watchlist.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/guard"
	"cfd-trader/internal/sentiment"
)

// ErrInvalid marks a configuration that fails validation. A bad config is
// fatal before any pipeline work starts.
var ErrInvalid = errors.New("invalid configuration")

// Ledger backends.
const (
	BackendCSV        = "csv"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendMemory     = "memory"
)

// WatchItem is one instrument to evaluate per run.
type WatchItem struct {
	Name       string  `yaml:"name"`
	Epic       string  `yaml:"epic"`
	StopPoints float64 `yaml:"stop_points"`
}

// DisplayName returns the instrument name, falling back to the epic.
func (w WatchItem) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.Epic
}

// SignalThresholds are the RSI bounds the signal rule confirms against.
type SignalThresholds struct {
	RSIBuyMin  float64 `yaml:"rsi_buy_min"`
	RSISellMax float64 `yaml:"rsi_sell_max"`
}

// LedgerConfig selects the ledger backend. The CSV file is the default
// system of record; postgres and clickhouse serve shared or analytical
// deployments, memory is for tests.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // csv backend
	DSN     string `yaml:"dsn"`  // postgres / clickhouse backends
}

// Config is the full trader configuration.
type Config struct {
	Resolution    string               `yaml:"resolution"`
	MaxCandles    int                  `yaml:"max_candles"`
	RiskReward    float64              `yaml:"risk_reward"`
	RiskPerTrade  float64              `yaml:"risk_per_trade"`
	WarmupBars    int                  `yaml:"warmup_bars"`
	MinSignalConf SignalThresholds     `yaml:"min_signal_conf"`
	Watchlist     []WatchItem          `yaml:"watchlist"`
	Sentiment     sentiment.GateConfig `yaml:"sentiment"`
	RiskGuards    guard.Config         `yaml:"risk_guards"`
	Ledger        LedgerConfig         `yaml:"ledger"`
}

// Default returns the configuration used when keys are absent.
func Default() Config {
	cfg := Config{
		Resolution:   domain.ResolutionMinute5,
		MaxCandles:   150,
		RiskReward:   2.0,
		RiskPerTrade: 25,
		WarmupBars:   20,
		MinSignalConf: SignalThresholds{
			RSIBuyMin:  55,
			RSISellMax: 45,
		},
		Sentiment: sentiment.DefaultGateConfig(),
		Ledger: LedgerConfig{
			Backend: BackendCSV,
			Path:    "logs/trade_log.csv",
		},
	}
	cfg.RiskGuards.CountDryAsTrade = true
	return cfg
}

// Load reads, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants Load relies on.
func (c *Config) Validate() error {
	if c.RiskPerTrade <= 0 {
		return fmt.Errorf("%w: risk_per_trade must be positive, got %v", ErrInvalid, c.RiskPerTrade)
	}
	if c.RiskReward <= 0 {
		return fmt.Errorf("%w: risk_reward must be positive, got %v", ErrInvalid, c.RiskReward)
	}
	if c.MaxCandles <= 0 {
		return fmt.Errorf("%w: max_candles must be positive, got %d", ErrInvalid, c.MaxCandles)
	}
	if c.WarmupBars < 0 {
		return fmt.Errorf("%w: warmup_bars must not be negative, got %d", ErrInvalid, c.WarmupBars)
	}

	for i, item := range c.Watchlist {
		if item.Epic == "" {
			return fmt.Errorf("%w: watchlist[%d] has no epic", ErrInvalid, i)
		}
		if item.StopPoints <= 0 {
			return fmt.Errorf("%w: watchlist[%d] (%s) stop_points must be positive", ErrInvalid, i, item.DisplayName())
		}
	}

	if err := c.RiskGuards.TradingHours.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch c.Ledger.Backend {
	case BackendCSV:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.path required for csv backend", ErrInvalid)
		}
	case BackendPostgres, BackendClickHouse:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("%w: ledger.dsn required for %s backend", ErrInvalid, c.Ledger.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalid, c.Ledger.Backend)
	}

	return nil
}
