// Package sentiment scores the short-term bias of an instrument's price
// action through an external model. The gate sits between the technical
// signal and sizing: an actionable signal proceeds only when the oracle
// answers with enough confidence.
package sentiment

import (
	"context"

	"cfd-trader/internal/domain"
)

// Request carries the indicator facts the oracle is asked to rate.
// SMA20 and RSI14 may be nil during warmup; they are passed through as
// nulls rather than zeros.
type Request struct {
	Instrument string   `json:"instrument"`
	Close      float64  `json:"close"`
	SMA20      *float64 `json:"sma20"`
	RSI14      *float64 `json:"rsi14"`
}

// Oracle rates price action. Any error means the answer is unavailable;
// the caller blocks the trade rather than proceed unchecked.
type Oracle interface {
	Score(ctx context.Context, req Request) (*domain.SentimentResult, error)
}

// GateConfig controls the sentiment gate.
type GateConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Model        string  `yaml:"model"`
	MinScore     float64 `yaml:"min_score"`
	TimeoutS     int     `yaml:"timeout_s"`
	ExplainInLog bool    `yaml:"explain_in_log"`
}

// DefaultGateConfig mirrors the config-file defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Model:        "gpt-4o-mini",
		MinScore:     0.15,
		TimeoutS:     20,
		ExplainInLog: true,
	}
}

// Pass reports whether a score clears the gate threshold.
func (c GateConfig) Pass(score float64) bool {
	return score >= c.MinScore
}
