package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  - name: FTSE 100
    epic: IX.D.FTSE.CFD.IP
    stop_points: 60
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "MINUTE_5", cfg.Resolution)
	assert.Equal(t, 150, cfg.MaxCandles)
	assert.Equal(t, 2.0, cfg.RiskReward)
	assert.Equal(t, 25.0, cfg.RiskPerTrade)
	assert.Equal(t, 20, cfg.WarmupBars)
	assert.Equal(t, 55.0, cfg.MinSignalConf.RSIBuyMin)
	assert.Equal(t, 45.0, cfg.MinSignalConf.RSISellMax)
	assert.Equal(t, BackendCSV, cfg.Ledger.Backend)
	assert.True(t, cfg.RiskGuards.CountDryAsTrade)
	assert.Equal(t, 0.15, cfg.Sentiment.MinScore)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
resolution: MINUTE_15
max_candles: 200
risk_reward: 1.5
risk_per_trade: 50
warmup_bars: 30
min_signal_conf:
  rsi_buy_min: 60
  rsi_sell_max: 40
sentiment:
  enabled: true
  model: gpt-4o-mini
  min_score: 0.3
  timeout_s: 10
risk_guards:
  enabled: true
  max_trades_per_run: 2
  max_concurrent_positions: 3
  count_dry_as_trade: false
  trading_hours:
    enabled: true
    timezone: Europe/London
    start: "08:00"
    end: "21:00"
  per_instrument:
    max_trades_per_day: 2
    cooldown_min: 30
  daily_risk_budget: 100
  daily_loss_limit: 200
ledger:
  backend: postgres
  dsn: postgres://trader:pw@localhost:5432/trader
watchlist:
  - name: FTSE 100
    epic: IX.D.FTSE.CFD.IP
    stop_points: 60
  - epic: IX.D.DAX.CFD.IP
    stop_points: 80
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "MINUTE_15", cfg.Resolution)
	assert.True(t, cfg.Sentiment.Enabled)
	assert.Equal(t, 0.3, cfg.Sentiment.MinScore)
	assert.True(t, cfg.RiskGuards.Enabled)
	assert.Equal(t, 2, cfg.RiskGuards.MaxTradesPerRun)
	assert.False(t, cfg.RiskGuards.CountDryAsTrade)
	assert.Equal(t, "08:00", cfg.RiskGuards.TradingHours.Start)
	assert.Equal(t, 30, cfg.RiskGuards.PerInstrument.CooldownMin)
	assert.Equal(t, 100.0, cfg.RiskGuards.DailyRiskBudget)
	assert.Equal(t, BackendPostgres, cfg.Ledger.Backend)
	require.Len(t, cfg.Watchlist, 2)
	assert.Equal(t, "FTSE 100", cfg.Watchlist[0].DisplayName())
	assert.Equal(t, "IX.D.DAX.CFD.IP", cfg.Watchlist[1].DisplayName())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing epic", "watchlist:\n  - name: X\n    stop_points: 10\n"},
		{"zero stop", "watchlist:\n  - epic: E\n    stop_points: 0\n"},
		{"negative risk", "risk_per_trade: -5\n"},
		{"zero candles", "max_candles: 0\n"},
		{"unknown backend", "ledger:\n  backend: dynamodb\n"},
		{"bad window start", "risk_guards:\n  trading_hours:\n    enabled: true\n    start: \"2200\"\n"},
		{"bad window end", "risk_guards:\n  trading_hours:\n    enabled: true\n    end: \"25:00\"\n"},
		{"postgres without dsn", "ledger:\n  backend: postgres\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
