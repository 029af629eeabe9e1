// Package guard implements the two-phase risk-guard engine. Preflight runs
// before any market data is fetched; Postsize runs once the candidate
// trade's effective risk is known. Every "today" quantity is derived by
// re-scanning the ledger, never cached, so a decision can only disagree
// with the ledger if the ledger itself changed.
package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
)

// riskTolerance absorbs float accumulation noise in budget and loss-limit
// comparisons.
const riskTolerance = 1e-9

// PerInstrumentConfig caps activity per instrument per UTC day.
type PerInstrumentConfig struct {
	MaxTradesPerDay int `yaml:"max_trades_per_day"`
	CooldownMin     int `yaml:"cooldown_min"`
}

// Config holds every guard threshold. A zero threshold disables that
// individual check; Enabled false disables both phases entirely.
type Config struct {
	Enabled                bool                `yaml:"enabled"`
	MaxTradesPerRun        int                 `yaml:"max_trades_per_run"`
	MaxConcurrentPositions int                 `yaml:"max_concurrent_positions"`
	TradingHours           WindowConfig        `yaml:"trading_hours"`
	PerInstrument          PerInstrumentConfig `yaml:"per_instrument"`
	DailyRiskBudget        float64             `yaml:"daily_risk_budget"`
	DailyLossLimit         float64             `yaml:"daily_loss_limit"`
	CountDryAsTrade        bool                `yaml:"count_dry_as_trade"`
}

// Options configures the Engine.
type Options struct {
	Config    Config
	Ledger    ledger.Store
	Broker    broker.Client
	Baselines *BaselineStore
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Engine evaluates both guard phases.
type Engine struct {
	cfg       Config
	store     ledger.Store
	broker    broker.Client
	baselines *BaselineStore
	now       func() time.Time
	log       zerolog.Logger
}

// New creates a guard engine.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		cfg:       opts.Config,
		store:     opts.Ledger,
		broker:    opts.Broker,
		baselines: opts.Baselines,
		now:       opts.Now,
		log:       opts.Logger,
	}
}

// Preflight runs the cheap checks before market data is fetched: the
// per-run trade cap and the concurrent open-position cap. A failed position
// lookup counts as zero open positions; missing one block here is cheaper
// than silently halting all trading on a flaky endpoint.
func (e *Engine) Preflight(ctx context.Context, runTradeCount int) domain.GuardResult {
	meta := map[string]any{}

	if !e.cfg.Enabled {
		return domain.GuardResult{Allowed: true, Reason: domain.GuardDisabled, Meta: meta}
	}

	if mtr := e.cfg.MaxTradesPerRun; mtr > 0 {
		meta["max_trades_per_run"] = mtr
		meta["run_trade_count"] = runTradeCount
		if runTradeCount >= mtr {
			return domain.GuardResult{Allowed: false, Reason: domain.BlockMaxTradesPerRun, Meta: meta}
		}
	}

	if mcp := e.cfg.MaxConcurrentPositions; mcp > 0 {
		meta["max_concurrent_positions"] = mcp
		open := 0
		positions, err := e.broker.GetOpenPositions(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("open positions unavailable, counting zero")
		} else {
			open = len(positions)
		}
		meta["open_positions"] = open
		if open >= mcp {
			return domain.GuardResult{Allowed: false, Reason: domain.BlockMaxConcurrentPositions, Meta: meta}
		}
	}

	return domain.GuardResult{Allowed: true, Reason: domain.GuardPreflightOK, Meta: meta}
}

// Postsize runs the checks that need the candidate trade's details, in
// fixed order: trading window, per-instrument daily cap, cooldown, daily
// risk budget, daily loss limit. The first failing check blocks; its meta
// still carries everything evaluated up to that point.
func (e *Engine) Postsize(ctx context.Context, instrument string, plannedRisk float64) domain.GuardResult {
	meta := map[string]any{
		"instrument":       instrument,
		"planned_eff_risk": plannedRisk,
	}

	if !e.cfg.Enabled {
		return domain.GuardResult{Allowed: true, Reason: domain.GuardDisabled, Meta: meta}
	}

	now := e.now().UTC()

	ok, wmeta := InWindow(e.cfg.TradingHours, now)
	for k, v := range wmeta {
		meta[k] = v
	}
	if !ok {
		return domain.GuardResult{Allowed: false, Reason: domain.BlockTradingWindow, Meta: meta}
	}

	today, err := e.store.ForDate(ctx, ledger.DateKey(now))
	if err != nil {
		// An unreadable ledger yields the same state as an empty one.
		e.log.Warn().Err(err).Msg("ledger scan failed, deriving from empty state")
		today = nil
	}

	if maxTPD := e.cfg.PerInstrument.MaxTradesPerDay; maxTPD > 0 {
		count := ledger.CountOrdersForInstrument(today, instrument)
		meta["max_trades_per_day"] = maxTPD
		meta["orders_today_instrument"] = count
		if count >= maxTPD {
			return domain.GuardResult{Allowed: false, Reason: domain.BlockMaxTradesPerDayInstrument, Meta: meta}
		}
	}

	if cooldown := e.cfg.PerInstrument.CooldownMin; cooldown > 0 {
		meta["cooldown_min"] = cooldown
		last, found := ledger.LastOrderTime(today, instrument)
		if found {
			meta["last_order_ts"] = last.UTC().Format(time.RFC3339)
			if now.Before(last.Add(time.Duration(cooldown) * time.Minute)) {
				return domain.GuardResult{Allowed: false, Reason: domain.BlockCooldownInstrument, Meta: meta}
			}
		} else {
			meta["last_order_ts"] = ""
		}
	}

	if budget := e.cfg.DailyRiskBudget; budget > 0 {
		committed := ledger.CommittedRisk(today)
		meta["daily_risk_budget"] = budget
		meta["today_committed_risk"] = committed
		planned := plannedRisk
		if planned < 0 {
			planned = 0
		}
		if committed+planned > budget+riskTolerance {
			return domain.GuardResult{Allowed: false, Reason: domain.BlockDailyRiskBudget, Meta: meta}
		}
	}

	if limit := e.cfg.DailyLossLimit; limit > 0 {
		meta["daily_loss_limit"] = limit
		if blocked := e.checkLossLimit(ctx, now, meta); blocked {
			return domain.GuardResult{Allowed: false, Reason: domain.BlockDailyLossLimit, Meta: meta}
		}
	}

	return domain.GuardResult{Allowed: true, Reason: domain.GuardPostsizeOK, Meta: meta}
}

// checkLossLimit compares today's baseline balance against the live balance.
// When the balance cannot be fetched the check allows and records the
// inconclusive evaluation in meta; a dead balance endpoint must not be able
// to halt trading while the other guards still function.
func (e *Engine) checkLossLimit(ctx context.Context, now time.Time, meta map[string]any) bool {
	current, err := e.broker.GetAccountBalance(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("balance unavailable, loss limit inconclusive")
		meta["pnl_baseline"] = nil
		meta["current_balance"] = nil
		meta["realized_loss"] = nil
		return false
	}

	baseline, err := e.baselines.Ensure(ledger.DateKey(now), current, now)
	if err != nil {
		e.log.Warn().Err(err).Msg("baseline unavailable, loss limit inconclusive")
		meta["pnl_baseline"] = nil
		meta["current_balance"] = current
		meta["realized_loss"] = nil
		return false
	}

	loss := baseline - current
	if loss < 0 {
		loss = 0
	}
	meta["pnl_baseline"] = baseline
	meta["current_balance"] = current
	meta["realized_loss"] = loss

	return loss >= e.cfg.DailyLossLimit-riskTolerance
}
