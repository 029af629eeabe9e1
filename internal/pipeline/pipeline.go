// Package pipeline runs the per-instrument decision sequence:
// preflight guards → market metadata → bars → signal → sentiment gate →
// sizing → postsize guards → submission. Every stage boundary appends a
// ledger row before the next stage starts, so an interruption leaves a
// row-consistent trail; a stage failure ends that instrument's evaluation
// and the run moves to the next instrument.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/config"
	"cfd-trader/internal/domain"
	"cfd-trader/internal/guard"
	"cfd-trader/internal/indicator"
	"cfd-trader/internal/ledger"
	"cfd-trader/internal/sentiment"
	"cfd-trader/internal/sizing"
	"cfd-trader/internal/submit"
)

// NewRunID formats a run identifier from a timestamp. The compact UTC form
// sorts chronologically, which run selection in reconciliation relies on.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// Options configures a Pipeline.
type Options struct {
	Config    *config.Config
	Broker    broker.Client
	Ledger    ledger.Store
	Guards    *guard.Engine
	Submitter *submit.Submitter
	// Oracle may be nil when the sentiment gate is disabled.
	Oracle sentiment.Oracle

	Env   string
	Live  bool
	RunID string
	// SummaryDir receives summary_<runID>.txt; empty skips the file.
	SummaryDir string

	Now    func() time.Time
	Logger zerolog.Logger
}

// Pipeline evaluates the watchlist once.
type Pipeline struct {
	cfg       *config.Config
	broker    broker.Client
	store     ledger.Store
	guards    *guard.Engine
	submitter *submit.Submitter
	oracle    sentiment.Oracle

	env        string
	live       bool
	runID      string
	summaryDir string

	now func() time.Time
	log zerolog.Logger
}

// New creates a pipeline for one run.
func New(opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID(opts.Now())
	}
	return &Pipeline{
		cfg:        opts.Config,
		broker:     opts.Broker,
		store:      opts.Ledger,
		guards:     opts.Guards,
		submitter:  opts.Submitter,
		oracle:     opts.Oracle,
		env:        opts.Env,
		live:       opts.Live,
		runID:      opts.RunID,
		summaryDir: opts.SummaryDir,
		now:        opts.Now,
		log:        opts.Logger,
	}
}

// Outcome is the one-line summary of an instrument's evaluation.
type Outcome struct {
	Instrument string
	Signal     domain.Signal
	Sentiment  string
	GuardPre   string
	GuardPost  string
	Action     string
	Detail     string
}

// RunResult reports a completed run.
type RunResult struct {
	RunID      string
	Outcomes   []Outcome
	TradeCount int
}

// Run evaluates every watchlist instrument sequentially and writes the
// end-of-run summary. Instruments never affect each other except through
// the shared run trade counter and the ledger itself.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{RunID: p.runID}

	for _, item := range p.cfg.Watchlist {
		outcome := p.evaluate(ctx, item, result.TradeCount)
		if outcome.counted {
			result.TradeCount++
		}
		result.Outcomes = append(result.Outcomes, outcome.Outcome)

		p.log.Info().
			Str("instrument", outcome.Instrument).
			Str("signal", string(outcome.Signal)).
			Str("action", outcome.Action).
			Str("detail", outcome.Detail).
			Msg("instrument evaluated")
	}

	if err := p.writeSummary(result); err != nil {
		p.log.Warn().Err(err).Msg("summary file not written")
	}
	return result, nil
}

// evalOutcome augments the public Outcome with the run-counter decision.
type evalOutcome struct {
	Outcome
	counted bool
}

// evaluate walks one instrument through every stage. It returns at the
// first stage that ends the evaluation; each return path has already
// appended its ledger row.
func (p *Pipeline) evaluate(ctx context.Context, item config.WatchItem, runTradeCount int) evalOutcome {
	name := item.DisplayName()
	stopPoints := item.StopPoints
	limitPoints := p.cfg.RiskReward * stopPoints

	out := evalOutcome{Outcome: Outcome{
		Instrument: name,
		Signal:     domain.SignalHold,
		Sentiment:  "N/A",
		GuardPre:   "OK",
		GuardPost:  "OK",
		Action:     "NO_ORDER",
	}}

	base := func() *domain.LedgerRow {
		return &domain.LedgerRow{
			Time:        p.now().UTC(),
			RunID:       p.runID,
			Env:         p.env,
			Live:        p.live,
			Instrument:  name,
			Epic:        item.Epic,
			Resolution:  p.cfg.Resolution,
			WarmupBars:  p.cfg.WarmupBars,
			RiskAmount:  p.cfg.RiskPerTrade,
			StopPoints:  stopPoints,
			LimitPoints: limitPoints,
		}
	}

	// Preflight guards: cheap checks before any market data is fetched.
	pre := p.guards.Preflight(ctx, runTradeCount)
	if !pre.Allowed {
		row := base()
		row.Event = domain.EventNoOrder
		row.Status = "risk_guard_pre"
		row.GuardReason = pre.Reason
		row.GuardMetaJSON = metaJSON(pre.Meta)
		p.append(ctx, row)
		out.GuardPre = pre.Reason
		out.Detail = "pre-flight guard blocked"
		return out
	}

	// Market metadata, then clamp the stop to the instrument minimum.
	md, err := p.broker.GetMarketMetadata(ctx, item.Epic)
	if err != nil {
		row := base()
		row.Event = domain.EventError
		row.Status = "market_error"
		row.Error = err.Error()
		p.append(ctx, row)
		out.Action = "ERROR"
		out.Detail = "market fetch failed"
		return out
	}
	if clamped := sizing.ClampStop(stopPoints, md.MinStopDistance); clamped != stopPoints {
		stopPoints = clamped
		limitPoints = p.cfg.RiskReward * stopPoints
	}

	bars, err := p.broker.GetBars(ctx, item.Epic, p.cfg.Resolution, p.cfg.MaxCandles)
	if err != nil {
		row := base()
		row.Event = domain.EventError
		row.Status = "prices_error"
		row.Error = err.Error()
		p.append(ctx, row)
		out.Action = "ERROR"
		out.Detail = "prices fetch failed"
		return out
	}
	if len(bars) == 0 {
		row := base()
		row.Event = domain.EventError
		row.Status = "no_candles"
		p.append(ctx, row)
		out.Action = "ERROR"
		out.Detail = "no candles"
		return out
	}

	// Signal and its audit row, always written even for HOLD.
	indCfg := p.indicatorConfig()
	sig, snap := indicator.Evaluate(bars, indCfg)
	out.Signal = sig

	sigRow := base()
	sigRow.Event = domain.EventSignal
	sigRow.Status = "ok"
	sigRow.CandleCount = len(bars)
	sigRow.Signal = sig
	sigRow.Close = &snap.Close
	sigRow.SMA20 = snap.SMA20
	sigRow.RSI14 = snap.RSI14
	sigRow.ValuePerPoint = md.PointValue
	p.append(ctx, sigRow)

	if sig == domain.SignalHold {
		row := base()
		row.Event = domain.EventNoOrder
		row.Status = "hold"
		row.CandleCount = len(bars)
		row.Signal = sig
		p.append(ctx, row)
		out.Detail = "signal HOLD"
		return out
	}

	// Sentiment gate.
	var sent *domain.SentimentResult
	if p.cfg.Sentiment.Enabled && p.oracle != nil {
		res, err := p.oracle.Score(ctx, sentiment.Request{
			Instrument: name,
			Close:      snap.Close,
			SMA20:      snap.SMA20,
			RSI14:      snap.RSI14,
		})
		if err != nil {
			p.log.Warn().Err(err).Str("instrument", name).Msg("sentiment unavailable")
			row := base()
			row.Event = domain.EventNoOrder
			row.Status = "sentiment_unavailable"
			row.CandleCount = len(bars)
			row.Signal = sig
			p.append(ctx, row)
			out.Sentiment = "UNAVAILABLE"
			out.Detail = "sentiment unavailable"
			return out
		}
		sent = res
		if !p.cfg.Sentiment.Pass(res.Score) {
			row := base()
			row.Event = domain.EventNoOrder
			row.Status = "sentiment_block"
			row.CandleCount = len(bars)
			row.Signal = sig
			p.applySentiment(row, sent)
			p.append(ctx, row)
			out.Sentiment = fmt.Sprintf("BLOCK %.2f", res.Score)
			out.Detail = "sentiment below threshold"
			return out
		}
		out.Sentiment = fmt.Sprintf("PASS %.2f", res.Score)
	}

	// Sizing.
	sized, err := sizing.Compute(p.cfg.RiskPerTrade, stopPoints, md, sizing.RoundDown)
	if err != nil {
		row := base()
		row.Event = domain.EventError
		row.Status = "size_error"
		row.CandleCount = len(bars)
		row.Signal = sig
		row.Error = err.Error()
		p.applySentiment(row, sent)
		p.append(ctx, row)
		out.Action = "ERROR"
		out.Detail = "size error"
		return out
	}

	// Postsize guards, now that the candidate trade's risk is known.
	post := p.guards.Postsize(ctx, name, sized.EffectiveRisk)
	if !post.Allowed {
		row := base()
		row.Event = domain.EventNoOrder
		row.Status = "risk_guard_post"
		row.CandleCount = len(bars)
		row.Signal = sig
		row.Guard2Reason = post.Reason
		row.Guard2MetaJSON = metaJSON(post.Meta)
		p.applySentiment(row, sent)
		p.applySizing(row, sized, md.Currency)
		p.append(ctx, row)
		out.GuardPost = post.Reason
		out.Detail = "post-size guard blocked"
		return out
	}

	// Submission, or dry run.
	submitted := p.submitter.Submit(ctx, submit.Plan{
		Epic:          item.Epic,
		Direction:     sig,
		Size:          sized.SizeFinal,
		StopDistance:  stopPoints,
		LimitDistance: limitPoints,
		Currency:      md.Currency,
	})

	row := base()
	row.CandleCount = len(bars)
	row.Signal = sig
	row.PayloadJSON = submitted.PayloadJSON
	p.applySentiment(row, sent)
	p.applySizing(row, sized, md.Currency)

	switch {
	case submitted.DryRun:
		row.Event = domain.EventOrderDry
		row.Status = "ok"
		p.append(ctx, row)
		out.Action = "ORDER_DRY"
		out.Detail = fmt.Sprintf("size=%g, eff_risk=%.2f", sized.SizeFinal, sized.EffectiveRisk)
		out.counted = p.cfg.RiskGuards.CountDryAsTrade
	case submitted.Err != nil:
		row.Event = domain.EventOrderFail
		row.Status = submissionStatus(submitted.Err)
		row.Error = submitted.Err.Error()
		p.append(ctx, row)
		out.Action = "ORDER_FAIL"
		out.Detail = "submission failed"
	default:
		row.Event = domain.EventOrderSent
		row.Status = "ok"
		row.DealReference = submitted.DealReference
		p.append(ctx, row)
		out.Action = "ORDER_SENT"
		out.Detail = fmt.Sprintf("size=%g, eff_risk=%.2f", sized.SizeFinal, sized.EffectiveRisk)
		out.counted = true
	}
	return out
}

func (p *Pipeline) indicatorConfig() indicator.Config {
	cfg := indicator.DefaultConfig()
	cfg.WarmupBars = p.cfg.WarmupBars
	cfg.RSIBuyMin = p.cfg.MinSignalConf.RSIBuyMin
	cfg.RSISellMax = p.cfg.MinSignalConf.RSISellMax
	return cfg
}

func (p *Pipeline) applySentiment(row *domain.LedgerRow, sent *domain.SentimentResult) {
	if sent == nil {
		return
	}
	row.SentimentLabel = sent.Label
	score := sent.Score
	row.SentimentScore = &score
	if p.cfg.Sentiment.ExplainInLog {
		row.SentimentReason = sent.Explanation
	}
}

func (p *Pipeline) applySizing(row *domain.LedgerRow, sized *domain.SizingResult, currency string) {
	row.ValuePerPoint = sized.ValuePerPoint
	row.SizeRaw = sized.SizeRaw
	row.SizeFinal = sized.SizeFinal
	row.EffectiveRisk = sized.EffectiveRisk
	row.Currency = currency
}

// append writes a ledger row; an append failure is logged and the run
// continues, since losing one audit row must not halt live trading.
func (p *Pipeline) append(ctx context.Context, row *domain.LedgerRow) {
	if err := p.store.Append(ctx, row); err != nil {
		p.log.Error().Err(err).Str("event", string(row.Event)).Msg("ledger append failed")
	}
}

func metaJSON(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}

func submissionStatus(err error) string {
	var subErr *broker.SubmissionError
	if errors.As(err, &subErr) && subErr.StatusCode != 0 {
		return fmt.Sprintf("%d", subErr.StatusCode)
	}
	return "error"
}
