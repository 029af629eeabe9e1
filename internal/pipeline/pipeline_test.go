package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/broker/stub"
	"cfd-trader/internal/config"
	"cfd-trader/internal/domain"
	"cfd-trader/internal/guard"
	"cfd-trader/internal/ledger/memory"
	sentimentstub "cfd-trader/internal/sentiment/stub"
	"cfd-trader/internal/submit"
)

const (
	ftseEpic = "IX.D.FTSE.CFD.IP"
	daxEpic  = "IX.D.DAX.CFD.IP"
)

var pipelineNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func risingBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := pipelineNow.Add(-time.Duration(n) * 5 * time.Minute)
	for i := range bars {
		price := 5000.0 + float64(i)*5
		bars[i] = domain.Bar{
			Time: start.Add(time.Duration(i) * 5 * time.Minute),
			Open: price - 2, High: price + 3, Low: price - 4, Close: price,
			Volume: 100,
		}
	}
	return bars
}

func fallingBars(n int) []domain.Bar {
	bars := risingBars(n)
	for i := range bars {
		bars[i].Close = 6000.0 - float64(i)*5
	}
	return bars
}

func ftseMarket() *domain.MarketMetadata {
	return &domain.MarketMetadata{
		Epic:            ftseEpic,
		Name:            "FTSE 100 Cash",
		PointValue:      10,
		MinSize:         0.5,
		SizeStep:        0.5,
		MinStopDistance: 8,
		Currency:        "GBP",
		TradeableStatus: "TRADEABLE",
	}
}

type testPipeline struct {
	pipe   *Pipeline
	store  *memory.Store
	broker *stub.Client
	oracle *sentimentstub.Oracle
}

func newTestPipeline(t *testing.T, cfg *config.Config, live bool) *testPipeline {
	t.Helper()
	store := memory.NewStore()
	br := stub.New()
	br.Balance = 10000
	oracle := sentimentstub.New(0.5)

	guards := guard.New(guard.Options{
		Config:    cfg.RiskGuards,
		Ledger:    store,
		Broker:    br,
		Baselines: guard.NewBaselineStore(t.TempDir()),
		Now:       func() time.Time { return pipelineNow },
		Logger:    zerolog.Nop(),
	})

	pipe := New(Options{
		Config:    cfg,
		Broker:    br,
		Ledger:    store,
		Guards:    guards,
		Submitter: submit.New(br, live),
		Oracle:    oracle,
		Env:       "DEMO",
		Live:      live,
		Now:       func() time.Time { return pipelineNow },
		Logger:    zerolog.Nop(),
	})
	return &testPipeline{pipe: pipe, store: store, broker: br, oracle: oracle}
}

func baseConfig(items ...config.WatchItem) *config.Config {
	cfg := config.Default()
	cfg.Watchlist = items
	return &cfg
}

func ftseItem() config.WatchItem {
	return config.WatchItem{Name: "FTSE 100", Epic: ftseEpic, StopPoints: 60}
}

func eventsOf(t *testing.T, tp *testPipeline, runID string) []domain.EventKind {
	t.Helper()
	rows, err := tp.store.ForRun(context.Background(), runID)
	require.NoError(t, err)
	events := make([]domain.EventKind, len(rows))
	for i, r := range rows {
		events[i] = r.Event
	}
	return events
}

func TestRunBuySignalDryRun(t *testing.T) {
	tp := newTestPipeline(t, baseConfig(ftseItem()), false)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, domain.SignalBuy, res.Outcomes[0].Signal)
	assert.Equal(t, "ORDER_DRY", res.Outcomes[0].Action)
	// Dry runs count against the run cap by default.
	assert.Equal(t, 1, res.TradeCount)
	assert.Empty(t, tp.broker.Submitted)

	events := eventsOf(t, tp, res.RunID)
	assert.Equal(t, []domain.EventKind{domain.EventSignal, domain.EventOrderDry}, events)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	dry := rows[1]
	assert.Equal(t, 0.5, dry.SizeFinal) // min size floor
	assert.InDelta(t, 300.0, dry.EffectiveRisk, 1e-9)
	assert.Contains(t, dry.PayloadJSON, `"orderType":"MARKET"`)
}

func TestRunLiveSubmitRecordsReference(t *testing.T) {
	tp := newTestPipeline(t, baseConfig(ftseItem()), true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ORDER_SENT", res.Outcomes[0].Action)
	assert.Equal(t, 1, res.TradeCount)
	require.Len(t, tp.broker.Submitted, 1)
	assert.Equal(t, domain.SignalBuy, tp.broker.Submitted[0].Direction)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.EventOrderSent, rows[1].Event)
	assert.Equal(t, tp.broker.LastDealReference, rows[1].DealReference)
}

func TestRunSellSignal(t *testing.T) {
	tp := newTestPipeline(t, baseConfig(ftseItem()), false)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, fallingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SignalSell, res.Outcomes[0].Signal)
	assert.Equal(t, "ORDER_DRY", res.Outcomes[0].Action)
}

func TestRunHoldStopsBeforeSentiment(t *testing.T) {
	cfg := baseConfig(ftseItem())
	cfg.Sentiment.Enabled = true
	tp := newTestPipeline(t, cfg, false)
	tp.broker.AddMarket(ftseMarket())
	// Fewer bars than warmup forces HOLD.
	tp.broker.AddBars(ftseEpic, risingBars(10))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.SignalHold, res.Outcomes[0].Signal)
	assert.Equal(t, "NO_ORDER", res.Outcomes[0].Action)
	assert.Equal(t, "signal HOLD", res.Outcomes[0].Detail)
	assert.Empty(t, tp.oracle.Requests)

	events := eventsOf(t, tp, res.RunID)
	assert.Equal(t, []domain.EventKind{domain.EventSignal, domain.EventNoOrder}, events)
}

func TestRunSentimentUnavailableBlocks(t *testing.T) {
	cfg := baseConfig(ftseItem())
	cfg.Sentiment.Enabled = true
	tp := newTestPipeline(t, cfg, true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	tp.oracle.Err = errors.New("model timeout")

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "UNAVAILABLE", res.Outcomes[0].Sentiment)
	assert.Equal(t, "NO_ORDER", res.Outcomes[0].Action)
	assert.Empty(t, tp.broker.Submitted)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	require.Len(t, rows, 2)
	assert.Equal(t, "sentiment_unavailable", rows[1].Status)
}

func TestRunSentimentBelowThresholdBlocks(t *testing.T) {
	cfg := baseConfig(ftseItem())
	cfg.Sentiment.Enabled = true
	cfg.Sentiment.MinScore = 0.5
	tp := newTestPipeline(t, cfg, true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	tp.oracle.Add("FTSE 100", &domain.SentimentResult{
		Label: domain.SentimentBullish, Score: 0.3, Explanation: "weak momentum",
	})

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "BLOCK 0.30", res.Outcomes[0].Sentiment)
	assert.Empty(t, tp.broker.Submitted)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	blocked := rows[1]
	assert.Equal(t, "sentiment_block", blocked.Status)
	assert.Equal(t, domain.SentimentBullish, blocked.SentimentLabel)
	require.NotNil(t, blocked.SentimentScore)
	assert.Equal(t, 0.3, *blocked.SentimentScore)
}

func TestRunSentimentPassCarriesFields(t *testing.T) {
	cfg := baseConfig(ftseItem())
	cfg.Sentiment.Enabled = true
	tp := newTestPipeline(t, cfg, false)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	tp.oracle.Add("FTSE 100", &domain.SentimentResult{
		Label: domain.SentimentBullish, Score: 0.9, Explanation: "strong trend",
	})

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PASS 0.90", res.Outcomes[0].Sentiment)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	dry := rows[1]
	assert.Equal(t, domain.EventOrderDry, dry.Event)
	assert.Equal(t, domain.SentimentBullish, dry.SentimentLabel)
	assert.Equal(t, "strong trend", dry.SentimentReason)
}

func TestRunPreflightCapAcrossInstruments(t *testing.T) {
	dax := config.WatchItem{Name: "DAX 40", Epic: daxEpic, StopPoints: 80}
	cfg := baseConfig(ftseItem(), dax)
	cfg.RiskGuards.Enabled = true
	cfg.RiskGuards.MaxTradesPerRun = 1
	tp := newTestPipeline(t, cfg, true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	daxMD := ftseMarket()
	daxMD.Epic = daxEpic
	tp.broker.AddMarket(daxMD)
	tp.broker.AddBars(daxEpic, risingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	assert.Equal(t, "ORDER_SENT", res.Outcomes[0].Action)
	assert.Equal(t, domain.BlockMaxTradesPerRun, res.Outcomes[1].GuardPre)
	assert.Equal(t, "NO_ORDER", res.Outcomes[1].Action)
	assert.Len(t, tp.broker.Submitted, 1)
}

func TestRunPostsizeBudgetBlock(t *testing.T) {
	cfg := baseConfig(ftseItem())
	cfg.RiskGuards.Enabled = true
	// The min-size floor pushes effective risk to 300, over the budget.
	cfg.RiskGuards.DailyRiskBudget = 100
	tp := newTestPipeline(t, cfg, true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.BlockDailyRiskBudget, res.Outcomes[0].GuardPost)
	assert.Empty(t, tp.broker.Submitted)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	blocked := rows[1]
	assert.Equal(t, "risk_guard_post", blocked.Status)
	assert.Equal(t, domain.BlockDailyRiskBudget, blocked.Guard2Reason)
	assert.NotEmpty(t, blocked.Guard2MetaJSON)
	assert.InDelta(t, 300.0, blocked.EffectiveRisk, 1e-9)
}

func TestRunSubmissionFailureRecordsStatusAndContinues(t *testing.T) {
	dax := config.WatchItem{Name: "DAX 40", Epic: daxEpic, StopPoints: 80}
	tp := newTestPipeline(t, baseConfig(ftseItem(), dax), true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	daxMD := ftseMarket()
	daxMD.Epic = daxEpic
	tp.broker.AddMarket(daxMD)
	tp.broker.AddBars(daxEpic, risingBars(60))
	tp.broker.SubmitErr = &broker.SubmissionError{
		StatusCode: 400,
		Body:       `{"errorCode":"error.public-api.exceeded-account-allowance"}`,
	}

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	// Rejection is terminal for the instrument, never retried, and must
	// not stop the run from evaluating the rest of the watchlist.
	assert.Equal(t, "ORDER_FAIL", res.Outcomes[0].Action)
	assert.Equal(t, "ORDER_FAIL", res.Outcomes[1].Action)
	assert.Equal(t, 0, res.TradeCount)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	require.Len(t, rows, 4)
	fail := rows[1]
	assert.Equal(t, domain.EventOrderFail, fail.Event)
	assert.Equal(t, "400", fail.Status)
	assert.Contains(t, fail.Error, "exceeded-account-allowance")
	assert.Empty(t, fail.DealReference)
	assert.NotEmpty(t, fail.PayloadJSON)
}

func TestRunSubmissionFailureWithoutStatusCode(t *testing.T) {
	tp := newTestPipeline(t, baseConfig(ftseItem()), true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	tp.broker.SubmitErr = errors.New("connection reset")

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.EventOrderFail, rows[1].Event)
	assert.Equal(t, "error", rows[1].Status)
}

func TestRunMarketErrorMovesToNextInstrument(t *testing.T) {
	dax := config.WatchItem{Name: "DAX 40", Epic: daxEpic, StopPoints: 80}
	tp := newTestPipeline(t, baseConfig(ftseItem(), dax), false)
	// FTSE market deliberately not seeded.
	daxMD := ftseMarket()
	daxMD.Epic = daxEpic
	tp.broker.AddMarket(daxMD)
	tp.broker.AddBars(daxEpic, risingBars(60))

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)

	assert.Equal(t, "ERROR", res.Outcomes[0].Action)
	assert.Equal(t, "ORDER_DRY", res.Outcomes[1].Action)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	assert.Equal(t, domain.EventError, rows[0].Event)
	assert.Equal(t, "market_error", rows[0].Status)
}

func TestRunNoCandlesIsError(t *testing.T) {
	tp := newTestPipeline(t, baseConfig(ftseItem()), false)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, nil)

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ERROR", res.Outcomes[0].Action)

	rows, _ := tp.store.ForRun(context.Background(), res.RunID)
	require.Len(t, rows, 1)
	assert.Equal(t, "no_candles", rows[0].Status)
}

func TestRunClampsStopToInstrumentMinimum(t *testing.T) {
	item := ftseItem()
	item.StopPoints = 5 // below the 8-point instrument minimum
	tp := newTestPipeline(t, baseConfig(item), true)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))

	_, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, tp.broker.Submitted, 1)
	sent := tp.broker.Submitted[0]
	assert.Equal(t, 8.0, sent.StopDistance)
	assert.Equal(t, 16.0, sent.LimitDistance) // risk_reward 2.0 of the clamped stop
}

func TestRunWritesSummaryFile(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(ftseItem())
	tp := newTestPipeline(t, cfg, false)
	tp.broker.AddMarket(ftseMarket())
	tp.broker.AddBars(ftseEpic, risingBars(60))
	tp.pipe.summaryDir = dir

	res, err := tp.pipe.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "summary_"+res.RunID+".txt"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "FTSE 100")
	assert.Contains(t, text, "ORDER_DRY")
	assert.Contains(t, text, "Total instruments processed: 1")
}

func TestNewRunIDFormat(t *testing.T) {
	id := NewRunID(time.Date(2025, 3, 3, 9, 30, 15, 0, time.UTC))
	assert.Equal(t, "20250303T093015Z", id)
}
