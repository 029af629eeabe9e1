package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
)

// Store implements ledger.Store using ClickHouse.
type Store struct {
	conn *Conn
}

// NewStore creates a new Store.
func NewStore(conn *Conn) *Store {
	return &Store{conn: conn}
}

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

const selectColumns = `
	ts_utc, run_id, env, live, instrument, epic, resolution,
	candle_count, warmup_bars, signal, close, sma20, rsi14,
	sentiment_label, sentiment_score, sentiment_reason,
	rg_reason, rg_meta_json, rg2_reason, rg2_meta_json,
	risk_amount, stop_points, limit_points, value_per_point,
	size_raw, size_final, eff_risk, currency,
	event, status, deal_reference, error, payload_json
`

// Append writes one row.
func (s *Store) Append(ctx context.Context, r *domain.LedgerRow) error {
	if r == nil || r.RunID == "" || r.Event == "" {
		return ledger.ErrInvalidRow
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_ledger (
			ts_utc, run_id, env, live, instrument, epic, resolution,
			candle_count, warmup_bars, signal, close, sma20, rsi14,
			sentiment_label, sentiment_score, sentiment_reason,
			rg_reason, rg_meta_json, rg2_reason, rg2_meta_json,
			risk_amount, stop_points, limit_points, value_per_point,
			size_raw, size_final, eff_risk, currency,
			event, status, deal_reference, error, payload_json
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		r.Time.UTC(), r.RunID, r.Env, r.Live, r.Instrument, r.Epic, r.Resolution,
		uint32(r.CandleCount), uint32(r.WarmupBars), string(r.Signal),
		r.Close, r.SMA20, r.RSI14,
		r.SentimentLabel, r.SentimentScore, r.SentimentReason,
		r.GuardReason, r.GuardMetaJSON, r.Guard2Reason, r.Guard2MetaJSON,
		r.RiskAmount, r.StopPoints, r.LimitPoints, r.ValuePerPoint,
		r.SizeRaw, r.SizeFinal, r.EffectiveRisk, r.Currency,
		string(r.Event), r.Status, r.DealReference, r.Error, r.PayloadJSON,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// All retrieves every row ordered by timestamp.
func (s *Store) All(ctx context.Context) ([]*domain.LedgerRow, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger ORDER BY ts_utc ASC`
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	return scanLedgerRows(rows)
}

// ForDate retrieves rows on the given UTC day ordered by timestamp.
func (s *Store) ForDate(ctx context.Context, date string) ([]*domain.LedgerRow, error) {
	start, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	end := start.Add(24 * time.Hour)

	query := `SELECT ` + selectColumns + ` FROM trade_ledger
		WHERE ts_utc >= ? AND ts_utc < ? ORDER BY ts_utc ASC`
	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query ledger by date: %w", err)
	}
	defer rows.Close()
	return scanLedgerRows(rows)
}

// ForRun retrieves rows with the given run id ordered by timestamp.
func (s *Store) ForRun(ctx context.Context, runID string) ([]*domain.LedgerRow, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger
		WHERE run_id = ? ORDER BY ts_utc ASC`
	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query ledger by run: %w", err)
	}
	defer rows.Close()
	return scanLedgerRows(rows)
}

func scanLedgerRows(rows driver.Rows) ([]*domain.LedgerRow, error) {
	var out []*domain.LedgerRow
	for rows.Next() {
		var r domain.LedgerRow
		var signal, event string
		var candleCount, warmupBars uint32
		err := rows.Scan(
			&r.Time, &r.RunID, &r.Env, &r.Live, &r.Instrument, &r.Epic, &r.Resolution,
			&candleCount, &warmupBars, &signal, &r.Close, &r.SMA20, &r.RSI14,
			&r.SentimentLabel, &r.SentimentScore, &r.SentimentReason,
			&r.GuardReason, &r.GuardMetaJSON, &r.Guard2Reason, &r.Guard2MetaJSON,
			&r.RiskAmount, &r.StopPoints, &r.LimitPoints, &r.ValuePerPoint,
			&r.SizeRaw, &r.SizeFinal, &r.EffectiveRisk, &r.Currency,
			&event, &r.Status, &r.DealReference, &r.Error, &r.PayloadJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		r.Time = r.Time.UTC()
		r.CandleCount = int(candleCount)
		r.WarmupBars = int(warmupBars)
		r.Signal = domain.Signal(signal)
		r.Event = domain.EventKind(event)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}
