package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
)

// Store implements ledger.Store using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
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

// Append writes one row. The insert is a single statement, so a row is
// either fully visible or absent.
func (s *Store) Append(ctx context.Context, r *domain.LedgerRow) error {
	if r == nil || r.RunID == "" || r.Event == "" {
		return ledger.ErrInvalidRow
	}

	query := `
		INSERT INTO trade_ledger (
			ts_utc, run_id, env, live, instrument, epic, resolution,
			candle_count, warmup_bars, signal, close, sma20, rsi14,
			sentiment_label, sentiment_score, sentiment_reason,
			rg_reason, rg_meta_json, rg2_reason, rg2_meta_json,
			risk_amount, stop_points, limit_points, value_per_point,
			size_raw, size_final, eff_risk, currency,
			event, status, deal_reference, error, payload_json
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24,
			$25, $26, $27, $28,
			$29, $30, $31, $32, $33
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.Time.UTC(), r.RunID, r.Env, r.Live, r.Instrument, r.Epic, r.Resolution,
		r.CandleCount, r.WarmupBars, string(r.Signal), r.Close, r.SMA20, r.RSI14,
		r.SentimentLabel, r.SentimentScore, r.SentimentReason,
		r.GuardReason, r.GuardMetaJSON, r.Guard2Reason, r.Guard2MetaJSON,
		r.RiskAmount, r.StopPoints, r.LimitPoints, r.ValuePerPoint,
		r.SizeRaw, r.SizeFinal, r.EffectiveRisk, r.Currency,
		string(r.Event), r.Status, r.DealReference, r.Error, r.PayloadJSON,
	)
	if err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}

// All retrieves every row in append order.
func (s *Store) All(ctx context.Context) ([]*domain.LedgerRow, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ForDate retrieves rows on the given UTC day in append order.
func (s *Store) ForDate(ctx context.Context, date string) ([]*domain.LedgerRow, error) {
	start, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	end := start.Add(24 * time.Hour)

	query := `SELECT ` + selectColumns + ` FROM trade_ledger
		WHERE ts_utc >= $1 AND ts_utc < $2 ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query ledger by date: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ForRun retrieves rows with the given run id in append order.
func (s *Store) ForRun(ctx context.Context, runID string) ([]*domain.LedgerRow, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger
		WHERE run_id = $1 ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query ledger by run: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows pgx.Rows) ([]*domain.LedgerRow, error) {
	var out []*domain.LedgerRow
	for rows.Next() {
		var r domain.LedgerRow
		var signal, event string
		err := rows.Scan(
			&r.Time, &r.RunID, &r.Env, &r.Live, &r.Instrument, &r.Epic, &r.Resolution,
			&r.CandleCount, &r.WarmupBars, &signal, &r.Close, &r.SMA20, &r.RSI14,
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
		r.Signal = domain.Signal(signal)
		r.Event = domain.EventKind(event)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}
