// Package csvfile provides the file-backed ledger store: one CSV file,
// header plus one line per event, append-only. Reads are full re-parses of
// the file; there is no locking, so concurrent runs against the same file
// can interleave appends (a documented limitation of the single-process
// design).
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
)

// header defines the column order. Appends and parses must agree on it.
var header = []string{
	"ts_utc", "run_id", "env", "live", "name", "epic", "resolution",
	"candle_count", "warmup_bars",
	"signal", "close", "sma20", "rsi14",
	"sentiment_label", "sentiment_score", "sentiment_reason",
	"rg_reason", "rg_meta_json", "rg2_reason", "rg2_meta_json",
	"risk_amount", "stop_points", "limit_points", "value_per_point",
	"size_raw", "size_final", "eff_risk", "currency",
	"event", "status", "deal_reference", "error", "payload_json",
}

// Store is a file-backed implementation of ledger.Store.
type Store struct {
	path string
}

// NewStore creates a CSV ledger store at the given path. The file and its
// directory are created lazily on first append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Append writes one row. The encoded line is written with a single write
// call in append mode, so a row is never partially visible.
func (s *Store) Append(_ context.Context, row *domain.LedgerRow) error {
	if row == nil || row.RunID == "" || row.Event == "" {
		return ledger.ErrInvalidRow
	}

	if err := s.ensureFile(); err != nil {
		return err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(encode(row)); err != nil {
		return fmt.Errorf("encode ledger row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode ledger row: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append ledger row: %w", err)
	}
	return nil
}

// All retrieves every row in append order. A missing file is an empty ledger.
func (s *Store) All(_ context.Context) ([]*domain.LedgerRow, error) {
	return s.scan(func(*domain.LedgerRow) bool { return true })
}

// ForDate retrieves rows on the given UTC day in append order.
func (s *Store) ForDate(_ context.Context, date string) ([]*domain.LedgerRow, error) {
	return s.scan(func(r *domain.LedgerRow) bool {
		return ledger.DateKey(r.Time) == date
	})
}

// ForRun retrieves rows with the given run id in append order.
func (s *Store) ForRun(_ context.Context, runID string) ([]*domain.LedgerRow, error) {
	return s.scan(func(r *domain.LedgerRow) bool {
		return r.RunID == runID
	})
}

// ensureFile creates the directory and the header line once.
func (s *Store) ensureFile() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create ledger: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write ledger header: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (s *Store) scan(keep func(*domain.LedgerRow) bool) ([]*domain.LedgerRow, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)

	// Skip header.
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger header: %w", err)
	}

	var out []*domain.LedgerRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger row: %w", err)
		}
		row, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		if keep(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

func encode(r *domain.LedgerRow) []string {
	return []string{
		r.Time.UTC().Format(time.RFC3339),
		r.RunID,
		r.Env,
		strconv.FormatBool(r.Live),
		r.Instrument,
		r.Epic,
		r.Resolution,
		strconv.Itoa(r.CandleCount),
		strconv.Itoa(r.WarmupBars),
		string(r.Signal),
		fmtFloatPtr(r.Close),
		fmtFloatPtr(r.SMA20),
		fmtFloatPtr(r.RSI14),
		r.SentimentLabel,
		fmtFloatPtr(r.SentimentScore),
		r.SentimentReason,
		r.GuardReason,
		r.GuardMetaJSON,
		r.Guard2Reason,
		r.Guard2MetaJSON,
		fmtFloat(r.RiskAmount),
		fmtFloat(r.StopPoints),
		fmtFloat(r.LimitPoints),
		fmtFloat(r.ValuePerPoint),
		fmtFloat(r.SizeRaw),
		fmtFloat(r.SizeFinal),
		fmtFloat(r.EffectiveRisk),
		r.Currency,
		string(r.Event),
		r.Status,
		r.DealReference,
		r.Error,
		r.PayloadJSON,
	}
}

func decode(rec []string) (*domain.LedgerRow, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return nil, fmt.Errorf("parse ts_utc %q: %w", rec[0], err)
	}

	row := &domain.LedgerRow{
		Time:            ts.UTC(),
		RunID:           rec[1],
		Env:             rec[2],
		Live:            rec[3] == "true",
		Instrument:      rec[4],
		Epic:            rec[5],
		Resolution:      rec[6],
		CandleCount:     parseInt(rec[7]),
		WarmupBars:      parseInt(rec[8]),
		Signal:          domain.Signal(rec[9]),
		Close:           parseFloatPtr(rec[10]),
		SMA20:           parseFloatPtr(rec[11]),
		RSI14:           parseFloatPtr(rec[12]),
		SentimentLabel:  rec[13],
		SentimentScore:  parseFloatPtr(rec[14]),
		SentimentReason: rec[15],
		GuardReason:     rec[16],
		GuardMetaJSON:   rec[17],
		Guard2Reason:    rec[18],
		Guard2MetaJSON:  rec[19],
		RiskAmount:      parseFloat(rec[20]),
		StopPoints:      parseFloat(rec[21]),
		LimitPoints:     parseFloat(rec[22]),
		ValuePerPoint:   parseFloat(rec[23]),
		SizeRaw:         parseFloat(rec[24]),
		SizeFinal:       parseFloat(rec[25]),
		EffectiveRisk:   parseFloat(rec[26]),
		Currency:        rec[27],
		Event:           domain.EventKind(rec[28]),
		Status:          rec[29],
		DealReference:   rec[30],
		Error:           rec[31],
		PayloadJSON:     rec[32],
	}
	return row, nil
}

func fmtFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// parseFloat tolerates blanks: fields not set for a given event kind stay
// zero rather than failing the whole scan.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
