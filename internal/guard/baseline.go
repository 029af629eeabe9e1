package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cfd-trader/internal/domain"
)

// BaselineStore persists the first-seen account balance of each UTC day.
// The daily loss limit compares the live balance against that snapshot, so
// the file is written once on the first evaluation of the day and only read
// afterwards. A corrupt existing file degrades to the current balance
// (no loss yet) instead of blocking the run.
type BaselineStore struct {
	dir string
}

// NewBaselineStore creates a store rooted at dir (typically the logs
// directory next to the ledger file).
func NewBaselineStore(dir string) *BaselineStore {
	return &BaselineStore{dir: dir}
}

// Path returns the baseline file path for a UTC day key.
func (s *BaselineStore) Path(date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("pnl_baseline_%s.json", date))
}

// Ensure returns the day's baseline balance, creating the snapshot from
// current on the first call of the day.
func (s *BaselineStore) Ensure(date string, current float64, now time.Time) (float64, error) {
	path := s.Path(date)

	data, err := os.ReadFile(path)
	if err == nil {
		var b domain.BalanceBaseline
		if jsonErr := json.Unmarshal(data, &b); jsonErr != nil {
			return current, nil
		}
		return b.BaselineBalance, nil
	}
	if !os.IsNotExist(err) {
		return 0, fmt.Errorf("read baseline %s: %w", path, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create baseline dir: %w", err)
	}
	b := domain.BalanceBaseline{
		Date:            date,
		BaselineBalance: current,
		CreatedUTC:      now.UTC(),
	}
	data, err = json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write baseline %s: %w", path, err)
	}
	return current, nil
}
