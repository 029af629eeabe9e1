// Package memory provides an in-memory ledger store for tests and offline
// pipeline runs.
package memory

import (
	"context"
	"sync"

	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
)

// Store is an in-memory implementation of ledger.Store.
type Store struct {
	mu   sync.RWMutex
	rows []*domain.LedgerRow
}

// NewStore creates a new in-memory ledger store.
func NewStore() *Store {
	return &Store{}
}

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// Append adds one row.
func (s *Store) Append(_ context.Context, row *domain.LedgerRow) error {
	if row == nil || row.RunID == "" || row.Event == "" {
		return ledger.ErrInvalidRow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *row
	s.rows = append(s.rows, &copied)
	return nil
}

// All retrieves every row in append order.
func (s *Store) All(_ context.Context) ([]*domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(*domain.LedgerRow) bool { return true }), nil
}

// ForDate retrieves rows on the given UTC day in append order.
func (s *Store) ForDate(_ context.Context, date string) ([]*domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(r *domain.LedgerRow) bool {
		return ledger.DateKey(r.Time) == date
	}), nil
}

// ForRun retrieves rows with the given run id in append order.
func (s *Store) ForRun(_ context.Context, runID string) ([]*domain.LedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(r *domain.LedgerRow) bool {
		return r.RunID == runID
	}), nil
}

// filter copies matching rows so callers cannot mutate stored state.
func (s *Store) filter(keep func(*domain.LedgerRow) bool) []*domain.LedgerRow {
	var out []*domain.LedgerRow
	for _, r := range s.rows {
		if keep(r) {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out
}
