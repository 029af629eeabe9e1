// Package ledger defines the append-only trade ledger: the sole source of
// historical state. Every pipeline event is one immutable row; all "today"
// quantities are derived by re-scanning rows, never cached.
package ledger

import (
	"context"
	"errors"
	"time"

	"cfd-trader/internal/domain"
)

// Ledger errors.
var (
	// ErrInvalidRow is returned when a row fails validation before append.
	ErrInvalidRow = errors.New("invalid ledger row")
)

// Store is an append-only event log. There is no update and no delete;
// reads are full scans filtered by UTC date, run id, or event kind.
type Store interface {
	// Append writes one row atomically. A row is either fully written
	// or not written at all.
	Append(ctx context.Context, row *domain.LedgerRow) error

	// All retrieves every row in append order.
	All(ctx context.Context) ([]*domain.LedgerRow, error)

	// ForDate retrieves rows whose timestamp falls on the given UTC day
	// (date formatted YYYY-MM-DD), in append order.
	ForDate(ctx context.Context, date string) ([]*domain.LedgerRow, error)

	// ForRun retrieves rows with the given run id, in append order.
	ForRun(ctx context.Context, runID string) ([]*domain.LedgerRow, error)
}

// DateKey formats a timestamp as the UTC day key used for daily rollups.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
