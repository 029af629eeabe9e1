// Package broker defines the dealing-API surface the pipeline consumes and
// the error vocabulary for its failure modes. Implementations normalize
// whatever the wire returns into the fixed domain structures; ambiguous
// shapes never propagate inward.
package broker

import (
	"context"
	"errors"
	"fmt"

	"cfd-trader/internal/domain"
)

// ErrUnavailable is returned by lookups whose unavailability has a
// documented policy at the call site (account balance for the loss limit,
// open positions for the concurrency cap).
var ErrUnavailable = errors.New("broker data unavailable")

// MarketDataError marks a broker response that could not be fetched or
// normalized into the domain structures. Per-instrument: the pipeline logs
// an ERROR row and moves on.
type MarketDataError struct {
	Op  string // the failing operation, e.g. "prices", "markets"
	Err error
}

func (e *MarketDataError) Error() string {
	return fmt.Sprintf("market data %s: %v", e.Op, e.Err)
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// SubmissionError marks a failed order transmission. Terminal for the
// instrument in the current run; never retried.
type SubmissionError struct {
	StatusCode int // HTTP status when applicable, 0 otherwise
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("order submission failed: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("order submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Client is the broker contract consumed by the pipeline core.
type Client interface {
	// GetBars returns up to max bars for the epic at the given resolution,
	// ordered by time ascending.
	GetBars(ctx context.Context, epic, resolution string, max int) ([]domain.Bar, error)

	// GetMarketMetadata returns dealing metadata for the epic.
	GetMarketMetadata(ctx context.Context, epic string) (*domain.MarketMetadata, error)

	// GetOpenPositions lists currently open positions.
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccountBalance returns the current account balance, or
	// ErrUnavailable when it cannot be determined.
	GetAccountBalance(ctx context.Context) (float64, error)

	// SubmitOrder transmits a market order and returns the broker's deal
	// reference. A SubmissionError is terminal; callers must not retry.
	SubmitOrder(ctx context.Context, req *domain.OrderRequest) (string, error)

	// GetConfirmation polls the confirmation for a deal reference.
	GetConfirmation(ctx context.Context, dealReference string) (*domain.Confirmation, error)
}
