// Package stub provides an in-memory broker for tests and offline runs.
package stub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/domain"
)

// Client implements broker.Client from seeded in-memory data. Zero values
// behave like an empty but healthy account; set the *Err fields to inject
// failures per operation.
type Client struct {
	Bars          map[string][]domain.Bar
	Markets       map[string]*domain.MarketMetadata
	Positions     []domain.Position
	Balance       float64
	Confirmations map[string]*domain.Confirmation

	BarsErr      error
	MarketErr    error
	PositionsErr error
	BalanceErr   error
	SubmitErr    error
	ConfirmErr   error

	// AutoConfirm registers an ACCEPTED confirmation for every submitted
	// order so reconciliation resolves on the first poll.
	AutoConfirm bool

	// Submitted records every order in submission order.
	Submitted []*domain.OrderRequest
	// LastDealReference is the reference returned by the latest submission.
	LastDealReference string
}

var _ broker.Client = (*Client)(nil)

// New creates an empty stub broker.
func New() *Client {
	return &Client{
		Bars:          make(map[string][]domain.Bar),
		Markets:       make(map[string]*domain.MarketMetadata),
		Confirmations: make(map[string]*domain.Confirmation),
	}
}

// AddBars seeds candles for an epic.
func (c *Client) AddBars(epic string, bars []domain.Bar) {
	c.Bars[epic] = bars
}

// AddMarket seeds dealing metadata for an epic.
func (c *Client) AddMarket(md *domain.MarketMetadata) {
	c.Markets[md.Epic] = md
}

// AddPosition seeds an open position.
func (c *Client) AddPosition(p domain.Position) {
	c.Positions = append(c.Positions, p)
}

// AddConfirmation seeds a confirmation for a deal reference.
func (c *Client) AddConfirmation(dealReference string, conf *domain.Confirmation) {
	c.Confirmations[dealReference] = conf
}

// GetBars returns the seeded candles for the epic.
func (c *Client) GetBars(_ context.Context, epic, _ string, max int) ([]domain.Bar, error) {
	if c.BarsErr != nil {
		return nil, &broker.MarketDataError{Op: "prices", Err: c.BarsErr}
	}
	bars, ok := c.Bars[epic]
	if !ok {
		return nil, &broker.MarketDataError{Op: "prices", Err: fmt.Errorf("no bars seeded for %s", epic)}
	}
	if max > 0 && max < len(bars) {
		bars = bars[len(bars)-max:]
	}
	return bars, nil
}

// GetMarketMetadata returns the seeded metadata for the epic.
func (c *Client) GetMarketMetadata(_ context.Context, epic string) (*domain.MarketMetadata, error) {
	if c.MarketErr != nil {
		return nil, &broker.MarketDataError{Op: "markets", Err: c.MarketErr}
	}
	md, ok := c.Markets[epic]
	if !ok {
		return nil, &broker.MarketDataError{Op: "markets", Err: fmt.Errorf("no market seeded for %s", epic)}
	}
	return md, nil
}

// GetOpenPositions lists the seeded positions.
func (c *Client) GetOpenPositions(_ context.Context) ([]domain.Position, error) {
	if c.PositionsErr != nil {
		return nil, fmt.Errorf("open positions: %w", broker.ErrUnavailable)
	}
	out := make([]domain.Position, len(c.Positions))
	copy(out, c.Positions)
	return out, nil
}

// GetAccountBalance returns the seeded balance.
func (c *Client) GetAccountBalance(_ context.Context) (float64, error) {
	if c.BalanceErr != nil {
		return 0, fmt.Errorf("account balance: %w", broker.ErrUnavailable)
	}
	return c.Balance, nil
}

// SubmitOrder records the order and returns a fresh deal reference.
func (c *Client) SubmitOrder(_ context.Context, order *domain.OrderRequest) (string, error) {
	if c.SubmitErr != nil {
		var subErr *broker.SubmissionError
		if errors.As(c.SubmitErr, &subErr) {
			return "", c.SubmitErr
		}
		return "", &broker.SubmissionError{Err: c.SubmitErr}
	}
	ref := "STUB-" + uuid.NewString()
	c.Submitted = append(c.Submitted, order)
	c.LastDealReference = ref
	if c.AutoConfirm {
		c.Confirmations[ref] = &domain.Confirmation{
			DealID:        "DI-" + uuid.NewString(),
			DealReference: ref,
			DealStatus:    "ACCEPTED",
			Status:        "OPEN",
		}
	}
	return ref, nil
}

// GetConfirmation returns the seeded confirmation, or an unresolved empty
// confirmation when none exists for the reference.
func (c *Client) GetConfirmation(_ context.Context, dealReference string) (*domain.Confirmation, error) {
	if c.ConfirmErr != nil {
		return nil, c.ConfirmErr
	}
	if conf, ok := c.Confirmations[dealReference]; ok {
		return conf, nil
	}
	return &domain.Confirmation{DealReference: dealReference}, nil
}
