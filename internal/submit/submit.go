// Package submit builds the market-order payload and transmits it, or
// classifies a dry run. Submission is send-once: a failure is terminal for
// the instrument in that run and is never retried, because an ambiguous
// outcome with a live position behind it is worse than a missed trade.
package submit

import (
	"context"
	"encoding/json"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/domain"
)

// Order constants for the OTC position endpoint.
const (
	orderTypeMarket       = "MARKET"
	timeInForceFillOrKill = "FILL_OR_KILL"
	expiryNone            = "-"
)

// Plan is a fully-sized order ready to transmit.
type Plan struct {
	Epic          string
	Direction     domain.Signal
	Size          float64
	StopDistance  float64
	LimitDistance float64
	Currency      string
}

// Outcome classifies one submission attempt.
type Outcome struct {
	// DryRun is true when the order was built but never transmitted.
	DryRun bool
	// DealReference identifies the accepted submission; empty on dry runs
	// and failures.
	DealReference string
	// PayloadJSON is the exact payload built (and possibly sent), for the
	// ledger's audit trail.
	PayloadJSON string
	// Err carries the terminal submission error, nil otherwise.
	Err error
}

// Submitter transmits orders through a broker client.
type Submitter struct {
	broker broker.Client
	live   bool
}

// New creates a submitter. When live is false every order is a dry run.
func New(b broker.Client, live bool) *Submitter {
	return &Submitter{broker: b, live: live}
}

// BuildRequest assembles the wire payload for a plan.
func BuildRequest(p Plan) *domain.OrderRequest {
	return &domain.OrderRequest{
		Epic:           p.Epic,
		Expiry:         expiryNone,
		Direction:      p.Direction,
		Size:           p.Size,
		OrderType:      orderTypeMarket,
		TimeInForce:    timeInForceFillOrKill,
		GuaranteedStop: false,
		ForceOpen:      true,
		CurrencyCode:   p.Currency,
		StopDistance:   p.StopDistance,
		LimitDistance:  p.LimitDistance,
	}
}

// Submit builds the payload and either records it as a dry run or sends it
// exactly once. The payload JSON is always populated so the ledger row can
// reproduce what would have gone (or went) over the wire.
func (s *Submitter) Submit(ctx context.Context, p Plan) Outcome {
	req := BuildRequest(p)
	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{Err: &broker.SubmissionError{Err: err}}
	}

	out := Outcome{PayloadJSON: string(payload)}
	if !s.live {
		out.DryRun = true
		return out
	}

	ref, err := s.broker.SubmitOrder(ctx, req)
	if err != nil {
		out.Err = err
		return out
	}
	out.DealReference = ref
	return out
}
