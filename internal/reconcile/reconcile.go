// Package reconcile resolves submitted orders against broker confirmations.
// Submission is asynchronous: the deal reference returned by the order
// endpoint says nothing about the fill. The reconciler polls the
// confirmation endpoint with a bounded retry, falls back to heuristic
// matching against open positions, and appends the outcome to the ledger
// as a new row; ORDER_SENT rows are never modified.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cfd-trader/internal/broker"
	"cfd-trader/internal/domain"
	"cfd-trader/internal/ledger"
	"cfd-trader/internal/retry"
)

// ErrUnresolved marks a confirmation poll that answered without
// identifying a deal.
var ErrUnresolved = errors.New("confirmation not resolved")

// DefaultPolicy is the confirmation poll budget.
var DefaultPolicy = retry.Fixed{Count: 6, Wait: 800 * time.Millisecond}

// Options configures the Reconciler.
type Options struct {
	Ledger ledger.Store
	Broker broker.Client
	Policy retry.Policy
	Env    string
	Live   bool
	Now    func() time.Time
	Logger zerolog.Logger
}

// Reconciler enriches a run's ORDER_SENT rows with confirmation outcomes.
type Reconciler struct {
	store  ledger.Store
	broker broker.Client
	policy retry.Policy
	env    string
	live   bool
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		store:  opts.Ledger,
		broker: opts.Broker,
		policy: opts.Policy,
		env:    opts.Env,
		live:   opts.Live,
		now:    opts.Now,
		log:    opts.Logger,
	}
}

// Result counts the outcomes of one reconciliation pass.
type Result struct {
	Confirmed int
	Fallback  int
	Failed    int
}

// Run reconciles every ORDER_SENT row of the given run. An empty runID
// selects the most recent run that submitted orders. Open positions are
// fetched at most once per pass and only when the fallback is needed.
func (r *Reconciler) Run(ctx context.Context, runID string) (*Result, error) {
	if runID == "" {
		rows, err := r.store.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		runID = LatestRunID(rows)
		if runID == "" {
			return &Result{}, nil
		}
	}

	rows, err := r.store.ForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("scan run %s: %w", runID, err)
	}
	pending := ledger.PendingConfirmations(rows)

	res := &Result{}
	var positions []domain.Position
	positionsLoaded := false

	for _, p := range pending {
		conf, confirmErr := r.confirm(ctx, p.DealReference)
		if confirmErr == nil {
			r.appendOutcome(ctx, p, domain.EventConfirmOK, confirmStatus(conf), "", conf)
			res.Confirmed++
			continue
		}
		r.log.Warn().
			Str("deal_reference", p.DealReference).
			Err(confirmErr).
			Msg("confirmation polling exhausted, trying position fallback")

		if !positionsLoaded {
			positionsLoaded = true
			positions, err = r.broker.GetOpenPositions(ctx)
			if err != nil {
				r.log.Warn().Err(err).Msg("positions unavailable for fallback")
				positions = nil
			}
		}

		if match := Match(positions, p.Epic, p.Direction, p.SizeHint); match != nil {
			r.appendOutcome(ctx, p, domain.EventConfirmFallbackOK, "from_positions", "", match)
			res.Fallback++
			continue
		}

		r.appendOutcome(ctx, p, domain.EventConfirmFail, "not_found", confirmErr.Error(), nil)
		res.Failed++
	}

	return res, nil
}

// confirm polls until the broker identifies the deal or the policy is
// exhausted.
func (r *Reconciler) confirm(ctx context.Context, dealReference string) (*domain.Confirmation, error) {
	var conf *domain.Confirmation
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		c, err := r.broker.GetConfirmation(ctx, dealReference)
		if err != nil {
			return err
		}
		if !c.Resolved() {
			return ErrUnresolved
		}
		conf = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func (r *Reconciler) appendOutcome(ctx context.Context, p domain.PendingConfirmation, event domain.EventKind, status, errMsg string, payload any) {
	row := &domain.LedgerRow{
		Time:          r.now().UTC(),
		RunID:         p.RunID,
		Env:           r.env,
		Live:          r.live,
		Instrument:    p.Instrument,
		Epic:          p.Epic,
		Signal:        p.Direction,
		Event:         event,
		Status:        status,
		DealReference: p.DealReference,
		Error:         errMsg,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			row.PayloadJSON = string(data)
		}
	}
	if err := r.store.Append(ctx, row); err != nil {
		r.log.Error().Err(err).Str("deal_reference", p.DealReference).Msg("append reconcile outcome failed")
	}
}

func confirmStatus(conf *domain.Confirmation) string {
	if conf.DealStatus != "" {
		return conf.DealStatus
	}
	return "ok"
}

// LatestRunID returns the most recent run id carrying an ORDER_SENT row.
// Run ids sort chronologically by construction (UTC compact timestamps).
func LatestRunID(rows []*domain.LedgerRow) string {
	latest := ""
	for _, row := range ledger.SentOrders(rows) {
		if row.RunID > latest {
			latest = row.RunID
		}
	}
	return latest
}

// Match picks the open position most likely created by the submission:
// same epic and direction, then closest size to the hint, or the most
// recently created when no size hint is available.
func Match(positions []domain.Position, epic string, direction domain.Signal, sizeHint float64) *domain.Position {
	var cands []domain.Position
	for _, p := range positions {
		if p.Epic == epic && p.Direction == direction {
			cands = append(cands, p)
		}
	}
	if len(cands) == 0 {
		return nil
	}

	best := cands[0]
	if sizeHint > 0 {
		for _, c := range cands[1:] {
			if sizeDiff(c.Size, sizeHint) < sizeDiff(best.Size, sizeHint) {
				best = c
			}
		}
	} else {
		for _, c := range cands[1:] {
			if c.CreatedUTC.After(best.CreatedUTC) {
				best = c
			}
		}
	}
	return &best
}

func sizeDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
