package ledger

import (
	"time"

	"cfd-trader/internal/domain"
)

// Rollups derive daily guard state from a row scan. They are pure functions
// over whatever slice the caller fetched (typically ForDate of today), so
// guard decisions can never desync from the ledger.

// OrderRows filters to order-class rows (ORDER_SENT, ORDER_DRY).
func OrderRows(rows []*domain.LedgerRow) []*domain.LedgerRow {
	var out []*domain.LedgerRow
	for _, r := range rows {
		if r.Event.IsOrderClass() {
			out = append(out, r)
		}
	}
	return out
}

// CountOrders counts order-class rows.
func CountOrders(rows []*domain.LedgerRow) int {
	return len(OrderRows(rows))
}

// CountOrdersForInstrument counts order-class rows for one instrument.
func CountOrdersForInstrument(rows []*domain.LedgerRow, instrument string) int {
	n := 0
	for _, r := range OrderRows(rows) {
		if r.Instrument == instrument {
			n++
		}
	}
	return n
}

// LastOrderTime returns the most recent order-class row time for the
// instrument; ok is false when no such row exists.
func LastOrderTime(rows []*domain.LedgerRow, instrument string) (last time.Time, ok bool) {
	for _, r := range OrderRows(rows) {
		if r.Instrument != instrument {
			continue
		}
		if !ok || r.Time.After(last) {
			last = r.Time
			ok = true
		}
	}
	return last, ok
}

// CommittedRisk sums the effective risk of order-class rows across all
// instruments.
func CommittedRisk(rows []*domain.LedgerRow) float64 {
	var total float64
	for _, r := range OrderRows(rows) {
		total += r.EffectiveRisk
	}
	return total
}

// SentOrders filters to ORDER_SENT rows.
func SentOrders(rows []*domain.LedgerRow) []*domain.LedgerRow {
	var out []*domain.LedgerRow
	for _, r := range rows {
		if r.Event == domain.EventOrderSent {
			out = append(out, r)
		}
	}
	return out
}

// PendingConfirmations builds the reconciler's work list from a run's rows:
// one pending entry per ORDER_SENT row.
func PendingConfirmations(rows []*domain.LedgerRow) []domain.PendingConfirmation {
	var out []domain.PendingConfirmation
	for _, r := range SentOrders(rows) {
		out = append(out, domain.PendingConfirmation{
			RunID:         r.RunID,
			DealReference: r.DealReference,
			Epic:          r.Epic,
			Instrument:    r.Instrument,
			Direction:     r.Signal,
			SizeHint:      r.SizeFinal,
		})
	}
	return out
}
