package domain

import "time"

// EventKind classifies a ledger row.
type EventKind string

const (
	EventSignal            EventKind = "SIGNAL"
	EventNoOrder           EventKind = "NO_ORDER"
	EventOrderDry          EventKind = "ORDER_DRY"
	EventOrderSent         EventKind = "ORDER_SENT"
	EventOrderFail         EventKind = "ORDER_FAIL"
	EventError             EventKind = "ERROR"
	EventConfirmOK         EventKind = "CONFIRM_OK"
	EventConfirmFallbackOK EventKind = "CONFIRM_FALLBACK_OK"
	EventConfirmFail       EventKind = "CONFIRM_FAIL"
)

// IsOrderClass reports whether the kind counts against order caps
// (daily per-instrument cap, cooldown, committed risk).
func (k EventKind) IsOrderClass() bool {
	return k == EventOrderSent || k == EventOrderDry
}

// LedgerRow is one immutable pipeline event. Rows are append-only; a later
// event about the same order (a confirmation, say) is a new row, never an
// update. All derived daily state is computed by scanning rows whose Time
// falls on the current UTC day.
type LedgerRow struct {
	Time       time.Time // event timestamp, UTC
	RunID      string
	Env        string // DEMO or LIVE account environment
	Live       bool   // true when orders were actually transmitted
	Instrument string // display name used for per-instrument rollups
	Epic       string // broker instrument identifier
	Resolution string

	CandleCount int
	WarmupBars  int

	Signal Signal
	Close  *float64
	SMA20  *float64
	RSI14  *float64

	SentimentLabel  string
	SentimentScore  *float64
	SentimentReason string

	GuardReason    string // preflight phase reason code
	GuardMetaJSON  string
	Guard2Reason   string // postsize phase reason code
	Guard2MetaJSON string

	RiskAmount    float64
	StopPoints    float64
	LimitPoints   float64
	ValuePerPoint float64
	SizeRaw       float64
	SizeFinal     float64
	EffectiveRisk float64
	Currency      string

	Event         EventKind
	Status        string
	DealReference string
	Error         string
	PayloadJSON   string
}

// BalanceBaseline is the once-per-day account balance snapshot used by the
// daily loss limit. Created on the first loss-limit evaluation of the day,
// read-only afterwards.
type BalanceBaseline struct {
	Date            string    // YYYY-MM-DD, UTC
	BaselineBalance float64   `json:"baseline_balance"`
	CreatedUTC      time.Time `json:"created_utc"`
}
