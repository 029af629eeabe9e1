package domain

// OrderRequest is the market order payload sent to the dealing API.
// Field names and constants follow the broker's OTC position endpoint.
type OrderRequest struct {
	Epic           string  `json:"epic"`
	Expiry         string  `json:"expiry"`
	Direction      Signal  `json:"direction"`
	Size           float64 `json:"size"`
	OrderType      string  `json:"orderType"`
	TimeInForce    string  `json:"timeInForce"`
	GuaranteedStop bool    `json:"guaranteedStop"`
	ForceOpen      bool    `json:"forceOpen"`
	CurrencyCode   string  `json:"currencyCode"`
	StopDistance   float64 `json:"stopDistance"`
	LimitDistance  float64 `json:"limitDistance"`
}

// SizingResult reports how a risk budget was converted into an order size.
// EffectiveRisk may exceed the requested risk when the minimum deal size
// forces the position up; callers must surface that, never hide it.
type SizingResult struct {
	SizeRaw       float64
	SizeFinal     float64
	ValuePerPoint float64
	EffectiveRisk float64
}

// Confirmation is the broker's answer for a submitted deal reference.
// A confirmation counts as resolved only when DealID or DealStatus is set.
type Confirmation struct {
	DealID        string   `json:"dealId"`
	DealReference string   `json:"dealReference"`
	DealStatus    string   `json:"dealStatus"`
	Reason        string   `json:"reason"`
	Status        string   `json:"status"`
	Level         *float64 `json:"level"`
	Size          *float64 `json:"size"`
	StopLevel     *float64 `json:"stopLevel"`
	LimitLevel    *float64 `json:"limitLevel"`
}

// Resolved reports whether the confirmation actually identifies a deal.
func (c *Confirmation) Resolved() bool {
	return c != nil && (c.DealID != "" || c.DealStatus != "")
}

// PendingConfirmation is one submitted order awaiting reconciliation,
// reconstructed from an ORDER_SENT ledger row.
type PendingConfirmation struct {
	RunID         string
	DealReference string
	Epic          string
	Instrument    string
	Direction     Signal
	SizeHint      float64 // 0 when the submitted size is unknown
}
