package domain

import "time"

// MarketMetadata is the per-instrument dealing metadata needed for sizing
// and order validation, normalized from the broker's market response.
type MarketMetadata struct {
	Epic            string
	Name            string
	PointValue      float64 // currency per point per 1.0 size
	MinSize         float64
	SizeStep        float64
	MinStopDistance float64 // points
	Currency        string
	TradeableStatus string
}

// Position is one open position, normalized from the broker's position list.
type Position struct {
	DealID     string
	Epic       string
	Direction  Signal // BUY or SELL
	Size       float64
	Level      float64
	StopLevel  *float64
	LimitLevel *float64
	CreatedUTC time.Time
	Name       string
}
