package domain

import "time"

// Bar is one OHLCV sample for an instrument at a given resolution.
// Bars arrive ordered by time, strictly increasing, no duplicates;
// the broker adapter enforces that ordering at its boundary.
type Bar struct {
	Time   time.Time // bar timestamp, UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Supported price resolutions (broker naming).
const (
	ResolutionMinute   = "MINUTE"
	ResolutionMinute5  = "MINUTE_5"
	ResolutionMinute15 = "MINUTE_15"
	ResolutionHour     = "HOUR"
	ResolutionDay      = "DAY"
)
