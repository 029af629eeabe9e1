package domain

// Signal is the direction decision produced by the indicator engine.
// BUY and SELL double as order directions on the dealing API.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// IndicatorSnapshot holds the indicator values at the latest bar.
// SMA20 and RSI14 are nil while the corresponding window is still warming up.
type IndicatorSnapshot struct {
	Close float64
	SMA20 *float64
	RSI14 *float64
}
