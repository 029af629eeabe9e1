// Package indicator computes the technical signal: SMA(20), RSI(14) with
// Wilder smoothing, and the BUY/SELL/HOLD rule over both.
package indicator

import "cfd-trader/internal/domain"

// Default indicator parameters.
const (
	DefaultSMAPeriod  = 20
	DefaultRSIPeriod  = 14
	DefaultWarmupBars = 20
	DefaultRSIBuyMin  = 55.0
	DefaultRSISellMax = 45.0
)

// Config holds indicator periods and signal thresholds.
type Config struct {
	SMAPeriod  int
	RSIPeriod  int
	WarmupBars int
	RSIBuyMin  float64
	RSISellMax float64
}

// DefaultConfig returns the standard SMA(20)/RSI(14) configuration.
func DefaultConfig() Config {
	return Config{
		SMAPeriod:  DefaultSMAPeriod,
		RSIPeriod:  DefaultRSIPeriod,
		WarmupBars: DefaultWarmupBars,
		RSIBuyMin:  DefaultRSIBuyMin,
		RSISellMax: DefaultRSISellMax,
	}
}

// SMA returns the trailing n-bar arithmetic mean of close at the latest bar,
// or nil while fewer than n bars have been observed.
func SMA(bars []domain.Bar, n int) *float64 {
	if n <= 0 || len(bars) < n {
		return nil
	}
	var sum float64
	for _, b := range bars[len(bars)-n:] {
		sum += b.Close
	}
	v := sum / float64(n)
	return &v
}

// RSI returns the n-period relative strength index at the latest bar using
// Wilder smoothing (EMA of up- and down-moves with factor 1/n), or nil while
// fewer than n+1 bars have been observed. A zero average down-move resolves
// to 100, never to NaN.
func RSI(bars []domain.Bar, n int) *float64 {
	if n <= 0 || len(bars) < n+1 {
		return nil
	}

	var avgUp, avgDown float64
	for i := 1; i < len(bars); i++ {
		d := bars[i].Close - bars[i-1].Close
		var up, down float64
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		if i <= n {
			avgUp += up
			avgDown += down
			if i == n {
				avgUp /= float64(n)
				avgDown /= float64(n)
			}
			continue
		}
		avgUp = (avgUp*float64(n-1) + up) / float64(n)
		avgDown = (avgDown*float64(n-1) + down) / float64(n)
	}

	var v float64
	if avgDown == 0 {
		v = 100.0
	} else {
		rs := avgUp / avgDown
		v = 100.0 - 100.0/(1.0+rs)
	}
	return &v
}

// Snapshot computes the indicator values at the latest bar.
func Snapshot(bars []domain.Bar, cfg Config) domain.IndicatorSnapshot {
	snap := domain.IndicatorSnapshot{
		SMA20: SMA(bars, cfg.SMAPeriod),
		RSI14: RSI(bars, cfg.RSIPeriod),
	}
	if len(bars) > 0 {
		snap.Close = bars[len(bars)-1].Close
	}
	return snap
}

// Rule applies the threshold rule to a computed snapshot: BUY when close is
// above SMA with RSI at or above the buy threshold, SELL when close is below
// SMA with RSI at or below the sell threshold, HOLD otherwise or while either
// indicator is undefined.
func Rule(snap domain.IndicatorSnapshot, cfg Config) domain.Signal {
	if snap.SMA20 == nil || snap.RSI14 == nil {
		return domain.SignalHold
	}
	switch {
	case snap.Close > *snap.SMA20 && *snap.RSI14 >= cfg.RSIBuyMin:
		return domain.SignalBuy
	case snap.Close < *snap.SMA20 && *snap.RSI14 <= cfg.RSISellMax:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}

// Evaluate derives the signal from a bar sequence; HOLD until the warmup
// window is filled.
func Evaluate(bars []domain.Bar, cfg Config) (domain.Signal, domain.IndicatorSnapshot) {
	snap := Snapshot(bars, cfg)
	if len(bars) < cfg.WarmupBars {
		return domain.SignalHold, snap
	}
	return Rule(snap, cfg), snap
}
