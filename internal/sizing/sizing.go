// Package sizing converts a per-trade risk budget into a dealable position
// size using the instrument's dealing metadata.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"cfd-trader/internal/domain"
)

// ErrPointValue is returned when the instrument metadata carries no usable
// point value; sizing cannot proceed without one.
var ErrPointValue = errors.New("point value must be positive")

// ErrStopPoints is returned for a non-positive stop distance.
var ErrStopPoints = errors.New("stop distance must be positive")

// RoundingMode selects how a raw size aligns to the instrument's size step.
type RoundingMode string

const (
	RoundDown    RoundingMode = "down" // conservative default
	RoundNearest RoundingMode = "nearest"
	RoundUp      RoundingMode = "up"
)

// ClampStop raises a stop distance to the instrument minimum.
func ClampStop(stopPoints, minStop float64) float64 {
	if minStop > 0 && stopPoints < minStop {
		return minStop
	}
	return stopPoints
}

// Compute sizes a position so that stopPoints of adverse movement loses at
// most risk, then aligns the result to the instrument's step and floors it
// to the minimum deal size. EffectiveRisk reports the loss the final size
// actually carries; the minimum-size floor can push it above the request,
// and callers must surface that rather than hide it.
func Compute(risk, stopPoints float64, md *domain.MarketMetadata, mode RoundingMode) (*domain.SizingResult, error) {
	if md.PointValue <= 0 {
		return nil, fmt.Errorf("%s: %w", md.Epic, ErrPointValue)
	}
	if stopPoints <= 0 {
		return nil, fmt.Errorf("%s: %w", md.Epic, ErrStopPoints)
	}

	raw := risk / (stopPoints * md.PointValue)
	size := snap(raw, md.SizeStep, mode)
	if size < md.MinSize {
		size = md.MinSize
	}

	return &domain.SizingResult{
		SizeRaw:       raw,
		SizeFinal:     size,
		ValuePerPoint: md.PointValue,
		EffectiveRisk: size * stopPoints * md.PointValue,
	}, nil
}

func snap(value, step float64, mode RoundingMode) float64 {
	if step <= 0 {
		return value
	}
	k := value / step
	switch mode {
	case RoundUp:
		return math.Ceil(k) * step
	case RoundNearest:
		return math.Round(k) * step
	default:
		return math.Floor(k) * step
	}
}
