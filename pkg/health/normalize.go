package health

import (
	"fmt"
	"math"
)

// Rank interpolates the percentile rank of a value against a snapshot's stored
// breakpoints, in [0,1]. Values at or below the historical minimum rank 0,
// at or above the maximum rank 1, and values exactly at a stored breakpoint
// map to that breakpoint's canonical rank.
func Rank(value float64, s Snapshot) float64 {
	if s.Max <= s.Min {
		// Degenerate history: every observation was identical.
		return 0.5
	}
	if value <= s.Min {
		return 0
	}
	if value >= s.Max {
		return 1
	}

	breaks := []struct {
		value float64
		rank  float64
	}{
		{s.Min, 0},
		{s.P10, 0.10},
		{s.P25, 0.25},
		{s.P50, 0.50},
		{s.P75, 0.75},
		{s.P90, 0.90},
		{s.Max, 1},
	}

	for i := 1; i < len(breaks); i++ {
		hi := breaks[i]
		if value > hi.value {
			continue
		}
		lo := breaks[i-1]
		if hi.value == lo.value {
			// Tied breakpoints collapse onto the canonical rank.
			return hi.rank
		}
		return lo.rank + (hi.rank-lo.rank)*(value-lo.value)/(hi.value-lo.value)
	}
	return 1
}

// ScoreValue maps a raw metric value to a 0-100 score given its definition
// and percentile context. The snapshot may be nil for target_band metrics,
// which score purely on distance from the band midpoint. Returns
// ErrInvalidMetricValue for non-finite input; never returns NaN or a value
// outside [0,100].
func ScoreValue(value float64, def MetricDef, snap *Snapshot) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%s: value %v: %w", def.ID, value, ErrInvalidMetricValue)
	}

	switch def.Direction {
	case TargetBand:
		if def.TargetMin == nil || def.TargetMax == nil {
			return 0, fmt.Errorf("%s: target_band without bounds: %w", def.ID, ErrMissingDefinition)
		}
		return clamp(bandScore(value, *def.TargetMin, *def.TargetMax)), nil

	case HigherBetter, LowerBetter:
		if snap == nil {
			return 0, fmt.Errorf("%s: no percentile context: %w", def.ID, ErrInsufficientData)
		}
		rank := Rank(value, *snap)
		if def.Direction == LowerBetter {
			rank = 1 - rank
		}
		return clamp(rank * 100), nil

	default:
		return 0, fmt.Errorf("%s: unknown direction %q: %w", def.ID, def.Direction, ErrMissingDefinition)
	}
}

// bandScore is 100 at the band midpoint, falls linearly to 0 at either bound,
// and is 0 beyond the band.
func bandScore(value, min, max float64) float64 {
	if value <= min || value >= max {
		return 0
	}
	mid := (min + max) / 2
	half := (max - min) / 2
	return 100 * (1 - math.Abs(value-mid)/half)
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
