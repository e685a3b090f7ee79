package health

import (
	"fmt"
	"math"
	"sort"

	"github.com/btcpulse/btcpulse/pkg/source"
)

// Snapshot holds the rolling-window percentile breakpoints for one metric as
// of a timestamp. Derived data, recomputable from sample history.
type Snapshot struct {
	MetricID   string  `db:"metric_id" json:"metric_id"`
	WindowDays int     `db:"window_days" json:"window_days"`
	TS         int64   `db:"ts" json:"ts"`
	P10        float64 `db:"p10" json:"p10"`
	P25        float64 `db:"p25" json:"p25"`
	P50        float64 `db:"p50" json:"p50"`
	P75        float64 `db:"p75" json:"p75"`
	P90        float64 `db:"p90" json:"p90"`
	Min        float64 `db:"min_val" json:"min"`
	Max        float64 `db:"max_val" json:"max"`
}

// PercentileEngine computes rolling-window percentile snapshots. A primary
// window is preferred; when it holds fewer than MinSamples samples the engine
// falls back to the shorter window.
type PercentileEngine struct {
	WindowDays   int // primary window, default 365
	FallbackDays int // fallback window, default 90
	MinSamples   int // minimum samples before falling back, default 30
}

// NewPercentileEngine returns an engine with the default windows.
func NewPercentileEngine() PercentileEngine {
	return PercentileEngine{WindowDays: 365, FallbackDays: 90, MinSamples: 30}
}

const secondsPerDay = 86400

// Compute builds a percentile snapshot for one metric from its sample history
// as of the given timestamp. history may contain samples outside the primary
// window; they are ignored. Returns ErrInsufficientData when even the fallback
// window holds no samples. Pure: no side effects, the caller persists.
func (e PercentileEngine) Compute(metricID string, asOf int64, history []source.Sample) (Snapshot, error) {
	primary := windowValues(history, asOf, e.WindowDays)
	values, windowDays := primary, e.WindowDays

	if len(primary) < e.MinSamples {
		values, windowDays = windowValues(history, asOf, e.FallbackDays), e.FallbackDays
	}
	if len(values) == 0 {
		return Snapshot{}, fmt.Errorf("%s: %w", metricID, ErrInsufficientData)
	}

	sort.Float64s(values)
	return Snapshot{
		MetricID:   metricID,
		WindowDays: windowDays,
		TS:         asOf,
		P10:        quantile(values, 0.10),
		P25:        quantile(values, 0.25),
		P50:        quantile(values, 0.50),
		P75:        quantile(values, 0.75),
		P90:        quantile(values, 0.90),
		Min:        values[0],
		Max:        values[len(values)-1],
	}, nil
}

func windowValues(history []source.Sample, asOf int64, days int) []float64 {
	cutoff := asOf - int64(days)*secondsPerDay
	var values []float64
	for _, s := range history {
		if s.TS >= cutoff && s.TS <= asOf && !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0) {
			values = append(values, s.Value)
		}
	}
	return values
}

// quantile computes the p-quantile of sorted values using linear interpolation
// between order statistics (the R-7 method).
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
