package health

import (
	"errors"
	"math"
	"testing"

	"github.com/btcpulse/btcpulse/pkg/source"
)

func dailySamples(metricID string, asOf int64, values []float64) []source.Sample {
	samples := make([]source.Sample, len(values))
	for i, v := range values {
		samples[i] = source.Sample{
			MetricID: metricID,
			TS:       asOf - int64(len(values)-1-i)*secondsPerDay,
			Value:    v,
		}
	}
	return samples
}

func TestComputePercentiles(t *testing.T) {
	asOf := int64(1_700_000_000)
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}

	engine := NewPercentileEngine()
	snap, err := engine.Compute("m", asOf, dailySamples("m", asOf, values))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if snap.Min != 1 || snap.Max != 100 {
		t.Errorf("min/max = %v/%v, want 1/100", snap.Min, snap.Max)
	}
	// Linear interpolation over 100 sorted values.
	if math.Abs(snap.P50-50.5) > 1e-9 {
		t.Errorf("p50 = %v, want 50.5", snap.P50)
	}
	if math.Abs(snap.P10-10.9) > 1e-9 {
		t.Errorf("p10 = %v, want 10.9", snap.P10)
	}
	if math.Abs(snap.P90-90.1) > 1e-9 {
		t.Errorf("p90 = %v, want 90.1", snap.P90)
	}
	if snap.WindowDays != 365 {
		t.Errorf("window = %d, want 365", snap.WindowDays)
	}
}

func TestComputeFallbackWindow(t *testing.T) {
	asOf := int64(1_700_000_000)
	values := []float64{5, 6, 7, 8, 9}

	engine := NewPercentileEngine()
	snap, err := engine.Compute("m", asOf, dailySamples("m", asOf, values))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if snap.WindowDays != 90 {
		t.Errorf("window = %d, want fallback 90", snap.WindowDays)
	}
	if snap.Min != 5 || snap.Max != 9 || snap.P50 != 7 {
		t.Errorf("unexpected breakpoints: %+v", snap)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	engine := NewPercentileEngine()

	_, err := engine.Compute("m", 1_700_000_000, nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}

	// Samples entirely outside the fallback window also count as empty.
	asOf := int64(1_700_000_000)
	old := []source.Sample{{MetricID: "m", TS: asOf - 400*secondsPerDay, Value: 1}}
	_, err = engine.Compute("m", asOf, old)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData for stale history", err)
	}
}

func TestComputeIgnoresNonFinite(t *testing.T) {
	asOf := int64(1_700_000_000)
	samples := []source.Sample{
		{MetricID: "m", TS: asOf - secondsPerDay, Value: math.NaN()},
		{MetricID: "m", TS: asOf - 2*secondsPerDay, Value: math.Inf(1)},
		{MetricID: "m", TS: asOf, Value: 42},
	}

	engine := NewPercentileEngine()
	snap, err := engine.Compute("m", asOf, samples)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if snap.Min != 42 || snap.Max != 42 {
		t.Errorf("non-finite values leaked into snapshot: %+v", snap)
	}
}

func TestComputeWindowBoundary(t *testing.T) {
	asOf := int64(1_700_000_000)
	engine := PercentileEngine{WindowDays: 365, FallbackDays: 90, MinSamples: 1}

	samples := []source.Sample{
		{MetricID: "m", TS: asOf - 365*secondsPerDay, Value: 1}, // on the edge, included
		{MetricID: "m", TS: asOf - 365*secondsPerDay - 1, Value: 999},
		{MetricID: "m", TS: asOf, Value: 3},
	}
	snap, err := engine.Compute("m", asOf, samples)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if snap.Max != 3 || snap.Min != 1 {
		t.Errorf("window boundary wrong: %+v", snap)
	}
}

func TestQuantileSingleValue(t *testing.T) {
	for _, p := range []float64{0.1, 0.5, 0.9} {
		if got := quantile([]float64{7}, p); got != 7 {
			t.Errorf("quantile(p=%v) = %v, want 7", p, got)
		}
	}
}
