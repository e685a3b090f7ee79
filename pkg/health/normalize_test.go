package health

import (
	"errors"
	"math"
	"testing"
)

func testSnapshot() Snapshot {
	return Snapshot{
		MetricID: "m",
		Min:      0,
		P10:      10,
		P25:      25,
		P50:      50,
		P75:      75,
		P90:      90,
		Max:      100,
	}
}

func TestRankBreakpoints(t *testing.T) {
	snap := testSnapshot()
	cases := []struct {
		value float64
		rank  float64
	}{
		{0, 0},
		{10, 0.10},
		{25, 0.25},
		{50, 0.50},
		{75, 0.75},
		{90, 0.90},
		{100, 1},
		{-5, 0},
		{200, 1},
	}
	for _, c := range cases {
		if got := Rank(c.value, snap); math.Abs(got-c.rank) > 1e-9 {
			t.Errorf("Rank(%v) = %v, want %v", c.value, got, c.rank)
		}
	}
}

func TestRankInterpolates(t *testing.T) {
	snap := testSnapshot()
	// Halfway between p25 and p50.
	if got := Rank(37.5, snap); math.Abs(got-0.375) > 1e-9 {
		t.Errorf("Rank(37.5) = %v, want 0.375", got)
	}
}

func TestRankMonotonic(t *testing.T) {
	snap := Snapshot{Min: 2, P10: 3, P25: 5, P50: 11, P75: 40, P90: 80, Max: 95}
	prev := -1.0
	for v := 0.0; v <= 100; v += 0.5 {
		got := Rank(v, snap)
		if got < prev {
			t.Fatalf("Rank not monotonic at %v: %v < %v", v, got, prev)
		}
		prev = got
	}
}

func TestRankDegenerateHistory(t *testing.T) {
	snap := Snapshot{Min: 5, P10: 5, P25: 5, P50: 5, P75: 5, P90: 5, Max: 5}
	if got := Rank(5, snap); got != 0.5 {
		t.Errorf("Rank on flat history = %v, want 0.5", got)
	}
}

func TestScoreValueDirections(t *testing.T) {
	snap := testSnapshot()

	higher := MetricDef{ID: "h", Direction: HigherBetter, Weight: 1}
	score, err := ScoreValue(50, higher, &snap)
	if err != nil {
		t.Fatalf("higher_better: %v", err)
	}
	if math.Abs(score-50) > 1e-9 {
		t.Errorf("higher_better at p50 = %v, want 50", score)
	}

	lower := MetricDef{ID: "l", Direction: LowerBetter, Weight: 1}
	score, err = ScoreValue(90, lower, &snap)
	if err != nil {
		t.Fatalf("lower_better: %v", err)
	}
	if math.Abs(score-10) > 1e-9 {
		t.Errorf("lower_better at p90 = %v, want 10", score)
	}
}

func TestScoreValueTargetBand(t *testing.T) {
	lo, hi := band(2, 15)
	def := MetricDef{ID: "b", Direction: TargetBand, Weight: 1, TargetMin: lo, TargetMax: hi}

	cases := []struct {
		value float64
		score float64
	}{
		{8.5, 100}, // midpoint
		{2, 0},
		{15, 0},
		{0, 0},  // below the band
		{50, 0}, // above the band
		{5.25, 50},
	}
	for _, c := range cases {
		got, err := ScoreValue(c.value, def, nil)
		if err != nil {
			t.Fatalf("ScoreValue(%v): %v", c.value, err)
		}
		if math.Abs(got-c.score) > 1e-9 {
			t.Errorf("band score(%v) = %v, want %v", c.value, got, c.score)
		}
	}
}

func TestScoreValueRejectsNonFinite(t *testing.T) {
	snap := testSnapshot()
	def := MetricDef{ID: "m", Direction: HigherBetter, Weight: 1}

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := ScoreValue(v, def, &snap); !errors.Is(err, ErrInvalidMetricValue) {
			t.Errorf("ScoreValue(%v) err = %v, want ErrInvalidMetricValue", v, err)
		}
	}
}

func TestScoreValueRankWithoutContext(t *testing.T) {
	def := MetricDef{ID: "m", Direction: HigherBetter, Weight: 1}
	if _, err := ScoreValue(1, def, nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestScoreValueRange(t *testing.T) {
	snap := Snapshot{Min: 2, P10: 3, P25: 5, P50: 11, P75: 40, P90: 80, Max: 95}
	for _, dir := range []Direction{HigherBetter, LowerBetter} {
		def := MetricDef{ID: "m", Direction: dir, Weight: 1}
		for v := -10.0; v <= 110; v += 1 {
			score, err := ScoreValue(v, def, &snap)
			if err != nil {
				t.Fatalf("ScoreValue(%v): %v", v, err)
			}
			if score < 0 || score > 100 || math.IsNaN(score) {
				t.Fatalf("score out of range: %v -> %v", v, score)
			}
		}
	}
}
