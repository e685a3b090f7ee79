package health

import (
	"context"
	"errors"
	"math"
	"testing"
)

type stubHistory struct {
	score     *Score
	err       error
	notBefore int64
	atBefore  int64
}

func (s *stubHistory) ScoreBetween(ctx context.Context, kind ScoreKind, id string, notBefore, atOrBefore int64) (*Score, error) {
	s.notBefore, s.atBefore = notBefore, atOrBefore
	return s.score, s.err
}

func TestTrendPercentChange(t *testing.T) {
	hist := &stubHistory{score: &Score{Kind: KindOverall, ID: "overall", Score: 50}}
	calc := &TrendCalculator{History: hist}

	got, err := calc.Trend(context.Background(), KindOverall, "overall", 1_700_000_000, 7, 55)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if got == nil || math.Abs(*got-10) > 1e-9 {
		t.Fatalf("trend = %v, want +10%%", got)
	}
}

func TestTrendToleranceWindow(t *testing.T) {
	hist := &stubHistory{}
	calc := &TrendCalculator{History: hist}
	asOf := int64(1_700_000_000)

	// 7-day lookback: a tenth of the lookback is under a day, so the
	// tolerance widens to one full day.
	calc.Trend(context.Background(), KindOverall, "overall", asOf, 7, 50)
	cutoff := asOf - 7*secondsPerDay
	if hist.notBefore != cutoff-secondsPerDay || hist.atBefore != cutoff+secondsPerDay {
		t.Errorf("7d window = [%d, %d], want [%d, %d]",
			hist.notBefore, hist.atBefore, cutoff-secondsPerDay, cutoff+secondsPerDay)
	}

	// 30-day lookback: tolerance is three days.
	calc.Trend(context.Background(), KindOverall, "overall", asOf, 30, 50)
	cutoff = asOf - 30*secondsPerDay
	tol := int64(3 * secondsPerDay)
	if hist.notBefore != cutoff-tol || hist.atBefore != cutoff+tol {
		t.Errorf("30d window = [%d, %d], want [%d, %d]",
			hist.notBefore, hist.atBefore, cutoff-tol, cutoff+tol)
	}
}

func TestTrendAbsent(t *testing.T) {
	calc := &TrendCalculator{History: &stubHistory{score: nil}}
	got, err := calc.Trend(context.Background(), KindMetric, "m", 1_700_000_000, 7, 50)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if got != nil {
		t.Errorf("trend = %v, want nil with no history", *got)
	}
}

func TestTrendZeroPastScore(t *testing.T) {
	calc := &TrendCalculator{History: &stubHistory{score: &Score{Score: 0}}}
	got, err := calc.Trend(context.Background(), KindMetric, "m", 1_700_000_000, 7, 50)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if got != nil {
		t.Errorf("trend = %v, want nil against zero past score", *got)
	}
}

func TestTrendStoreFailure(t *testing.T) {
	boom := errors.New("disk gone")
	calc := &TrendCalculator{History: &stubHistory{err: boom}}
	if _, err := calc.Trend(context.Background(), KindMetric, "m", 1_700_000_000, 7, 50); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}
