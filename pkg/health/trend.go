package health

import (
	"context"
	"fmt"
)

// ScoreKind distinguishes metric, pillar and overall score rows.
type ScoreKind string

const (
	KindMetric  ScoreKind = "metric"
	KindPillar  ScoreKind = "pillar"
	KindOverall ScoreKind = "overall"
)

// Score is one computed score row, keyed (kind, id, ts). Trends are nil when
// no comparable past score exists.
type Score struct {
	Kind    ScoreKind `db:"kind" json:"kind"`
	ID      string    `db:"id" json:"id"`
	TS      int64     `db:"ts" json:"ts"`
	Score   float64   `db:"score" json:"score"`
	Trend7d *float64  `db:"trend_7d" json:"trend_7d,omitempty"`
	Trend30 *float64  `db:"trend_30d" json:"trend_30d,omitempty"`
}

// ScoreHistory reads previously persisted scores.
type ScoreHistory interface {
	// ScoreBetween returns the most recent score row for (kind, id) with
	// notBefore <= ts <= atOrBefore, or nil when none exists.
	ScoreBetween(ctx context.Context, kind ScoreKind, id string, notBefore, atOrBefore int64) (*Score, error)
}

// TrendCalculator derives percentage change of a score over a lookback.
type TrendCalculator struct {
	History ScoreHistory
}

// Trend computes the percent change of current against the score persisted
// lookbackDays ago. The past row must fall within ±lookbackDays/10 (at least
// one day) of the cutoff; otherwise the trend is absent (nil) rather than
// computed against an unrelated distant point. A past score of zero also
// yields absent. A non-nil error is structural (store failure).
func (t *TrendCalculator) Trend(ctx context.Context, kind ScoreKind, id string, asOf int64, lookbackDays int, current float64) (*float64, error) {
	cutoff := asOf - int64(lookbackDays)*secondsPerDay
	tolerance := int64(lookbackDays) * secondsPerDay / 10
	if tolerance < secondsPerDay {
		tolerance = secondsPerDay
	}

	past, err := t.History.ScoreBetween(ctx, kind, id, cutoff-tolerance, cutoff+tolerance)
	if err != nil {
		return nil, fmt.Errorf("trend %s/%s: %w", kind, id, err)
	}
	if past == nil || past.Score == 0 {
		return nil, nil
	}

	trend := 100 * (current - past.Score) / past.Score
	return &trend, nil
}
