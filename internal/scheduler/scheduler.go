package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/btcpulse/btcpulse/internal/metrics"
	"github.com/btcpulse/btcpulse/internal/store"
	"github.com/btcpulse/btcpulse/pkg/alert"
	"github.com/btcpulse/btcpulse/pkg/health"
	"github.com/btcpulse/btcpulse/pkg/source"
)

// Scheduler runs periodic collection and scoring.
type Scheduler struct {
	store      store.Store
	sources    []source.Source
	deriver    *health.Deriver
	pipeline   *health.Pipeline
	alertMgr   *alert.Manager
	collectInt time.Duration
	scoreInt   time.Duration
	scoreFloor float64
	scoreDrop  float64
}

// New creates a new scheduler.
func New(
	s store.Store,
	sources []source.Source,
	deriver *health.Deriver,
	pipeline *health.Pipeline,
	alertMgr *alert.Manager,
	collectInt, scoreInt time.Duration,
	scoreFloor, scoreDrop float64,
) *Scheduler {
	if collectInt == 0 {
		collectInt = 15 * time.Minute
	}
	if scoreInt == 0 {
		scoreInt = time.Hour
	}
	return &Scheduler{
		store:      s,
		sources:    sources,
		deriver:    deriver,
		pipeline:   pipeline,
		alertMgr:   alertMgr,
		collectInt: collectInt,
		scoreInt:   scoreInt,
		scoreFloor: scoreFloor,
		scoreDrop:  scoreDrop,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	collectTicker := time.NewTicker(s.collectInt)
	scoreTicker := time.NewTicker(s.scoreInt)
	defer collectTicker.Stop()
	defer scoreTicker.Stop()

	// Run immediately on start.
	fmt.Fprintln(os.Stderr, "scheduler: initial collection...")
	s.collectAll(ctx)
	fmt.Fprintln(os.Stderr, "scheduler: initial scoring...")
	s.scoreAndAlert(ctx)

	fmt.Fprintf(os.Stderr, "scheduler: running (collect every %s, score every %s)\n",
		s.collectInt, s.scoreInt)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "scheduler: stopped")
			return ctx.Err()
		case <-collectTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: collecting...")
			s.collectAll(ctx)
		case <-scoreTicker.C:
			fmt.Fprintln(os.Stderr, "scheduler: scoring...")
			s.scoreAndAlert(ctx)
		}
	}
}

func (s *Scheduler) collectAll(ctx context.Context) {
	totalSamples := 0
	for _, src := range s.sources {
		batch, err := src.Collect(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s error: %v\n", src.Name(), err)
			_ = s.store.UpdateCollectorStatus(ctx, string(src.Name()), err)
			continue
		}

		if err := s.store.UpsertSamples(ctx, batch.Samples); err != nil {
			fmt.Fprintf(os.Stderr, "  %s store error: %v\n", src.Name(), err)
			_ = s.store.UpdateCollectorStatus(ctx, string(src.Name()), err)
			continue
		}
		if len(batch.PoolShares) > 0 {
			if err := s.store.UpsertPoolShares(ctx, batch.PoolShares); err != nil {
				fmt.Fprintf(os.Stderr, "  %s pool shares error: %v\n", src.Name(), err)
			}
		}

		_ = s.store.UpdateCollectorStatus(ctx, string(src.Name()), nil)
		fmt.Fprintf(os.Stderr, "  %s: %d samples\n", src.Name(), len(batch.Samples))
		totalSamples += len(batch.Samples)
	}
	fmt.Fprintf(os.Stderr, "  total: %d samples\n", totalSamples)

	derived, err := s.deriver.DeriveAll(ctx, time.Now().UTC().Unix())
	if err != nil {
		fmt.Fprintf(os.Stderr, "  derive error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "  derived: %d metrics\n", len(derived))
}

func (s *Scheduler) scoreAndAlert(ctx context.Context) {
	previous, err := s.store.LatestScore(ctx, health.KindOverall, "overall")
	if err != nil {
		fmt.Fprintf(os.Stderr, "  previous score lookup error: %v\n", err)
	}

	res, err := s.pipeline.Run(ctx, time.Now().UTC().Unix())
	metrics.Publish(res)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  scoring error: %v\n", err)
		return
	}

	overall := "n/a"
	if res.Overall != nil {
		overall = fmt.Sprintf("%.1f", *res.Overall)
	}
	fmt.Fprintf(os.Stderr, "  run %s: %d metrics scored, %d skipped, overall %s\n",
		res.RunID, len(res.MetricScores), len(res.Skips), overall)

	if res.Overall == nil || !s.alertMgr.HasNotifiers() {
		return
	}

	title, body := s.degradation(*res.Overall, previous)
	if title == "" {
		return
	}

	notification := &alert.Notification{
		Title:   title,
		Body:    body,
		Overall: *res.Overall,
		AsOf:    res.AsOf,
		Pillars: pillarLines(res),
	}
	if err := s.alertMgr.Broadcast(ctx, notification); err != nil {
		fmt.Fprintf(os.Stderr, "  alert error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "  alerted: %s\n", title)
}

// degradation returns a non-empty title when the overall score fell below the
// floor or dropped sharply since the previous run.
func (s *Scheduler) degradation(overall float64, previous *health.Score) (string, string) {
	if s.scoreFloor > 0 && overall < s.scoreFloor {
		return "Bitcoin network health below floor",
			fmt.Sprintf("Overall score %.1f is below the configured floor of %.1f.", overall, s.scoreFloor)
	}
	if previous != nil && s.scoreDrop > 0 && previous.Score-overall >= s.scoreDrop {
		return "Bitcoin network health dropped sharply",
			fmt.Sprintf("Overall score fell from %.1f to %.1f since the previous run.", previous.Score, overall)
	}
	return "", ""
}

func pillarLines(res *health.RunResult) []alert.PillarLine {
	var lines []alert.PillarLine
	for _, sc := range res.Scores {
		if sc.Kind != health.KindPillar {
			continue
		}
		lines = append(lines, alert.PillarLine{ID: sc.ID, Score: sc.Score, Trend7d: sc.Trend7d})
	}
	return lines
}
