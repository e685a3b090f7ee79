package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/btcpulse/btcpulse/pkg/source"
)

// RunState tracks a scoring run through its lifecycle.
type RunState string

const (
	StateIdle                 RunState = "idle"
	StateCollectingInputs     RunState = "collecting_inputs"
	StateComputingPercentiles RunState = "computing_percentiles"
	StateNormalizing          RunState = "normalizing"
	StateAggregating          RunState = "aggregating"
	StateComputingTrends      RunState = "computing_trends"
	StatePersisted            RunState = "persisted"
	StateFailed               RunState = "failed"
)

// SampleSource is the read-only view of the raw sample store the pipeline
// needs. Writes come from collectors, never from the scoring core.
type SampleSource interface {
	// MetricIDs lists every metric id with at least one sample.
	MetricIDs(ctx context.Context) ([]string, error)
	// History returns samples for a metric with from <= ts <= to, ascending.
	History(ctx context.Context, metricID string, from, to int64) ([]source.Sample, error)
	// Latest returns the most recent sample at or before asOf, or nil.
	Latest(ctx context.Context, metricID string, asOf int64) (*source.Sample, error)
}

// DefinitionSource loads the weight tables.
type DefinitionSource interface {
	Definitions(ctx context.Context) (Catalog, error)
}

// RunWriter persists a completed run. The whole result must commit atomically:
// partial writes from an aborted run are never visible to readers.
type RunWriter interface {
	CommitRun(ctx context.Context, res *RunResult) error
}

// Skip records one metric excluded from a cycle and why.
type Skip struct {
	MetricID string `json:"metric_id"`
	Reason   string `json:"reason"`
}

// RunResult is the full output of one scoring run: everything to persist plus
// the diagnostics operators need to see which metrics were absent and why.
type RunResult struct {
	RunID     string     `json:"run_id"`
	AsOf      int64      `json:"as_of"`
	State     RunState   `json:"state"`
	Started   time.Time  `json:"started"`
	Finished  time.Time  `json:"finished"`
	Snapshots []Snapshot `json:"snapshots"`
	Scores    []Score    `json:"scores"`
	Skips     []Skip     `json:"skips,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`

	MetricScores map[string]float64 `json:"metric_scores"`
	PillarScores map[string]float64 `json:"pillar_scores"`
	Overall      *float64           `json:"overall,omitempty"`
}

// Pipeline runs the full normalization-and-scoring pass: percentiles,
// normalization, aggregation, trends, one atomic write.
type Pipeline struct {
	Samples SampleSource
	Defs    DefinitionSource
	History ScoreHistory
	Writer  RunWriter
	Engine  PercentileEngine
}

// NewPipeline wires a pipeline with the default percentile engine.
func NewPipeline(samples SampleSource, defs DefinitionSource, history ScoreHistory, writer RunWriter) *Pipeline {
	return &Pipeline{
		Samples: samples,
		Defs:    defs,
		History: history,
		Writer:  writer,
		Engine:  NewPercentileEngine(),
	}
}

// Run executes one scoring run as of the given timestamp. Single-metric
// failures (insufficient data, invalid values) are contained: the metric is
// skipped, recorded in the result, and the run proceeds. Only structural
// failures (unreadable definitions, unwritable store) return an error; the
// result is still returned with State == StateFailed for diagnostics.
//
// Re-running for the same asOf with unchanged inputs produces bit-identical
// rows; the score ledger is append-only across distinct timestamps.
func (p *Pipeline) Run(ctx context.Context, asOf int64) (*RunResult, error) {
	res := &RunResult{
		RunID:        uuid.NewString(),
		AsOf:         asOf,
		State:        StateIdle,
		Started:      time.Now().UTC(),
		MetricScores: make(map[string]float64),
		PillarScores: make(map[string]float64),
	}

	fail := func(err error) (*RunResult, error) {
		res.State = StateFailed
		res.Finished = time.Now().UTC()
		return res, err
	}
	skip := func(id string, err error) {
		res.Skips = append(res.Skips, Skip{MetricID: id, Reason: skipReason(err)})
	}

	res.State = StateCollectingInputs
	catalog, err := p.Defs.Definitions(ctx)
	if err != nil {
		return fail(fmt.Errorf("load definitions: %w", err))
	}
	if err := catalog.Validate(); err != nil {
		return fail(fmt.Errorf("validate definitions: %w", err))
	}

	// Samples without a definition indicate configuration drift; flag them
	// loudly but keep going.
	known, err := p.Samples.MetricIDs(ctx)
	if err != nil {
		return fail(fmt.Errorf("list metric ids: %w", err))
	}
	for _, id := range known {
		if _, ok := catalog.Metric(id); !ok {
			skip(id, ErrMissingDefinition)
			res.Warnings = append(res.Warnings, fmt.Sprintf("samples exist for %s but no definition matches", id))
		}
	}

	defs := sortedMetrics(catalog)

	res.State = StateComputingPercentiles
	snapshots := make(map[string]*Snapshot, len(defs))
	excluded := make(map[string]bool)
	for _, def := range defs {
		from := asOf - int64(p.Engine.WindowDays)*secondsPerDay
		history, err := p.Samples.History(ctx, def.ID, from, asOf)
		if err != nil {
			return fail(fmt.Errorf("history %s: %w", def.ID, err))
		}
		snap, err := p.Engine.Compute(def.ID, asOf, history)
		if err != nil {
			// Target-band metrics score without percentile context;
			// rank-based directions cannot.
			if def.Direction != TargetBand {
				skip(def.ID, err)
				excluded[def.ID] = true
			}
			continue
		}
		snapshots[def.ID] = &snap
		res.Snapshots = append(res.Snapshots, snap)
	}

	res.State = StateNormalizing
	for _, def := range defs {
		if excluded[def.ID] {
			continue
		}
		latest, err := p.Samples.Latest(ctx, def.ID, asOf)
		if err != nil {
			return fail(fmt.Errorf("latest sample %s: %w", def.ID, err))
		}
		if latest == nil {
			skip(def.ID, ErrInsufficientData)
			continue
		}
		score, err := ScoreValue(latest.Value, def, snapshots[def.ID])
		if err != nil {
			if errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrInvalidMetricValue) {
				skip(def.ID, err)
				continue
			}
			return fail(fmt.Errorf("score %s: %w", def.ID, err))
		}
		res.MetricScores[def.ID] = score
	}

	res.State = StateAggregating
	for _, pillar := range catalog.SortedPillars() {
		if score, ok := AggregatePillar(catalog, pillar.ID, res.MetricScores); ok {
			res.PillarScores[pillar.ID] = score
		}
	}
	if overall, ok := AggregateOverall(catalog, res.PillarScores); ok {
		res.Overall = &overall
	}

	res.State = StateComputingTrends
	if err := p.buildScores(ctx, res); err != nil {
		return fail(err)
	}

	if err := p.Writer.CommitRun(ctx, res); err != nil {
		return fail(fmt.Errorf("commit run: %w", err))
	}
	res.State = StatePersisted
	res.Finished = time.Now().UTC()
	return res, nil
}

// buildScores turns the computed values into persistable rows with trends.
// Trends compare against previously persisted runs only; this run's rows are
// not yet visible.
func (p *Pipeline) buildScores(ctx context.Context, res *RunResult) error {
	calc := &TrendCalculator{History: p.History}

	add := func(kind ScoreKind, id string, value float64) error {
		row := Score{Kind: kind, ID: id, TS: res.AsOf, Score: value}
		var err error
		if row.Trend7d, err = calc.Trend(ctx, kind, id, res.AsOf, 7, value); err != nil {
			return err
		}
		if row.Trend30, err = calc.Trend(ctx, kind, id, res.AsOf, 30, value); err != nil {
			return err
		}
		res.Scores = append(res.Scores, row)
		return nil
	}

	for _, id := range sortedKeys(res.MetricScores) {
		if err := add(KindMetric, id, res.MetricScores[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(res.PillarScores) {
		if err := add(KindPillar, id, res.PillarScores[id]); err != nil {
			return err
		}
	}
	if res.Overall != nil {
		if err := add(KindOverall, "overall", *res.Overall); err != nil {
			return err
		}
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientData):
		return ErrInsufficientData.Error()
	case errors.Is(err, ErrInvalidMetricValue):
		return ErrInvalidMetricValue.Error()
	case errors.Is(err, ErrMissingDefinition):
		return ErrMissingDefinition.Error()
	default:
		return err.Error()
	}
}

func sortedMetrics(c Catalog) []MetricDef {
	var out []MetricDef
	for _, p := range c.SortedPillars() {
		out = append(out, c.PillarMetrics(p.ID)...)
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
