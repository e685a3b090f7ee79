// Package metrics exposes Prometheus gauges for the health scores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/btcpulse/btcpulse/pkg/health"
)

// OverallScore is the composite network health score, 0-100.
var OverallScore = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "btc_health",
	Name:      "overall_score",
	Help:      "Composite network health score, 0-100.",
})

// PillarScore tracks per-pillar scores.
var PillarScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "btc_health",
	Name:      "pillar_score",
	Help:      "Pillar health score, 0-100.",
}, []string{"pillar"})

// MetricScore tracks per-metric normalized scores.
var MetricScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "btc_health",
	Name:      "metric_score",
	Help:      "Normalized metric score, 0-100.",
}, []string{"metric"})

// RunsTotal counts scoring runs by terminal state.
var RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "btc_health",
	Name:      "score_runs_total",
	Help:      "Total scoring runs by terminal state.",
}, []string{"state"})

// MetricsSkipped counts metrics skipped during the most recent run.
var MetricsSkipped = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "btc_health",
	Name:      "metrics_skipped",
	Help:      "Metrics skipped in the most recent scoring run.",
})

// LastRunTimestamp is the as-of time of the last persisted run.
var LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "btc_health",
	Name:      "last_run_timestamp_seconds",
	Help:      "Unix time of the last persisted scoring run.",
})

// Publish pushes the outcome of a scoring run into the gauges.
func Publish(res *health.RunResult) {
	if res == nil {
		return
	}
	RunsTotal.WithLabelValues(string(res.State)).Inc()
	if res.State != health.StatePersisted {
		return
	}

	if res.Overall != nil {
		OverallScore.Set(*res.Overall)
	}
	for id, score := range res.PillarScores {
		PillarScore.WithLabelValues(id).Set(score)
	}
	for id, score := range res.MetricScores {
		MetricScore.WithLabelValues(id).Set(score)
	}
	MetricsSkipped.Set(float64(len(res.Skips)))
	LastRunTimestamp.Set(float64(res.AsOf))
}
