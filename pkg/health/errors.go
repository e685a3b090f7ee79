package health

import "errors"

// Per-metric errors. These are contained by the scoring run: the metric is
// skipped for the cycle and the run proceeds.
var (
	// ErrInsufficientData means even the fallback window held no samples.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidMetricValue means a raw value was NaN or infinite.
	ErrInvalidMetricValue = errors.New("invalid metric value")

	// ErrMissingDefinition means samples exist for a metric id with no
	// matching definition. Indicates configuration drift.
	ErrMissingDefinition = errors.New("missing metric definition")
)
