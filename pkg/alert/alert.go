package alert

import (
	"context"
	"errors"
	"fmt"
)

// PillarLine is one pillar's contribution to a notification.
type PillarLine struct {
	ID      string   `json:"id"`
	Score   float64  `json:"score"`
	Trend7d *float64 `json:"trend_7d,omitempty"`
}

// Notification is the data sent to alert destinations when the network
// health score degrades.
type Notification struct {
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	Overall float64      `json:"overall"`
	AsOf    int64        `json:"as_of"`
	Pillars []PillarLine `json:"pillars"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
