package models

import (
	"errors"
	"time"
)

// Alert is the orchestrator's record of one alarm episode on one channel,
// enriched with context the trigger engine does not know about.
type Alert struct {
	ID           string     `json:"id"`
	Channel      string     `json:"channel"`
	TriggeredAt  time.Time  `json:"triggered_at"`
	ResetAt      *time.Time `json:"reset_at,omitempty"`
	TriggerRatio float64    `json:"trigger_ratio"`
	MaxRatio     float64    `json:"max_ratio"`
	MaxIntensity float64    `json:"max_intensity"`
	SnapshotPath string     `json:"snapshot_path,omitempty"`
}

// Active reports whether the alert has not been reset yet.
func (a *Alert) Active() bool {
	return a.ResetAt == nil
}

// Duration returns the alarm length, or zero while the alert is active.
func (a *Alert) Duration() time.Duration {
	if a.ResetAt == nil {
		return 0
	}
	return a.ResetAt.Sub(a.TriggeredAt)
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.Channel == "" {
		return errors.New("alert channel must not be empty")
	}
	if a.TriggeredAt.IsZero() {
		return errors.New("trigger time must be set")
	}
	if a.ResetAt != nil && a.ResetAt.Before(a.TriggeredAt) {
		return errors.New("reset time must not precede trigger time")
	}
	if a.MaxRatio < a.TriggerRatio {
		return errors.New("max ratio must be >= trigger ratio")
	}
	return nil
}
