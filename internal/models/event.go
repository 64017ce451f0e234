// Package models defines the core domain entities: trace segments, trigger events,
// intensity results and alert records.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// TraceSegment is one decoded run of samples for a single channel.
// Produced by the decoder per record and treated as immutable afterwards.
type TraceSegment struct {
	Network    string    `json:"network"`
	Station    string    `json:"station"`
	Location   string    `json:"location"`
	Channel    string    `json:"channel"`
	StartTime  time.Time `json:"start_time"`
	SampleRate float64   `json:"sample_rate"`
	Samples    []float64 `json:"samples"`
}

// ID returns the full channel identity NET.STA.LOC.CHA.
func (s *TraceSegment) ID() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}

// SampleTime returns the timestamp of sample i.
func (s *TraceSegment) SampleTime(i int) time.Time {
	if s.SampleRate <= 0 {
		return s.StartTime
	}
	offset := math.Round(float64(i) * 1e9 / s.SampleRate)
	return s.StartTime.Add(time.Duration(offset))
}

// EndTime returns the timestamp of the last sample, or StartTime for an empty segment.
func (s *TraceSegment) EndTime() time.Time {
	if len(s.Samples) == 0 {
		return s.StartTime
	}
	return s.SampleTime(len(s.Samples) - 1)
}

// Validate checks segment field constraints.
func (s *TraceSegment) Validate() error {
	if s.Channel == "" {
		return errors.New("channel must not be empty")
	}
	if s.SampleRate <= 0 || math.IsNaN(s.SampleRate) || math.IsInf(s.SampleRate, 0) {
		return fmt.Errorf("sample rate must be positive, got %v", s.SampleRate)
	}
	if s.StartTime.IsZero() {
		return errors.New("start time must be set")
	}
	return nil
}

// AlertEventType tags an AlertEvent.
type AlertEventType string

const (
	Trigger AlertEventType = "trigger"
	Reset   AlertEventType = "reset"
)

// AlertEvent is emitted by the trigger engine when a channel enters or leaves alarm.
// For Trigger events MaxRatio equals Ratio.
type AlertEvent struct {
	Type      AlertEventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel"`
	Ratio     float64        `json:"ratio"`
	MaxRatio  float64        `json:"max_ratio"`
	Message   string         `json:"message,omitempty"`
}

func (e AlertEvent) String() string {
	return fmt.Sprintf("[%s] Channel %s: %s", e.Timestamp.UTC().Format(time.RFC3339Nano), e.Channel, e.Message)
}

// IntensityResult is one JMA instrumental intensity computed over a 60 s window.
type IntensityResult struct {
	Timestamp time.Time `json:"timestamp"`
	Intensity float64   `json:"intensity"`
	Class     string    `json:"class"`
}
