// Package trigger runs a recursive STA/LTA detector per channel behind a band-pass
// filter cascade and reports alarm onsets and resets.
package trigger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidConfig     = errors.New("trigger: invalid configuration")
	ErrTimestampOverflow = errors.New("trigger: timestamp difference overflows")
)

// Energy selects the characteristic function fed into the averages.
type Energy string

const (
	EnergySquared  Energy = "squared"
	EnergyAbsolute Energy = "absolute"
)

// Band replaces the fixed default filter with a designed Butterworth band-pass.
type Band struct {
	Order int
	Low   float64
	High  float64
}

type Config struct {
	STA            float64 // seconds
	LTA            float64 // seconds
	Threshold      float64
	ResetThreshold float64
	MinDuration    float64 // seconds the ratio must stay above Threshold
	SampleRate     float64
	Energy         Energy

	// A gap longer than GapFactor sample intervals resets the channel. A non-zero
	// GapTolerance instead resets when the gap differs from one interval by more
	// than the tolerance.
	GapFactor    float64
	GapTolerance time.Duration

	Band     *Band
	Channels []string
}

func DefaultConfig() Config {
	return Config{
		STA:            6,
		LTA:            30,
		Threshold:      1.7,
		ResetThreshold: 1.6,
		MinDuration:    0,
		SampleRate:     100,
		Energy:         EnergySquared,
		GapFactor:      1.5,
		Channels:       []string{"HZ"},
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch {
	case c.STA <= 0 || c.LTA <= 0:
		return fmt.Errorf("%w: sta (%v) and lta (%v) must be positive", ErrInvalidConfig, c.STA, c.LTA)
	case c.STA >= c.LTA:
		return fmt.Errorf("%w: sta (%v) must be shorter than lta (%v)", ErrInvalidConfig, c.STA, c.LTA)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %v", ErrInvalidConfig, c.SampleRate)
	case math.Round(c.LTA*c.SampleRate) < 2:
		return fmt.Errorf("%w: lta (%v s at %v Hz) must span at least 2 samples", ErrInvalidConfig, c.LTA, c.SampleRate)
	case c.Threshold <= 0:
		return fmt.Errorf("%w: threshold must be positive, got %v", ErrInvalidConfig, c.Threshold)
	case c.ResetThreshold <= 0 || c.ResetThreshold > c.Threshold:
		return fmt.Errorf("%w: reset threshold (%v) must be in (0, threshold]", ErrInvalidConfig, c.ResetThreshold)
	case c.MinDuration < 0:
		return fmt.Errorf("%w: duration must be non-negative, got %v", ErrInvalidConfig, c.MinDuration)
	case c.Energy != EnergySquared && c.Energy != EnergyAbsolute:
		return fmt.Errorf("%w: energy must be %q or %q, got %q", ErrInvalidConfig, EnergySquared, EnergyAbsolute, c.Energy)
	case c.GapTolerance < 0:
		return fmt.Errorf("%w: gap tolerance must be non-negative", ErrInvalidConfig)
	case c.GapTolerance == 0 && c.GapFactor <= 1:
		return fmt.Errorf("%w: gap factor must exceed 1, got %v", ErrInvalidConfig, c.GapFactor)
	case len(c.Channels) == 0:
		return fmt.Errorf("%w: channel list is empty", ErrInvalidConfig)
	}
	if c.Band != nil && (c.Band.Order < 1 || c.Band.Low <= 0 || c.Band.Low >= c.Band.High || c.Band.High >= c.SampleRate/2) {
		return fmt.Errorf("%w: band %d/%v-%v Hz at %v Hz", ErrInvalidConfig, c.Band.Order, c.Band.Low, c.Band.High, c.SampleRate)
	}
	return nil
}

func (c Config) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.SampleRate)
}

func (c Config) isGap(gap time.Duration) bool {
	if c.GapTolerance > 0 {
		d := gap - c.interval()
		if d < 0 {
			d = -d
		}
		return d > c.GapTolerance
	}
	return float64(gap) > c.GapFactor*float64(c.interval())
}
