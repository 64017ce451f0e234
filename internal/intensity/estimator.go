package intensity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/seisguard/internal/models"
)

const (
	windowSeconds = 60
	retainSeconds = 70
)

var ErrInvalidConfig = errors.New("intensity: invalid configuration")

type Config struct {
	// Channels names the two horizontal and one vertical acceleration channel,
	// matched as suffixes of the segment channel code.
	Channels   []string
	SampleRate float64
	// Sensitivities are counts per m/s^2 keyed by the Channels entries. Missing or
	// non-positive values treat samples as m/s^2 already.
	Sensitivities map[string]float64
}

func DefaultConfig() Config {
	return Config{
		Channels:   []string{"ENE", "ENN", "ENZ"},
		SampleRate: 100,
	}
}

func (c Config) Validate() error {
	if len(c.Channels) != 3 {
		return fmt.Errorf("%w: need exactly 3 channels, got %d", ErrInvalidConfig, len(c.Channels))
	}
	for _, ch := range c.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("%w: empty channel label", ErrInvalidConfig)
		}
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %v", ErrInvalidConfig, c.SampleRate)
	}
	return nil
}

// Estimator buffers the three channels and produces one result per batch once a full
// 60 s window is available on all of them.
type Estimator struct {
	mu      sync.Mutex
	config  Config
	buffers map[string][]float64
	ends    map[string]time.Time
	results []models.IntensityResult
}

func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		config:  cfg,
		buffers: make(map[string][]float64, 3),
		ends:    make(map[string]time.Time, 3),
	}
	return e, nil
}

// SetSensitivities replaces the counts-per-unit map.
func (e *Estimator) SetSensitivities(s map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Sensitivities = make(map[string]float64, len(s))
	for k, v := range s {
		e.config.Sensitivities[k] = v
	}
}

// target returns the configured label that channel belongs to.
func (e *Estimator) target(channel string) (string, bool) {
	for _, c := range e.config.Channels {
		if models.MatchChannel(channel, []string{c}) {
			return c, true
		}
	}
	return "", false
}

// Accepts reports whether channel is one of the three target channels.
func (e *Estimator) Accepts(channel string) bool {
	_, ok := e.target(channel)
	return ok
}

// AddSegment appends seg if it belongs to a target channel and reports whether it did.
func (e *Estimator) AddSegment(seg models.TraceSegment) bool {
	return e.Add(seg.Channel, seg.Samples, seg.EndTime())
}

// Add appends samples ending at end to channel's buffer and computes a result when
// every buffer holds a full window.
func (e *Estimator) Add(channel string, samples []float64, end time.Time) bool {
	label, ok := e.target(channel)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffers[label] = append(e.buffers[label], samples...)
	if end.After(e.ends[label]) {
		e.ends[label] = end
	}

	window := int(e.config.SampleRate * windowSeconds)
	for _, c := range e.config.Channels {
		if len(e.buffers[c]) < window {
			return true
		}
	}

	var win [3][]float64
	var latest time.Time
	for i, c := range e.config.Channels {
		buf := e.buffers[c]
		scale := 100.0
		if s := e.config.Sensitivities[c]; s > 0 {
			scale = 100 / s
		}
		tail := buf[len(buf)-window:]
		win[i] = make([]float64, window)
		for j, v := range tail {
			win[i][j] = v * scale
		}
		if e.ends[c].After(latest) {
			latest = e.ends[c]
		}
	}

	value := Compute(win[0], win[1], win[2], e.config.SampleRate)
	e.results = append(e.results, models.IntensityResult{
		Timestamp: latest,
		Intensity: value,
		Class:     Class(value),
	})

	retain := int(e.config.SampleRate * retainSeconds)
	for _, c := range e.config.Channels {
		if buf := e.buffers[c]; len(buf) > retain {
			e.buffers[c] = append([]float64(nil), buf[len(buf)-retain:]...)
		}
	}
	return true
}

// Buffered returns the number of samples held for a target label.
func (e *Estimator) Buffered(label string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers[label])
}

// Results drains the queued results.
func (e *Estimator) Results() []models.IntensityResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.results
	e.results = nil
	return out
}
