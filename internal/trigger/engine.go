package trigger

import (
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/seisguard/internal/filter"
	"github.com/rewired-gh/seisguard/internal/models"
)

// negligibleLTA is the long-term average below which the ratio is reported as zero.
const negligibleLTA = 1e-30

type State int

const (
	WarmingUp State = iota
	Monitoring
	Alarm
)

func (s State) String() string {
	switch s {
	case WarmingUp:
		return "warming-up"
	case Monitoring:
		return "monitoring"
	case Alarm:
		return "alarm"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine holds the detector state for one channel. Samples must be fed in time
// order from a single goroutine.
type Engine struct {
	id     string
	cfg    Config
	filter *filter.Cascade
	primed bool

	cSTA, cLTA  float64
	ltaSamples  uint64
	sta, lta    float64
	ratio       float64
	count       uint64
	alarmed     bool
	maxRatio    float64
	last        time.Time
	exceeding   bool
	exceedStart time.Time
}

func newEngine(id string, cfg Config, proto *filter.Cascade) *Engine {
	return &Engine{
		id:         id,
		cfg:        cfg,
		filter:     proto.Clone(),
		cSTA:       1 / (cfg.STA * cfg.SampleRate),
		cLTA:       1 / (cfg.LTA * cfg.SampleRate),
		ltaSamples: uint64(math.Round(cfg.LTA * cfg.SampleRate)),
	}
}

// reset returns the engine to WarmingUp, keeping identity, configuration and the
// last timestamp.
func (e *Engine) reset() {
	e.filter.Reset()
	e.primed = false
	e.sta, e.lta, e.ratio = 0, 0, 0
	e.count = 0
	e.alarmed = false
	e.maxRatio = 0
	e.exceeding = false
	e.exceedStart = time.Time{}
}

// State reports the current state machine position.
func (e *Engine) State() State {
	switch {
	case e.count < e.ltaSamples:
		return WarmingUp
	case e.alarmed:
		return Alarm
	default:
		return Monitoring
	}
}

// Process feeds one raw sample taken at ts. Sensitivity is in counts per physical
// unit; non-positive values leave the sample in counts.
//
// Samples at or before the previous timestamp, and NaN or infinite values, are
// dropped without touching state. A gap beyond the configured tolerance resets the
// engine before the sample is used; if the engine was in alarm the reset closes the
// episode and a Reset event carrying its peak is returned.
func (e *Engine) Process(ts time.Time, raw, sensitivity float64) (*models.AlertEvent, error) {
	v := raw
	if sensitivity > 0 {
		v = raw / sensitivity
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, nil
	}

	var gapReset *models.AlertEvent
	if !e.last.IsZero() {
		if !ts.After(e.last) {
			return nil, nil
		}
		gap := ts.Sub(e.last)
		if gap == math.MaxInt64 {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimestampOverflow, ts.Format(time.RFC3339Nano), e.last.Format(time.RFC3339Nano))
		}
		if e.cfg.isGap(gap) {
			if e.alarmed {
				gapReset = &models.AlertEvent{
					Type:      models.Reset,
					Timestamp: ts,
					Channel:   e.id,
					Ratio:     e.ratio,
					MaxRatio:  e.maxRatio,
					Message: fmt.Sprintf("timing gap of %s during alarm, reset (peak %.4f)",
						gap, e.maxRatio),
				}
			}
			e.reset()
		}
	}
	if e.exceeding && ts.Sub(e.exceedStart) == math.MaxInt64 {
		return nil, fmt.Errorf("%w: exceedance started %s", ErrTimestampOverflow, e.exceedStart.Format(time.RFC3339Nano))
	}
	e.last = ts

	ev := e.step(ts, v)
	if gapReset != nil {
		// warm-up spans at least two samples, so the step after a reset is silent
		return gapReset, nil
	}
	return ev, nil
}

// step runs one finite physical-unit value through the filter, the averages and the
// state machine.
func (e *Engine) step(ts time.Time, v float64) *models.AlertEvent {
	if !e.primed {
		e.filter.Prime(v)
		e.primed = true
	}
	y := e.filter.Process(v)

	var x float64
	if e.cfg.Energy == EnergyAbsolute {
		x = math.Abs(y)
	} else {
		x = y * y
	}

	e.count++
	e.sta = e.cSTA*x + (1-e.cSTA)*e.sta
	e.lta = e.cLTA*x + (1-e.cLTA)*e.lta

	if e.count < e.ltaSamples {
		return nil
	}

	e.ratio = 0
	if e.lta > negligibleLTA {
		e.ratio = e.sta / e.lta
	}

	if !e.alarmed {
		if e.ratio <= e.cfg.Threshold {
			e.exceeding = false
			e.exceedStart = time.Time{}
			return nil
		}
		if !e.exceeding {
			e.exceeding = true
			e.exceedStart = ts
		}
		if ts.Sub(e.exceedStart).Seconds() < e.cfg.MinDuration {
			return nil
		}
		e.alarmed = true
		e.exceeding = false
		e.maxRatio = e.ratio
		return &models.AlertEvent{
			Type:      models.Trigger,
			Timestamp: ts,
			Channel:   e.id,
			Ratio:     e.ratio,
			MaxRatio:  e.ratio,
			Message: fmt.Sprintf("ratio %.4f above threshold %g for %gs, alarm",
				e.ratio, e.cfg.Threshold, e.cfg.MinDuration),
		}
	}

	if e.ratio > e.maxRatio {
		e.maxRatio = e.ratio
	}
	if e.ratio >= e.cfg.ResetThreshold {
		return nil
	}
	peak := e.maxRatio
	e.alarmed = false
	e.maxRatio = 0
	return &models.AlertEvent{
		Type:      models.Reset,
		Timestamp: ts,
		Channel:   e.id,
		Ratio:     e.ratio,
		MaxRatio:  peak,
		Message: fmt.Sprintf("ratio %.4f below reset threshold %g, reset (peak %.4f)",
			e.ratio, e.cfg.ResetThreshold, peak),
	}
}

// Snapshot is a read-only view of one engine.
type Snapshot struct {
	ID         string
	State      State
	STA        float64
	LTA        float64
	Ratio      float64
	MaxRatio   float64
	Samples    uint64
	LastSample time.Time
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		ID:         e.id,
		State:      e.State(),
		STA:        e.sta,
		LTA:        e.lta,
		Ratio:      e.ratio,
		MaxRatio:   e.maxRatio,
		Samples:    e.count,
		LastSample: e.last,
	}
}
