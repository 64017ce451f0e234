package trigger

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/seisguard/internal/filter"
	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
)

// Manager keys one Engine per channel identity and creates them on first use.
type Manager struct {
	mu            sync.Mutex
	config        Config
	proto         *filter.Cascade
	states        map[string]*Engine
	sensitivities map[string]float64
}

// NewManager validates cfg and builds the filter prototype shared by every engine.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proto := filter.DefaultBandpass()
	if cfg.Band != nil {
		c, err := filter.ButterworthBandpass(cfg.Band.Order, cfg.Band.Low, cfg.Band.High, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		proto = c
	}
	return &Manager{
		config:        cfg,
		proto:         proto,
		states:        make(map[string]*Engine),
		sensitivities: make(map[string]float64),
	}, nil
}

// SetSensitivities replaces the counts-per-unit map. Keys are either full channel
// identities or bare channel codes.
func (m *Manager) SetSensitivities(s map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensitivities = make(map[string]float64, len(s))
	for k, v := range s {
		m.sensitivities[k] = v
	}
}

func (m *Manager) sensitivity(id, channel string) float64 {
	if v, ok := m.sensitivities[id]; ok {
		return v
	}
	return m.sensitivities[channel]
}

func (m *Manager) getOrCreateState(id string) *Engine {
	if e, exists := m.states[id]; exists {
		return e
	}
	e := newEngine(id, m.config, m.proto)
	m.states[id] = e
	logger.Debug("Created trigger state for %s", id)
	return e
}

// Accepts reports whether channel passes the configured channel filter.
func (m *Manager) Accepts(channel string) bool {
	return models.MatchChannel(channel, m.config.Channels)
}

// AddSample feeds one sample for channel identity id. Channels outside the filter
// are ignored.
func (m *Manager) AddSample(id, channel string, ts time.Time, raw float64) (*models.AlertEvent, error) {
	if !m.Accepts(channel) {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.getOrCreateState(id)
	before := e.count
	ev, err := e.Process(ts, raw, m.sensitivity(id, channel))
	if err == nil && e.count == 1 && before > 0 {
		logger.Info("Timing gap on %s at %s, trigger state reset", id, ts.UTC().Format(time.RFC3339Nano))
	}
	return ev, err
}

// AddSegment feeds every sample of seg in order and returns the events raised.
// Per-sample errors are logged and the sample skipped.
func (m *Manager) AddSegment(seg models.TraceSegment) []models.AlertEvent {
	if !m.Accepts(seg.Channel) {
		return nil
	}
	id := seg.ID()
	var events []models.AlertEvent
	for i, v := range seg.Samples {
		ev, err := m.AddSample(id, seg.Channel, seg.SampleTime(i), v)
		if err != nil {
			logger.Warn("Trigger sample %d of %s skipped: %v", i, id, err)
			continue
		}
		if ev != nil {
			logger.Info("%s", ev)
			events = append(events, *ev)
		}
	}
	return events
}

// State returns a snapshot of the engine for id.
func (m *Manager) State(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.states[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// States returns snapshots of every engine ordered by identity.
func (m *Manager) States() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.states))
	for _, e := range m.states {
		out = append(out, e.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
