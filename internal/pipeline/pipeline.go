// Package pipeline drives decoded segments through the trigger and intensity stages
// and hands the resulting alerts to sinks.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rewired-gh/seisguard/internal/intensity"
	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
	"github.com/rewired-gh/seisguard/internal/mseed"
	"github.com/rewired-gh/seisguard/internal/trigger"
	"github.com/rewired-gh/seisguard/internal/waveform"
)

// Decoder turns one datagram into trace segments. Segments decoded before an error
// are still returned.
type Decoder interface {
	Decode(data []byte) ([]models.TraceSegment, error)
}

// Deps are the collaborators a Pipeline owns. Decoder and Trigger are required; the
// rest may be nil.
type Deps struct {
	Decoder   Decoder
	Trigger   *trigger.Manager
	Intensity *intensity.Estimator
	Waveforms *waveform.Store
	Alerts    *AlertTable
	Sinks     []Sink
	Forwarder Forwarder
	Snapshots SnapshotScheduler
}

// Stats counts what the pipeline has processed.
type Stats struct {
	Packets      uint64
	Segments     uint64
	DecodeErrors uint64
	Triggers     uint64
	Resets       uint64
}

// Status is a point-in-time view for status reporting.
type Status struct {
	Stats         Stats
	Channels      []trigger.Snapshot
	Active        []models.Alert
	LastIntensity *models.IntensityResult
}

type Pipeline struct {
	deps Deps
	sink MultiSink

	packets      atomic.Uint64
	segments     atomic.Uint64
	decodeErrors atomic.Uint64
	triggers     atomic.Uint64
	resets       atomic.Uint64

	mu            sync.Mutex
	lastIntensity *models.IntensityResult
}

// New returns a Pipeline. An AlertTable and waveform Store are created if absent.
func New(deps Deps) (*Pipeline, error) {
	if deps.Decoder == nil {
		return nil, errors.New("pipeline: decoder is required")
	}
	if deps.Trigger == nil {
		return nil, errors.New("pipeline: trigger manager is required")
	}
	if deps.Alerts == nil {
		deps.Alerts = NewAlertTable()
	}
	if deps.Waveforms == nil {
		deps.Waveforms = waveform.NewStore(0)
	}
	return &Pipeline{deps: deps, sink: MultiSink(deps.Sinks)}, nil
}

// Alerts returns the table of open alerts.
func (p *Pipeline) Alerts() *AlertTable { return p.deps.Alerts }

// Waveforms returns the store of recent samples.
func (p *Pipeline) Waveforms() *waveform.Store { return p.deps.Waveforms }

// Run processes packets until the channel is closed, returning nil, or ctx is
// cancelled, returning ctx.Err().
func (p *Pipeline) Run(ctx context.Context, packets <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-packets:
			if !ok {
				logger.Info("Packet source closed, pipeline stopping")
				return nil
			}
			p.HandlePacket(ctx, data)
		}
	}
}

// HandlePacket decodes one datagram and processes every segment in it. Decode
// failures are logged and the remainder of the datagram is still used.
func (p *Pipeline) HandlePacket(ctx context.Context, data []byte) {
	p.packets.Add(1)
	segs, err := p.deps.Decoder.Decode(data)
	if err != nil {
		p.decodeErrors.Add(1)
		var xn *mseed.XnMismatchError
		if errors.As(err, &xn) {
			logger.Warn("Record integrity check failed: %v", err)
		} else {
			logger.Warn("Failed to decode packet (%d bytes): %v", len(data), err)
		}
	}
	if len(segs) == 0 {
		return
	}

	if p.deps.Forwarder != nil {
		channels := make([]string, 0, len(segs))
		for _, seg := range segs {
			channels = append(channels, seg.Channel)
		}
		p.deps.Forwarder.ForwardData(data, channels)
	}

	for _, seg := range segs {
		p.handleSegment(ctx, seg)
	}
}

func (p *Pipeline) handleSegment(ctx context.Context, seg models.TraceSegment) {
	p.segments.Add(1)
	p.deps.Waveforms.Append(seg)

	for _, ev := range p.deps.Trigger.AddSegment(seg) {
		switch ev.Type {
		case models.Trigger:
			p.onTrigger(ctx, ev)
		case models.Reset:
			p.onReset(ctx, ev)
		}
	}

	if p.deps.Intensity == nil || !p.deps.Intensity.AddSegment(seg) {
		return
	}
	for _, res := range p.deps.Intensity.Results() {
		p.deps.Alerts.RaisePeak(res.Intensity)
		r := res
		p.mu.Lock()
		p.lastIntensity = &r
		p.mu.Unlock()
		logger.Debug("Intensity %.2f (class %s) at %s", res.Intensity, res.Class, res.Timestamp.UTC().Format("15:04:05.000"))
		if err := p.sink.Intensity(ctx, res); err != nil {
			logger.Warn("Failed to deliver intensity result: %v", err)
		}
	}
}

func (p *Pipeline) onTrigger(ctx context.Context, ev models.AlertEvent) {
	p.triggers.Add(1)
	alert, stale := p.deps.Alerts.Open(ev)
	if stale != nil {
		logger.Warn("Alert %s on %s was still open at new trigger, closing it", stale.ID, stale.Channel)
		if err := p.sink.AlertReset(ctx, *stale); err != nil {
			logger.Warn("Failed to deliver reset for alert %s: %v", stale.ID, err)
		}
	}
	logger.Info("Alert %s opened on %s (ratio %.2f)", alert.ID, alert.Channel, alert.TriggerRatio)

	if p.deps.Forwarder != nil {
		p.deps.Forwarder.ForwardEvent(ev)
	}
	if err := p.sink.AlertTriggered(ctx, alert); err != nil {
		logger.Warn("Failed to deliver trigger for alert %s: %v", alert.ID, err)
	}
	if p.deps.Snapshots != nil {
		p.deps.Snapshots.Schedule(alert)
	}
}

func (p *Pipeline) onReset(ctx context.Context, ev models.AlertEvent) {
	p.resets.Add(1)
	alert, ok := p.deps.Alerts.Close(ev)
	if !ok {
		logger.Warn("Reset on %s without an open alert", ev.Channel)
		return
	}
	logger.Info("Alert %s on %s closed after %s (peak ratio %.2f, peak intensity %.2f)",
		alert.ID, alert.Channel, alert.Duration(), alert.MaxRatio, alert.MaxIntensity)

	if p.deps.Forwarder != nil {
		p.deps.Forwarder.ForwardEvent(ev)
	}
	if err := p.sink.AlertReset(ctx, alert); err != nil {
		logger.Warn("Failed to deliver reset for alert %s: %v", alert.ID, err)
	}
}

// Status reports counters, trigger states, open alerts and the latest intensity.
func (p *Pipeline) Status() Status {
	s := Status{
		Stats: Stats{
			Packets:      p.packets.Load(),
			Segments:     p.segments.Load(),
			DecodeErrors: p.decodeErrors.Load(),
			Triggers:     p.triggers.Load(),
			Resets:       p.resets.Load(),
		},
		Channels: p.deps.Trigger.States(),
		Active:   p.deps.Alerts.Active(),
	}
	p.mu.Lock()
	if p.lastIntensity != nil {
		r := *p.lastIntensity
		s.LastIntensity = &r
	}
	p.mu.Unlock()
	return s
}
