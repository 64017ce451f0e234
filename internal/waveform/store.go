// Package waveform keeps the most recent samples of every channel for snapshot
// rendering and status reporting.
package waveform

import (
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/seisguard/internal/models"
)

// DefaultRetention is how much history each channel keeps.
const DefaultRetention = 300 * time.Second

// Window is a copy of one channel's buffered samples.
type Window struct {
	Channel string
	Samples []float64
	End     time.Time
	Rate    float64
	Stats   Stats
}

// Start returns the timestamp of the first sample in the window.
func (w Window) Start() time.Time {
	if w.Rate <= 0 || len(w.Samples) == 0 {
		return w.End
	}
	span := float64(len(w.Samples)-1) / w.Rate
	return w.End.Add(-time.Duration(span * float64(time.Second)))
}

type channel struct {
	ring  *Ring
	end   time.Time
	rate  float64
	stats Stats
}

// Store holds one ring per channel identity. Appends come from the processing loop;
// readers take copies under the read lock.
type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	channels  map[string]*channel
}

// NewStore returns a Store keeping retention worth of samples per channel, or
// DefaultRetention if retention is not positive.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{retention: retention, channels: make(map[string]*channel)}
}

// Append adds seg's samples to its channel ring. A change of sample rate replaces
// the ring.
func (s *Store) Append(seg models.TraceSegment) {
	if len(seg.Samples) == 0 || seg.SampleRate <= 0 {
		return
	}
	id := seg.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok || ch.rate != seg.SampleRate {
		ch = &channel{
			ring: NewRing(int(seg.SampleRate * s.retention.Seconds())),
			rate: seg.SampleRate,
		}
		s.channels[id] = ch
	}
	ch.ring.PushSlice(seg.Samples)
	for _, v := range seg.Samples {
		ch.stats.Update(v)
	}
	if end := seg.EndTime(); end.After(ch.end) {
		ch.end = end
	}
}

// Snapshot returns a copy of the buffered samples for channel identity id.
func (s *Store) Snapshot(id string) (Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id]
	if !ok {
		return Window{}, false
	}
	return Window{
		Channel: id,
		Samples: ch.ring.Slice(),
		End:     ch.end,
		Rate:    ch.rate,
		Stats:   ch.stats,
	}, true
}

// Channels returns the known channel identities in sorted order.
func (s *Store) Channels() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
