package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
	"github.com/rewired-gh/seisguard/internal/waveform"
)

// Config controls when and what is rendered.
type Config struct {
	Dir string
	// Delay is the wait after the trigger before rendering.
	Delay time.Duration
	// Seconds of history to include, ending at render time.
	Seconds float64
	Band    *Band
}

// Scheduler renders one image per alert after Config.Delay and reports the file to
// OnRendered.
type Scheduler struct {
	cfg        Config
	store      *waveform.Store
	onRendered func(alert models.Alert, path string)

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler creates the output directory and returns a Scheduler reading from
// store. onRendered may be nil.
func NewScheduler(store *waveform.Store, cfg Config, onRendered func(models.Alert, string)) (*Scheduler, error) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "seisguard", "snapshots")
	}
	if cfg.Seconds <= 0 {
		cfg.Seconds = 90
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		onRendered: onRendered,
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Schedule queues a render for alert. Scheduling an alert ID twice is a no-op.
func (s *Scheduler) Schedule(alert models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.pending[alert.ID]; ok {
		return
	}
	s.wg.Add(1)
	s.pending[alert.ID] = time.AfterFunc(s.cfg.Delay, func() {
		defer s.wg.Done()
		s.render(alert)
		s.mu.Lock()
		delete(s.pending, alert.ID)
		s.mu.Unlock()
	})
	logger.Debug("Snapshot for alert %s scheduled in %s", alert.ID, s.cfg.Delay)
}

func (s *Scheduler) render(alert models.Alert) {
	w, ok := s.store.Snapshot(alert.Channel)
	if !ok {
		logger.Warn("No waveform buffered for %s, snapshot of alert %s skipped", alert.Channel, alert.ID)
		return
	}
	if n := int(s.cfg.Seconds * w.Rate); n > 0 && n < len(w.Samples) {
		w.Samples = w.Samples[len(w.Samples)-n:]
	}

	path := filepath.Join(s.cfg.Dir, fileName(alert))
	// sigma is over everything received on the channel, not just the plotted slice
	title := fmt.Sprintf("%s trigger at %s (STA/LTA %.2f, sigma %.1f)",
		alert.Channel, alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05"), alert.TriggerRatio, w.Stats.Sigma())
	if err := Render(w, title, alert.TriggeredAt, s.cfg.Band, path); err != nil {
		logger.Warn("Snapshot of alert %s failed: %v", alert.ID, err)
		return
	}
	logger.Info("Snapshot of alert %s saved to %s", alert.ID, path)
	if s.onRendered != nil {
		s.onRendered(alert, path)
	}
}

func fileName(a models.Alert) string {
	ch := strings.NewReplacer(".", "_", "/", "_").Replace(a.Channel)
	return fmt.Sprintf("%s_%s.png", ch, a.TriggeredAt.UTC().Format("20060102T150405.000Z"))
}

// Close cancels renders that have not started and waits for running ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.pending {
		if t.Stop() {
			s.wg.Done()
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
