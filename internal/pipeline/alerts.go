package pipeline

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/rewired-gh/seisguard/internal/models"
)

// AlertTable tracks the open alert of every channel in alarm.
type AlertTable struct {
	mu     sync.Mutex
	active map[string]*models.Alert
}

func NewAlertTable() *AlertTable {
	return &AlertTable{active: make(map[string]*models.Alert)}
}

// Open records a new alert for a trigger event. If the channel still has an open
// alert, which happens when a timing gap reset the detector mid-alarm, that alert is
// closed at the new trigger time and returned as stale.
func (t *AlertTable) Open(ev models.AlertEvent) (alert models.Alert, stale *models.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.active[ev.Channel]; ok {
		closed := *prev
		at := ev.Timestamp
		closed.ResetAt = &at
		stale = &closed
	}
	a := &models.Alert{
		ID:           uuid.New().String(),
		Channel:      ev.Channel,
		TriggeredAt:  ev.Timestamp,
		TriggerRatio: ev.Ratio,
		MaxRatio:     ev.Ratio,
	}
	t.active[ev.Channel] = a
	return *a, stale
}

// Close ends the open alert of the event's channel and returns it with the reset
// time and peak ratio filled in.
func (t *AlertTable) Close(ev models.AlertEvent) (models.Alert, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.active[ev.Channel]
	if !ok {
		return models.Alert{}, false
	}
	delete(t.active, ev.Channel)
	at := ev.Timestamp
	a.ResetAt = &at
	if ev.MaxRatio > a.MaxRatio {
		a.MaxRatio = ev.MaxRatio
	}
	return *a, true
}

// RaisePeak lifts the peak intensity of every open alert to at least intensity.
func (t *AlertTable) RaisePeak(intensity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.active {
		if intensity > a.MaxIntensity {
			a.MaxIntensity = intensity
		}
	}
}

// SetSnapshot records the rendered image for the alert with the given ID, if it is
// still open.
func (t *AlertTable) SetSnapshot(id, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.active {
		if a.ID == id {
			a.SnapshotPath = path
			return true
		}
	}
	return false
}

// Active returns copies of the open alerts, oldest first.
func (t *AlertTable) Active() []models.Alert {
	t.mu.Lock()
	out := make([]models.Alert, 0, len(t.active))
	for _, a := range t.active {
		out = append(out, *a)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggeredAt.Equal(out[j].TriggeredAt) {
			return out[i].Channel < out[j].Channel
		}
		return out[i].TriggeredAt.Before(out[j].TriggeredAt)
	})
	return out
}
