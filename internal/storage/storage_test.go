package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rewired-gh/seisguard/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T, maxAlerts, maxIntensity int) *Storage {
	t.Helper()
	s, err := New(maxAlerts, maxIntensity, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(id string, at time.Time) models.Alert {
	return models.Alert{
		ID:           id,
		Channel:      "AM.R1234.00.EHZ",
		TriggeredAt:  at,
		TriggerRatio: 3.2,
		MaxRatio:     3.2,
	}
}

// ─── Alerts ────────────────────────────────────────────────────────────────

func TestStorage_AlertLifecycle(t *testing.T) {
	s := newTestStorage(t, 100, 100)
	ctx := context.Background()
	a := testAlert("a1", base)

	if err := s.AlertTriggered(ctx, a); err != nil {
		t.Fatalf("AlertTriggered: %v", err)
	}
	got, err := s.GetAlert("a1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if !got.Active() {
		t.Error("stored alert should be active")
	}

	if err := s.SetSnapshotPath("a1", "/var/lib/seisguard/a1.png"); err != nil {
		t.Fatalf("SetSnapshotPath: %v", err)
	}

	reset := base.Add(12 * time.Second)
	a.ResetAt = &reset
	a.MaxRatio = 8.5
	a.MaxIntensity = 2.7
	if err := s.AlertReset(ctx, a); err != nil {
		t.Fatalf("AlertReset: %v", err)
	}

	got, err = s.GetAlert("a1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	want := a
	want.SnapshotPath = "/var/lib/seisguard/a1.png"
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("alert mismatch (-want +got):\n%s", diff)
	}
}

func TestStorage_AlertResetWithoutTrigger(t *testing.T) {
	s := newTestStorage(t, 100, 100)
	a := testAlert("orphan", base)
	reset := base.Add(time.Second)
	a.ResetAt = &reset
	if err := s.AlertReset(context.Background(), a); err != nil {
		t.Fatalf("AlertReset: %v", err)
	}
	got, err := s.GetAlert("orphan")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.Active() {
		t.Error("reset alert should not be active")
	}
}

func TestStorage_InvalidAlert(t *testing.T) {
	s := newTestStorage(t, 100, 100)
	if err := s.AlertTriggered(context.Background(), models.Alert{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestStorage_NotFound(t *testing.T) {
	s := newTestStorage(t, 100, 100)
	if _, err := s.GetAlert("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAlert error = %v, want ErrNotFound", err)
	}
	if err := s.SetSnapshotPath("missing", "x.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetSnapshotPath error = %v, want ErrNotFound", err)
	}
}

func TestStorage_AlertCapAndOrder(t *testing.T) {
	s := newTestStorage(t, 3, 100)
	for i := 0; i < 5; i++ {
		if err := s.AlertTriggered(context.Background(), testAlert(fmt.Sprintf("a%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AlertTriggered %d: %v", i, err)
		}
	}
	alerts, err := s.RecentAlerts(10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	var ids []string
	for _, a := range alerts {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"a4", "a3", "a2"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

// ─── Intensity ─────────────────────────────────────────────────────────────

func TestStorage_IntensityAndRotate(t *testing.T) {
	s := newTestStorage(t, 0, 4)
	ctx := context.Background()
	values := []float64{1.1, 3.4, 2.0, 0.5, 0.7, 1.9}
	for i, v := range values {
		r := models.IntensityResult{Timestamp: base.Add(time.Duration(i) * time.Second), Intensity: v, Class: "x"}
		if err := s.Intensity(ctx, r); err != nil {
			t.Fatalf("Intensity: %v", err)
		}
	}

	peak, ok, err := s.PeakIntensity(base)
	if err != nil || !ok {
		t.Fatalf("PeakIntensity: ok=%v err=%v", ok, err)
	}
	if peak.Intensity != 3.4 || !peak.Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("peak = %+v", peak)
	}

	if err := s.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	n, err := s.CountIntensity()
	if err != nil {
		t.Fatalf("CountIntensity: %v", err)
	}
	if n != 4 {
		t.Errorf("rows after rotate = %d, want 4", n)
	}
	peak, _, _ = s.PeakIntensity(base)
	if peak.Intensity != 2.0 {
		t.Errorf("peak after rotate = %v, want 2.0", peak.Intensity)
	}

	if _, ok, err := s.PeakIntensity(base.Add(time.Hour)); ok || err != nil {
		t.Errorf("PeakIntensity in the future: ok=%v err=%v", ok, err)
	}
}

// ─── Sensitivities ─────────────────────────────────────────────────────────

func TestStorage_Sensitivities(t *testing.T) {
	s := newTestStorage(t, 0, 0)
	if err := s.SaveSensitivities(map[string]float64{"EHZ": 3.99e8, "ENZ": 3.8e5}, base); err != nil {
		t.Fatalf("SaveSensitivities: %v", err)
	}
	if err := s.SaveSensitivities(map[string]float64{"EHZ": 4e8}, base.Add(time.Hour)); err != nil {
		t.Fatalf("SaveSensitivities: %v", err)
	}
	got, err := s.LoadSensitivities()
	if err != nil {
		t.Fatalf("LoadSensitivities: %v", err)
	}
	if diff := cmp.Diff(map[string]float64{"EHZ": 4e8, "ENZ": 3.8e5}, got); diff != "" {
		t.Errorf("sensitivities mismatch (-want +got):\n%s", diff)
	}
}

func TestStorage_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.db")
	s, err := New(10, 10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AlertTriggered(context.Background(), testAlert("f1", base)); err != nil {
		t.Fatalf("AlertTriggered: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(10, 10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetAlert("f1"); err != nil {
		t.Errorf("alert lost across reopen: %v", err)
	}
}
