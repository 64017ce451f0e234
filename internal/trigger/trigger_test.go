package trigger

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/seisguard/internal/filter"
	"github.com/rewired-gh/seisguard/internal/models"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func slowConfig() Config {
	cfg := DefaultConfig()
	cfg.STA = 0.5
	cfg.LTA = 2
	cfg.SampleRate = 10
	cfg.Threshold = 100
	cfg.ResetThreshold = 50
	cfg.Channels = []string{"all"}
	return cfg
}

func at(i int, rate float64) time.Time {
	return t0.Add(time.Duration(float64(i) * float64(time.Second) / rate))
}

// ─── Config ────────────────────────────────────────────────────────────────

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sta", func(c *Config) { c.STA = 0 }},
		{"zero lta", func(c *Config) { c.LTA = 0 }},
		{"sta not shorter", func(c *Config) { c.STA = c.LTA }},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"reset above threshold", func(c *Config) { c.ResetThreshold = c.Threshold + 1 }},
		{"negative duration", func(c *Config) { c.MinDuration = -1 }},
		{"unknown energy", func(c *Config) { c.Energy = "cubed" }},
		{"gap factor too small", func(c *Config) { c.GapFactor = 1 }},
		{"lta below two samples", func(c *Config) { c.STA, c.LTA = 0.001, 0.01 }},
		{"empty channels", func(c *Config) { c.Channels = nil }},
		{"band above nyquist", func(c *Config) { c.Band = &Band{Order: 4, Low: 1, High: 60} }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if _, err := NewManager(cfg); err == nil {
				t.Error("NewManager accepted invalid config")
			}
		})
	}
}

// ─── Warm-up and gaps ──────────────────────────────────────────────────────

func TestWarmUpEndsAtLTASamples(t *testing.T) {
	m := newTestManager(t, slowConfig())
	id := "AM.R0000.00.EHZ"
	transitions := 0
	prev := WarmingUp
	for i := 0; i < 40; i++ {
		if _, err := m.AddSample(id, "EHZ", at(i, 10), 1); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		s, _ := m.State(id)
		if i == 18 && s.State != WarmingUp {
			t.Fatalf("19th sample: state %v, want warming-up", s.State)
		}
		if i == 19 && s.State != Monitoring {
			t.Fatalf("20th sample: state %v, want monitoring", s.State)
		}
		if prev == WarmingUp && s.State == Monitoring {
			transitions++
		}
		prev = s.State
	}
	if transitions != 1 {
		t.Errorf("entered monitoring %d times, want 1", transitions)
	}
}

func TestGapResetsState(t *testing.T) {
	m := newTestManager(t, slowConfig())
	id := "AM.R0000.00.EHZ"
	for i := 0; i < 30; i++ {
		m.AddSample(id, "EHZ", at(i, 10), 1)
	}
	last := at(29, 10)

	// 10 ms of jitter on a 100 ms cadence is tolerated
	jitter := last.Add(110 * time.Millisecond)
	m.AddSample(id, "EHZ", jitter, 1)
	s, _ := m.State(id)
	if s.Samples != 31 || s.State != Monitoring {
		t.Fatalf("after jitter: samples=%d state=%v", s.Samples, s.State)
	}

	m.AddSample(id, "EHZ", jitter.Add(2*time.Second), 1)
	s, _ = m.State(id)
	if s.Samples != 1 || s.State != WarmingUp {
		t.Fatalf("after 2s gap: samples=%d state=%v, want 1 warming-up", s.Samples, s.State)
	}
}

func TestGapTolerance(t *testing.T) {
	cfg := slowConfig()
	cfg.GapTolerance = time.Second
	m := newTestManager(t, cfg)
	id := "X.EHZ"
	m.AddSample(id, "EHZ", t0, 1)
	m.AddSample(id, "EHZ", t0.Add(time.Second), 1) // 0.9 s off cadence
	if s, _ := m.State(id); s.Samples != 2 {
		t.Fatalf("samples=%d, want 2 within absolute tolerance", s.Samples)
	}
	m.AddSample(id, "EHZ", t0.Add(3*time.Second), 1)
	if s, _ := m.State(id); s.Samples != 1 {
		t.Fatalf("samples=%d, want reset to 1", s.Samples)
	}
}

func TestOutOfOrderSampleDiscarded(t *testing.T) {
	m := newTestManager(t, slowConfig())
	id := "X.EHZ"
	for i := 0; i < 5; i++ {
		m.AddSample(id, "EHZ", at(i, 10), float64(i))
	}
	before, _ := m.State(id)
	m.AddSample(id, "EHZ", at(4, 10), 99)
	m.AddSample(id, "EHZ", at(2, 10), 99)
	after, _ := m.State(id)
	if before != after {
		t.Errorf("state mutated by stale samples:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestNonFiniteSampleDiscarded(t *testing.T) {
	m := newTestManager(t, slowConfig())
	id := "X.EHZ"
	for i := 0; i < 30; i++ {
		m.AddSample(id, "EHZ", at(i, 10), 1)
	}
	before, _ := m.State(id)
	for i, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		ev, err := m.AddSample(id, "EHZ", at(30+i, 10), v)
		if ev != nil || err != nil {
			t.Fatalf("non-finite sample %v: event %v, error %v", v, ev, err)
		}
	}
	after, _ := m.State(id)
	if before != after {
		t.Fatalf("state mutated by non-finite samples:\nbefore %+v\nafter  %+v", before, after)
	}

	m.AddSample(id, "EHZ", at(30, 10), 1)
	s, _ := m.State(id)
	if math.IsNaN(s.STA) || math.IsNaN(s.LTA) || s.Samples != 31 {
		t.Errorf("after recovery: sta=%v lta=%v samples=%d", s.STA, s.LTA, s.Samples)
	}
}

func TestGapDuringAlarmEmitsReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA, cfg.LTA = 0.5, 5
	cfg.Threshold, cfg.ResetThreshold = 3, 1.5
	cfg.Channels = []string{"all"}
	m := newTestManager(t, cfg)
	id := "AM.R0000.00.EHZ"

	var trig *models.AlertEvent
	i := 0
	for ; i < 2300 && trig == nil; i++ {
		amp := 1.0
		if i >= 2000 {
			amp = 20
		}
		ev, err := m.AddSample(id, "EHZ", at(i, 100), amp*math.Sin(2*math.Pi*float64(i)/100))
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if ev != nil && ev.Type == models.Trigger {
			trig = ev
		}
	}
	if trig == nil {
		t.Fatal("burst did not trigger")
	}
	peak, _ := m.State(id)

	resume := at(i, 100).Add(10 * time.Second)
	ev, err := m.AddSample(id, "EHZ", resume, 0.5)
	if err != nil {
		t.Fatalf("AddSample after gap: %v", err)
	}
	if ev == nil || ev.Type != models.Reset {
		t.Fatalf("gap during alarm returned %v, want reset", ev)
	}
	if ev.Channel != id || !ev.Timestamp.Equal(resume) {
		t.Errorf("reset channel %q at %v", ev.Channel, ev.Timestamp)
	}
	if ev.MaxRatio != peak.MaxRatio || ev.MaxRatio < trig.Ratio {
		t.Errorf("reset peak %v, want %v (trigger %v)", ev.MaxRatio, peak.MaxRatio, trig.Ratio)
	}
	if s, _ := m.State(id); s.State != WarmingUp || s.Samples != 1 {
		t.Errorf("after gap: state %v samples %d, want warming-up 1", s.State, s.Samples)
	}

	// a gap outside an alarm stays silent
	if ev, _ := m.AddSample(id, "EHZ", resume.Add(10*time.Second), 0.5); ev != nil {
		t.Errorf("gap while warming up returned %v", ev)
	}
}

func TestTimestampOverflow(t *testing.T) {
	m := newTestManager(t, slowConfig())
	id := "X.EHZ"
	m.AddSample(id, "EHZ", time.Unix(0, 0), 1)
	before, _ := m.State(id)

	_, err := m.AddSample(id, "EHZ", time.Date(2600, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	if !errors.Is(err, ErrTimestampOverflow) {
		t.Fatalf("error = %v, want ErrTimestampOverflow", err)
	}
	after, _ := m.State(id)
	if before != after {
		t.Errorf("state changed on overflow")
	}
}

// ─── Determinism ───────────────────────────────────────────────────────────

func TestReplayIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA, cfg.LTA = 0.5, 5
	run := func() []float64 {
		e := newEngine("X.EHZ", cfg, filter.DefaultBandpass())
		var ratios []float64
		for i := 0; i < 3000; i++ {
			v := 1000 * math.Sin(2*math.Pi*float64(i)/73) * math.Cos(float64(i)/500)
			if _, err := e.Process(at(i, 100), v, 0); err != nil {
				t.Fatal(err)
			}
			ratios = append(ratios, e.ratio)
		}
		return ratios
	}
	a, b := run(), run()
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Fatalf("ratio %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestRecursionMatchesReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA, cfg.LTA = 0.5, 5
	e := newEngine("X.EHZ", cfg, filter.DefaultBandpass())
	ref := filter.DefaultBandpass()
	ref.Prime(0)

	csta := 1 / (0.5 * 100)
	clta := 1 / (5.0 * 100)
	var sta, lta float64
	for i := 0; i < 2000; i++ {
		v := 50 * math.Sin(2*math.Pi*float64(i)/100)
		e.Process(at(i, 100), v, 0)
		y := ref.Process(v)
		sta = csta*(y*y) + (1-csta)*sta
		lta = clta*(y*y) + (1-clta)*lta
		if math.Abs(e.sta-sta) > 1e-12*math.Max(1, sta) || math.Abs(e.lta-lta) > 1e-12*math.Max(1, lta) {
			t.Fatalf("sample %d: engine sta/lta %v/%v, reference %v/%v", i, e.sta, e.lta, sta, lta)
		}
	}
}

func TestSensitivityAndEnergy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA, cfg.LTA = 0.5, 5
	cfg.Energy = EnergyAbsolute

	counts := newEngine("X.EHZ", cfg, filter.DefaultBandpass())
	units := newEngine("X.EHZ", cfg, filter.DefaultBandpass())
	for i := 0; i < 100; i++ {
		v := math.Sin(2 * math.Pi * float64(i) / 100)
		counts.Process(at(i, 100), v*400, 0)
		units.Process(at(i, 100), v*400, 400)
	}
	if math.Abs(counts.sta-400*units.sta) > 1e-9*counts.sta {
		t.Errorf("absolute energy should scale linearly: %v vs 400*%v", counts.sta, units.sta)
	}
}

// ─── Scenario: burst ───────────────────────────────────────────────────────

func TestScenario_BurstTriggersOnceAndResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA = 0.5
	cfg.LTA = 5
	cfg.Threshold = 3
	cfg.ResetThreshold = 1.5
	cfg.MinDuration = 0.1
	cfg.Channels = []string{"HZ"}
	m := newTestManager(t, cfg)

	seg := models.TraceSegment{
		Network: "AM", Station: "R0000", Location: "00", Channel: "EHZ",
		StartTime: t0, SampleRate: 100,
	}
	for i := 0; i < 6300; i++ {
		amp := 1.0
		if i >= 2000 && i < 2300 {
			amp = 20
		}
		seg.Samples = append(seg.Samples, amp*math.Sin(2*math.Pi*float64(i)/100))
	}

	events := m.AddSegment(seg)
	if len(events) != 2 {
		t.Fatalf("got %d events, want trigger and reset: %+v", len(events), events)
	}
	trig, reset := events[0], events[1]
	if trig.Type != models.Trigger || reset.Type != models.Reset {
		t.Fatalf("event order %s, %s", trig.Type, reset.Type)
	}
	if trig.Channel != "AM.R0000.00.EHZ" {
		t.Errorf("channel = %q", trig.Channel)
	}
	if trig.Ratio <= 3 || trig.MaxRatio != trig.Ratio {
		t.Errorf("trigger ratio %v max %v", trig.Ratio, trig.MaxRatio)
	}
	if !trig.Timestamp.After(seg.SampleTime(2000)) || trig.Timestamp.After(seg.SampleTime(2300)) {
		t.Errorf("trigger at %v, outside burst", trig.Timestamp)
	}
	if reset.MaxRatio < trig.Ratio {
		t.Errorf("reset max ratio %v below trigger ratio %v", reset.MaxRatio, trig.Ratio)
	}
	if reset.Ratio >= 1.5 {
		t.Errorf("reset ratio %v not below reset threshold", reset.Ratio)
	}
	if s, _ := m.State(trig.Channel); s.State != Monitoring {
		t.Errorf("final state %v, want monitoring", s.State)
	}
}

func TestMinDurationSuppressesShortSpike(t *testing.T) {
	cfg := DefaultConfig()
	cfg.STA, cfg.LTA = 0.5, 5
	cfg.Threshold, cfg.ResetThreshold = 3, 1.5
	cfg.MinDuration = 30
	cfg.Channels = []string{"all"}
	m := newTestManager(t, cfg)

	seg := models.TraceSegment{Channel: "EHZ", StartTime: t0, SampleRate: 100}
	for i := 0; i < 4000; i++ {
		amp := 1.0
		if i >= 2000 && i < 2300 {
			amp = 20
		}
		seg.Samples = append(seg.Samples, amp*math.Sin(2*math.Pi*float64(i)/100))
	}
	if events := m.AddSegment(seg); len(events) != 0 {
		t.Errorf("short burst raised %d events with 30 s minimum duration", len(events))
	}
}

func TestChannelFilter(t *testing.T) {
	cfg := slowConfig()
	cfg.Channels = []string{"HZ"}
	m := newTestManager(t, cfg)
	m.AddSample("AM.R0000.00.EHN", "EHN", t0, 1)
	m.AddSample("AM.R0000.00.EHZ", "EHZ", t0, 1)
	states := m.States()
	if len(states) != 1 || states[0].ID != "AM.R0000.00.EHZ" {
		t.Errorf("states = %+v", states)
	}
}

// ─── Offline reference ────────────────────────────────────────────────────

func TestRecursiveSTALTA(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = 1
	}
	out := RecursiveSTALTA(data, 5, 20)
	for i := 0; i < 20; i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %v, want 0 inside the lta window", i, out[i])
		}
	}
	// constant input: sta converges faster than lta, so ratio > 1 and decreasing toward 1
	if out[20] <= 1 || out[99] >= out[20] || out[99] < 1 {
		t.Errorf("unexpected ratios: out[20]=%v out[99]=%v", out[20], out[99])
	}
	if got := RecursiveSTALTA(nil, 5, 20); len(got) != 0 {
		t.Errorf("empty input gave %v", got)
	}
}
