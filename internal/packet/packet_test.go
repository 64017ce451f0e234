package packet

import (
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/seisguard/internal/mseed/mseedtest"
)

func TestDecodeText(t *testing.T) {
	d := NewDecoder("", "R6E01", 100)
	segs, err := d.Decode([]byte("{'EHZ', 1712345678.120, 12, -3, 4}"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	seg := segs[0]
	if seg.ID() != "AM.R6E01.00.EHZ" {
		t.Errorf("ID = %q", seg.ID())
	}
	want := time.Unix(1712345678, 120_000_000).UTC()
	if !seg.StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", seg.StartTime, want)
	}
	if len(seg.Samples) != 3 || seg.Samples[0] != 12 || seg.Samples[1] != -3 || seg.Samples[2] != 4 {
		t.Errorf("Samples = %v", seg.Samples)
	}
	if seg.SampleRate != 100 {
		t.Errorf("SampleRate = %v", seg.SampleRate)
	}
}

func TestDecodeTextMalformed(t *testing.T) {
	d := NewDecoder("AM", "R0000", 100)
	tests := []string{
		"{'EHZ', 1712345678.1}",
		"{'EHZ', nope, 1, 2}",
		"{'EHZ', 1712345678.1, 1, x}",
		"{'', 1712345678.1, 1}",
		"{'EHZ', 1712345678.1, 1",
		"{'EHZ', 1712345678.1, 1, NaN, 3}",
		"{'EHZ', 1712345678.1, Inf}",
		"{'EHZ', 1712345678.1, 2, -Inf}",
	}
	for _, in := range tests {
		if _, err := d.Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestDecodeMiniSEED(t *testing.T) {
	rec := mseedtest.Record{
		Network: "AM", Station: "R6E01", Location: "00", Channel: "EHZ",
		Start:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Samples: []int32{5, 6, 7},
	}.Bytes()

	d := NewDecoder("AM", "R0000", 100)
	segs, err := d.Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(segs) != 1 || segs[0].Station != "R6E01" || len(segs[0].Samples) != 3 {
		t.Fatalf("unexpected segments: %+v", segs)
	}

	empty := mseedtest.Record{Channel: "EHZ", Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}.Bytes()
	segs, err = d.Decode(empty)
	if len(segs) != 0 || err != nil {
		t.Errorf("empty record: segs=%d err=%v, want nothing", len(segs), err)
	}
}

func TestDecodeShortDatagram(t *testing.T) {
	d := NewDecoder("", "", 0)
	for _, in := range [][]byte{nil, {0x01, 0x02, 0x03}, make([]byte, 47)} {
		if _, err := d.Decode(in); !errors.Is(err, ErrShort) {
			t.Errorf("Decode(%d bytes) error = %v, want ErrShort", len(in), err)
		}
	}
}
