// Package packet turns raw datagrams into trace segments. A datagram is either one or
// more MiniSEED records or a Raspberry Shake text packet such as
// {'EHZ', 1712345678.120, 12, -3, 4}.
package packet

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/seisguard/internal/models"
	"github.com/rewired-gh/seisguard/internal/mseed"
)

var (
	ErrMalformed = errors.New("packet: malformed text datagram")
	ErrShort     = errors.New("packet: datagram shorter than a record header")
)

// Decoder holds the identity applied to text datagrams, which carry only a channel code.
type Decoder struct {
	Network    string
	Station    string
	Location   string
	SampleRate float64
}

// NewDecoder returns a Decoder for text datagrams from the given station.
func NewDecoder(network, station string, sampleRate float64) *Decoder {
	if network == "" {
		network = "AM"
	}
	if station == "" {
		station = "R0000"
	}
	if sampleRate <= 0 {
		sampleRate = 100
	}
	return &Decoder{Network: network, Station: station, Location: "00", SampleRate: sampleRate}
}

// Decode returns the segments in data. For MiniSEED input the per-record errors are
// returned joined; segments that decoded are still returned alongside them.
func (d *Decoder) Decode(data []byte) ([]models.TraceSegment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		seg, err := d.decodeText(trimmed)
		if err != nil {
			return nil, err
		}
		return []models.TraceSegment{seg}, nil
	}
	if len(data) < mseed.FixedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShort, len(data))
	}
	segs, errs := mseed.DecodeStream(data)
	// zero-sample and unsupported records carry nothing to process
	kept := errs[:0]
	for _, err := range errs {
		if !mseed.Skippable(err) {
			kept = append(kept, err)
		}
	}
	return segs, errors.Join(kept...)
}

func (d *Decoder) decodeText(data []byte) (models.TraceSegment, error) {
	body := strings.TrimSpace(string(data))
	if !strings.HasSuffix(body, "}") {
		return models.TraceSegment{}, fmt.Errorf("%w: missing closing brace", ErrMalformed)
	}
	fields := strings.Split(body[1:len(body)-1], ",")
	if len(fields) < 3 {
		return models.TraceSegment{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(fields))
	}

	channel := strings.Trim(strings.TrimSpace(fields[0]), `'"`)
	if channel == "" {
		return models.TraceSegment{}, fmt.Errorf("%w: empty channel", ErrMalformed)
	}
	epoch, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil || math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return models.TraceSegment{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, fields[1])
	}

	samples := make([]float64, 0, len(fields)-2)
	for _, f := range fields[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.TraceSegment{}, fmt.Errorf("%w: sample %q", ErrMalformed, f)
		}
		samples = append(samples, v)
	}

	sec, frac := math.Modf(epoch)
	start := time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000).UTC()
	return models.TraceSegment{
		Network:    d.Network,
		Station:    d.Station,
		Location:   d.Location,
		Channel:    channel,
		StartTime:  start,
		SampleRate: d.SampleRate,
		Samples:    samples,
	}, nil
}
