// Package mseed decodes 512-byte MiniSEED data records: the fixed header, the
// blockette chain and Steim1/Steim2 or uncompressed sample payloads.
package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sizes and codes from the SEED 2.4 record layout.
const (
	FixedHeaderSize     = 48
	DefaultRecordLength = 512

	EncodingInt16   uint8 = 1
	EncodingInt32   uint8 = 3
	EncodingFloat32 uint8 = 4
	EncodingFloat64 uint8 = 5
	EncodingSteim1  uint8 = 10
	EncodingSteim2  uint8 = 11

	blocketteDataOnly = 1000
	maxBlockettes     = 32
)

var (
	ErrTruncated           = errors.New("mseed: truncated record")
	ErrInvalidTime         = errors.New("mseed: invalid start time")
	ErrNoData              = errors.New("mseed: record holds no samples")
	ErrUnsupportedEncoding = errors.New("mseed: unsupported encoding")
	ErrNonFinite           = errors.New("mseed: non-finite sample")
)

// Header holds the decoded fixed section header plus what blockette 1000 supplied.
type Header struct {
	Sequence       string
	Quality        byte
	Station        string
	Location       string
	Channel        string
	Network        string
	StartTime      time.Time
	NumSamples     uint16
	RateFactor     int16
	RateMultiplier int16
	ActivityFlags  uint8
	IOFlags        uint8
	QualityFlags   uint8
	NumBlockettes  uint8
	TimeCorrection int32
	DataOffset     uint16
	BlockOffset    uint16

	Encoding     uint8
	ByteOrder    binary.ByteOrder
	RecordLength int
}

// cursor reads big-endian fields in order and remembers the first field that ran past the end.
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) next(n int, field string) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > len(c.buf) {
		c.err = fmt.Errorf("%w: reading %s at offset %d", ErrTruncated, field, c.off)
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) text(n int, field string) string {
	return strings.TrimSpace(string(c.next(n, field)))
}

func (c *cursor) u8(field string) uint8 {
	b := c.next(1, field)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16(field string) uint16 {
	b := c.next(2, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) u32(field string) uint32 {
	b := c.next(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// ParseHeader decodes the fixed header of record and walks its blockette chain.
// Missing blockette 1000 leaves the Steim2, big-endian, 512-byte defaults in place.
func ParseHeader(record []byte) (*Header, error) {
	c := &cursor{buf: record}
	h := &Header{
		Encoding:     EncodingSteim2,
		ByteOrder:    binary.BigEndian,
		RecordLength: DefaultRecordLength,
	}

	h.Sequence = c.text(6, "sequence number")
	h.Quality = c.u8("quality indicator")
	c.u8("reserved")
	h.Station = c.text(5, "station")
	h.Location = c.text(2, "location")
	h.Channel = c.text(3, "channel")
	h.Network = c.text(2, "network")

	year := c.u16("start year")
	doy := c.u16("start day")
	hour := c.u8("start hour")
	minute := c.u8("start minute")
	second := c.u8("start second")
	c.u8("unused")
	ticks := c.u16("start ticks")

	h.NumSamples = c.u16("sample count")
	h.RateFactor = int16(c.u16("rate factor"))
	h.RateMultiplier = int16(c.u16("rate multiplier"))
	h.ActivityFlags = c.u8("activity flags")
	h.IOFlags = c.u8("io flags")
	h.QualityFlags = c.u8("quality flags")
	h.NumBlockettes = c.u8("blockette count")
	h.TimeCorrection = int32(c.u32("time correction"))
	h.DataOffset = c.u16("data offset")
	h.BlockOffset = c.u16("blockette offset")
	if c.err != nil {
		return nil, c.err
	}

	start, err := btime(year, doy, hour, minute, second, ticks)
	if err != nil {
		return nil, err
	}
	h.StartTime = start

	if err := h.walkBlockettes(record); err != nil {
		return nil, err
	}
	return h, nil
}

// walkBlockettes follows the next-offset chain. Offsets must stay inside the record,
// past the fixed header, and strictly increase; the iteration count is bounded.
func (h *Header) walkBlockettes(record []byte) error {
	off := int(h.BlockOffset)
	for i := 0; i < maxBlockettes; i++ {
		if off < FixedHeaderSize || off+4 > len(record) {
			return nil
		}
		typ := binary.BigEndian.Uint16(record[off:])
		next := int(binary.BigEndian.Uint16(record[off+2:]))

		if typ == blocketteDataOnly {
			if off+7 > len(record) {
				return fmt.Errorf("%w: blockette 1000 at offset %d", ErrTruncated, off)
			}
			h.Encoding = record[off+4]
			if record[off+5] == 0 {
				h.ByteOrder = binary.LittleEndian
			}
			if exp := record[off+6]; exp >= 7 && exp <= 20 {
				h.RecordLength = 1 << exp
			}
			return nil
		}
		if next <= off {
			return nil
		}
		off = next
	}
	return nil
}

func btime(year, doy uint16, hour, minute, second uint8, ticks uint16) (time.Time, error) {
	if year == 0 || doy == 0 || doy > 366 || hour > 23 || minute > 59 || second > 60 || ticks > 9999 {
		return time.Time{}, fmt.Errorf("%w: %04d,%03d %02d:%02d:%02d.%04d",
			ErrInvalidTime, year, doy, hour, minute, second, ticks)
	}
	t := time.Date(int(year), time.January, 1, int(hour), int(minute), int(second), int(ticks)*100_000, time.UTC)
	return t.AddDate(0, 0, int(doy)-1), nil
}

// SampleRate derives samples per second from the factor/multiplier pair.
// Negative values mean "divide by"; a zero in either gives 0.
func (h *Header) SampleRate() float64 {
	f := float64(h.RateFactor)
	m := float64(h.RateMultiplier)
	switch {
	case f > 0 && m > 0:
		return f * m
	case f > 0 && m < 0:
		return -f / m
	case f < 0 && m > 0:
		return -m / f
	case f < 0 && m < 0:
		return 1 / (f * m)
	default:
		return 0
	}
}
