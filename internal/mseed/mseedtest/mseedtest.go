// Package mseedtest builds synthetic MiniSEED records for tests.
package mseedtest

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	recordLength = 512
	dataOffset   = 64
)

// Record describes a synthetic 512-byte record with a blockette 1000 at offset 48
// and the payload starting at offset 64.
type Record struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Start    time.Time

	RateFactor     int16
	RateMultiplier int16

	// Encoding is 3 (int32), 10 (Steim1) or 11 (Steim2, the default).
	Encoding     uint8
	LittleEndian bool
	Samples      []int32

	// Xn overrides the reverse integration constant written to frame 0.
	Xn *int32
}

// Bytes encodes the record. It panics if the samples do not fit in one record.
func (r Record) Bytes() []byte {
	buf := make([]byte, recordLength)
	be := binary.BigEndian

	copy(buf[0:6], "000001")
	buf[6] = 'D'
	buf[7] = ' '
	putText(buf[8:13], r.Station)
	putText(buf[13:15], r.Location)
	putText(buf[15:18], r.Channel)
	putText(buf[18:20], r.Network)

	t := r.Start.UTC()
	be.PutUint16(buf[20:], uint16(t.Year()))
	be.PutUint16(buf[22:], uint16(t.YearDay()))
	buf[24] = byte(t.Hour())
	buf[25] = byte(t.Minute())
	buf[26] = byte(t.Second())
	be.PutUint16(buf[28:], uint16(t.Nanosecond()/100_000))

	be.PutUint16(buf[30:], uint16(len(r.Samples)))
	factor, mult := r.RateFactor, r.RateMultiplier
	if factor == 0 {
		factor = 100
	}
	if mult == 0 {
		mult = 1
	}
	be.PutUint16(buf[32:], uint16(factor))
	be.PutUint16(buf[34:], uint16(mult))
	buf[39] = 1
	be.PutUint16(buf[44:], dataOffset)
	be.PutUint16(buf[46:], 48)

	enc := r.Encoding
	if enc == 0 {
		enc = 11
	}
	be.PutUint16(buf[48:], 1000)
	be.PutUint16(buf[50:], 0)
	buf[52] = enc
	buf[53] = 1
	if r.LittleEndian {
		buf[53] = 0
	}
	buf[54] = 9

	payload := buf[dataOffset:]
	switch enc {
	case 3:
		var order binary.ByteOrder = binary.BigEndian
		if r.LittleEndian {
			order = binary.LittleEndian
		}
		if len(r.Samples)*4 > len(payload) {
			panic(fmt.Sprintf("mseedtest: %d int32 samples do not fit", len(r.Samples)))
		}
		for i, s := range r.Samples {
			order.PutUint32(payload[i*4:], uint32(s))
		}
	case 10, 11:
		r.encodeSteim(payload, enc)
	default:
		panic(fmt.Sprintf("mseedtest: unsupported encoding %d", enc))
	}
	return buf
}

func putText(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

type packing struct {
	key, dnib  uint32
	bits, size int
}

var steim2Packings = []packing{
	{3, 2, 4, 7},
	{3, 1, 5, 6},
	{3, 0, 6, 5},
	{1, 0, 8, 4},
	{2, 3, 10, 3},
	{2, 2, 15, 2},
	{2, 1, 30, 1},
}

var steim1Packings = []packing{
	{1, 0, 8, 4},
	{2, 0, 16, 2},
	{3, 0, 32, 1},
}

func fits(d int32, bits int) bool {
	if bits >= 32 {
		return true
	}
	lim := int32(1) << (bits - 1)
	return d >= -lim && d < lim
}

func (r Record) encodeSteim(payload []byte, enc uint8) {
	if len(r.Samples) == 0 {
		return
	}
	packings := steim2Packings
	if enc == 10 {
		packings = steim1Packings
	}

	diffs := make([]int32, len(r.Samples))
	for i := 1; i < len(r.Samples); i++ {
		diffs[i] = r.Samples[i] - r.Samples[i-1]
	}

	be := binary.BigEndian
	frame, word := 0, 3
	var ctrl uint32
	flush := func() {
		be.PutUint32(payload[frame*64:], ctrl)
		ctrl = 0
	}
	x0 := r.Samples[0]
	xn := r.Samples[len(r.Samples)-1]
	if r.Xn != nil {
		xn = *r.Xn
	}
	be.PutUint32(payload[4:], uint32(x0))
	be.PutUint32(payload[8:], uint32(xn))

	for p := 0; p < len(diffs); {
		var chosen *packing
		for i := range packings {
			pk := &packings[i]
			if p+pk.size > len(diffs) {
				continue
			}
			ok := true
			for _, d := range diffs[p : p+pk.size] {
				if !fits(d, pk.bits) {
					ok = false
					break
				}
			}
			if ok {
				chosen = pk
				break
			}
		}
		if chosen == nil {
			panic(fmt.Sprintf("mseedtest: difference %d at %d cannot be packed", diffs[p], p))
		}
		if word == 16 {
			flush()
			frame++
			word = 1
		}
		if (frame+1)*64 > len(payload) {
			panic(fmt.Sprintf("mseedtest: %d samples do not fit in one record", len(r.Samples)))
		}

		var w uint32
		mask := uint32(1)<<chosen.bits - 1
		for _, d := range diffs[p : p+chosen.size] {
			w = w<<chosen.bits | uint32(d)&mask
		}
		if enc == 11 && chosen.key != 1 {
			w |= chosen.dnib << 30
		}
		be.PutUint32(payload[frame*64+word*4:], w)
		ctrl |= chosen.key << (30 - 2*uint(word))
		word++
		p += chosen.size
	}
	flush()
}
