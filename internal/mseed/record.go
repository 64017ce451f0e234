package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/seisguard/internal/models"
)

// DecodeRecord decodes one record into a trace segment.
//
// When the Steim integration check fails the segment is returned together with a
// *XnMismatchError; any other error means the segment is empty.
func DecodeRecord(record []byte) (models.TraceSegment, error) {
	h, err := ParseHeader(record)
	if err != nil {
		return models.TraceSegment{}, err
	}
	seg := models.TraceSegment{
		Network:    h.Network,
		Station:    h.Station,
		Location:   h.Location,
		Channel:    h.Channel,
		StartTime:  h.StartTime,
		SampleRate: h.SampleRate(),
	}
	if h.NumSamples == 0 {
		return seg, ErrNoData
	}

	end := h.RecordLength
	if end > len(record) {
		end = len(record)
	}
	start := int(h.DataOffset)
	if start < FixedHeaderSize || start >= end {
		return seg, fmt.Errorf("%w: data offset %d outside record of %d bytes", ErrTruncated, start, end)
	}
	payload := record[start:end]
	n := int(h.NumSamples)

	var decodeErr error
	switch h.Encoding {
	case EncodingSteim1, EncodingSteim2:
		var ints []int32
		if h.Encoding == EncodingSteim1 {
			ints, decodeErr = DecodeSteim1(payload, n, h.ByteOrder)
		} else {
			ints, decodeErr = DecodeSteim2(payload, n, h.ByteOrder)
		}
		var xn *XnMismatchError
		if decodeErr != nil && !errors.As(decodeErr, &xn) {
			return seg, decodeErr
		}
		seg.Samples = make([]float64, len(ints))
		for i, v := range ints {
			seg.Samples[i] = float64(v)
		}
	case EncodingInt16, EncodingInt32, EncodingFloat32, EncodingFloat64:
		samples, err := decodeUncompressed(payload, n, h.Encoding, h.ByteOrder)
		if err != nil {
			return seg, err
		}
		seg.Samples = samples
	default:
		return seg, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, h.Encoding)
	}
	return seg, decodeErr
}

func decodeUncompressed(payload []byte, n int, enc uint8, order binary.ByteOrder) ([]float64, error) {
	width := map[uint8]int{EncodingInt16: 2, EncodingInt32: 4, EncodingFloat32: 4, EncodingFloat64: 8}[enc]
	if n*width > len(payload) {
		return nil, fmt.Errorf("%w: %d samples of %d bytes need %d, have %d", ErrTruncated, n, width, n*width, len(payload))
	}
	out := make([]float64, n)
	for i := range out {
		b := payload[i*width:]
		switch enc {
		case EncodingInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case EncodingInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case EncodingFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case EncodingFloat64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("%w: sample %d", ErrNonFinite, i)
		}
	}
	return out, nil
}

// DecodeStream decodes concatenated records, advancing by each record's declared
// length. A bad record is skipped and its error collected. Segments that decoded
// with only an Xn mismatch are kept.
func DecodeStream(data []byte) ([]models.TraceSegment, []error) {
	var segs []models.TraceSegment
	var errs []error
	for off := 0; off+FixedHeaderSize <= len(data); {
		h, err := ParseHeader(data[off:])
		if err != nil {
			errs = append(errs, fmt.Errorf("record at offset %d: %w", off, err))
			off += DefaultRecordLength
			continue
		}
		if off+h.RecordLength > len(data) {
			errs = append(errs, fmt.Errorf("record at offset %d: %w: declared %d bytes, %d remain",
				off, ErrTruncated, h.RecordLength, len(data)-off))
			break
		}
		seg, err := DecodeRecord(data[off : off+h.RecordLength])
		if err != nil {
			errs = append(errs, fmt.Errorf("record at offset %d: %w", off, err))
		}
		if len(seg.Samples) > 0 {
			segs = append(segs, seg)
		}
		off += h.RecordLength
	}
	return segs, errs
}

// Skippable reports whether err only marks a record that carries nothing to process.
func Skippable(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrUnsupportedEncoding)
}
