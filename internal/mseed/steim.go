package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rewired-gh/seisguard/internal/logger"
)

const (
	frameSize    = 64
	wordsInFrame = 16
)

// ErrInvalidSubcode marks a data word whose sub-code has no defined packing. Such a
// word is logged and skipped; the rest of the record still decodes.
var ErrInvalidSubcode = errors.New("mseed: invalid steim sub-code")

// XnMismatchError reports that the last reconstructed sample differs from the
// reverse integration constant stored in the first frame. The decoded samples are
// still valid to use.
type XnMismatchError struct {
	Expected int32
	Actual   int32
}

func (e *XnMismatchError) Error() string {
	return fmt.Sprintf("mseed: Xn check failed: expected %d, got %d", e.Expected, e.Actual)
}

// DecodeSteim1 decompresses a Steim1 payload into n samples.
func DecodeSteim1(payload []byte, n int, order binary.ByteOrder) ([]int32, error) {
	return decodeSteim(payload, n, order, steim1Word)
}

// DecodeSteim2 decompresses a Steim2 payload into n samples.
//
// A *XnMismatchError is returned together with the samples when the integration
// check fails.
func DecodeSteim2(payload []byte, n int, order binary.ByteOrder) ([]int32, error) {
	return decodeSteim(payload, n, order, steim2Word)
}

type unpackFunc func(diffs []int32, key uint32, word uint32) ([]int32, error)

func decodeSteim(payload []byte, n int, order binary.ByteOrder, unpack unpackFunc) ([]int32, error) {
	if n <= 0 {
		return []int32{}, nil
	}
	if len(payload) < frameSize {
		return nil, fmt.Errorf("%w: steim payload is %d bytes", ErrTruncated, len(payload))
	}

	var x0, xn int32
	diffs := make([]int32, 0, n+7)
	var err error

	for f := 0; f+frameSize <= len(payload) && len(diffs) < n; f += frameSize {
		frame := payload[f : f+frameSize]
		ctrl := order.Uint32(frame)
		for w := 1; w < wordsInFrame && len(diffs) < n; w++ {
			word := order.Uint32(frame[w*4:])
			if f == 0 && w == 1 {
				x0 = int32(word)
				continue
			}
			if f == 0 && w == 2 {
				xn = int32(word)
				continue
			}
			key := (ctrl >> (30 - 2*uint(w))) & 0x3
			if diffs, err = unpack(diffs, key, word); err != nil {
				if errors.Is(err, ErrInvalidSubcode) {
					logger.Warn("Steim frame %d word %d skipped: %v", f/frameSize, w, err)
					continue
				}
				return nil, fmt.Errorf("frame %d word %d: %w", f/frameSize, w, err)
			}
		}
	}

	// The first difference links to the previous record and is not applied.
	samples := make([]int32, 1, n)
	samples[0] = x0
	cur := x0
	for i := 1; i < len(diffs) && len(samples) < n; i++ {
		cur += diffs[i]
		samples = append(samples, cur)
	}

	if len(samples) == n && cur != xn {
		return samples, &XnMismatchError{Expected: xn, Actual: cur}
	}
	return samples, nil
}

func steim1Word(diffs []int32, key uint32, word uint32) ([]int32, error) {
	switch key {
	case 1:
		return append(diffs,
			int32(int8(word>>24)), int32(int8(word>>16)),
			int32(int8(word>>8)), int32(int8(word))), nil
	case 2:
		return append(diffs, int32(int16(word>>16)), int32(int16(word))), nil
	case 3:
		return append(diffs, int32(word)), nil
	}
	return diffs, nil
}

func steim2Word(diffs []int32, key uint32, word uint32) ([]int32, error) {
	dnib := word >> 30
	switch key {
	case 1:
		return steim1Word(diffs, 1, word)
	case 2:
		switch dnib {
		case 1:
			return unpackFields(diffs, word, 30, 1), nil
		case 2:
			return unpackFields(diffs, word, 15, 2), nil
		case 3:
			return unpackFields(diffs, word, 10, 3), nil
		}
		return diffs, fmt.Errorf("%w: key 2 dnib %d", ErrInvalidSubcode, dnib)
	case 3:
		switch dnib {
		case 0:
			return unpackFields(diffs, word, 6, 5), nil
		case 1:
			return unpackFields(diffs, word, 5, 6), nil
		case 2:
			return unpackFields(diffs, word, 4, 7), nil
		default:
			return unpackFields(diffs, word, 2, 15), nil
		}
	}
	return diffs, nil
}

// unpackFields appends count sign-extended fields of width bits, most significant first,
// right-aligned in word.
func unpackFields(diffs []int32, word uint32, bits, count uint) []int32 {
	mask := uint32(1)<<bits - 1
	for i := uint(0); i < count; i++ {
		shift := (count - 1 - i) * bits
		diffs = append(diffs, signExtend((word>>shift)&mask, bits))
	}
	return diffs
}

func signExtend(v uint32, bits uint) int32 {
	s := 32 - bits
	return int32(v<<s) >> s
}
