package filter

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var ErrInvalidDesign = errors.New("filter: invalid design parameters")

// ButterworthBandpass designs an order-n Butterworth band-pass between low and high Hz
// at sample rate fs. The result has n sections, zeros at z=1 and z=-1, and unit gain
// at the geometric mean of the band edges.
func ButterworthBandpass(order int, low, high, fs float64) (*Cascade, error) {
	switch {
	case order < 1:
		return nil, fmt.Errorf("%w: order %d", ErrInvalidDesign, order)
	case fs <= 0:
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidDesign, fs)
	case low <= 0 || low >= high:
		return nil, fmt.Errorf("%w: band %v-%v Hz", ErrInvalidDesign, low, high)
	case high >= fs/2:
		return nil, fmt.Errorf("%w: upper edge %v Hz at or above Nyquist %v Hz", ErrInvalidDesign, high, fs/2)
	}

	// prewarped analog band edges
	wl := 2 * fs * math.Tan(math.Pi*low/fs)
	wh := 2 * fs * math.Tan(math.Pi*high/fs)
	w0sq := wl * wh
	bw := wh - wl

	sections := make([]Biquad, 0, order)
	for k := 0; k < (order+1)/2; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		p := cmplx.Rect(1, theta)

		// s^2 - p*bw*s + w0^2 = 0
		pbw := p * complex(bw, 0)
		root := cmplx.Sqrt(pbw*pbw - complex(4*w0sq, 0))
		s1 := (pbw + root) / 2
		s2 := (pbw - root) / 2
		z1 := bilinear(s1, fs)
		z2 := bilinear(s2, fs)

		if 2*k+1 == order {
			// real prototype pole: its two band-pass poles form one section
			sections = append(sections, section(z1, z2))
			continue
		}
		sections = append(sections, section(z1, cmplx.Conj(z1)), section(z2, cmplx.Conj(z2)))
	}

	c := NewCascade(sections...)
	gain := c.Response(math.Sqrt(low*high), fs)
	if gain > 1e-15 {
		g := math.Pow(gain, 1/float64(len(c.sections)))
		for i := range c.sections {
			c.sections[i].B0 /= g
			c.sections[i].B1 /= g
			c.sections[i].B2 /= g
		}
	}
	return c, nil
}

func bilinear(s complex128, fs float64) complex128 {
	t := complex(1/(2*fs), 0)
	return (1 + s*t) / (1 - s*t)
}

// section builds a band-pass biquad with poles p1, p2 (a conjugate pair or two reals).
func section(p1, p2 complex128) Biquad {
	return NewBiquad(1, 0, -1, -real(p1+p2), real(p1*p2))
}
