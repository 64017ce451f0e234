// Package filter implements cascaded second-order IIR sections for streaming
// band-limiting of seismic samples, and Butterworth band-pass design.
package filter

import (
	"math"
	"math/cmplx"
)

// Biquad is one direct form I second-order section:
//
//	y = b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64

	x1, x2 float64
	y1, y2 float64
}

// NewBiquad returns a section with zeroed history.
func NewBiquad(b0, b1, b2, a1, a2 float64) Biquad {
	return Biquad{B0: b0, B1: b1, B2: b2, A1: a1, A2: a2}
}

// Process filters one sample and advances the section history.
func (b *Biquad) Process(x float64) float64 {
	y := b.B0*x + b.B1*b.x1 + b.B2*b.x2 - b.A1*b.y1 - b.A2*b.y2
	b.x2 = b.x1
	b.x1 = x
	b.y2 = b.y1
	b.y1 = y
	return y
}

func (b *Biquad) reset(v float64) {
	b.x1, b.x2, b.y1, b.y2 = v, v, v, v
}

// response evaluates H(e^jw) of the section.
func (b *Biquad) response(w float64) complex128 {
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	num := complex(b.B0, 0) + complex(b.B1, 0)*z1 + complex(b.B2, 0)*z2
	den := 1 + complex(b.A1, 0)*z1 + complex(b.A2, 0)*z2
	return num / den
}

// Cascade runs samples through sections in order. It is not safe for concurrent use.
type Cascade struct {
	sections []Biquad
}

// NewCascade copies sections into a new cascade with zeroed history.
func NewCascade(sections ...Biquad) *Cascade {
	c := &Cascade{sections: make([]Biquad, len(sections))}
	for i, s := range sections {
		c.sections[i] = NewBiquad(s.B0, s.B1, s.B2, s.A1, s.A2)
	}
	return c
}

// Sections returns a copy of the section coefficients.
func (c *Cascade) Sections() []Biquad {
	out := make([]Biquad, len(c.sections))
	for i, s := range c.sections {
		out[i] = NewBiquad(s.B0, s.B1, s.B2, s.A1, s.A2)
	}
	return out
}

// Clone returns a cascade with the same coefficients and zeroed history.
func (c *Cascade) Clone() *Cascade {
	return NewCascade(c.sections...)
}

func (c *Cascade) Process(x float64) float64 {
	for i := range c.sections {
		x = c.sections[i].Process(x)
	}
	return x
}

// ProcessSlice filters samples in order and returns the outputs as a new slice.
func (c *Cascade) ProcessSlice(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = c.Process(s)
	}
	return out
}

// Reset zeroes every section's history.
func (c *Cascade) Reset() {
	for i := range c.sections {
		c.sections[i].reset(0)
	}
}

// Prime loads every input and output history value of every section with x, so a
// stream starting at a non-zero level does not ring.
func (c *Cascade) Prime(x float64) {
	for i := range c.sections {
		c.sections[i].reset(x)
	}
}

// Response returns the magnitude response of the cascade at frequency f for sample rate fs.
func (c *Cascade) Response(f, fs float64) float64 {
	w := 2 * math.Pi * f / fs
	h := complex(1, 0)
	for i := range c.sections {
		h *= c.sections[i].response(w)
	}
	return cmplx.Abs(h)
}

// DefaultBandpass returns the fixed four-section 0.1 to 2.0 Hz band-pass used by the
// trigger engine at 100 Hz.
func DefaultBandpass() *Cascade {
	return NewCascade(
		NewBiquad(0.00001332, 0.00002664, 0.00001332, -1.91119707, 0.91497583),
		NewBiquad(1, -2, 1, -1.9911143, 0.9911536),
		NewBiquad(1, -2, 1, -1.92379307, 0.92850732),
		NewBiquad(1, -2, 1, -1.99547377, 0.99555234),
	)
}
