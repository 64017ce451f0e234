// Package intensity computes the JMA instrumental seismic intensity from three
// orthogonal acceleration channels.
package intensity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// highCut holds the coefficients of the even powers y^2..y^12 (y = f/10) in the
// high-cut denominator.
var highCut = [...]float64{0.694, 0.241, 0.0557, 0.009664, 0.00134, 0.000155}

// Gain returns the JMA frequency weighting at f Hz: period effect, high-cut and
// low-cut filters multiplied together. Gain is zero at and below 0 Hz.
func Gain(f float64) float64 {
	if f <= 0 {
		return 0
	}
	period := math.Sqrt(1 / f)

	y2 := (f / 10) * (f / 10)
	den, p := 1.0, 1.0
	for _, c := range highCut {
		p *= y2
		den += c * p
	}
	high := 1 / math.Sqrt(den)

	low := math.Sqrt(1 - math.Exp(-math.Pow(f/0.5, 3)))
	return period * high * low
}

// weigh demeans data, applies Gain in the frequency domain and returns the
// filtered real signal.
func weigh(fft *fourier.FFT, data []float64, fs float64) []float64 {
	n := len(data)
	buf := make([]float64, n)
	copy(buf, data)
	floats.AddConst(-stat.Mean(buf, nil), buf)

	coeff := fft.Coefficients(nil, buf)
	for i := range coeff {
		coeff[i] *= complex(Gain(fft.Freq(i)*fs), 0)
	}
	out := fft.Sequence(nil, coeff)
	floats.Scale(1/float64(n), out)
	return out
}

// Compute returns the instrumental intensity of three acceleration traces in Gal
// sampled at fs. The traces are truncated to the shortest; an empty window gives 0.
func Compute(x, y, z []float64, fs float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if len(z) < n {
		n = len(z)
	}
	if n == 0 || fs <= 0 {
		return 0
	}
	x, y, z = x[len(x)-n:], y[len(y)-n:], z[len(z)-n:]

	fft := fourier.NewFFT(n)
	fx := weigh(fft, x, fs)
	fy := weigh(fft, y, fs)
	fz := weigh(fft, z, fs)

	composite := make([]float64, n)
	for i := range composite {
		composite[i] = math.Sqrt(fx[i]*fx[i] + fy[i]*fy[i] + fz[i]*fz[i])
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(composite)))

	// value exceeded for a cumulative 0.3 s
	idx := int(math.Round(0.3 * fs))
	if idx >= n {
		idx = n - 1
	}
	a := composite[idx]
	if a <= 0 {
		return 0
	}
	return 2*math.Log10(a) + 0.94
}

var classes = []struct {
	below float64
	label string
}{
	{0.5, "0"},
	{1.5, "1"},
	{2.5, "2"},
	{3.5, "3"},
	{4.5, "4"},
	{5.0, "5-"},
	{5.5, "5+"},
	{6.0, "6-"},
	{6.5, "6+"},
}

// Class maps an intensity to its JMA shindo class label.
func Class(intensity float64) string {
	for _, c := range classes {
		if intensity < c.below {
			return c.label
		}
	}
	return "7"
}
