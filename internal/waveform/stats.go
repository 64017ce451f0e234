package waveform

import "math"

// Stats keeps running count, mean and variance of a channel's raw samples using
// Welford's online algorithm.
type Stats struct {
	Count int64
	Mean  float64
	m2    float64
	Min   float64
	Max   float64
}

// Update folds x into the running statistics.
func (s *Stats) Update(x float64) {
	if s.Count == 0 || x < s.Min {
		s.Min = x
	}
	if s.Count == 0 || x > s.Max {
		s.Max = x
	}
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.m2 += delta * (x - s.Mean)
}

// Sigma returns the sample standard deviation, or 0 with fewer than two samples.
func (s Stats) Sigma() float64 {
	if s.Count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.Count-1))
}
