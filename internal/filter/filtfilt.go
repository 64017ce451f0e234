package filter

// FiltFilt runs c forward then backward over samples for zero-phase output. The
// signal is extended at both ends by odd reflection of 3 samples per section. The
// receiver's state is left untouched.
func FiltFilt(c *Cascade, samples []float64) []float64 {
	n := len(samples)
	if n < 2 {
		return append([]float64(nil), samples...)
	}
	pad := 3 * len(c.sections)
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*samples[0]-samples[i])
	}
	ext = append(ext, samples...)
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*samples[n-1]-samples[n-1-i])
	}

	work := c.Clone()
	fwd := work.ProcessSlice(ext)
	reverse(fwd)
	work.Reset()
	back := work.ProcessSlice(fwd)
	reverse(back)
	return back[pad : pad+n]
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
