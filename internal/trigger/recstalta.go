package trigger

// RecursiveSTALTA computes the classic recursive STA/LTA characteristic function over
// a whole trace, for offline comparison with the streaming engine. The first sample
// only seeds the recursion and the first nlta values are zeroed.
func RecursiveSTALTA(data []float64, nsta, nlta int) []float64 {
	out := make([]float64, len(data))
	if nsta <= 0 || nlta <= 0 || len(data) == 0 {
		return out
	}
	csta := 1 / float64(nsta)
	clta := 1 / float64(nlta)
	sta, lta := 0.0, 1e-99
	for i := 1; i < len(data); i++ {
		sq := data[i] * data[i]
		sta = csta*sq + (1-csta)*sta
		lta = clta*sq + (1-clta)*lta
		out[i] = sta / lta
	}
	if nlta < len(out) {
		for i := 0; i < nlta; i++ {
			out[i] = 0
		}
	}
	return out
}
