package waveform

// Ring is a fixed-capacity ring buffer for float64 samples.
type Ring struct {
	data []float64
	pos  int
	full bool
}

// NewRing creates a Ring holding at most capacity samples. A non-positive capacity
// is raised to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{data: make([]float64, capacity)}
}

// Push adds a value, overwriting the oldest once the ring is full.
func (r *Ring) Push(v float64) {
	r.data[r.pos] = v
	r.pos++
	if r.pos >= len(r.data) {
		r.pos = 0
		r.full = true
	}
}

// PushSlice adds every value of vs in order.
func (r *Ring) PushSlice(vs []float64) {
	// only the trailing capacity values can survive
	if len(vs) > len(r.data) {
		vs = vs[len(vs)-len(r.data):]
	}
	for _, v := range vs {
		r.Push(v)
	}
}

// Len returns the number of values held.
func (r *Ring) Len() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.data) }

// Slice returns a copy of the contents in insertion order.
func (r *Ring) Slice() []float64 {
	out := make([]float64, r.Len())
	if r.full {
		copy(out, r.data[r.pos:])
		copy(out[len(r.data)-r.pos:], r.data[:r.pos])
	} else {
		copy(out, r.data[:r.pos])
	}
	return out
}

// Tail returns a copy of the newest n values, or all of them if fewer are held.
func (r *Ring) Tail(n int) []float64 {
	s := r.Slice()
	if n >= 0 && n < len(s) {
		return s[len(s)-n:]
	}
	return s
}
