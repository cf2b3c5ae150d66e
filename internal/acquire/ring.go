package acquire

// Ring keeps the most recent samples of one channel. Not safe for
// concurrent use; owners guard it.
type Ring struct {
	buf  []float64
	next int
	full bool
}

// NewRing returns a ring holding up to capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Write appends samples, overwriting the oldest once full.
func (r *Ring) Write(samples ...float64) {
	for _, s := range samples {
		r.buf[r.next] = s
		r.next++
		if r.next == len(r.buf) {
			r.next = 0
			r.full = true
		}
	}
}

// Len returns the number of samples held.
func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Last returns up to n of the newest samples, oldest first.
func (r *Ring) Last(n int) []float64 {
	if n > r.Len() {
		n = r.Len()
	}
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
