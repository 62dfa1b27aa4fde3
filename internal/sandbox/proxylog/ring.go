package proxylog

// ring keeps the newest max items, evicting the oldest.
type ring[T any] struct {
	buf   []T
	start int
	max   int
}

func newRing[T any](max int) *ring[T] {
	return &ring[T]{max: max}
}

func (r *ring[T]) push(v T) {
	if len(r.buf) < r.max {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % r.max
}

// each visits items oldest first until fn returns false.
func (r *ring[T]) each(fn func(T) bool) {
	n := len(r.buf)
	for i := 0; i < n; i++ {
		if !fn(r.buf[(r.start+i)%n]) {
			return
		}
	}
}

func (r *ring[T]) len() int { return len(r.buf) }

func (r *ring[T]) reset() {
	r.buf = nil
	r.start = 0
}
