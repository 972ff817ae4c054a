package filter

import "fmt"

// Buffer is a fixed-capacity sliding window of the most recent values.
// Once full, Add evicts the oldest value first.
//
// Not safe for concurrent use.
type Buffer struct {
	vals  []float64
	start int
	n     int

	// gen increments on every Add so evaluations can be memoized per buffer state.
	gen uint64
}

func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("filter: invalid buffer capacity %d", capacity)
	}
	return &Buffer{vals: make([]float64, capacity)}, nil
}

func (b *Buffer) Add(v float64) {
	c := len(b.vals)
	if b.n < c {
		b.vals[(b.start+b.n)%c] = v
		b.n++
	} else {
		b.vals[b.start] = v
		b.start = (b.start + 1) % c
	}
	b.gen++
}

func (b *Buffer) Len() int { return b.n }

func (b *Buffer) Cap() int { return len(b.vals) }

// Values returns a copy of the buffered values, oldest first.
func (b *Buffer) Values() []float64 {
	return b.appendTo(make([]float64, 0, b.n))
}

func (b *Buffer) appendTo(dst []float64) []float64 {
	c := len(b.vals)
	for i := 0; i < b.n; i++ {
		dst = append(dst, b.vals[(b.start+i)%c])
	}
	return dst
}
