// Package ring provides a fixed-capacity circular buffer of float64 samples.
// It backs both the SMA filter state and the alarm history so the two share
// one indexing implementation instead of hand-rolled modulo arithmetic.
// Not safe for concurrent use — callers synchronize.
package ring

// Buffer is a fixed-capacity circular sample buffer. Pushing past capacity
// overwrites the oldest sample.
type Buffer struct {
	buf  []float64
	head int // next write position
	n    int // samples held, <= capacity
}

// New returns a Buffer holding at most capacity samples.
// Capacity must be >= 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{buf: make([]float64, capacity)}
}

// Push appends v, returning the sample it displaced and whether one was
// displaced (the buffer was full).
func (b *Buffer) Push(v float64) (displaced float64, full bool) {
	if b.n == len(b.buf) {
		displaced = b.buf[b.head]
		full = true
	} else {
		b.n++
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
	return displaced, full
}

// Len returns the number of samples held.
func (b *Buffer) Len() int { return b.n }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// At returns the sample i positions back from the newest: At(0) is the newest,
// At(Len()-1) the oldest. The boolean is false when i is out of range.
func (b *Buffer) At(i int) (float64, bool) {
	if i < 0 || i >= b.n {
		return 0, false
	}
	idx := (b.head - 1 - i + 2*len(b.buf)) % len(b.buf)
	return b.buf[idx], true
}

// Value is At without the range check result, for callers that have already
// bounded i against Len. Out-of-range i returns 0.
func (b *Buffer) Value(i int) float64 {
	v, _ := b.At(i)
	return v
}

// Sum returns the sum of all held samples.
func (b *Buffer) Sum() float64 {
	var s float64
	for i := 0; i < b.n; i++ {
		s += b.Value(i)
	}
	return s
}

// Reset discards all samples.
func (b *Buffer) Reset() {
	b.head = 0
	b.n = 0
	for i := range b.buf {
		b.buf[i] = 0
	}
}
