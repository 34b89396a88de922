package audio

import "sync"

// DefaultRingBufferSize is the per-speaker capture capacity (1 MiB, a little
// over five seconds of 48 kHz stereo PCM).
const DefaultRingBufferSize = 1024 * 1024

// RingBuffer is a fixed-capacity byte FIFO. When a write would exceed the
// capacity the oldest unread bytes are overwritten, so Write never blocks and
// never fails. All methods are safe for concurrent use.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of the oldest unread byte
	size  int // number of unread bytes
}

// NewRingBuffer returns an empty buffer holding at most capacity bytes. A
// non-positive capacity selects [DefaultRingBufferSize].
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingBufferSize
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes on overflow. If p alone is
// larger than the capacity only its tail is kept.
func (r *RingBuffer) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := len(r.buf)
	if len(p) >= c {
		copy(r.buf, p[len(p)-c:])
		r.start, r.size = 0, c
		return
	}

	end := (r.start + r.size) % c
	n := copy(r.buf[end:], p)
	copy(r.buf, p[n:])

	r.size += len(p)
	if r.size > c {
		r.start = (r.start + r.size - c) % c
		r.size = c
	}
}

// ReadAll returns every unread byte in write order and empties the buffer.
// The returned slice is a copy owned by the caller.
func (r *RingBuffer) ReadAll() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.size)
	n := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[n:], r.buf)
	r.start, r.size = 0, 0
	return out
}

// IsEmpty reports whether there are no unread bytes.
func (r *RingBuffer) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

// Clear discards all unread bytes without reallocating.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	r.start, r.size = 0, 0
	r.mu.Unlock()
}

// Len returns the number of unread bytes.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *RingBuffer) Cap() int { return len(r.buf) }
