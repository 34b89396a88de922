package audio_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/MrWong99/derfbot/pkg/audio"
)

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cap    int
		writes []string
		want   string
	}{
		{name: "empty", cap: 8, want: ""},
		{name: "single write", cap: 8, writes: []string{"abc"}, want: "abc"},
		{name: "exact fill", cap: 4, writes: []string{"ab", "cd"}, want: "abcd"},
		{name: "overflow keeps newest", cap: 4, writes: []string{"abc", "def"}, want: "cdef"},
		{name: "oversized write keeps tail", cap: 4, writes: []string{"a", "bcdefgh"}, want: "efgh"},
		{name: "many small writes wrap", cap: 5, writes: []string{"ab", "cd", "ef", "gh"}, want: "defgh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rb := audio.NewRingBuffer(tt.cap)
			for _, w := range tt.writes {
				rb.Write([]byte(w))
			}
			if got := rb.Len(); got != len(tt.want) {
				t.Errorf("Len() = %d, want %d", got, len(tt.want))
			}
			if got := string(rb.ReadAll()); got != tt.want {
				t.Errorf("ReadAll() = %q, want %q", got, tt.want)
			}
			if !rb.IsEmpty() {
				t.Error("buffer not empty after ReadAll")
			}
		})
	}
}

func TestRingBuffer_ReadAllThenWrite(t *testing.T) {
	t.Parallel()
	rb := audio.NewRingBuffer(4)
	rb.Write([]byte("abc"))
	rb.ReadAll()
	rb.Write([]byte("xyz"))
	if got := string(rb.ReadAll()); got != "xyz" {
		t.Errorf("got %q, want %q", got, "xyz")
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	t.Parallel()
	rb := audio.NewRingBuffer(16)
	rb.Write([]byte("hello"))
	rb.Clear()
	if !rb.IsEmpty() {
		t.Fatal("expected empty after Clear")
	}
	if got := rb.ReadAll(); len(got) != 0 {
		t.Errorf("ReadAll after Clear returned %d bytes", len(got))
	}
	if rb.Cap() != 16 {
		t.Errorf("Cap() = %d, want 16", rb.Cap())
	}
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	t.Parallel()
	if got := audio.NewRingBuffer(0).Cap(); got != audio.DefaultRingBufferSize {
		t.Errorf("Cap() = %d, want %d", got, audio.DefaultRingBufferSize)
	}
}

func TestRingBuffer_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	rb := audio.NewRingBuffer(3840 * 100)
	frame := bytes.Repeat([]byte{0x7f}, 3840)

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 25 {
				rb.Write(frame)
			}
		})
	}
	wg.Wait()

	if got := len(rb.ReadAll()); got != 3840*100 {
		t.Errorf("drained %d bytes, want %d", got, 3840*100)
	}
}
