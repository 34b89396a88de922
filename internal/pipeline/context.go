package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDuplicate is returned when a request id is already in flight.
var ErrDuplicate = errors.New("pipeline: request already in flight")

// Channel is where replies are posted.
type Channel interface {
	Send(ctx context.Context, text string) error
}

// ChannelFunc adapts a function to [Channel].
type ChannelFunc func(ctx context.Context, text string) error

// Send implements [Channel].
func (f ChannelFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Voice is the bot's voice-channel capability.
type Voice interface {
	// EnsureConnected joins or re-joins the configured voice channel.
	EnsureConnected(ctx context.Context) error

	// IsHumanPresent reports whether a non-bot member is in the voice
	// channel. Lookup failures count as absent.
	IsHumanPresent(ctx context.Context) bool

	// PlayAudio plays an Opus frame file and returns when playback ends.
	PlayAudio(ctx context.Context, path string) error
}

// Queue is the subset of the queue store used by the stages. It is
// satisfied by *queue.Store.
type Queue interface {
	Push(ctx context.Context, queue, payload string) error
	Pop(ctx context.Context, queue string, timeout time.Duration) (string, error)
	Put(ctx context.Context, key, value string) error
	Wait(ctx context.Context, key string, interval, timeout time.Duration) (string, error)
}

// ContextStore maps in-flight request ids to the channel that asked. One is
// created per bot identity at startup. It is safe for concurrent use.
type ContextStore struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// NewContextStore returns an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{channels: make(map[string]Channel)}
}

// Register records ch as the origin of id. It fails with [ErrDuplicate] when
// id is already registered.
func (s *ContextStore) Register(id string, ch Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	s.channels[id] = ch
	return nil
}

// Lookup returns the channel registered for id.
func (s *ContextStore) Lookup(id string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// Unregister forgets id. Unknown ids are ignored.
func (s *ContextStore) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
}

// Len returns the number of in-flight requests.
func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}
