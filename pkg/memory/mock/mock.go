// Package mock provides a recording test double for [memory.Store].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.ArchiveErr = errors.New("db down")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Archive"); got != 1 {
//	    t.Errorf("expected 1 Archive call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/derfbot/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store]. Archived exchanges
// and avatar state transitions are recorded in order.
type Store struct {
	mu    sync.Mutex
	calls []Call

	archived []memory.Exchange
	states   map[string][]memory.AvatarState

	ArchiveErr error

	RecentResult []memory.Exchange
	RecentErr    error

	SearchResult []memory.Exchange
	SearchErr    error

	SetAvatarStateErr error
	AvatarStateErr    error
}

func (m *Store) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Archive implements [memory.Journal].
func (m *Store) Archive(_ context.Context, e memory.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Archive", e)
	if m.ArchiveErr != nil {
		return m.ArchiveErr
	}
	m.archived = append(m.archived, e)
	return nil
}

// Recent implements [memory.Journal].
func (m *Store) Recent(_ context.Context, identity string, limit int) ([]memory.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Recent", identity, limit)
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	if m.RecentResult == nil {
		return []memory.Exchange{}, nil
	}
	return m.RecentResult, nil
}

// Search implements [memory.Journal].
func (m *Store) Search(_ context.Context, query string, opts memory.SearchOpts) ([]memory.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", query, opts)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.Exchange{}, nil
	}
	return m.SearchResult, nil
}

// SetAvatarState implements [memory.AvatarStore].
func (m *Store) SetAvatarState(_ context.Context, identity string, state memory.AvatarState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetAvatarState", identity, state)
	if m.SetAvatarStateErr != nil {
		return m.SetAvatarStateErr
	}
	if m.states == nil {
		m.states = make(map[string][]memory.AvatarState)
	}
	m.states[identity] = append(m.states[identity], state)
	return nil
}

// AvatarState implements [memory.AvatarStore]. It returns the last state set
// for identity, or idle.
func (m *Store) AvatarState(_ context.Context, identity string) (memory.AvatarState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AvatarState", identity)
	if m.AvatarStateErr != nil {
		return "", m.AvatarStateErr
	}
	if h := m.states[identity]; len(h) > 0 {
		return h[len(h)-1], nil
	}
	return memory.AvatarIdle, nil
}

// Archived returns a copy of every successfully archived exchange.
func (m *Store) Archived() []memory.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Exchange, len(m.archived))
	copy(out, m.archived)
	return out
}

// StateHistory returns every avatar state set for identity, in order.
func (m *Store) StateHistory(identity string) []memory.AvatarState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.AvatarState, len(m.states[identity]))
	copy(out, m.states[identity])
	return out
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and stored data.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.archived = nil
	m.states = nil
}
