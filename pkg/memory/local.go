package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
)

var _ Store = (*Local)(nil)

// Local is an in-process [Store] used when no database is configured. Its
// contents are lost on restart. The zero value is ready to use.
type Local struct {
	mu        sync.RWMutex
	exchanges []Exchange
	seen      map[string]struct{}
	states    map[string]AvatarState
}

// Archive implements [Journal].
func (l *Local) Archive(_ context.Context, e Exchange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, dup := l.seen[e.UniqueID]; dup {
		return nil
	}
	l.seen[e.UniqueID] = struct{}{}
	l.exchanges = append(l.exchanges, e)
	return nil
}

// Recent implements [Journal].
func (l *Local) Recent(_ context.Context, identity string, limit int) ([]Exchange, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Exchange{}
	for i := len(l.exchanges) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if l.exchanges[i].Identity == identity {
			out = append(out, l.exchanges[i])
		}
	}
	return out, nil
}

// Search implements [Journal] with a case-insensitive substring match over
// every word of query.
func (l *Local) Search(_ context.Context, query string, opts SearchOpts) ([]Exchange, error) {
	words := strings.Fields(strings.ToLower(query))
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Exchange{}
	for _, e := range l.exchanges {
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		if !matchOpts(e, opts) {
			continue
		}
		text := strings.ToLower(e.Prompt + " " + e.Response)
		if slices.ContainsFunc(words, func(w string) bool { return !strings.Contains(text, w) }) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matchOpts(e Exchange, opts SearchOpts) bool {
	switch {
	case opts.Identity != "" && e.Identity != opts.Identity:
		return false
	case opts.AuthorID != "" && e.AuthorID != opts.AuthorID:
		return false
	case !opts.After.IsZero() && !e.CreatedAt.After(opts.After):
		return false
	case !opts.Before.IsZero() && !e.CreatedAt.Before(opts.Before):
		return false
	}
	return true
}

// SetAvatarState implements [AvatarStore].
func (l *Local) SetAvatarState(_ context.Context, identity string, state AvatarState) error {
	if _, err := ParseAvatarState(string(state)); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.states == nil {
		l.states = make(map[string]AvatarState)
	}
	l.states[identity] = state
	return nil
}

// AvatarState implements [AvatarStore].
func (l *Local) AvatarState(_ context.Context, identity string) (AvatarState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.states[identity]; ok {
		return st, nil
	}
	return AvatarIdle, nil
}
