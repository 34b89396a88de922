package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends, each behind its own
// [Breaker]. The first member is the primary.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup creates an empty Group whose breakers use cfg. cfg.Name is
// replaced by each member's name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a backend. Members are tried in the order they were added.
// Add is not safe to call concurrently with [Call].
func (g *Group[T]) Add(name string, v T) *Group[T] {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
	return g
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// Primary returns the first member.
func (g *Group[T]) Primary() (T, bool) {
	if len(g.members) == 0 {
		var zero T
		return zero, false
	}
	return g.members[0].value, true
}

// States returns the breaker state of every member by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Call runs fn against each member until one succeeds. Members with an open
// breaker are skipped. It stops early when ctx is done. When every member
// failed the error wraps [ErrAllFailed] and the last backend error.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &g.members[i]
		var res R
		err := m.breaker.Do(func() error {
			var err error
			res, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend", "backend", m.name)
			continue
		}
		slog.Warn("resilience: backend failed", "backend", m.name, "err", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no backends configured")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
