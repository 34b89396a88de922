// Package resilience keeps the pipeline answering when a backend misbehaves.
//
// A [Breaker] stops calling a backend after repeated failures and probes it
// again after a cool-down. A [Group] chains several backends of the same kind
// behind their own breakers and falls through to the next one when a call
// fails. [LLM], [STT] and [TTS] adapt a Group to the provider interfaces.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while its breaker
// is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultProbes       = 3
)

// State is the mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults.
type BreakerConfig struct {
	// Name labels log records.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets probe
	// calls through.
	ResetTimeout time.Duration

	// Probes is the number of successful probe calls that close the breaker
	// again. It is also the number of concurrent probes admitted.
	Probes int
}

// Breaker is a three-state circuit breaker. Calls that fail only because
// their context was cancelled are not counted against the backend.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probing   int // probe calls in flight
	succeeded int // successful probes since half-open
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do calls fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing, b.succeeded = 0, 0
		slog.Info("resilience: breaker half-open", "name", b.cfg.Name)
	}
	if b.state == StateHalfOpen {
		if b.probing >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.probing++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing--
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		if b.state != StateHalfOpen {
			b.failures = 0
			return
		}
		b.succeeded++
		if b.succeeded >= b.cfg.Probes {
			b.state = StateClosed
			b.failures = 0
			slog.Info("resilience: breaker closed", "name", b.cfg.Name)
		}
		return
	}

	if b.state == StateHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.trip()
	}
}

// trip opens the breaker. Callers hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	slog.Warn("resilience: breaker open", "name", b.cfg.Name, "failures", b.failures)
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen] before the next call moves it there.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probing, b.succeeded = 0, 0, 0
}
