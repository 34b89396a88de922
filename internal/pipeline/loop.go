package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/queue"
)

// Loop timing defaults.
const (
	DefaultPopTimeout = time.Second
	DefaultIdleSleep  = time.Second
	DefaultErrorSleep = time.Second
)

// ErrSkipped lets a handler report that it deliberately did nothing with an
// item. The loop counts it separately and does not sleep.
var ErrSkipped = errors.New("pipeline: item skipped")

// Handler processes one payload popped from a queue.
type Handler func(ctx context.Context, payload string) error

// Loop is the worker skeleton shared by every stage: pop with a timeout,
// sleep when idle, hand the payload to Handle. Malformed payloads are dropped,
// other errors and panics are logged and followed by a short sleep. Run only
// returns once ctx is cancelled.
type Loop struct {
	// Name labels logs and the stage metric.
	Name string

	// Queue is the list to consume.
	Queue string

	Store  Queue
	Handle Handler

	// PopTimeout bounds each blocking pop. Zero selects DefaultPopTimeout.
	PopTimeout time.Duration

	// IdleSleep is the wait after an empty pop and ErrorSleep the wait after
	// a failure. Zero selects the defaults.
	IdleSleep  time.Duration
	ErrorSleep time.Duration

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Run consumes the queue until ctx is cancelled and then returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	popTimeout := orDefault(l.PopTimeout, DefaultPopTimeout)
	idle := orDefault(l.IdleSleep, DefaultIdleSleep)
	errSleep := orDefault(l.ErrorSleep, DefaultErrorSleep)
	met := l.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	log := slog.With("worker", l.Name, "queue", l.Queue)
	log.Info("pipeline: worker started")
	defer log.Info("pipeline: worker stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payload, err := l.Store.Pop(ctx, l.Queue, popTimeout)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			if !sleep(ctx, idle) {
				return ctx.Err()
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("pipeline: pop failed", "err", err)
			if !sleep(ctx, errSleep) {
				return ctx.Err()
			}
			continue
		}

		start := time.Now()
		taskCtx, span := observe.StartTask(ctx, l.Name, l.Queue)
		err = l.handle(taskCtx, payload)
		if errors.Is(err, ErrSkipped) {
			observe.EndSpan(span, nil)
		} else {
			observe.EndSpan(span, err)
		}
		met.RecordStage(ctx, l.Name, time.Since(start))
		switch {
		case err == nil:
			met.RecordTask(ctx, l.Queue, observe.OutcomeOK)
		case errors.Is(err, ErrSkipped):
			met.RecordTask(ctx, l.Queue, observe.OutcomeSkipped)
			log.Debug("pipeline: item skipped", "reason", err)
		case errors.Is(err, ErrMalformed):
			met.RecordTask(ctx, l.Queue, observe.OutcomeMalformed)
			log.Warn("pipeline: dropping malformed item", "payload", payload, "err", err)
		default:
			met.RecordTask(ctx, l.Queue, observe.OutcomeError)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("pipeline: item failed", "err", err)
			if !sleep(ctx, errSleep) {
				return ctx.Err()
			}
		}
	}
}

// handle calls Handle and turns a panic into an error.
func (l *Loop) handle(ctx context.Context, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: %s panicked: %v\n%s", l.Name, r, debug.Stack())
		}
	}()
	return l.Handle(ctx, payload)
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
