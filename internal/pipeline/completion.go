package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/memory"
	"github.com/MrWong99/derfbot/pkg/provider/llm"
)

// Fallback replies written in place of a failed completion so that waiters
// always receive something.
const (
	TimeoutReply = "The request timed out. Please try again later."
	ErrorReply   = "An error occurred while processing the request. Please try again later."
)

// CompletionConfig configures a [ResponseWorker] or [SummarizerWorker].
type CompletionConfig struct {
	Queue Queue
	Names queue.Names
	LLM   llm.Provider

	// ProviderName labels provider metrics. Defaults to "llm".
	ProviderName string

	// SystemPrompt is sent with every request when set.
	SystemPrompt string

	// Timeout bounds one completion. Zero leaves it to the provider.
	Timeout time.Duration

	// Avatar receives thinking/idle transitions. Optional.
	Avatar memory.AvatarStore

	Metrics *observe.Metrics
}

// completionWorker is the shared body of the response and summarizer stages:
// pop a Task, complete it, write the reply (or a fallback) to the mailbox.
type completionWorker struct {
	name   string
	kind   string
	source string // queue consumed
	prefix string // mailbox prefix written
	cfg    CompletionConfig
	met    *observe.Metrics
}

func newCompletionWorker(name, kind, source, prefix string, cfg CompletionConfig) completionWorker {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "llm"
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return completionWorker{name: name, kind: kind, source: source, prefix: prefix, cfg: cfg, met: met}
}

// Loop returns the worker loop.
func (w *completionWorker) Loop() *Loop {
	return &Loop{Name: w.name, Queue: w.source, Store: w.cfg.Queue, Handle: w.Handle, Metrics: w.met}
}

// Handle processes one task payload.
func (w *completionWorker) Handle(ctx context.Context, payload string) error {
	task, err := DecodeTask(payload)
	if err != nil {
		return err
	}

	w.setAvatar(ctx, memory.AvatarThinking)
	defer w.setAvatar(ctx, memory.AvatarIdle)

	reply := w.complete(ctx, task)
	key := queue.MailboxKey(w.prefix, task.UniqueID)
	if err := w.cfg.Queue.Put(ctx, key, reply); err != nil {
		return fmt.Errorf("pipeline: %s: store reply: %w", w.name, err)
	}
	slog.Debug("pipeline: reply stored", "worker", w.name, "key", key, "len", len(reply))
	return nil
}

// complete asks the LLM and converts every failure into fallback text.
func (w *completionWorker) complete(ctx context.Context, task Task) string {
	cctx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	req := llm.Prompt(task.Message)
	req.SystemPrompt = w.cfg.SystemPrompt
	req.SessionID = task.UniqueID

	start := time.Now()
	resp, err := w.cfg.LLM.Complete(cctx, req)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty reply")
	}
	w.met.ObserveProvider(ctx, w.kind, w.cfg.ProviderName, time.Since(start), err)
	if err != nil {
		slog.Warn("pipeline: completion failed, using fallback", "worker", w.name, "id", task.UniqueID, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return TimeoutReply
		}
		return ErrorReply
	}
	return resp.Content
}

func (w *completionWorker) setAvatar(ctx context.Context, st memory.AvatarState) {
	if w.cfg.Avatar == nil {
		return
	}
	if err := w.cfg.Avatar.SetAvatarState(context.WithoutCancel(ctx), w.cfg.Names.Identity, st); err != nil {
		slog.Warn("pipeline: set avatar state", "state", st, "err", err)
	}
}

// ResponseWorker answers requests from the response queue and writes the
// reply to the response mailbox.
type ResponseWorker struct {
	completionWorker
}

// NewResponseWorker creates the response stage for cfg.Names.
func NewResponseWorker(cfg CompletionConfig) *ResponseWorker {
	return &ResponseWorker{newCompletionWorker("response", "llm", cfg.Names.ResponseQueue, cfg.Names.ResponsePrefix, cfg)}
}

// SummarizerWorker condenses long replies from the summarizer queue into the
// summarizer mailbox. It never touches the avatar state.
type SummarizerWorker struct {
	completionWorker
}

// NewSummarizerWorker creates the summarizer stage for cfg.Names.
func NewSummarizerWorker(cfg CompletionConfig) *SummarizerWorker {
	cfg.Avatar = nil
	return &SummarizerWorker{newCompletionWorker("summarizer", "summarizer", cfg.Names.SummaryQueue, cfg.Names.SummaryPrefix, cfg)}
}
