package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/memory"
)

// Dispatcher defaults.
const (
	DefaultSummaryThreshold = 1000
	DefaultWaitInterval     = 500 * time.Millisecond
	DefaultWaitTimeout      = 2 * time.Minute
)

// Request is one question entering the pipeline.
type Request struct {
	// UniqueID identifies the request. When empty it is derived with
	// [TextTaskID] from ContextKey and Message.
	UniqueID   string
	ContextKey string

	AuthorID string
	Message  string
	Source   memory.Source

	// Channel receives the reply.
	Channel Channel
}

// DispatcherConfig configures a [Dispatcher].
type DispatcherConfig struct {
	Queue    Queue
	Names    queue.Names
	Contexts *ContextStore

	// Voice decides whether replies are spoken. Nil disables speech.
	Voice Voice

	// Journal archives answered requests. Optional.
	Journal memory.Journal

	// Resolver resolves mentions in prompts and replies. Optional.
	Resolver NameResolver

	// SummaryThreshold is the reply length above which a summary is
	// requested. Zero selects DefaultSummaryThreshold; negative disables
	// summaries.
	SummaryThreshold int

	// WaitInterval and WaitTimeout govern mailbox waits.
	WaitInterval time.Duration
	WaitTimeout  time.Duration

	Metrics *observe.Metrics
}

// Dispatcher drives one request through the pipeline and delivers the reply
// to the request's channel. It is safe for concurrent use.
type Dispatcher struct {
	cfg DispatcherConfig
	met *observe.Metrics

	mu               sync.RWMutex
	summaryThreshold int
	waitTimeout      time.Duration
}

// NewDispatcher creates a Dispatcher. A nil Contexts gets a fresh store.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Contexts == nil {
		cfg.Contexts = NewContextStore()
	}
	if cfg.SummaryThreshold == 0 {
		cfg.SummaryThreshold = DefaultSummaryThreshold
	}
	cfg.WaitInterval = orDefault(cfg.WaitInterval, DefaultWaitInterval)
	cfg.WaitTimeout = orDefault(cfg.WaitTimeout, DefaultWaitTimeout)
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Dispatcher{
		cfg:              cfg,
		met:              met,
		summaryThreshold: cfg.SummaryThreshold,
		waitTimeout:      cfg.WaitTimeout,
	}
}

// Names returns the queue names the dispatcher produces to.
func (d *Dispatcher) Names() queue.Names { return d.cfg.Names }

// SetThresholds replaces the summary threshold and wait timeout. Zero keeps
// the current value.
func (d *Dispatcher) SetThresholds(summary int, timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if summary != 0 {
		d.summaryThreshold = summary
	}
	if timeout > 0 {
		d.waitTimeout = timeout
	}
}

func (d *Dispatcher) thresholds() (int, time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.summaryThreshold, d.waitTimeout
}

// Process runs req end to end: enqueue, deliver the reply, summarize long
// replies, queue speech when someone is listening and archive the exchange.
// It returns [ErrDuplicate] when the same id is already in flight and
// [queue.ErrTimeout] when the reply never arrived.
func (d *Dispatcher) Process(ctx context.Context, req Request) error {
	id := req.UniqueID
	if id == "" {
		id = TextTaskID(req.ContextKey, req.Message)
	}
	if req.Channel == nil {
		return fmt.Errorf("pipeline: request %s has no channel", id)
	}
	if err := d.cfg.Contexts.Register(id, req.Channel); err != nil {
		return err
	}
	d.met.InFlight.Add(ctx, 1)
	defer func() {
		d.cfg.Contexts.Unregister(id)
		d.met.InFlight.Add(context.WithoutCancel(ctx), -1)
	}()

	log := slog.With("identity", d.cfg.Names.Identity, "id", id)
	if err := d.Enqueue(ctx, id, req.AuthorID, req.Message); err != nil {
		return err
	}

	response, err := d.Deliver(ctx, id)
	if err != nil {
		return err
	}

	// Presence is checked once for the whole reply.
	present := d.cfg.Voice != nil && d.cfg.Voice.IsHumanPresent(ctx)
	log.Debug("pipeline: reply delivered", "len", len(response), "listeners", present)

	spoken := response
	summary := ""
	threshold, _ := d.thresholds()
	if threshold > 0 && utf8.RuneCountInString(response) > threshold {
		summary, err = d.Summarize(ctx, id, response)
		if err != nil {
			log.Warn("pipeline: summary failed", "err", err)
		}
		spoken = summary
	}

	if present && spoken != "" {
		if err := d.Speak(ctx, id, spoken); err != nil {
			log.Warn("pipeline: queue speech failed", "err", err)
		}
	}

	d.archive(ctx, memory.Exchange{
		UniqueID:  id,
		Identity:  d.cfg.Names.Identity,
		Source:    req.Source,
		AuthorID:  req.AuthorID,
		Prompt:    req.Message,
		Response:  response,
		Summary:   summary,
		CreatedAt: time.Now(),
	})
	return nil
}

// Enqueue pushes the task for id onto the response queue. The message is
// prefixed with the author so the LLM can tell speakers apart.
func (d *Dispatcher) Enqueue(ctx context.Context, id, author, message string) error {
	message = ReplaceMentions(ctx, message, d.cfg.Resolver)
	task := Task{UniqueID: id, Message: author + ":" + message}
	if err := d.cfg.Queue.Push(ctx, d.cfg.Names.ResponseQueue, task.Encode()); err != nil {
		return fmt.Errorf("pipeline: enqueue %s: %w", id, err)
	}
	return nil
}

// Await waits for the reply to id without sending it anywhere.
func (d *Dispatcher) Await(ctx context.Context, id string) (string, error) {
	return d.wait(ctx, d.cfg.Names.ResponsePrefix, id)
}

// Deliver waits for the reply to id and sends it to the channel registered
// for id in chunks of [MaxMessageLength]. On timeout the channel is told the
// request timed out.
func (d *Dispatcher) Deliver(ctx context.Context, id string) (string, error) {
	ch, ok := d.cfg.Contexts.Lookup(id)
	if !ok {
		return "", fmt.Errorf("pipeline: deliver %s: no channel registered", id)
	}
	response, err := d.wait(ctx, d.cfg.Names.ResponsePrefix, id)
	if err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			d.send(ctx, ch, TimeoutReply)
		}
		return "", err
	}
	response = ReplaceMentions(ctx, response, d.cfg.Resolver)
	for _, chunk := range SplitMessage(response, MaxMessageLength) {
		d.send(ctx, ch, chunk)
	}
	return response, nil
}

// Summarize queues response for summarizing, waits for the summary and sends
// it to the channel registered for id.
func (d *Dispatcher) Summarize(ctx context.Context, id, response string) (string, error) {
	task := Task{UniqueID: id, Message: response}
	if err := d.cfg.Queue.Push(ctx, d.cfg.Names.SummaryQueue, task.Encode()); err != nil {
		return "", fmt.Errorf("pipeline: enqueue summary %s: %w", id, err)
	}
	summary, err := d.wait(ctx, d.cfg.Names.SummaryPrefix, id)
	if err != nil {
		return "", err
	}
	if ch, ok := d.cfg.Contexts.Lookup(id); ok {
		for _, chunk := range SplitMessage(summary, MaxMessageLength) {
			d.send(ctx, ch, chunk)
		}
	}
	return summary, nil
}

// Speak splits text into sentences and queues each for synthesis, numbered
// from 1.
func (d *Dispatcher) Speak(ctx context.Context, id, text string) error {
	for i, line := range SplitSentences(text) {
		sl := SpeechLine{UniqueID: id, Index: i + 1, Text: line}
		if err := d.cfg.Queue.Push(ctx, d.cfg.Names.SpeechQueue, sl.Encode()); err != nil {
			return fmt.Errorf("pipeline: queue speech line %d of %s: %w", sl.Index, id, err)
		}
	}
	return nil
}

func (d *Dispatcher) wait(ctx context.Context, prefix, id string) (string, error) {
	_, timeout := d.thresholds()
	v, err := d.cfg.Queue.Wait(ctx, queue.MailboxKey(prefix, id), d.cfg.WaitInterval, timeout)
	if errors.Is(err, queue.ErrTimeout) {
		d.met.RecordMailboxTimeout(ctx, prefix)
	}
	return v, err
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, text string) {
	if text == "" {
		return
	}
	if err := ch.Send(ctx, text); err != nil {
		slog.Warn("pipeline: send to channel failed", "identity", d.cfg.Names.Identity, "err", err)
	}
}

func (d *Dispatcher) archive(ctx context.Context, e memory.Exchange) {
	if d.cfg.Journal == nil {
		return
	}
	if err := d.cfg.Journal.Archive(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("pipeline: archive exchange", "id", e.UniqueID, "err", err)
	}
}
