package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/memory"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
)

// WakeWords decides which bot identity, if any, a transcript addresses.
type WakeWords interface {
	Match(text string) (identity string, ok bool)
}

// TranscriptionConfig configures a [TranscriptionWorker].
type TranscriptionConfig struct {
	Queue Queue
	STT   stt.Provider

	// ProviderName labels provider metrics. Defaults to "stt".
	ProviderName string

	// Options are passed to every Transcribe call.
	Options stt.Options

	WakeWords WakeWords

	Metrics *observe.Metrics
}

// TranscriptionWorker turns captured utterances into voice requests. It
// consumes the shared transcription queue and routes each transcript that
// contains a wake word to the matching identity's voice queue.
type TranscriptionWorker struct {
	cfg TranscriptionConfig
	met *observe.Metrics
}

// NewTranscriptionWorker creates the transcription stage.
func NewTranscriptionWorker(cfg TranscriptionConfig) *TranscriptionWorker {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "stt"
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &TranscriptionWorker{cfg: cfg, met: met}
}

// Loop returns the worker loop.
func (w *TranscriptionWorker) Loop() *Loop {
	return &Loop{Name: "transcription", Queue: queue.TranscriptionQueue, Store: w.cfg.Queue, Handle: w.Handle, Metrics: w.met}
}

// Handle transcribes one job. The WAV file is removed afterwards.
func (w *TranscriptionWorker) Handle(ctx context.Context, payload string) error {
	job, err := DecodeTranscriptionJob(payload)
	if err != nil {
		return err
	}
	defer removeArtifact(job.AudioPath)

	clip, err := audio.ReadWAVFile(job.AudioPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	start := time.Now()
	tr, err := w.cfg.STT.Transcribe(ctx, clip, w.cfg.Options)
	w.met.ObserveProvider(ctx, observe.KindSTT, w.cfg.ProviderName, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("pipeline: transcribe %s: %w", job.AudioPath, err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return fmt.Errorf("%w: empty transcript", ErrSkipped)
	}
	identity, ok := w.cfg.WakeWords.Match(text)
	if !ok {
		slog.Debug("pipeline: transcript without wake word", "user", job.UserID, "text", text)
		return fmt.Errorf("%w: no wake word", ErrSkipped)
	}

	task := Task{UniqueID: NewVoiceTaskID(), Message: job.UserID + ": " + text}
	target := queue.NamesFor(identity).VoiceQueue
	if err := w.cfg.Queue.Push(ctx, target, task.Encode()); err != nil {
		return fmt.Errorf("pipeline: queue voice request: %w", err)
	}
	slog.Info("pipeline: voice request queued", "identity", identity, "user", job.UserID, "id", task.UniqueID)
	return nil
}

// VoiceBridgeConfig configures a [VoiceBridge].
type VoiceBridgeConfig struct {
	Queue      Queue
	Names      queue.Names
	Dispatcher *Dispatcher

	// Channel receives the announcement and the reply.
	Channel Channel

	// Resolver names the speaker in the announcement. Optional.
	Resolver NameResolver

	Metrics *observe.Metrics
}

// VoiceBridge feeds transcribed requests into the same path as typed
// commands after echoing what was heard to the chat channel.
type VoiceBridge struct {
	cfg VoiceBridgeConfig
	met *observe.Metrics
}

// NewVoiceBridge creates the voice bridge for cfg.Names.
func NewVoiceBridge(cfg VoiceBridgeConfig) *VoiceBridge {
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &VoiceBridge{cfg: cfg, met: met}
}

// Loop returns the worker loop.
func (b *VoiceBridge) Loop() *Loop {
	return &Loop{Name: "voice-bridge", Queue: b.cfg.Names.VoiceQueue, Store: b.cfg.Queue, Handle: b.Handle, Metrics: b.met}
}

// Handle announces and processes one voice request of the form
// "{user_id}: {text}".
func (b *VoiceBridge) Handle(ctx context.Context, payload string) error {
	task, err := DecodeTask(payload)
	if err != nil {
		return err
	}
	userID, text, ok := strings.Cut(task.Message, ":")
	userID, text = strings.TrimSpace(userID), strings.TrimSpace(text)
	if !ok || userID == "" || text == "" {
		return fmt.Errorf("%w: voice request %q", ErrMalformed, task.Message)
	}

	speaker := resolveName(ctx, b.cfg.Resolver, userID)
	for _, chunk := range SplitMessage(text, MaxMessageLength-len(speaker)-2) {
		if err := b.cfg.Channel.Send(ctx, speaker+": "+chunk); err != nil {
			slog.Warn("pipeline: announce voice request", "id", task.UniqueID, "err", err)
		}
	}

	return b.cfg.Dispatcher.Process(ctx, Request{
		UniqueID: task.UniqueID,
		AuthorID: userID,
		Message:  text,
		Source:   memory.SourceVoice,
		Channel:  b.cfg.Channel,
	})
}
