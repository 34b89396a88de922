package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/opus"
	"github.com/MrWong99/derfbot/pkg/memory"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// SynthesisConfig configures a [SynthesisWorker].
type SynthesisConfig struct {
	Queue Queue
	Names queue.Names
	TTS   tts.Provider

	// ProviderName labels provider metrics. Defaults to "tts".
	ProviderName string

	// Voice is passed to every Synthesize call.
	Voice tts.Voice

	// Resolver turns mentions into spoken names. Optional.
	Resolver NameResolver

	// OutputDir receives the encoded frame files. Defaults to os.TempDir().
	OutputDir string

	// Bitrate of the Opus encoder. Zero selects opus.DefaultBitrate.
	Bitrate int

	Metrics *observe.Metrics
}

// SynthesisWorker turns speech lines into Opus frame files and queues them
// for playback.
type SynthesisWorker struct {
	cfg SynthesisConfig
	met *observe.Metrics
}

// NewSynthesisWorker creates the synthesis stage.
func NewSynthesisWorker(cfg SynthesisConfig) *SynthesisWorker {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "tts"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &SynthesisWorker{cfg: cfg, met: met}
}

// Loop returns the worker loop.
func (w *SynthesisWorker) Loop() *Loop {
	return &Loop{Name: "synthesis", Queue: w.cfg.Names.SpeechQueue, Store: w.cfg.Queue, Handle: w.Handle, Metrics: w.met}
}

// Handle synthesizes one speech line.
func (w *SynthesisWorker) Handle(ctx context.Context, payload string) error {
	line, err := ParseSpeechLine(payload)
	if err != nil {
		return err
	}
	text := CleanForSpeech(ctx, line.Text, w.cfg.Resolver)
	if text == "" {
		return fmt.Errorf("%w: line %d of %s is empty after cleanup", ErrSkipped, line.Index, line.UniqueID)
	}

	start := time.Now()
	clip, err := w.cfg.TTS.Synthesize(ctx, text, w.cfg.Voice)
	w.met.ObserveProvider(ctx, observe.KindTTS, w.cfg.ProviderName, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("pipeline: synthesize line %d of %s: %w", line.Index, line.UniqueID, err)
	}
	if len(clip.PCM) == 0 {
		return fmt.Errorf("%w: synthesizer returned no audio for line %d of %s", ErrSkipped, line.Index, line.UniqueID)
	}

	enc, err := opus.NewEncoder(w.cfg.Bitrate)
	if err != nil {
		return err
	}
	frames, err := enc.EncodeClip(clip.Convert(audio.Discord).PCM)
	if err != nil {
		return fmt.Errorf("pipeline: encode line %d of %s: %w", line.Index, line.UniqueID, err)
	}

	path := filepath.Join(w.cfg.OutputDir, fmt.Sprintf("%s_%d.opus", line.UniqueID, line.Index))
	if err := opus.WriteFile(path, frames); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", path, err)
	}

	item := PlaybackItem{UniqueID: line.UniqueID, Path: path}
	if err := w.cfg.Queue.Push(ctx, w.cfg.Names.PlaybackQueue, item.Encode()); err != nil {
		removeArtifact(path)
		return fmt.Errorf("pipeline: queue playback of %s: %w", path, err)
	}
	slog.Debug("pipeline: line synthesized", "id", line.UniqueID, "index", line.Index, "duration", clip.Duration())
	return nil
}

// PlaybackConfig configures a [PlaybackWorker].
type PlaybackConfig struct {
	Queue Queue
	Names queue.Names
	Voice Voice

	// Avatar receives talking/idle transitions. Optional.
	Avatar memory.AvatarStore

	Metrics *observe.Metrics
}

// PlaybackWorker plays queued clips in order. Playback is serialized because
// each item blocks until the clip has finished.
type PlaybackWorker struct {
	cfg PlaybackConfig
	met *observe.Metrics
}

// NewPlaybackWorker creates the playback stage.
func NewPlaybackWorker(cfg PlaybackConfig) *PlaybackWorker {
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &PlaybackWorker{cfg: cfg, met: met}
}

// Loop returns the worker loop.
func (w *PlaybackWorker) Loop() *Loop {
	return &Loop{Name: "playback", Queue: w.cfg.Names.PlaybackQueue, Store: w.cfg.Queue, Handle: w.Handle, Metrics: w.met}
}

// Handle plays one item. The clip file is removed whatever the outcome.
func (w *PlaybackWorker) Handle(ctx context.Context, payload string) error {
	item, err := ParsePlaybackItem(payload)
	if err != nil {
		return err
	}
	defer removeArtifact(item.Path)

	if err := w.cfg.Voice.EnsureConnected(ctx); err != nil {
		slog.Warn("pipeline: voice not connected, skipping playback", "id", item.UniqueID, "err", err)
		return fmt.Errorf("%w: not connected: %v", ErrSkipped, err)
	}
	if !w.cfg.Voice.IsHumanPresent(ctx) {
		return fmt.Errorf("%w: no listeners", ErrSkipped)
	}

	w.setAvatar(ctx, memory.AvatarTalking)
	defer w.setAvatar(ctx, memory.AvatarIdle)
	if err := w.cfg.Voice.PlayAudio(ctx, item.Path); err != nil {
		return fmt.Errorf("pipeline: play %s: %w", item.Path, err)
	}
	return nil
}

func (w *PlaybackWorker) setAvatar(ctx context.Context, st memory.AvatarState) {
	if w.cfg.Avatar == nil {
		return
	}
	if err := w.cfg.Avatar.SetAvatarState(context.WithoutCancel(ctx), w.cfg.Names.Identity, st); err != nil {
		slog.Warn("pipeline: set avatar state", "state", st, "err", err)
	}
}

// removeArtifact deletes a temporary file. A missing file is fine.
func removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("pipeline: remove artifact", "path", path, "err", err)
	}
}
