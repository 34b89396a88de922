// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Captured speech arrives as complete utterances (one WAV per silence
// episode), so the contract is batch: one clip in, one transcript out.
// Implementations accept any [audio.Format] and convert to what the backend
// needs; [audio.Transcription] (16 kHz mono) avoids any conversion for
// whisper-style engines.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/derfbot/pkg/audio"
)

// Options carries per-call recognition hints.
type Options struct {
	// Language is a BCP-47 code such as "en". Empty uses the provider default.
	Language string

	// Prompt biases recognition toward the given vocabulary (bot names,
	// server jargon). Providers that cannot use it ignore it.
	Prompt string
}

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised speech, trimmed. Empty means nothing intelligible
	// was said.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the length of the transcribed clip.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts clip to text. It returns promptly when ctx is
	// cancelled.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (Transcript, error)
}
