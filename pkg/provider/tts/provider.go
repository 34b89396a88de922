// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis engine (a local mimic3 binary, a
// Coqui TTS server, or the ElevenLabs API) and turns one line of text into one
// PCM clip. Spoken replies are synthesized line by line from a queue, so the
// contract is batch rather than streaming; callers convert the clip to the
// playback format themselves.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/derfbot/pkg/audio"
)

// Voice selects a voice of a provider.
type Voice struct {
	// ID is the provider-specific voice identifier (a mimic3 voice key such as
	// "en_UK/apope_low", a Coqui speaker, an ElevenLabs voice id). Empty
	// selects the provider default.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Speed scales the speaking rate (1.0 = default). Zero means default.
	// Providers that cannot change the rate ignore it.
	Speed float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the PCM clip in the
	// provider's native format. An error is returned if synthesis fails or ctx
	// is cancelled.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]Voice, error)
}
