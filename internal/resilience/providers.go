package resilience

import (
	"context"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/llm"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// LLM fails over between completion backends.
type LLM struct {
	*Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM creates an empty LLM group; add backends with Add.
func NewLLM(cfg BreakerConfig) *LLM {
	return &LLM{NewGroup[llm.Provider](cfg)}
}

// Complete implements [llm.Provider].
func (f *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.Group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STT fails over between transcription backends.
type STT struct {
	*Group[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates an empty STT group.
func NewSTT(cfg BreakerConfig) *STT {
	return &STT{NewGroup[stt.Provider](cfg)}
}

// Transcribe implements [stt.Provider].
func (f *STT) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	return Call(ctx, f.Group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip, opts)
	})
}

// TTS fails over between synthesis backends. Backends may produce clips in
// different formats; the synthesis stage converts whatever it gets.
type TTS struct {
	*Group[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates an empty TTS group.
func NewTTS(cfg BreakerConfig) *TTS {
	return &TTS{NewGroup[tts.Provider](cfg)}
}

// Synthesize implements [tts.Provider].
func (f *TTS) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	return Call(ctx, f.Group, func(ctx context.Context, p tts.Provider) (audio.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices lists the voices of the first backend that answers.
func (f *TTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return Call(ctx, f.Group, func(ctx context.Context, p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
