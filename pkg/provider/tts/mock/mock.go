// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Clip: audio.Clip{PCM: make([]byte, 3840), Format: audio.Discord}}
//	clip, _ := p.Synthesize(ctx, "Hello there.", tts.Voice{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by every successful Synthesize call.
	Clip audio.Clip

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned by ListVoices.
	ListVoicesResult []tts.Voice
	ListVoicesErr    error

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Clip or SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return audio.Clip{}, p.SynthesizeErr
	}
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	return p.Clip, nil
}

// ListVoices returns ListVoicesResult and ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Texts returns the text of every Synthesize call. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}
