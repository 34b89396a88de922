// Package mock provides a test double for stt.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Clip audio.Clip
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text of every call.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns Text or Err.
func (p *Provider) Transcribe(_ context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Opts: opts})
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	return stt.Transcript{Text: p.Text, Language: opts.Language, Duration: clip.Duration()}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
