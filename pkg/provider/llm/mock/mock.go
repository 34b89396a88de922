// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Response: "Hello!"}
//	resp, err := p.Complete(ctx, llm.Prompt("hi"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/derfbot/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider. Fields may be set before
// the first call; calls are recorded in order.
type Provider struct {
	mu sync.Mutex

	// Response is returned as the reply content when Err is nil.
	Response string

	// Reply, when non-nil, computes the reply from the request and overrides
	// Response and Err.
	Reply func(ctx context.Context, req llm.CompletionRequest) (string, error)

	// Err, if non-nil, is returned from Complete.
	Err error

	// Calls records every request in order.
	Calls []llm.CompletionRequest
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	reply, resp, err := p.Reply, p.Response, p.Err
	p.mu.Unlock()

	if reply != nil {
		resp, err = reply(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: resp}, nil
}

// CallCount returns the number of Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastPrompt returns the last user message of the most recent call.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return ""
	}
	return llm.LastUserMessage(p.Calls[len(p.Calls)-1])
}
