// Package llm defines the Provider interface for text-completion backends.
//
// A provider wraps a remote or local model API (an AnythingLLM workspace, an
// OpenAI-compatible endpoint, or any backend reachable through any-llm) and
// exposes a single blocking completion call: message in, text out.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoMessages is returned for a request without messages.
	ErrNoMessages = errors.New("llm: request has no messages")

	// ErrNoChoices is returned when a backend answers without any choice.
	ErrNoChoices = errors.New("llm: response has no choices")
)

// Message is one entry of a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting reported by the backend. Backends that do not
// report usage leave it zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the backend needs to produce a reply.
// At least one message is required.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is normally the
	// user's prompt.
	Messages []Message

	// SystemPrompt is prepended as a system message by backends that have no
	// dedicated field for it.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the backend default.
	MaxTokens int

	// SessionID scopes server-side chat history for backends that keep one.
	SessionID string
}

// CompletionResponse is the backend's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Prompt builds a single-message request for text.
func Prompt(text string) CompletionRequest {
	return CompletionRequest{Messages: []Message{{Role: RoleUser, Content: text}}}
}

// Conversation returns the messages of req with SystemPrompt, if any, as the
// leading system message.
func (r CompletionRequest) Conversation() ([]Message, error) {
	if len(r.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if r.SystemPrompt == "" {
		return r.Messages, nil
	}
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	return append(out, r.Messages...), nil
}

// LastUserMessage returns the content of the last user message in req, or the
// empty string.
func LastUserMessage(req CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
