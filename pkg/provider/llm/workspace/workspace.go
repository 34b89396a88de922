// Package workspace provides an llm.Provider backed by an AnythingLLM
// workspace chat endpoint.
//
// Each completion is one POST to {baseURL}/api/v1/workspace/{slug}/chat in
// "chat" mode. AnythingLLM keeps the conversation history server-side, keyed
// by the sessionId sent with the request, so only the last user message of a
// request is transmitted.
//
// Typical usage:
//
//	p, err := workspace.New("http://localhost:3001", os.Getenv("AUTH_TOKEN"),
//	    workspace.WithSlug("a-new-workspace"),
//	    workspace.WithSessionID("my-session-id"),
//	)
//	resp, err := p.Complete(ctx, llm.Prompt("alice: hello"))
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/derfbot/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// ---- constants ----

const (
	// DefaultSlug is the workspace used for regular replies.
	DefaultSlug = "a-new-workspace"

	// SummarizerSlug is the workspace used for summaries.
	SummarizerSlug = "summarizer"

	defaultTimeout = 20 * time.Second
	chatMode       = "chat"

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSlug selects the workspace. Defaults to [DefaultSlug].
func WithSlug(slug string) Option {
	return func(p *Provider) {
		p.slug = slug
	}
}

// WithSessionID pins the server-side chat session. Without it every request
// gets a fresh random session, which is how summaries are requested.
func WithSessionID(id string) Option {
	return func(p *Provider) {
		p.sessionID = id
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 20 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// ---- Provider ----

// Provider implements llm.Provider against one AnythingLLM workspace. It is
// safe for concurrent use.
type Provider struct {
	baseURL    string
	token      string
	slug       string
	sessionID  string
	httpClient *http.Client
}

// New creates a Provider for the AnythingLLM server at baseURL (e.g.
// "http://localhost:3001") authenticated with the API token.
func New(baseURL, token string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("workspace: baseURL must not be empty")
	}
	if token == "" {
		return nil, errors.New("workspace: token must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		slug:       DefaultSlug,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.slug == "" {
		return nil, errors.New("workspace: slug must not be empty")
	}
	return p, nil
}

// ---- wire types ----

type chatRequest struct {
	Message     string `json:"message"`
	Mode        string `json:"mode"`
	SessionID   string `json:"sessionId"`
	Attachments []any  `json:"attachments"`
}

type chatResponse struct {
	TextResponse string `json:"textResponse"`
	Error        string `json:"error"`
}

// ---- llm.Provider ----

// Complete sends the last user message of req to the workspace and returns
// the textResponse of the reply. req.SessionID overrides the configured
// session for this call.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	message := llm.LastUserMessage(req)
	if message == "" {
		return nil, errors.New("workspace: request has no user message")
	}
	if req.SystemPrompt != "" {
		message = req.SystemPrompt + "\n\n" + message
	}

	body, err := json.Marshal(chatRequest{
		Message:     message,
		Mode:        chatMode,
		SessionID:   p.session(req.SessionID),
		Attachments: []any{},
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/api/v1/workspace/" + url.PathEscape(p.slug) + "/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("workspace: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workspace: %s chat: %w", p.slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("workspace: %s chat: status %d: %s", p.slug, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("workspace: decode response: %w", err)
	}
	if out.Error != "" && out.TextResponse == "" {
		return nil, fmt.Errorf("workspace: %s chat: %s", p.slug, out.Error)
	}
	return &llm.CompletionResponse{Content: out.TextResponse}, nil
}

func (p *Provider) session(override string) string {
	switch {
	case override != "":
		return override
	case p.sessionID != "":
		return p.sessionID
	default:
		return strconv.Itoa(rand.IntN(1_000_001))
	}
}
