// Package anyllm reaches hosted and local model APIs through
// github.com/mozilla-ai/any-llm-go. Any backend in [Backends] can stand in
// for the workspace LLM, e.g. a local Ollama model when the AnythingLLM
// server is down.
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/derfbot/pkg/provider/llm"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// wrap adapts a backend constructor returning a concrete type.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var constructors = map[string]constructor{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// Backends lists the names [New] accepts, sorted.
var Backends = func() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}()

// Provider implements llm.Provider on top of one any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New connects to backend (case-insensitive, one of [Backends]) for model.
// opts are any-llm options such as anyllmlib.WithAPIKey; without a key the
// backend reads its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(backend)
	ctor, ok := constructors[name]
	switch {
	case name == "":
		return nil, fmt.Errorf("anyllm: backend is required")
	case !ok:
		return nil, fmt.Errorf("anyllm: unsupported backend %q (have %s)", backend, strings.Join(Backends, ", "))
	case model == "":
		return nil, fmt.Errorf("anyllm: %s: model is required", name)
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Name returns the lower-case backend name.
func (p *Provider) Name() string { return p.name }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %w", err)
	}
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, llm.ErrNoChoices)
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// params maps req onto any-llm parameters. Roles other than system and
// assistant are sent as user turns.
func (p *Provider) params(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	conv, err := req.Conversation()
	if err != nil {
		return anyllmlib.CompletionParams{}, err
	}
	msgs := make([]anyllmlib.Message, len(conv))
	for i, m := range conv {
		msgs[i] = anyllmlib.Message{Role: llm.RoleUser, Content: m.Content}
		if m.Role == llm.RoleSystem || m.Role == llm.RoleAssistant {
			msgs[i].Role = m.Role
		}
	}
	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params, nil
}
