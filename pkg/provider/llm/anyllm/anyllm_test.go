package anyllm

import (
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/derfbot/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	p := &Provider{model: "llama3"}

	if _, err := p.params(llm.CompletionRequest{}); !errors.Is(err, llm.ErrNoMessages) {
		t.Fatalf("empty request: err = %v", err)
	}

	req := llm.CompletionRequest{
		SystemPrompt: "You are a dwarf.",
		Temperature:  0.7,
		MaxTokens:    128,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "42:what is the answer"},
			{Role: llm.RoleAssistant, Content: "stone"},
			{Role: "narrator", Content: "the dwarf pauses"},
		},
	}
	params, err := p.params(req)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Model != "llama3" {
		t.Errorf("model = %q", params.Model)
	}
	var roles []string
	for _, m := range params.Messages {
		roles = append(roles, string(m.Role))
	}
	want := []string{"system", "user", "assistant", "user"}
	if !slices.Equal(roles, want) {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if params.Messages[3].ContentString() != "the dwarf pauses" {
		t.Errorf("content = %q", params.Messages[3].ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Error("temperature not set")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Error("max tokens not set")
	}

	params, err = p.params(llm.Prompt("x"))
	if err != nil {
		t.Fatal(err)
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero values must leave backend defaults")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		want    string
		wantErr bool
	}{
		{name: "empty backend", model: "llama3", wantErr: true},
		{name: "unsupported", backend: "fakecloud", model: "m", wantErr: true},
		{name: "empty model", backend: "ollama", wantErr: true},
		{name: "ollama", backend: "ollama", model: "llama3", want: "ollama"},
		{name: "case folded", backend: "LlamaCpp", model: "m", want: "llamacpp"},
		{name: "anthropic", backend: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}, want: "anthropic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackendsSorted(t *testing.T) {
	if !slices.IsSorted(Backends) || len(Backends) != len(constructors) {
		t.Errorf("Backends = %v", Backends)
	}
	if !slices.Contains(Backends, "ollama") {
		t.Error("ollama missing")
	}
}
