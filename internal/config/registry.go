package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/derfbot/internal/resilience"
	"github.com/MrWong99/derfbot/pkg/provider/llm"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory exists for a provider
// name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a backend from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(e ProviderEntry) (T, error) {
	fn, ok := f.m[e.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, e.Name)
	}
	v, err := fn(e)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s provider %q: %w", f.kind, e.Name, err)
	}
	return v, nil
}

func (f *factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to factories. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	stt factories[stt.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{kind: "llm", m: map[string]Factory[llm.Provider]{}},
		stt: factories[stt.Provider]{kind: "stt", m: map[string]Factory[stt.Provider]{}},
		tts: factories[tts.Provider]{kind: "tts", m: map[string]Factory[tts.Provider]{}},
	}
}

// RegisterLLM registers an LLM factory, replacing any previous one of the
// same name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSTT registers an STT factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a TTS factory.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// Names lists the registered names per kind ("llm", "stt", "tts").
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{"llm": r.llm.names(), "stt": r.stt.names(), "tts": r.tts.names()}
}

// CreateLLM builds the LLM named by e. Fallbacks are ignored.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(e)
}

// CreateSTT builds the STT backend named by e. Fallbacks are ignored.
func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(e)
}

// CreateTTS builds the TTS backend named by e. Fallbacks are ignored.
func (r *Registry) CreateTTS(e ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(e)
}

// BuildLLM builds e and its fallbacks. With fallbacks the result is a
// [resilience.LLM] trying them in order.
func (r *Registry) BuildLLM(e ProviderEntry, br BreakerConfig) (llm.Provider, error) {
	primary, err := r.CreateLLM(e)
	if err != nil || len(e.Fallbacks) == 0 {
		return primary, err
	}
	g := resilience.NewLLM(br.resilience())
	g.Add(e.Name, primary)
	for _, fb := range e.Fallbacks {
		p, err := r.CreateLLM(fb)
		if err != nil {
			return nil, err
		}
		g.Add(fb.Name, p)
	}
	return g, nil
}

// BuildSTT builds e and its fallbacks.
func (r *Registry) BuildSTT(e ProviderEntry, br BreakerConfig) (stt.Provider, error) {
	primary, err := r.CreateSTT(e)
	if err != nil || len(e.Fallbacks) == 0 {
		return primary, err
	}
	g := resilience.NewSTT(br.resilience())
	g.Add(e.Name, primary)
	for _, fb := range e.Fallbacks {
		p, err := r.CreateSTT(fb)
		if err != nil {
			return nil, err
		}
		g.Add(fb.Name, p)
	}
	return g, nil
}

// BuildTTS builds e and its fallbacks.
func (r *Registry) BuildTTS(e ProviderEntry, br BreakerConfig) (tts.Provider, error) {
	primary, err := r.CreateTTS(e)
	if err != nil || len(e.Fallbacks) == 0 {
		return primary, err
	}
	g := resilience.NewTTS(br.resilience())
	g.Add(e.Name, primary)
	for _, fb := range e.Fallbacks {
		p, err := r.CreateTTS(fb)
		if err != nil {
			return nil, err
		}
		g.Add(fb.Name, p)
	}
	return g, nil
}

// Check reports every provider named in cfg that has no factory.
func (r *Registry) Check(cfg *Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	check := func(path string, e ProviderEntry, has func(string) bool) {
		if e.Name == "" {
			return
		}
		for i, n := range append([]string{e.Name}, fallbackNames(e)...) {
			if !has(n) {
				p := path
				if i > 0 {
					p = fmt.Sprintf("%s.fallbacks[%d]", path, i-1)
				}
				errs = append(errs, fmt.Errorf("%w: %s.name %q", ErrProviderNotRegistered, p, n))
			}
		}
	}
	hasLLM := func(n string) bool { _, ok := r.llm.m[n]; return ok }
	hasSTT := func(n string) bool { _, ok := r.stt.m[n]; return ok }
	hasTTS := func(n string) bool { _, ok := r.tts.m[n]; return ok }

	check("providers.llm", cfg.Providers.LLM, hasLLM)
	check("providers.summarizer", cfg.Providers.Summarizer, hasLLM)
	check("providers.stt", cfg.Providers.STT, hasSTT)
	check("providers.tts", cfg.Providers.TTS, hasTTS)
	for i, b := range cfg.Bots {
		prefix := fmt.Sprintf("bots[%d].providers", i)
		check(prefix+".llm", b.Providers.LLM, hasLLM)
		check(prefix+".summarizer", b.Providers.Summarizer, hasLLM)
		check(prefix+".tts", b.Providers.TTS, hasTTS)
	}
	return errors.Join(errs...)
}

func fallbackNames(e ProviderEntry) []string {
	out := make([]string, len(e.Fallbacks))
	for i, fb := range e.Fallbacks {
		out[i] = fb.Name
	}
	return out
}

func (b BreakerConfig) resilience() resilience.BreakerConfig {
	return resilience.BreakerConfig{MaxFailures: b.MaxFailures, ResetTimeout: b.ResetTimeout}
}

// Resolve returns the effective providers of bot: its overrides where set,
// the global entries otherwise. An unset summarizer falls back to the
// effective LLM.
func (c *Config) Resolve(bot BotConfig) BotProviders {
	pick := func(override, global ProviderEntry) ProviderEntry {
		if override.Name != "" {
			return override
		}
		return global
	}
	p := BotProviders{
		LLM:        pick(bot.Providers.LLM, c.Providers.LLM),
		Summarizer: pick(bot.Providers.Summarizer, c.Providers.Summarizer),
		TTS:        pick(bot.Providers.TTS, c.Providers.TTS),
	}
	if p.Summarizer.Name == "" {
		p.Summarizer = p.LLM
	}
	return p
}
