package app

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/derfbot/internal/config"
	"github.com/MrWong99/derfbot/pkg/provider/llm"
	"github.com/MrWong99/derfbot/pkg/provider/llm/anyllm"
	"github.com/MrWong99/derfbot/pkg/provider/llm/openai"
	"github.com/MrWong99/derfbot/pkg/provider/llm/workspace"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/stt/whisper"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
	"github.com/MrWong99/derfbot/pkg/provider/tts/coqui"
	"github.com/MrWong99/derfbot/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/derfbot/pkg/provider/tts/mimic3"
)

// RegisterBuiltins adds every provider that ships with derfbot to reg.
//
// LLM: "workspace" (AnythingLLM), "openai" and the any-llm backends
// (anthropic, gemini, ollama, ...). STT: "whisper" (HTTP server) and
// "whisper-native". TTS: "mimic3", "coqui" and "elevenlabs".
func RegisterBuiltins(reg *config.Registry) {
	// ── LLM ──────────────────────────────────────────────────────────────
	reg.RegisterLLM("workspace", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []workspace.Option
		if slug := e.Option("slug"); slug != "" {
			opts = append(opts, workspace.WithSlug(slug))
		}
		if id := e.Option("session_id"); id != "" {
			opts = append(opts, workspace.WithSessionID(id))
		}
		if d, err := optDuration(e, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, workspace.WithTimeout(d))
		}
		return workspace.New(e.BaseURL, e.APIKey, opts...)
	})

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if org := e.Option("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := optDuration(e, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})

	// "openai" is served by openai-go above; the rest go through any-llm.
	for _, backend := range anyllm.Backends {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	// ── STT ──────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := e.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d, err := optDuration(e, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = e.Option("model_path")
		}
		var opts []whisper.NativeOption
		if lang := e.Option("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ──────────────────────────────────────────────────────────────
	reg.RegisterTTS("mimic3", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []mimic3.Option
		if bin := e.Option("binary"); bin != "" {
			opts = append(opts, mimic3.WithBinary(bin))
		}
		if v := e.Option("voice"); v != "" {
			opts = append(opts, mimic3.WithVoice(v))
		}
		if dir := e.Option("temp_dir"); dir != "" {
			opts = append(opts, mimic3.WithTempDir(dir))
		}
		return mimic3.New(opts...), nil
	})

	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := e.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := e.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d, err := optDuration(e, "timeout"); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if f := e.Option("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("providers registered", "kind", kind, "names", names)
	}
}

// optDuration parses a duration option such as "30s". Absent is zero.
func optDuration(e config.ProviderEntry, key string) (time.Duration, error) {
	s := e.Option(key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s option %q: %w", e.Name, key, err)
	}
	return d, nil
}

// summarizerEntry points a workspace summarizer at the summary workspace
// unless a slug is configured. Other backends are returned unchanged.
func summarizerEntry(e config.ProviderEntry) config.ProviderEntry {
	if e.Name != "workspace" || e.Option("slug") != "" {
		return e
	}
	opts := maps.Clone(e.Options)
	if opts == nil {
		opts = make(map[string]any, 1)
	}
	opts["slug"] = workspace.SummarizerSlug
	e.Options = opts
	return e
}

// providerLabel names a possibly wrapped backend for metrics.
func providerLabel(e config.ProviderEntry) string {
	if len(e.Fallbacks) == 0 {
		return e.Name
	}
	names := []string{e.Name}
	for _, fb := range e.Fallbacks {
		names = append(names, fb.Name)
	}
	return strings.Join(names, ",")
}
