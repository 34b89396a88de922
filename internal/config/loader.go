package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultRedisAddr is used when redis.addr is empty.
const DefaultRedisAddr = "localhost:6379"

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadEnv loads KEY=VALUE files into the process environment. Variables that
// are already set win. Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", f, err)
		}
	}
	return nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references in data with
// values from the environment. Unset variables without a default expand to
// the empty string. A bare $ is left alone.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(sub[1])); ok && v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}

// Load reads, expands, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields. When no bot captures speech the first
// bot does, and likewise for the HTTP API.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	capture, api := false, false
	for i := range cfg.Bots {
		b := &cfg.Bots[i]
		b.Name = strings.ToLower(strings.TrimSpace(b.Name))
		capture = capture || b.Capture
		api = api || b.API
	}
	if len(cfg.Bots) > 0 {
		cfg.Bots[0].Capture = cfg.Bots[0].Capture || !capture
		cfg.Bots[0].API = cfg.Bots[0].API || !api
	}
}

// Validate reports every problem in cfg, joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if cfg.Redis.DB < 0 {
		add("redis.db must not be negative")
	}

	if len(cfg.Bots) == 0 {
		add("bots: at least one bot is required")
	}
	seen := make(map[string]int, len(cfg.Bots))
	captures, apis := 0, 0
	needsSTT := false
	for i, b := range cfg.Bots {
		prefix := fmt.Sprintf("bots[%d]", i)
		switch {
		case b.Name == "":
			add("%s.name is required", prefix)
		case strings.ContainsAny(b.Name, " :|"):
			add("%s.name %q must not contain spaces, ':' or '|'", prefix, b.Name)
		default:
			if prev, ok := seen[b.Name]; ok {
				add("%s.name %q is a duplicate of bots[%d]", prefix, b.Name, prev)
			}
			seen[b.Name] = i
		}
		if b.Token == "" {
			add("%s.token is required", prefix)
		}
		if b.Voice.Speed != 0 && (b.Voice.Speed < 0.5 || b.Voice.Speed > 2) {
			add("%s.voice.speed %.2f is out of range [0.5, 2.0]", prefix, b.Voice.Speed)
		}
		if b.Capture {
			captures++
			needsSTT = true
		}
		if b.API {
			apis++
		}
		if b.Providers.LLM.Name == "" && cfg.Providers.LLM.Name == "" {
			add("%s: no llm provider configured (providers.llm or bots[%d].providers.llm)", prefix, i)
		}
		if b.Providers.TTS.Name == "" && cfg.Providers.TTS.Name == "" {
			add("%s: no tts provider configured (providers.tts or bots[%d].providers.tts)", prefix, i)
		}
		errs = append(errs, validateEntry(prefix+".providers.llm", b.Providers.LLM)...)
		errs = append(errs, validateEntry(prefix+".providers.summarizer", b.Providers.Summarizer)...)
		errs = append(errs, validateEntry(prefix+".providers.tts", b.Providers.TTS)...)
	}
	if captures > 1 {
		add("bots: %d bots capture speech; at most one may", captures)
	}
	if apis > 1 {
		add("bots: %d bots serve the HTTP API; at most one may", apis)
	}

	if needsSTT && cfg.Providers.STT.Name == "" {
		add("providers.stt.name is required when a bot captures speech")
	}
	errs = append(errs, validateEntry("providers.llm", cfg.Providers.LLM)...)
	errs = append(errs, validateEntry("providers.summarizer", cfg.Providers.Summarizer)...)
	errs = append(errs, validateEntry("providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("providers.tts", cfg.Providers.TTS)...)
	if cfg.Providers.Breaker.MaxFailures < 0 || cfg.Providers.Breaker.ResetTimeout < 0 {
		add("providers.breaker values must not be negative")
	}

	if cfg.Capture.BufferSeconds < 0 {
		add("capture.buffer_seconds must not be negative")
	}
	if cfg.Capture.ThresholdDB > 0 {
		add("capture.threshold_db %.1f must be at most 0 dBFS", cfg.Capture.ThresholdDB)
	}
	if cfg.Capture.Silence < 0 || cfg.Capture.CheckInterval < 0 {
		add("capture durations must not be negative")
	}
	if cfg.Pipeline.WaitTimeout < 0 || cfg.Pipeline.WaitInterval < 0 || cfg.Pipeline.LLMTimeout < 0 {
		add("pipeline durations must not be negative")
	}
	if cfg.Pipeline.Bitrate < 0 {
		add("pipeline.bitrate must not be negative")
	}
	return errors.Join(errs...)
}

// validateEntry checks that every fallback of a configured entry is named.
func validateEntry(path string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s: fallbacks require a primary name", path))
	}
	for i, fb := range e.Fallbacks {
		p := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", p))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s: fallbacks cannot be nested", p))
		}
	}
	return errs
}
