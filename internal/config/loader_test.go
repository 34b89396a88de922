package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/internal/config"
)

const minimalYAML = `
providers:
  llm:
    name: workspace
  stt:
    name: whisper
  tts:
    name: mimic3
bots:
  - name: Derf
    token: abc
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Redis.Addr != config.DefaultRedisAddr {
		t.Errorf("redis.addr = %q", cfg.Redis.Addr)
	}
	b := cfg.Bots[0]
	if b.Name != "derf" {
		t.Errorf("bot name = %q, want lowercased", b.Name)
	}
	if !b.Capture || !b.API {
		t.Errorf("first bot capture=%v api=%v, want both defaulted on", b.Capture, b.API)
	}
}

func TestApplyDefaults_KeepsExplicitCaptureBot(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Bots: []config.BotConfig{{Name: "derf"}, {Name: "nic", Capture: true}}}
	config.ApplyDefaults(cfg)
	if cfg.Bots[0].Capture || !cfg.Bots[1].Capture {
		t.Errorf("capture = [%v %v], want [false true]", cfg.Bots[0].Capture, cfg.Bots[1].Capture)
	}
	if !cfg.Bots[0].API {
		t.Error("first bot should serve the API when none is chosen")
	}
}

func TestLoadFromReader_FullDocument(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":5000"
  log_level: debug
redis:
  addr: "redis:6379"
  db: 2
discord:
  guild_id: "1"
  chat_channel_id: "3"
bots:
  - name: derf
    token: a
    wake_words: [derf, dwarf]
    voice: {id: "en_UK/apope_low", speed: 1.2}
  - name: nic
    token: b
    providers:
      llm: {name: workspace, options: {slug: nic}}
providers:
  llm:
    name: workspace
    base_url: "http://llm:3001"
    fallbacks:
      - name: openai
        model: gpt-4o-mini
  stt: {name: whisper}
  tts: {name: mimic3}
  breaker: {max_failures: 2, reset_timeout: 10s}
capture:
  threshold_db: -42
  silence: 750ms
pipeline:
  summary_threshold: 300
  wait_timeout: 90s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.DB != 2 || cfg.Server.ListenAddr != ":5000" {
		t.Errorf("server/redis = %+v %+v", cfg.Server, cfg.Redis)
	}
	if got := cfg.Bots[1].Providers.LLM.Option("slug"); got != "nic" {
		t.Errorf("nic slug = %q", got)
	}
	if cfg.Bots[1].Capture {
		t.Error("second bot must not capture")
	}
	if fb := cfg.Providers.LLM.Fallbacks; len(fb) != 1 || fb[0].Model != "gpt-4o-mini" {
		t.Errorf("fallbacks = %+v", fb)
	}
	if cfg.Providers.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("reset_timeout = %v", cfg.Providers.Breaker.ResetTimeout)
	}
	if cfg.Capture.Silence != 750*time.Millisecond || cfg.Pipeline.WaitTimeout != 90*time.Second {
		t.Errorf("durations = %v %v", cfg.Capture.Silence, cfg.Pipeline.WaitTimeout)
	}
	if cfg.Bots[0].Voice.Speed != 1.2 {
		t.Errorf("speed = %v", cfg.Bots[0].Voice.Speed)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "npcs: []\n"))
	if err == nil || !strings.Contains(err.Error(), "npcs") {
		t.Errorf("err = %v, want unknown field npcs", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *config.Config {
		return &config.Config{
			Server: config.ServerConfig{LogLevel: config.LogInfo},
			Bots:   []config.BotConfig{{Name: "derf", Token: "a", Capture: true, API: true}},
			Providers: config.ProvidersConfig{
				LLM: config.ProviderEntry{Name: "workspace"},
				STT: config.ProviderEntry{Name: "whisper"},
				TTS: config.ProviderEntry{Name: "mimic3"},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "bad log level", mutate: func(c *config.Config) { c.Server.LogLevel = "loud" }, want: "log_level"},
		{name: "no bots", mutate: func(c *config.Config) { c.Bots = nil }, want: "at least one bot"},
		{name: "missing token", mutate: func(c *config.Config) { c.Bots[0].Token = "" }, want: "token is required"},
		{name: "separator in name", mutate: func(c *config.Config) { c.Bots[0].Name = "derf:x" }, want: "must not contain"},
		{
			name:   "duplicate bot",
			mutate: func(c *config.Config) { c.Bots = append(c.Bots, config.BotConfig{Name: "derf", Token: "b"}) },
			want:   "duplicate",
		},
		{
			name: "two capture bots",
			mutate: func(c *config.Config) {
				c.Bots = append(c.Bots, config.BotConfig{Name: "nic", Token: "b", Capture: true})
			},
			want: "capture speech",
		},
		{name: "speed out of range", mutate: func(c *config.Config) { c.Bots[0].Voice.Speed = 3 }, want: "voice.speed"},
		{name: "no llm", mutate: func(c *config.Config) { c.Providers.LLM.Name = "" }, want: "no llm provider"},
		{
			name: "llm override satisfies bot",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Name = ""
				c.Bots[0].Providers.LLM.Name = "openai"
			},
		},
		{name: "stt required for capture", mutate: func(c *config.Config) { c.Providers.STT.Name = "" }, want: "providers.stt"},
		{
			name: "stt optional without capture",
			mutate: func(c *config.Config) {
				c.Providers.STT.Name = ""
				c.Bots[0].Capture = false
			},
		},
		{
			name: "unnamed fallback",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{}}
			},
			want: "fallbacks[0].name",
		},
		{
			name: "nested fallback",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "coqui", Fallbacks: []config.ProviderEntry{{Name: "mimic3"}}}}
			},
			want: "nested",
		},
		{name: "positive threshold", mutate: func(c *config.Config) { c.Capture.ThresholdDB = 3 }, want: "threshold_db"},
		{name: "negative wait", mutate: func(c *config.Config) { c.Pipeline.WaitTimeout = -time.Second }, want: "pipeline durations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("DERF_TEST_HOST", "redis.local")
	t.Setenv("DERF_TEST_EMPTY", "")

	tests := []struct {
		in, want string
	}{
		{"addr: ${DERF_TEST_HOST}:6379", "addr: redis.local:6379"},
		{"addr: ${DERF_TEST_UNSET:-localhost}", "addr: localhost"},
		{"addr: ${DERF_TEST_EMPTY:-fallback}", "addr: fallback"},
		{"addr: ${DERF_TEST_UNSET}", "addr: "},
		{"prompt: costs $5 or $HOME", "prompt: costs $5 or $HOME"},
	}
	for _, tt := range tests {
		if got := string(config.ExpandEnv([]byte(tt.in))); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	writeFile(t, path, "DERF_LOADENV_TOKEN=secret\nDERF_LOADENV_SET=fromfile\n")
	t.Setenv("DERF_LOADENV_SET", "fromenv")
	t.Cleanup(func() { os.Unsetenv("DERF_LOADENV_TOKEN") })

	if err := config.LoadEnv(path, filepath.Join(dir, "missing.env"), ""); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("DERF_LOADENV_TOKEN"); got != "secret" {
		t.Errorf("token = %q", got)
	}
	if got := os.Getenv("DERF_LOADENV_SET"); got != "fromenv" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("DERF_LOAD_TOKEN", "xyz")
	path := filepath.Join(t.TempDir(), "derf.yaml")
	writeFile(t, path, strings.Replace(minimalYAML, "token: abc", "token: ${DERF_LOAD_TOKEN}", 1))

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bots[0].Token != "xyz" {
		t.Errorf("token = %q", cfg.Bots[0].Token)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "derf-token")
	t.Setenv("NIC_DISCORD_BOT_TOKEN", "nic-token")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "derfbot.example.yaml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("redis.addr = %q", cfg.Redis.Addr)
	}
	if len(cfg.Bots) != 2 || !cfg.Bots[0].Capture || cfg.Bots[1].Capture {
		t.Errorf("bots = %+v", cfg.Bots)
	}
	if got := cfg.Resolve(cfg.Bots[1]).LLM.Option("slug"); got != "nic" {
		t.Errorf("nic llm slug = %q", got)
	}
	if cfg.Providers.LLM.Fallbacks[0].Name != "ollama" {
		t.Errorf("fallbacks = %+v", cfg.Providers.LLM.Fallbacks)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	for l, want := range map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	} {
		if got := l.Level(); got != want {
			t.Errorf("%q.Level() = %v, want %v", l, got, want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}
