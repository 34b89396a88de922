// Package config provides the configuration schema, loader, change watcher and
// provider registry for derfbot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown and empty levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Discord   DiscordConfig   `yaml:"discord"`
	Bots      []BotConfig     `yaml:"bots"`
	Providers ProvidersConfig `yaml:"providers"`
	Capture   CaptureConfig   `yaml:"capture"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the HTTP API, probes and /metrics. Empty
	// disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RedisConfig locates the queue server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig locates the exchange journal. An empty DSN keeps the journal
// and avatar state in memory.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DiscordConfig holds the guild-wide Discord settings shared by every bot.
type DiscordConfig struct {
	GuildID string `yaml:"guild_id"`

	// VoiceChannelID is joined at startup. Empty waits for /join.
	VoiceChannelID string `yaml:"voice_channel_id"`

	// ChatChannelID receives transcribed voice requests and their replies.
	ChatChannelID string `yaml:"chat_channel_id"`

	// OperatorRoleID gates /join and /leave. Empty allows everyone.
	OperatorRoleID string `yaml:"operator_role_id"`
}

// BotConfig describes one bot identity.
type BotConfig struct {
	// Name is the identity. The first bot is normally "derf", whose queues
	// carry no suffix.
	Name  string `yaml:"name"`
	Token string `yaml:"token"`

	// WakeWords route transcripts to this bot. Empty uses the built-in list
	// for the primary identity and the name otherwise.
	WakeWords []string `yaml:"wake_words"`

	// SystemPrompt is sent with every reply request.
	SystemPrompt string `yaml:"system_prompt"`

	Voice VoiceConfig `yaml:"voice"`

	// Capture attaches the speech capture sink to this bot's voice
	// connection. Exactly one bot should capture.
	Capture bool `yaml:"capture"`

	// API serves the HTTP query and avatar endpoints for this bot.
	API bool `yaml:"api"`

	// Providers overrides the global providers for this bot. Entries with an
	// empty name inherit the global entry.
	Providers BotProviders `yaml:"providers"`
}

// VoiceConfig selects the TTS voice of a bot.
type VoiceConfig struct {
	ID    string  `yaml:"id"`
	Speed float64 `yaml:"speed"`
}

// BotProviders are per-bot provider overrides.
type BotProviders struct {
	LLM        ProviderEntry `yaml:"llm"`
	Summarizer ProviderEntry `yaml:"summarizer"`
	TTS        ProviderEntry `yaml:"tts"`
}

// ProvidersConfig selects the backend for each pipeline stage by registry
// name.
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Summarizer ProviderEntry `yaml:"summarizer"`
	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`

	// Breaker tunes the circuit breakers placed in front of each backend
	// when fallbacks are configured.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry configures one backend.
type ProviderEntry struct {
	// Name selects the registered factory (e.g. "workspace", "whisper",
	// "mimic3").
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific settings such as a workspace slug.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Option returns the string option key, or "".
func (e ProviderEntry) Option(key string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return ""
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CaptureConfig tunes speech capture and voice activity detection.
type CaptureConfig struct {
	// OutputDir receives utterance WAV files. Defaults to the OS temp dir.
	OutputDir string `yaml:"output_dir"`

	// BufferSeconds is the ring buffer capacity per speaker.
	BufferSeconds int `yaml:"buffer_seconds"`

	// ThresholdDB is the loudness at or above which audio counts as speech.
	ThresholdDB float64 `yaml:"threshold_db"`

	// Silence releases an utterance after this long without packets.
	Silence time.Duration `yaml:"silence"`

	CheckInterval time.Duration `yaml:"check_interval"`
}

// PipelineConfig tunes the queue stages.
type PipelineConfig struct {
	// SummaryThreshold is the reply length in characters above which a
	// summary is spoken instead. Negative disables summaries.
	SummaryThreshold int `yaml:"summary_threshold"`

	// WaitTimeout bounds how long a request waits for its reply.
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// WaitInterval is the mailbox poll interval.
	WaitInterval time.Duration `yaml:"wait_interval"`

	// LLMTimeout bounds one completion.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// SpeechDir receives synthesized frame files. Defaults to the OS temp
	// dir.
	SpeechDir string `yaml:"speech_dir"`

	// Bitrate of the Opus encoder in bit/s.
	Bitrate int `yaml:"bitrate"`

	// Language is passed to the STT backend.
	Language string `yaml:"language"`
}
