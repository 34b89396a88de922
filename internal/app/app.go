// Package app wires all derfbot subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the queue, the
// journal and one Discord gateway per bot identity and builds the pipeline
// workers, Run executes every worker loop under one errgroup, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithQueue, WithMemory,
// WithGateways, WithRegistry). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/derfbot/internal/api"
	"github.com/MrWong99/derfbot/internal/capture"
	"github.com/MrWong99/derfbot/internal/config"
	"github.com/MrWong99/derfbot/internal/discord"
	"github.com/MrWong99/derfbot/internal/discord/commands"
	"github.com/MrWong99/derfbot/internal/health"
	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/pipeline"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/internal/transcript/wakeword"
	"github.com/MrWong99/derfbot/internal/voice"
	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/vad"
	"github.com/MrWong99/derfbot/pkg/memory"
	"github.com/MrWong99/derfbot/pkg/memory/postgres"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// resultTTLFactor scales the reply wait timeout into the lifetime of
// unclaimed mailbox results and unfetched API queries.
const resultTTLFactor = 5

// Gateway is the Discord side of one bot identity. [*discord.Bot]
// implements it.
type Gateway interface {
	Identity() string
	Platform() audio.Platform
	API() discord.API
	Router() *discord.CommandRouter
	Operator() discord.OperatorRole
	Members() *discord.Members
	OnVoiceLeave(fn func(userID string))
	UserVoiceChannel(userID string) (string, bool)
	Run(ctx context.Context) error
	Close() error
}

var _ Gateway = (*discord.Bot)(nil)

// GatewayFactory opens the gateway of one bot identity.
type GatewayFactory func(ctx context.Context, cfg discord.Config) (Gateway, error)

func openDiscord(ctx context.Context, cfg discord.Config) (Gateway, error) {
	return discord.New(ctx, cfg)
}

// Bot is the runtime of one bot identity.
type Bot struct {
	Config     config.BotConfig
	Names      queue.Names
	Gateway    Gateway
	Voice      *voice.Manager
	Dispatcher *pipeline.Dispatcher

	loops []*pipeline.Loop
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	metrics *observe.Metrics

	queue      *queue.Store
	mem        memory.Store
	newGateway GatewayFactory
	checkers   []health.Checker

	bots        []*Bot
	sink        *capture.Sink
	transcriber *pipeline.Loop
	api         *api.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithQueue injects the queue store instead of dialling redis.addr. The
// caller keeps ownership of it.
func WithQueue(s *queue.Store) Option {
	return func(a *App) { a.queue = s }
}

// WithMemory injects the journal and avatar store instead of connecting to
// postgres.dsn.
func WithMemory(m memory.Store) Option {
	return func(a *App) { a.mem = m }
}

// WithGateways replaces the Discord gateway factory.
func WithGateways(f GatewayFactory) Option {
	return func(a *App) { a.newGateway = f }
}

// WithRegistry injects the provider registry. The default registry holds
// the built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithMetrics replaces observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires every subsystem. ctx bounds slash command requests and must
// live as long as the App.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, newGateway: openDiscord}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.reg == nil {
		a.reg = config.NewRegistry()
		RegisterBuiltins(a.reg)
	}
	if err := a.reg.Check(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	if err := a.initMemory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initQueue(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init queue: %w", err)
	}
	if err := a.initCapture(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	for _, bc := range cfg.Bots {
		b, err := a.initBot(ctx, bc)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init bot %q: %w", bc.Name, err)
		}
		a.bots = append(a.bots, b)
	}
	a.initAPI()
	return a, nil
}

func (a *App) initQueue(ctx context.Context) error {
	if a.queue == nil {
		s, err := queue.New(ctx, queue.Config{
			Addr:      a.cfg.Redis.Addr,
			Password:  a.cfg.Redis.Password,
			DB:        a.cfg.Redis.DB,
			ResultTTL: resultTTLFactor * a.cfg.Pipeline.WaitTimeout,
		})
		if err != nil {
			return err
		}
		a.queue = s
		a.closers = append(a.closers, s.Close)
	}
	a.checkers = append(a.checkers, health.Checker{Name: "redis", Check: a.queue.Ping})
	return nil
}

func (a *App) initMemory(ctx context.Context) error {
	if a.mem != nil {
		return nil
	}
	if a.cfg.Postgres.DSN == "" {
		slog.Info("no postgres dsn configured, keeping the journal in memory")
		a.mem = &memory.Local{}
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	a.mem = store
	a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initCapture builds the capture sink and the shared transcription worker
// when a bot captures speech.
func (a *App) initCapture() error {
	if !a.capturing() {
		return nil
	}
	sttP, err := a.reg.BuildSTT(a.cfg.Providers.STT, a.cfg.Providers.Breaker)
	if err != nil {
		return err
	}
	detector, err := wakeword.New(wakeword.Config{Identities: a.identities(), Phonetic: true})
	if err != nil {
		return err
	}

	c := a.cfg.Capture
	a.sink = capture.New(capture.Config{
		Queue:         a.queue,
		OutputDir:     c.OutputDir,
		BufferSize:    c.BufferSeconds * audio.Discord.BytesPerSecond(),
		VAD:           vad.Config{ThresholdDB: c.ThresholdDB, Silence: c.Silence},
		CheckInterval: c.CheckInterval,
		Metrics:       a.metrics,
	})
	a.transcriber = pipeline.NewTranscriptionWorker(pipeline.TranscriptionConfig{
		Queue:        a.queue,
		STT:          sttP,
		ProviderName: providerLabel(a.cfg.Providers.STT),
		Options:      stt.Options{Language: a.cfg.Pipeline.Language},
		WakeWords:    detector,
		Metrics:      a.metrics,
	}).Loop()
	return nil
}

func (a *App) capturing() bool {
	for _, b := range a.cfg.Bots {
		if b.Capture {
			return true
		}
	}
	return false
}

// identities lists the wake words of every bot. Bots without their own words
// answer to the built-in list (primary identity) or to their name.
func (a *App) identities() []wakeword.Identity {
	ids := make([]wakeword.Identity, 0, len(a.cfg.Bots))
	for _, b := range a.cfg.Bots {
		words := b.WakeWords
		if len(words) == 0 {
			if b.Name == queue.PrimaryIdentity {
				words = wakeword.PrimaryWords
			} else {
				words = []string{b.Name}
			}
		}
		ids = append(ids, wakeword.Identity{Name: b.Name, Words: words})
	}
	return ids
}

func (a *App) initBot(ctx context.Context, bc config.BotConfig) (*Bot, error) {
	providers := a.cfg.Resolve(bc)
	breaker := a.cfg.Providers.Breaker
	llmP, err := a.reg.BuildLLM(providers.LLM, breaker)
	if err != nil {
		return nil, err
	}
	sumEntry := summarizerEntry(providers.Summarizer)
	sumP, err := a.reg.BuildLLM(sumEntry, breaker)
	if err != nil {
		return nil, err
	}
	ttsP, err := a.reg.BuildTTS(providers.TTS, breaker)
	if err != nil {
		return nil, err
	}

	gw, err := a.newGateway(ctx, discord.Config{
		Identity:       bc.Name,
		Token:          bc.Token,
		GuildID:        a.cfg.Discord.GuildID,
		OperatorRoleID: a.cfg.Discord.OperatorRoleID,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, gw.Close)

	var sink audio.PacketSink
	if bc.Capture {
		sink = a.sink
		gw.OnVoiceLeave(a.sink.Remove)
	}
	vm := voice.New(voice.Config{
		Platform:  gw.Platform(),
		ChannelID: a.cfg.Discord.VoiceChannelID,
		Sink:      sink,
	})
	a.closers = append(a.closers, vm.Close)

	names := queue.NamesFor(bc.Name)
	members := gw.Members()
	pc := a.cfg.Pipeline
	d := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Queue:            a.queue,
		Names:            names,
		Contexts:         pipeline.NewContextStore(),
		Voice:            vm,
		Journal:          a.mem,
		Resolver:         members,
		SummaryThreshold: pc.SummaryThreshold,
		WaitInterval:     pc.WaitInterval,
		WaitTimeout:      pc.WaitTimeout,
		Metrics:          a.metrics,
	})

	b := &Bot{Config: bc, Names: names, Gateway: gw, Voice: vm, Dispatcher: d}
	b.loops = []*pipeline.Loop{
		pipeline.NewResponseWorker(pipeline.CompletionConfig{
			Queue:        a.queue,
			Names:        names,
			LLM:          llmP,
			ProviderName: providerLabel(providers.LLM),
			SystemPrompt: bc.SystemPrompt,
			Timeout:      pc.LLMTimeout,
			Avatar:       a.mem,
			Metrics:      a.metrics,
		}).Loop(),
		pipeline.NewSummarizerWorker(pipeline.CompletionConfig{
			Queue:        a.queue,
			Names:        names,
			LLM:          sumP,
			ProviderName: providerLabel(sumEntry),
			Timeout:      pc.LLMTimeout,
			Metrics:      a.metrics,
		}).Loop(),
		pipeline.NewSynthesisWorker(pipeline.SynthesisConfig{
			Queue:        a.queue,
			Names:        names,
			TTS:          ttsP,
			ProviderName: providerLabel(providers.TTS),
			Voice:        tts.Voice{ID: bc.Voice.ID, Speed: bc.Voice.Speed},
			Resolver:     members,
			OutputDir:    pc.SpeechDir,
			Bitrate:      pc.Bitrate,
			Metrics:      a.metrics,
		}).Loop(),
		pipeline.NewPlaybackWorker(pipeline.PlaybackConfig{
			Queue:   a.queue,
			Names:   names,
			Voice:   vm,
			Avatar:  a.mem,
			Metrics: a.metrics,
		}).Loop(),
	}
	if a.sink != nil {
		b.loops = append(b.loops, pipeline.NewVoiceBridge(pipeline.VoiceBridgeConfig{
			Queue:      a.queue,
			Names:      names,
			Dispatcher: d,
			Channel:    a.chatChannel(gw),
			Resolver:   members,
			Metrics:    a.metrics,
		}).Loop())
	}

	router := gw.Router()
	commands.NewAskCommands(ctx, bc.Name, d).Register(router)
	commands.NewVoiceCommands(ctx, vm, gw.UserVoiceChannel, gw.Operator()).Register(router)
	commands.NewHistoryCommands(bc.Name, a.mem).Register(router)

	slog.Info("bot ready",
		"identity", bc.Name,
		"llm", providers.LLM.Name,
		"tts", providers.TTS.Name,
		"capture", bc.Capture,
		"response_queue", names.ResponseQueue,
	)
	return b, nil
}

// chatChannel is where voice requests are announced and answered.
func (a *App) chatChannel(gw Gateway) pipeline.Channel {
	if id := a.cfg.Discord.ChatChannelID; id != "" {
		return discord.TextChannel{API: gw.API(), ChannelID: id}
	}
	slog.Warn("discord.chat_channel_id is empty, voice replies are only logged", "identity", gw.Identity())
	return pipeline.ChannelFunc(func(_ context.Context, text string) error {
		slog.Info("voice reply", "identity", gw.Identity(), "text", text)
		return nil
	})
}

func (a *App) initAPI() {
	for _, b := range a.bots {
		if !b.Config.API {
			continue
		}
		a.api = api.New(api.Config{
			Identity:   b.Config.Name,
			Dispatcher: b.Dispatcher,
			Avatars:    a.mem,
			Journal:    a.mem,
			Health:     health.New(a.checkers...),
			Metrics:    observe.MetricsHandler(),
			Observe:    a.metrics,
			PendingTTL: resultTTLFactor * a.cfg.Pipeline.WaitTimeout,
		})
		return
	}
}

// Bots returns the bot runtimes in config order.
func (a *App) Bots() []*Bot { return a.bots }

// Handler returns the HTTP API handler, or nil when no bot serves the API.
func (a *App) Handler() http.Handler {
	if a.api == nil {
		return nil
	}
	return a.api.Handler()
}

// SetThresholds applies new summary and wait thresholds to every bot.
func (a *App) SetThresholds(summary int, waitTimeout time.Duration) {
	for _, b := range a.bots {
		b.Dispatcher.SetThresholds(summary, waitTimeout)
	}
}

// Run starts every gateway and worker loop and blocks until ctx is cancelled
// or one of them fails. When the configured voice channel is set each bot
// joins it in the background.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range a.bots {
		g.Go(func() error { return b.Gateway.Run(gctx) })
		for _, l := range b.loops {
			g.Go(func() error { return l.Run(gctx) })
		}
		if a.cfg.Discord.VoiceChannelID != "" {
			g.Go(func() error {
				if err := b.Voice.EnsureConnected(gctx); err != nil && gctx.Err() == nil {
					slog.Warn("auto-join failed, waiting for /join", "identity", b.Config.Name, "err", err)
				}
				return nil
			})
		}
	}
	if a.sink != nil {
		g.Go(func() error { return a.sink.Run(gctx) })
		g.Go(func() error { return a.transcriber.Run(gctx) })
	}
	if a.api != nil && a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.api.ListenAndServe(gctx, a.cfg.Server.ListenAddr) })
	}

	slog.Info("app running", "bots", len(a.bots), "capture", a.sink != nil, "http", a.cfg.Server.ListenAddr)
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Shutdown releases everything New acquired: capture, voice connections,
// Discord gateways, Redis and Postgres, in that order. Closers left when ctx
// expires are skipped and ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.sink != nil {
			a.sink.Close()
		}
		for i, closer := range a.shutdownOrder() {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// shutdownOrder returns the closers newest first, so per-bot resources go
// before the queue and the journal they depend on.
func (a *App) shutdownOrder() []func() error {
	out := make([]func() error, len(a.closers))
	for i, c := range a.closers {
		out[len(a.closers)-1-i] = c
	}
	return out
}

// closeAll releases partially initialised resources after a failed New.
func (a *App) closeAll() {
	for _, c := range a.shutdownOrder() {
		_ = c()
	}
}
