// Command derfbot runs the Discord voice assistant: one gateway per bot
// identity, the Redis-backed pipeline workers and the HTTP query API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/derfbot/internal/app"
	"github.com/MrWong99/derfbot/internal/config"
	"github.com/MrWong99/derfbot/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "derfbot.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional KEY=VALUE file loaded before the config is expanded")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "derfbot: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "derfbot: config file %q not found, copy configs/derfbot.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "derfbot: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))
	slog.Info("derfbot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(old, cur *config.Config) {
		applyReload(config.Diff(old, cur), level, application)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go func() { _ = watcher.Run(ctx) }()
	}

	slog.Info("derfbot ready, press Ctrl+C to shut down")
	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	slog.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// thresholdSetter is the part of the App a reload touches.
type thresholdSetter interface {
	SetThresholds(summary int, waitTimeout time.Duration)
}

// applyReload applies the hot-reloadable part of d and logs the rest.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, app thresholdSetter) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		app.SetThresholds(d.SummaryThreshold, d.WaitTimeout)
		slog.Info("pipeline thresholds changed", "summary_threshold", d.SummaryThreshold, "wait_timeout", d.WaitTimeout)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", strings.Join(d.RestartRequired, ", "))
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         derfbot: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", providerValue(cfg.Providers.LLM))
	printRow("Summarizer", providerValue(cfg.Providers.Summarizer))
	printRow("STT", providerValue(cfg.Providers.STT))
	printRow("TTS", providerValue(cfg.Providers.TTS))
	for _, b := range cfg.Bots {
		var roles []string
		if b.Capture {
			roles = append(roles, "capture")
		}
		if b.API {
			roles = append(roles, "api")
		}
		printRow("Bot "+b.Name, strings.Join(roles, "+"))
	}
	printRow("Redis", cfg.Redis.Addr)
	if cfg.Postgres.DSN != "" {
		printRow("Journal", "postgres")
	} else {
		printRow("Journal", "in memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerValue(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(kind, value string) {
	if value == "" {
		value = "-"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}
