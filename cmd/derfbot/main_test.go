package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/internal/config"
)

type recordingApp struct {
	summary int
	timeout time.Duration
	calls   int
}

func (r *recordingApp) SetThresholds(summary int, timeout time.Duration) {
	r.summary, r.timeout = summary, timeout
	r.calls++
}

func TestApplyReload(t *testing.T) {
	level := new(slog.LevelVar)
	app := &recordingApp{}

	applyReload(config.ConfigDiff{RestartRequired: []string{"bots"}}, level, app)
	if app.calls != 0 || level.Level() != slog.LevelInfo {
		t.Fatalf("restart-only diff applied something: calls=%d level=%v", app.calls, level.Level())
	}

	applyReload(config.ConfigDiff{
		LogLevelChanged:   true,
		NewLogLevel:       config.LogDebug,
		ThresholdsChanged: true,
		SummaryThreshold:  250,
		WaitTimeout:       time.Minute,
	}, level, app)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if app.calls != 1 || app.summary != 250 || app.timeout != time.Minute {
		t.Errorf("thresholds = %+v", app)
	}
}

func TestProviderValue(t *testing.T) {
	tests := []struct {
		entry config.ProviderEntry
		want  string
	}{
		{config.ProviderEntry{}, "(not configured)"},
		{config.ProviderEntry{Name: "mimic3"}, "mimic3"},
		{config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}, "openai / gpt-4o-mini"},
	}
	for _, tt := range tests {
		if got := providerValue(tt.entry); got != tt.want {
			t.Errorf("providerValue(%+v) = %q, want %q", tt.entry, got, tt.want)
		}
	}
}
