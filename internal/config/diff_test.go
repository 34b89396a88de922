package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		return &config.Config{
			Server:   config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":5000"},
			Bots:     []config.BotConfig{{Name: "derf", Token: "a"}},
			Pipeline: config.PipelineConfig{SummaryThreshold: 300, WaitTimeout: time.Minute, Bitrate: 64000},
		}
	}

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantThresh  bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLevel: true},
		{name: "summary threshold", mutate: func(c *config.Config) { c.Pipeline.SummaryThreshold = 500 }, wantThresh: true},
		{name: "wait timeout", mutate: func(c *config.Config) { c.Pipeline.WaitTimeout = time.Hour }, wantThresh: true},
		{name: "bitrate", mutate: func(c *config.Config) { c.Pipeline.Bitrate = 96000 }, wantRestart: []string{"pipeline"}},
		{
			name: "bot prompt and listen addr",
			mutate: func(c *config.Config) {
				c.Bots[0].SystemPrompt = "Be gruff."
				c.Server.ListenAddr = ":6000"
			},
			wantRestart: []string{"server.listen_addr", "bots"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, cur := base(), base()
			tt.mutate(cur)
			d := config.Diff(old, cur)

			if d.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v", d.LogLevelChanged)
			}
			if tt.wantLevel && d.NewLogLevel != cur.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.ThresholdsChanged != tt.wantThresh {
				t.Errorf("ThresholdsChanged = %v", d.ThresholdsChanged)
			}
			if tt.wantThresh && (d.SummaryThreshold != cur.Pipeline.SummaryThreshold || d.WaitTimeout != cur.Pipeline.WaitTimeout) {
				t.Errorf("thresholds = %d %v", d.SummaryThreshold, d.WaitTimeout)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantEmpty := !tt.wantLevel && !tt.wantThresh && len(tt.wantRestart) == 0
			if d.Empty() != wantEmpty {
				t.Errorf("Empty() = %v", d.Empty())
			}
		})
	}
}
