package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Log level and
// pipeline thresholds are applied live; everything else is reported in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged bool
	SummaryThreshold  int
	WaitTimeout       time.Duration

	// RestartRequired names the changed sections that only take effect on
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.SummaryThreshold != new.Pipeline.SummaryThreshold ||
		old.Pipeline.WaitTimeout != new.Pipeline.WaitTimeout {
		d.ThresholdsChanged = true
		d.SummaryThreshold = new.Pipeline.SummaryThreshold
		d.WaitTimeout = new.Pipeline.WaitTimeout
	}

	oldPipe, newPipe := old.Pipeline, new.Pipeline
	oldPipe.SummaryThreshold, oldPipe.WaitTimeout = 0, 0
	newPipe.SummaryThreshold, newPipe.WaitTimeout = 0, 0

	sections := []struct {
		name     string
		old, new any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"redis", old.Redis, new.Redis},
		{"postgres", old.Postgres, new.Postgres},
		{"discord", old.Discord, new.Discord},
		{"bots", old.Bots, new.Bots},
		{"providers", old.Providers, new.Providers},
		{"capture", old.Capture, new.Capture},
		{"pipeline", oldPipe, newPipe},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
