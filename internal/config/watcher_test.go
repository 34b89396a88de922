package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/internal/config"
)

const watcherUpdatedYAML = minimalYAML + `
server:
  log_level: debug
`

// bumpMtime moves the modification time forward so coarse filesystem clocks
// still register an edit.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	at := time.Now().Add(by)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func newWatchedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "derfbot.yaml")
	writeFile(t, path, content)
	return path
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, "server:\n  log_level: bananas\n")
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_Poll(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, minimalYAML)

	var diffs []config.ConfigDiff
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		diffs = append(diffs, config.Diff(old, new))
	})
	if err != nil {
		t.Fatal(err)
	}

	if changed, err := w.Poll(); changed || err != nil {
		t.Fatalf("untouched file: changed=%v err=%v", changed, err)
	}

	// Touched but identical content is not a change.
	bumpMtime(t, path, time.Second)
	if changed, err := w.Poll(); changed || err != nil {
		t.Fatalf("same content: changed=%v err=%v", changed, err)
	}

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, 2*time.Second)
	changed, err := w.Poll()
	if !changed || err != nil {
		t.Fatalf("edited file: changed=%v err=%v", changed, err)
	}
	if len(diffs) != 1 || !diffs[0].LogLevelChanged || diffs[0].NewLogLevel != config.LogDebug {
		t.Errorf("diffs = %+v", diffs)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() level = %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidEditIsSkippedOnce(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, minimalYAML)

	calls := 0
	w, err := config.NewWatcher(path, func(_, _ *config.Config) { calls++ })
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, strings.Replace(minimalYAML, "token: abc", `token: ""`, 1))
	bumpMtime(t, path, time.Second)
	if changed, err := w.Poll(); changed || err == nil {
		t.Fatalf("invalid edit: changed=%v err=%v", changed, err)
	}
	// Same broken file again: not re-read, so no error either.
	if changed, err := w.Poll(); changed || err != nil {
		t.Fatalf("repeat poll: changed=%v err=%v", changed, err)
	}
	if calls != 0 || w.Current().Bots[0].Token != "abc" {
		t.Errorf("invalid config installed: calls=%d token=%q", calls, w.Current().Bots[0].Token)
	}

	writeFile(t, path, minimalYAML)
	bumpMtime(t, path, 2*time.Second)
	if changed, err := w.Poll(); changed || err != nil {
		t.Errorf("revert to installed content: changed=%v err=%v", changed, err)
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, minimalYAML)

	got := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) { got <- new },
		config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	select {
	case cfg := <-got:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("level = %q", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onChange not called")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}
