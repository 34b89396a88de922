package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is the polling interval of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and calls onChange with the previous and the
// new config whenever the content changes and still validates. Invalid edits
// are logged and skipped until the file is modified again.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	current atomic.Pointer[Config]

	// pollMu serialises Poll. seen is the last modification time looked at
	// and sum the digest of the file behind current.
	pollMu sync.Mutex
	seen   time.Time
	sum    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher seeded with it. Start polling
// with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, sum, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current.Store(cfg)
	w.seen, w.sum = info.ModTime(), sum
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run calls [Watcher.Poll] every interval until ctx is done, then returns
// nil. Poll errors are logged.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Poll(); err != nil {
				slog.Warn("config: reload skipped, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Poll checks the file once. It reports whether a new config was installed
// and onChange called. A file whose modification time has not moved is not
// read. A file that fails to load is remembered by its modification time and
// not retried until it changes again.
func (w *Watcher) Poll() (bool, error) {
	w.pollMu.Lock()
	info, err := os.Stat(w.path)
	if err != nil {
		w.pollMu.Unlock()
		return false, err
	}
	if info.ModTime().Equal(w.seen) {
		w.pollMu.Unlock()
		return false, nil
	}
	w.seen = info.ModTime()

	cfg, sum, err := readConfig(w.path)
	if err != nil || sum == w.sum {
		w.pollMu.Unlock()
		return false, err
	}
	w.sum = sum
	old := w.current.Swap(cfg)
	w.pollMu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func readConfig(path string) (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	return cfg, sha256.Sum256(data), nil
}
