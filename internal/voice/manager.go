// Package voice owns the bot's single voice-channel connection. It joins on
// demand, re-joins with exponential backoff when the connection is missing or
// no longer ready, answers human-presence queries, and plays Opus frame files
// to completion.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/opus"
)

// Default reconnection and playback parameters.
const (
	defaultMaxRetries   = 10
	defaultBackoff      = 1 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// ErrNoChannel is returned when no voice channel has been configured or
// joined yet.
var ErrNoChannel = errors.New("voice: no voice channel configured")

// Config configures a [Manager].
type Config struct {
	// Platform establishes voice connections.
	Platform audio.Platform

	// ChannelID is the voice channel to join. It may be empty and set later
	// with [Manager.Join].
	ChannelID string

	// Sink receives every speaker's decoded audio.
	Sink audio.PacketSink

	// MaxRetries is the number of connection attempts per EnsureConnected
	// call. Defaults to 10.
	MaxRetries int

	// Backoff is the initial wait between attempts; it doubles up to
	// MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// PollInterval is how often PlayAudio checks whether playback finished.
	// Defaults to 100ms.
	PollInterval time.Duration

	// OnConnect is called after every successful (re)connection. May be nil.
	OnConnect func(audio.Connection)
}

// Manager keeps the current voice connection and implements the voice
// capability used by the pipeline.
//
// All methods are safe for concurrent use.
type Manager struct {
	platform     audio.Platform
	sink         audio.PacketSink
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	pollInterval time.Duration
	onConnect    func(audio.Connection)

	// connectMu serializes joins so concurrent callers never race two
	// ChannelVoiceJoin calls.
	connectMu sync.Mutex

	mu        sync.Mutex
	channelID string
	conn      audio.Connection
}

// New creates a Manager. No connection is made until EnsureConnected or Join.
func New(cfg Config) *Manager {
	m := &Manager{
		platform:     cfg.Platform,
		sink:         cfg.Sink,
		channelID:    cfg.ChannelID,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		pollInterval: cfg.PollInterval,
		onConnect:    cfg.OnConnect,
	}
	if m.maxRetries <= 0 {
		m.maxRetries = defaultMaxRetries
	}
	if m.backoff <= 0 {
		m.backoff = defaultBackoff
	}
	if m.maxBackoff <= 0 {
		m.maxBackoff = defaultMaxBackoff
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}
	if m.sink == nil {
		m.sink = audio.PacketSinkFunc(func(string, []byte) {})
	}
	return m
}

// ChannelID returns the configured voice channel.
func (m *Manager) ChannelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelID
}

// Connection returns the current connection, which may be nil or not ready.
func (m *Manager) Connection() audio.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// EnsureConnected returns nil when a ready connection exists. Otherwise it
// drops any stale connection and joins again, retrying with exponential
// backoff until it succeeds, the retries run out, or ctx ends.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	conn, channelID := m.conn, m.channelID
	m.mu.Unlock()

	if conn != nil && conn.Ready() && conn.ChannelID() == channelID {
		return nil
	}
	if channelID == "" {
		return ErrNoChannel
	}
	if conn != nil {
		slog.Info("voice: dropping stale connection", "channel_id", conn.ChannelID())
		m.drop(conn)
	}
	return m.connect(ctx, channelID)
}

// Join switches to channelID and connects.
func (m *Manager) Join(ctx context.Context, channelID string) error {
	m.mu.Lock()
	m.channelID = channelID
	m.mu.Unlock()
	return m.EnsureConnected(ctx)
}

// Leave disconnects and forgets the channel so EnsureConnected stops
// re-joining until the next Join.
func (m *Manager) Leave() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.channelID = ""
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("voice: leave: %w", err)
	}
	return nil
}

// Close disconnects the current connection but keeps the channel.
func (m *Manager) Close() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// IsHumanPresent reports whether a non-bot member is in the voice channel.
// Lookup failures count as absent.
func (m *Manager) IsHumanPresent(ctx context.Context) bool {
	channelID := m.ChannelID()
	if channelID == "" || ctx.Err() != nil {
		return false
	}
	present, err := m.platform.HumanPresent(channelID)
	if err != nil {
		slog.Warn("voice: presence lookup failed", "channel_id", channelID, "err", err)
		return false
	}
	return present
}

// PlayAudio plays the Opus frame file at path and returns once playback has
// finished or ctx ends.
func (m *Manager) PlayAudio(ctx context.Context, path string) error {
	frames, err := opus.ReadFile(path)
	if err != nil {
		return fmt.Errorf("voice: play: %w", err)
	}
	conn := m.Connection()
	if conn == nil {
		return fmt.Errorf("voice: play %q: %w", path, audio.ErrNotReady)
	}
	if err := conn.Play(frames); err != nil {
		return fmt.Errorf("voice: play %q: %w", path, err)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for conn.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, channelID string) error {
	wait := m.backoff
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := m.platform.Connect(ctx, channelID, m.sink)
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			slog.Info("voice: connected", "channel_id", channelID, "attempt", attempt)
			if m.onConnect != nil {
				m.onConnect(conn)
			}
			return nil
		}
		lastErr = err
		slog.Warn("voice: connection attempt failed",
			"channel_id", channelID,
			"attempt", attempt,
			"max_retries", m.maxRetries,
			"backoff", wait,
			"err", err,
		)
		if attempt == m.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, m.maxBackoff)
	}
	return fmt.Errorf("voice: join %q after %d attempts: %w", channelID, m.maxRetries, lastErr)
}

func (m *Manager) drop(conn audio.Connection) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	if err := conn.Disconnect(); err != nil {
		slog.Debug("voice: disconnect stale connection", "err", err)
	}
}
