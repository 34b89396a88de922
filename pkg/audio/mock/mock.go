// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on arguments, and expose fields that control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{ID: "vc-1", ReadyResult: true}
//	platform := &mock.Platform{ConnectResult: conn, HumanPresentResult: true}
//	got, err := platform.Connect(ctx, "vc-1", sink)
//	platform.Emit("user-1", pcm) // delivered to sink
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/derfbot/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// ID is returned by ChannelID.
	ID string

	// ReadyResult is returned by Ready.
	ReadyResult bool

	// PlayError is returned by Play. When set, nothing is recorded as played.
	PlayError error

	// PlayingPolls is the number of IsPlaying calls that return true after
	// each successful Play.
	PlayingPolls int

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	// Played records the frames of every successful Play call.
	Played [][][]byte

	// CallCountIsPlaying records how many times IsPlaying was called.
	CallCountIsPlaying int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	remaining int
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ID
}

// Ready implements [audio.Connection].
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ReadyResult
}

// SetReady changes the value returned by Ready.
func (c *Connection) SetReady(ready bool) {
	c.mu.Lock()
	c.ReadyResult = ready
	c.mu.Unlock()
}

// Play implements [audio.Connection].
func (c *Connection) Play(frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PlayError != nil {
		return c.PlayError
	}
	c.Played = append(c.Played, frames)
	c.remaining = c.PlayingPolls
	return nil
}

// IsPlaying implements [audio.Connection].
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountIsPlaying++
	if c.remaining > 0 {
		c.remaining--
		return true
	}
	return false
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.ReadyResult = false
	return c.DisconnectError
}

// PlayCount returns the number of successful Play calls.
func (c *Connection) PlayCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Played)
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is returned by Connect. ConnectErrors, when non-empty,
	// takes precedence and is consumed one entry per call.
	ConnectError  error
	ConnectErrors []error

	// HumanPresentResult and HumanPresentError are returned by HumanPresent.
	HumanPresentResult bool
	HumanPresentError  error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	sink audio.PacketSink
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, channelID string, sink audio.PacketSink) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	if len(p.ConnectErrors) > 0 {
		err := p.ConnectErrors[0]
		p.ConnectErrors = p.ConnectErrors[1:]
		if err != nil {
			return nil, err
		}
	} else if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	p.sink = sink
	return p.ConnectResult, nil
}

// HumanPresent implements [audio.Platform].
func (p *Platform) HumanPresent(string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HumanPresentResult, p.HumanPresentError
}

// SetHumanPresent changes the value returned by HumanPresent.
func (p *Platform) SetHumanPresent(present bool) {
	p.mu.Lock()
	p.HumanPresentResult = present
	p.mu.Unlock()
}

// ConnectCount returns the number of Connect calls.
func (p *Platform) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Emit delivers pcm to the sink of the last successful Connect, as if
// speakerID had spoken. It is a no-op before the first Connect.
func (p *Platform) Emit(speakerID string, pcm []byte) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.OnPacket(speakerID, pcm)
	}
}
