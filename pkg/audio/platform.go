// Package audio holds the PCM primitives shared by capture and playback and
// the interfaces a voice platform adapter implements.
//
// The two platform abstractions are:
//
//   - [Platform] joins a voice channel and answers presence queries.
//   - [Connection] is one joined voice channel. Received audio is pushed into
//     the [PacketSink] given to [Platform.Connect]; outgoing audio is a list of
//     pre-encoded Opus frames handed to [Connection.Play].
//
// Adapters live in sub-packages (audio/discord). PCM everywhere in this
// package is little-endian signed 16-bit.
package audio

import (
	"context"
	"errors"
)

// ErrNotReady is returned by [Connection.Play] when the underlying voice
// session is not (or no longer) able to send audio.
var ErrNotReady = errors.New("audio: voice connection not ready")

// ErrBusy is returned by [Connection.Play] while an earlier clip is still
// being sent.
var ErrBusy = errors.New("audio: already playing")

// PacketSink receives decoded PCM from a voice connection. OnPacket is called
// from the platform's receive goroutine, once per 20 ms frame per speaker, in
// arrival order. Implementations must not block.
type PacketSink interface {
	OnPacket(speakerID string, pcm []byte)
}

// PacketSinkFunc adapts a function to [PacketSink].
type PacketSinkFunc func(speakerID string, pcm []byte)

// OnPacket calls f.
func (f PacketSinkFunc) OnPacket(speakerID string, pcm []byte) { f(speakerID, pcm) }

// Connection is an active session on one voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// ChannelID returns the joined voice channel.
	ChannelID() string

	// Ready reports whether the connection can currently send audio.
	Ready() bool

	// Play starts sending frames (Opus packets, 20 ms each) in the
	// background and returns immediately. Use IsPlaying to wait for the end.
	Play(frames [][]byte) error

	// IsPlaying reports whether a clip started by Play is still being sent.
	IsPlaying() bool

	// Disconnect leaves the channel. Calling it more than once is a no-op.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID and starts delivering received audio to sink.
	// ctx bounds the connection attempt only.
	Connect(ctx context.Context, channelID string, sink PacketSink) (Connection, error)

	// HumanPresent reports whether at least one non-bot member is currently
	// in channelID.
	HumanPresent(channelID string) (bool, error)
}
