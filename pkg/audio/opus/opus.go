// Package opus encodes and decodes Discord voice audio and stores encoded
// clips as frame files.
//
// Discord voice is 48 kHz stereo Opus in 20 ms frames. A frame file is a
// sequence of packets, each prefixed by its length as a little-endian int16
// (the layout used by the discordgo voice examples), so playback can stream
// packets straight into the voice connection without re-encoding.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/derfbot/pkg/audio"
)

// Discord voice frame parameters.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameMillis   = 20
	FrameSamples  = SampleRate * FrameMillis / 1000 // 960 per channel
	FrameBytes    = FrameSamples * Channels * 2     // 3840
	MaxPacketSize = 4000

	// DefaultBitrate is the encoder bitrate for synthesized speech.
	DefaultBitrate = 128000
)

// Decoder turns Opus packets from one speaker into PCM. Each speaker needs its
// own Decoder because Opus decoding is stateful across frames.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder for 48 kHz stereo.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode returns one frame of interleaved little-endian PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, FrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Bytes(pcm), nil
}

// Encoder turns 48 kHz stereo PCM into Opus packets.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an encoder at the given bitrate in bits per second. A
// non-positive bitrate selects [DefaultBitrate].
func NewEncoder(bitrate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	enc.SetBitrate(bitrate)
	return &Encoder{enc: enc}, nil
}

// EncodeFrame encodes exactly one 20 ms frame ([FrameBytes] of PCM).
func (e *Encoder) EncodeFrame(pcm []byte) ([]byte, error) {
	if len(pcm) != FrameBytes {
		return nil, fmt.Errorf("opus: frame is %d bytes, want %d", len(pcm), FrameBytes)
	}
	packet, err := e.enc.Encode(audio.Int16s(pcm), FrameSamples, MaxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

// EncodeClip splits pcm into 20 ms frames and encodes each one. The last
// partial frame is padded with silence.
func (e *Encoder) EncodeClip(pcm []byte) ([][]byte, error) {
	frames := make([][]byte, 0, (len(pcm)+FrameBytes-1)/FrameBytes)
	for off := 0; off < len(pcm); off += FrameBytes {
		chunk := pcm[off:min(off+FrameBytes, len(pcm))]
		if len(chunk) < FrameBytes {
			padded := make([]byte, FrameBytes)
			copy(padded, chunk)
			chunk = padded
		}
		packet, err := e.EncodeFrame(chunk)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", off/FrameBytes, err)
		}
		frames = append(frames, packet)
	}
	return frames, nil
}
