package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// Well-known formats used across the bot.
var (
	// Discord is the format of decoded voice packets and of playback input.
	Discord = Format{SampleRate: 48000, Channels: 2}

	// Transcription is the format expected by whisper.cpp.
	Transcription = Format{SampleRate: 16000, Channels: 1}
)

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Clip is a complete piece of little-endian int16 PCM audio together with its
// format. Clips are produced by speech synthesis and by capture flushes.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(c.PCM)) * time.Second / time.Duration(bps)
}

// Int16s decodes little-endian PCM bytes into samples. A trailing odd byte is
// ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian PCM bytes.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32s decodes little-endian PCM into samples scaled to [-1, 1).
func Float32s(pcm []byte) []float32 {
	ints := Int16s(pcm)
	out := make([]float32, len(ints))
	for i, s := range ints {
		out[i] = float32(s) / 32768
	}
	return out
}
