package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(c Clip) []byte {
	const bps = 16
	channels, rate := c.Format.Channels, c.Format.SampleRate
	dataSize := len(c.PCM)

	buf := make([]byte, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*channels*bps/8))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*bps/8))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], c.PCM)
	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the PCM payload of its
// data chunk together with the format from the fmt chunk. Extra chunks such
// as LIST are skipped. Only 16-bit PCM is accepted.
func ParseWAV(wav []byte) (Clip, error) {
	if len(wav) < 12 {
		return Clip{}, errors.New("audio: wav too short for a RIFF header")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		f        Format
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Clip{}, errors.New("audio: truncated fmt chunk")
			}
			if bits := binary.LittleEndian.Uint16(wav[body+14 : body+16]); bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Clip{}, errors.New("audio: data chunk before fmt chunk")
			}
			// Streaming writers leave the size at 0 or 0xFFFFFFFF; clamp to
			// whatever is present.
			end := body + size
			if size == 0 || end > len(wav) || end < body {
				end = len(wav)
			}
			return Clip{PCM: wav[body:end], Format: f}, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return Clip{}, errors.New("audio: wav missing data chunk")
}

// WriteWAVFile encodes c and writes it to path with mode 0o644.
func WriteWAVFile(path string, c Clip) error {
	if err := os.WriteFile(path, EncodeWAV(c), 0o644); err != nil {
		return fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	return nil
}

// ReadWAVFile reads and parses the WAV file at path.
func ReadWAVFile(path string) (Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: read wav %q: %w", path, err)
	}
	c, err := ParseWAV(data)
	if err != nil {
		return Clip{}, fmt.Errorf("%w (%s)", err, path)
	}
	return c, nil
}
