package opus

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WriteFrames writes frames to w, each prefixed by its int16 length.
func WriteFrames(w io.Writer, frames [][]byte) error {
	var hdr [2]byte
	for i, f := range frames {
		if len(f) > MaxPacketSize {
			return fmt.Errorf("opus: frame %d is %d bytes, max %d", i, len(f), MaxPacketSize)
		}
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(f)))
		if _, err := w.Write(hdr[:]); err != nil {
			return fmt.Errorf("opus: write frame %d: %w", i, err)
		}
		if _, err := w.Write(f); err != nil {
			return fmt.Errorf("opus: write frame %d: %w", i, err)
		}
	}
	return nil
}

// ReadFrames reads length-prefixed frames from r until EOF.
func ReadFrames(r io.Reader) ([][]byte, error) {
	var (
		frames [][]byte
		hdr    [2]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, fmt.Errorf("opus: read frame %d header: %w", len(frames), err)
		}
		n := int(int16(binary.LittleEndian.Uint16(hdr[:])))
		if n <= 0 || n > MaxPacketSize {
			return nil, fmt.Errorf("opus: frame %d has invalid length %d", len(frames), n)
		}
		f := make([]byte, n)
		if _, err := io.ReadFull(r, f); err != nil {
			return nil, fmt.Errorf("opus: read frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
}

// WriteFile stores frames at path.
func WriteFile(path string, frames [][]byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("opus: create %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("opus: close %q: %w", path, cerr)
		}
	}()
	bw := bufio.NewWriter(f)
	if err := WriteFrames(bw, frames); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadFile loads the frames stored at path.
func ReadFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opus: open %q: %w", path, err)
	}
	defer f.Close()
	return ReadFrames(bufio.NewReader(f))
}
