package opus_test

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/opus"
)

func sine(frames int) []byte {
	s := make([]int16, frames*opus.Channels)
	for i := 0; i < frames; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/opus.SampleRate))
		s[i*2], s[i*2+1] = v, v
	}
	return audio.Bytes(s)
}

func TestFrameConstants(t *testing.T) {
	if opus.FrameSamples != 960 {
		t.Errorf("FrameSamples = %d, want 960", opus.FrameSamples)
	}
	if opus.FrameBytes != 3840 {
		t.Errorf("FrameBytes = %d, want 3840", opus.FrameBytes)
	}
}

func TestEncodeClip_PadsLastFrame(t *testing.T) {
	enc, err := opus.NewEncoder(0)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	// Two and a half frames.
	frames, err := enc.EncodeClip(sine(opus.FrameSamples*2 + opus.FrameSamples/2))
	if err != nil {
		t.Fatalf("EncodeClip: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) == 0 {
			t.Errorf("frame %d is empty", i)
		}
	}
}

func TestEncodeFrame_WrongSize(t *testing.T) {
	enc, err := opus.NewEncoder(64000)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	if _, err := enc.EncodeFrame(make([]byte, 100)); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestEncodeDecode(t *testing.T) {
	enc, err := opus.NewEncoder(opus.DefaultBitrate)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := opus.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	packet, err := enc.EncodeFrame(sine(opus.FrameSamples))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	pcm, err := dec.Decode(packet)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != opus.FrameBytes {
		t.Errorf("decoded %d bytes, want %d", len(pcm), opus.FrameBytes)
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	t.Parallel()
	in := [][]byte{{1, 2, 3}, {4}, bytes.Repeat([]byte{5}, 300)}

	var buf bytes.Buffer
	if err := opus.WriteFrames(&buf, in); err != nil {
		t.Fatalf("WriteFrames: %v", err)
	}
	if want := 2*3 + 3 + 1 + 300; buf.Len() != want {
		t.Errorf("encoded %d bytes, want %d", buf.Len(), want)
	}
	out, err := opus.ReadFrames(&buf)
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d frames, want %d", len(out), len(in))
	}
	for i := range in {
		if !bytes.Equal(out[i], in[i]) {
			t.Errorf("frame %d differs", i)
		}
	}
}

func TestReadFrames_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated header", data: []byte{3}},
		{name: "truncated body", data: []byte{3, 0, 1}},
		{name: "zero length", data: []byte{0, 0}},
		{name: "negative length", data: []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := opus.ReadFrames(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadFrames_Empty(t *testing.T) {
	t.Parallel()
	out, err := opus.ReadFrames(bytes.NewReader(nil))
	if err != nil || len(out) != 0 {
		t.Errorf("got %d frames, err %v; want none", len(out), err)
	}
}

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "line.opus")
	in := [][]byte{{9, 8, 7}, {6, 5}}
	if err := opus.WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := opus.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(out) != 2 || !bytes.Equal(out[1], in[1]) {
		t.Errorf("unexpected frames %v", out)
	}
}
