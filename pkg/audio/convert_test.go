package audio_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/derfbot/pkg/audio"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := audio.Int16s(audio.MonoToStereo(audio.Bytes([]int16{100, 200, 300})))
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{name: "average", in: []int16{100, 200, -100, -200}, want: []int16{150, -150}},
		{name: "no overflow at max", in: []int16{32767, 32767}, want: []int16{32767}},
		{name: "no overflow at min", in: []int16{-32768, -32768}, want: []int16{-32768}},
		{name: "partial frame ignored", in: []int16{10, 20, 30}, want: []int16{15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Int16s(audio.StereoToMono(audio.Bytes(tt.in)))
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate", func(t *testing.T) {
		pcm := audio.Bytes([]int16{100, 200, 300})
		if out := audio.ResampleMono16(pcm, 48000, 48000); len(out) != len(pcm) {
			t.Fatalf("length: got %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("upsample", func(t *testing.T) {
		got := audio.Int16s(audio.ResampleMono16(audio.Bytes([]int16{1000, 2000}), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample: got %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last sample: got %d, want close to 2000", last)
		}
	})

	t.Run("downsample", func(t *testing.T) {
		got := audio.Int16s(audio.ResampleMono16(audio.Bytes([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
		if got[0] != 100 || got[1] != 400 {
			t.Errorf("got %v, want [100 400]", got)
		}
	})

	t.Run("invalid rate", func(t *testing.T) {
		pcm := audio.Bytes([]int16{1, 2})
		if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
			t.Errorf("expected passthrough, got %d bytes", len(out))
		}
	})
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()
	got := audio.Int16s(audio.ResampleStereo16(audio.Bytes([]int16{100, 200, 300, 400}), 16000, 48000))
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame: got [%d %d], want [100 200]", got[0], got[1])
	}
}

func TestDownmixForTranscription(t *testing.T) {
	t.Parallel()
	// 30 ms of 48 kHz stereo is 1440 frames; at 16 kHz mono that is 480 samples.
	in := make([]int16, 1440*2)
	for i := range in {
		in[i] = 500
	}
	got := audio.Int16s(audio.DownmixForTranscription(audio.Bytes(in)))
	if len(got) != 480 {
		t.Fatalf("expected 480 samples, got %d", len(got))
	}
	for i, s := range got {
		if s != 500 {
			t.Fatalf("sample %d: got %d, want 500", i, s)
		}
	}
}

func TestClipConvert(t *testing.T) {
	t.Parallel()

	t.Run("matching format is a no-op", func(t *testing.T) {
		clip := audio.Clip{PCM: audio.Bytes([]int16{100, 200}), Format: audio.Discord}
		got := clip.Convert(audio.Discord)
		if &got.PCM[0] != &clip.PCM[0] {
			t.Error("expected the same backing slice for matching format")
		}
	})

	t.Run("mono to stereo", func(t *testing.T) {
		clip := audio.Clip{PCM: audio.Bytes([]int16{100, 200, 300}), Format: audio.Format{SampleRate: 48000, Channels: 1}}
		got := clip.Convert(audio.Discord)
		if got.Format != audio.Discord {
			t.Errorf("format: got %s, want %s", got.Format, audio.Discord)
		}
		want := []int16{100, 100, 200, 200, 300, 300}
		if s := audio.Int16s(got.PCM); !slices.Equal(s, want) {
			t.Errorf("got %v, want %v", s, want)
		}
	})

	t.Run("tts output to discord", func(t *testing.T) {
		clip := audio.Clip{PCM: audio.Bytes([]int16{1000, 2000}), Format: audio.Format{SampleRate: 22050, Channels: 1}}
		got := clip.Convert(audio.Discord)
		if got.Format != audio.Discord {
			t.Fatalf("format: got %s, want %s", got.Format, audio.Discord)
		}
		if n := len(got.PCM); n == 0 || n%4 != 0 {
			t.Errorf("expected whole stereo frames, got %d bytes", n)
		}
	})

	t.Run("partial sample truncated", func(t *testing.T) {
		clip := audio.Clip{PCM: []byte{1, 2, 3}, Format: audio.Format{SampleRate: 22050, Channels: 1}}
		got := clip.Convert(audio.Format{SampleRate: 48000, Channels: 1})
		if len(got.PCM)%2 != 0 {
			t.Errorf("expected whole samples, got %d bytes", len(got.PCM))
		}
	})
}

func TestClipDuration(t *testing.T) {
	t.Parallel()
	clip := audio.Clip{PCM: make([]byte, audio.Discord.BytesPerSecond()/2), Format: audio.Discord}
	if got := clip.Duration().Milliseconds(); got != 500 {
		t.Errorf("duration: got %dms, want 500ms", got)
	}
	if got := (audio.Clip{}).Duration(); got != 0 {
		t.Errorf("zero clip duration: got %v", got)
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Discord, "48000Hz stereo"},
		{audio.Transcription, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFloat32s(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []byte
		want []float32
	}{
		{"empty", nil, []float32{}},
		{"half scale", audio.Bytes([]int16{16384, -16384}), []float32{0.5, -0.5}},
		{"extremes", audio.Bytes([]int16{32767, -32768}), []float32{32767.0 / 32768, -1}},
		{"odd byte ignored", append(audio.Bytes([]int16{0}), 0x7f), []float32{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.Float32s(tt.pcm)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Float32s = %v, want %v", got, tt.want)
			}
		})
	}
}
