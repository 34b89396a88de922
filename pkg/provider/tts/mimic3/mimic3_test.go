package mimic3

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// fakeMimic writes a shell script that behaves like mimic3 in CSV mode: it
// copies fixture to DIR/{id}.wav for the id read from stdin and records its
// arguments next to the fixture.
func fakeMimic(t *testing.T, fixture audio.Clip) (binary, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	wav := filepath.Join(dir, "fixture.wav")
	if err := audio.WriteWAVFile(wav, fixture); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	argsFile = filepath.Join(dir, "args")
	script := `#!/bin/sh
echo "$@" > "` + argsFile + `"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output-dir" ]; then out="$2"; shift; fi
  shift
done
read -r line
id="${line%%|*}"
cp "` + wav + `" "$out/$id.wav"
`
	binary = filepath.Join(dir, "mimic3")
	if err := os.WriteFile(binary, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return binary, argsFile
}

func TestSynthesize(t *testing.T) {
	fixture := audio.Clip{PCM: []byte{1, 0, 2, 0, 3, 0, 4, 0}, Format: audio.Format{SampleRate: 22050, Channels: 1}}
	bin, argsFile := fakeMimic(t, fixture)
	tmp := t.TempDir()

	p := New(WithBinary(bin), WithVoice("en_UK/apope_low"), WithTempDir(tmp))
	clip, err := p.Synthesize(context.Background(), "Rock   and\nstone!", tts.Voice{Speed: 2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.PCM) != string(fixture.PCM) || clip.Format != fixture.Format {
		t.Errorf("clip = %+v, want %+v", clip, fixture)
	}

	args, _ := os.ReadFile(argsFile)
	for _, want := range []string{"--output-naming id", "--csv", "--voice en_UK/apope_low", "--length-scale 0.500"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("temporary output dir not removed: %v", entries)
	}
}

func TestSynthesize_VoiceOverride(t *testing.T) {
	bin, argsFile := fakeMimic(t, audio.Clip{PCM: []byte{0, 0}, Format: audio.Transcription})
	p := New(WithBinary(bin), WithVoice("en_UK/apope_low"))
	if _, err := p.Synthesize(context.Background(), "hi", tts.Voice{ID: "de_DE/thorsten_low"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "--voice de_DE/thorsten_low") {
		t.Errorf("args %q do not use the requested voice", args)
	}
	if strings.Contains(string(args), "--length-scale") {
		t.Errorf("default speed must not pass --length-scale: %q", args)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	failing := filepath.Join(dir, "failing")
	_ = os.WriteFile(failing, []byte("#!/bin/sh\necho 'voice not found' >&2\nexit 1\n"), 0o755)
	silent := filepath.Join(dir, "silent")
	_ = os.WriteFile(silent, []byte("#!/bin/sh\ncat > /dev/null\n"), 0o755)

	tests := []struct {
		name   string
		binary string
		text   string
	}{
		{name: "non-zero exit", binary: failing, text: "hello"},
		{name: "no output file", binary: silent, text: "hello"},
		{name: "missing binary", binary: filepath.Join(dir, "nope"), text: "hello"},
		{name: "empty text", binary: silent, text: " \n "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(WithBinary(tt.binary))
			if _, err := p.Synthesize(context.Background(), tt.text, tts.Voice{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	slow := filepath.Join(t.TempDir(), "slow")
	_ = os.WriteFile(slow, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := New(WithBinary(slow)).Synthesize(ctx, "hello", tts.Voice{}); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Synthesize did not return promptly after cancellation")
	}
}

func TestParseVoices(t *testing.T) {
	out := []byte("KEY\tLANGUAGE\tNAME\tALIASES\n" +
		"en_UK/apope_low\ten_UK\tapope\t\n" +
		"\n" +
		"de_DE/thorsten_low\tde_DE\tthorsten\t\n")
	got := parseVoices(out)
	want := []tts.Voice{
		{ID: "en_UK/apope_low", Name: "apope"},
		{ID: "de_DE/thorsten_low", Name: "thorsten"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d voices, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("voice %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
