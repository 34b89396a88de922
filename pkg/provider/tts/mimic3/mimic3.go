// Package mimic3 provides a tts.Provider that shells out to the Mycroft
// mimic3 command-line synthesizer.
//
// Each call runs
//
//	mimic3 --output-naming id --output-dir DIR --csv [--voice V] [--length-scale S]
//
// with "{line}|{text}" on stdin, then reads DIR/{line}.wav. DIR is a fresh
// temporary directory removed after the call.
package mimic3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const defaultBinary = "mimic3"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary sets the mimic3 executable. Defaults to "mimic3" on PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		p.binary = path
	}
}

// WithVoice sets the default voice key (e.g. "en_UK/apope_low") used when a
// call does not name one.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithTempDir sets the parent directory for per-call output directories.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		p.tempDir = dir
	}
}

// Provider runs mimic3 once per Synthesize call. Calls are independent and
// may run concurrently.
type Provider struct {
	binary  string
	voice   string
	tempDir string
	seq     atomic.Uint64
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{binary: defaultBinary}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize writes text to mimic3's stdin and returns the produced WAV.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return audio.Clip{}, errors.New("mimic3: text must not be empty")
	}

	dir, err := os.MkdirTemp(p.tempDir, "mimic3-")
	if err != nil {
		return audio.Clip{}, fmt.Errorf("mimic3: create output dir: %w", err)
	}
	defer os.RemoveAll(dir)

	line := strconv.FormatUint(p.seq.Add(1), 10)
	// "|" separates the id column in CSV mode.
	input := line + "|" + strings.ReplaceAll(text, "|", " ") + "\n"

	args := []string{"--output-naming", "id", "--output-dir", dir, "--csv"}
	v := voice.ID
	if v == "" {
		v = p.voice
	}
	if v != "" {
		args = append(args, "--voice", v)
	}
	if voice.Speed > 0 && voice.Speed != 1 {
		// mimic3 expresses rate as phoneme duration: larger is slower.
		args = append(args, "--length-scale", strconv.FormatFloat(1/voice.Speed, 'f', 3, 64))
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Stdin = strings.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, fmt.Errorf("mimic3: %w", ctx.Err())
		}
		return audio.Clip{}, fmt.Errorf("mimic3: run: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	clip, err := audio.ReadWAVFile(filepath.Join(dir, line+".wav"))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("mimic3: no audio for line %s: %w", line, err)
	}
	return clip, nil
}

// ListVoices runs "mimic3 --voices" and returns the first column of every
// line as the voice key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	out, err := exec.CommandContext(ctx, p.binary, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("mimic3: list voices: %w", err)
	}
	return parseVoices(out), nil
}

// parseVoices reads the tab-separated "KEY LANGUAGE NAME ..." listing. The
// header line and blank lines are skipped.
func parseVoices(out []byte) []tts.Voice {
	var voices []tts.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] == "KEY" {
			continue
		}
		v := tts.Voice{ID: fields[0], Name: fields[0]}
		if len(fields) >= 3 {
			v.Name = fields[2]
		}
		voices = append(voices, v)
	}
	return voices
}
