package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type upload struct {
	fields map[string]string
	clip   audio.Clip
}

// newMockServer answers POST /inference with responseText and records the
// parsed upload of the most recent request.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, last *upload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 24); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if last != nil {
			last.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				last.fields[k] = v[0]
			}
			f, _, err := r.FormFile("file")
			if err == nil {
				data, _ := io.ReadAll(f)
				last.clip, _ = audio.ParseWAV(data)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// speechClip returns ms milliseconds of a 440 Hz tone in format f.
func speechClip(f audio.Format, ms int) audio.Clip {
	frames := f.SampleRate * ms / 1000
	pcm := make([]byte, frames*f.Channels*2)
	for i := range frames {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)))
		for c := range f.Channels {
			binary.LittleEndian.PutUint16(pcm[(i*f.Channels+c)*2:], uint16(v))
		}
	}
	return audio.Clip{PCM: pcm, Format: f}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_UploadsMonoWAV(t *testing.T) {
	var calls atomic.Int32
	var last upload
	srv := newMockServer(t, "  hey derf, how are you  ", &calls, &last)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("base"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Transcribe(context.Background(), speechClip(audio.Discord, 500), stt.Options{Prompt: "derf"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hey derf, how are you" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q", got.Language)
	}
	if got.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v", got.Duration)
	}
	if calls.Load() != 1 {
		t.Fatalf("server called %d times", calls.Load())
	}
	if last.clip.Format != audio.Transcription {
		t.Errorf("uploaded format = %v, want %v", last.clip.Format, audio.Transcription)
	}
	for k, want := range map[string]string{"language": "de", "model": "base", "prompt": "derf", "response_format": "json"} {
		if last.fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, last.fields[k], want)
		}
	}
}

func TestTranscribe_OptionLanguageOverrides(t *testing.T) {
	var last upload
	srv := newMockServer(t, "bonjour", nil, &last)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), speechClip(audio.Transcription, 100), stt.Options{Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if last.fields["language"] != "fr" || got.Language != "fr" {
		t.Errorf("language not overridden: field=%q transcript=%q", last.fields["language"], got.Language)
	}
}

func TestTranscribe_EmptyClipSkipsServer(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "ghost", &calls, nil)
	p, _ := whisper.New(srv.URL)

	got, err := p.Transcribe(context.Background(), audio.Clip{Format: audio.Discord}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "" || calls.Load() != 0 {
		t.Errorf("expected no request for empty clip, got %q after %d calls", got.Text, calls.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speechClip(audio.Transcription, 100), stt.Options{}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{"))
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speechClip(audio.Transcription, 100), stt.Options{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Transcribe(ctx, speechClip(audio.Transcription, 100), stt.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Error("server must not be called with a cancelled context")
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := whisper.New(srv.URL, whisper.WithTimeout(50*time.Millisecond))
	if _, err := p.Transcribe(context.Background(), speechClip(audio.Transcription, 100), stt.Options{}); err == nil {
		t.Fatal("expected timeout error")
	}
}
