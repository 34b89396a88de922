package coqui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/tts"
)

// ---- test helpers ----

var testPCM = []byte{1, 0, 2, 0, 3, 0, 4, 0}

func testWAV() []byte {
	return audio.EncodeWAV(audio.Clip{PCM: testPCM, Format: audio.Format{SampleRate: 22050, Channels: 1}})
}

// ---- New ----

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		opts    []Option
		wantErr bool
		mode    APIMode
	}{
		{name: "defaults", url: "http://localhost:5002/", mode: APIModeStandard},
		{name: "xtts", url: "http://localhost:8002", opts: []Option{WithAPIMode(APIModeXTTS)}, mode: APIModeXTTS},
		{name: "empty url", url: "", wantErr: true},
		{name: "unknown mode", url: "http://x", opts: []Option{WithAPIMode("bark")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.url, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.apiMode != tt.mode {
				t.Errorf("apiMode = %q, want %q", p.apiMode, tt.mode)
			}
			if p.language != defaultLanguage {
				t.Errorf("language = %q", p.language)
			}
			if p.serverURL[len(p.serverURL)-1] == '/' {
				t.Errorf("trailing slash not trimmed: %q", p.serverURL)
			}
		})
	}
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(testWAV())
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), "  Hallo Welt.  ", tts.Voice{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.PCM) != string(testPCM) {
		t.Errorf("PCM = %v, want %v", clip.PCM, testPCM)
	}
	if clip.Format != (audio.Format{SampleRate: 22050, Channels: 1}) {
		t.Errorf("Format = %v", clip.Format)
	}
	if gotQuery["text"][0] != "Hallo Welt." || gotQuery["speaker_id"][0] != "p225" || gotQuery["language_id"][0] != "de" {
		t.Errorf("unexpected query %v", gotQuery)
	}
}

func TestSynthesize_StandardAPI_NoVoice(t *testing.T) {
	var hasSpeaker bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasSpeaker = r.URL.Query().Has("speaker_id")
		_, _ = w.Write(testWAV())
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.Voice{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if hasSpeaker {
		t.Error("speaker_id must be omitted for the default voice")
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	var got ttsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ttsEndpoint {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(testWAV())
	}))
	defer srv.Close()

	p, _ := New(srv.URL, WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "Rock and stone!", tts.Voice{ID: "Claribel Dervla"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := ttsRequest{Text: "Rock and stone!", SpeakerWav: "Claribel Dervla", Language: "en"}
	if got != want {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("text") == "bad wav" {
			_, _ = w.Write([]byte("not a wav"))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	std, _ := New(srv.URL)
	xtts, _ := New(srv.URL, WithAPIMode(APIModeXTTS))

	tests := []struct {
		name  string
		p     *Provider
		text  string
		voice tts.Voice
	}{
		{name: "server error", p: std, text: "hello"},
		{name: "invalid wav", p: std, text: "bad wav"},
		{name: "empty text", p: std, text: "   "},
		{name: "xtts without voice", p: xtts, text: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.p.Synthesize(context.Background(), tt.text, tt.voice); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Synthesize(ctx, "slow", tts.Voice{}); err == nil {
		t.Fatal("expected error after cancellation")
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	tests := []struct {
		name string
		mode APIMode
		path string
		body string
		want []tts.Voice
	}{
		{
			name: "xtts studio speakers",
			mode: APIModeXTTS,
			path: studioSpeakersEndpoint,
			body: `{"Zed":{},"Ana Florence":{}}`,
			want: []tts.Voice{{ID: "Ana Florence", Name: "Ana Florence"}, {ID: "Zed", Name: "Zed"}},
		},
		{
			name: "standard multi speaker",
			mode: APIModeStandard,
			path: detailsEndpoint,
			body: `{"model_name":"vctk","speakers":["p226","p225"]}`,
			want: []tts.Voice{{ID: "p225", Name: "p225"}, {ID: "p226", Name: "p226"}},
		},
		{
			name: "standard single speaker",
			mode: APIModeStandard,
			path: detailsEndpoint,
			body: `{"model_name":"tts_models/en/ljspeech/vits"}`,
			want: []tts.Voice{{Name: "tts_models/en/ljspeech/vits"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New(srv.URL, WithAPIMode(tt.mode))
			got, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d voices, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("voice %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New(srv.URL)
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
