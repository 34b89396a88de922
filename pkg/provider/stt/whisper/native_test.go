package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/provider/stt"
	"github.com/MrWong99/derfbot/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests
// from WHISPER_MODEL_PATH, skipping the test when it is unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Silence(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// One second of silence must not produce an error.
	clip := audio.Clip{PCM: make([]byte, audio.Transcription.BytesPerSecond()), Format: audio.Transcription}
	if _, err := p.Transcribe(context.Background(), clip, stt.Options{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestNativeTranscribe_Cancelled(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, audio.Clip{PCM: make([]byte, 3200), Format: audio.Transcription}, stt.Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
