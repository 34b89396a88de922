package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/pipeline"
	"github.com/MrWong99/derfbot/internal/queue"
)

// setupQueue starts a miniredis server and connects a queue store to it.
func setupQueue(t *testing.T) (*miniredis.Miniredis, *queue.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := queue.New(context.Background(), queue.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

// listItems returns the items of a list in consumption (oldest first) order.
func listItems(t *testing.T, mr *miniredis.Miniredis, key string) []string {
	t.Helper()
	if !mr.Exists(key) {
		return nil
	}
	items, err := mr.List(key)
	require.NoError(t, err)
	// LPUSH stores the newest item first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

func TestDecodeTask(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		want    pipeline.Task
		wantErr bool
	}{
		{name: "valid", payload: `{"unique_id":"abc","message":"42:hi"}`, want: pipeline.Task{UniqueID: "abc", Message: "42:hi"}},
		{name: "not json", payload: `abc|1|hi`, wantErr: true},
		{name: "missing id", payload: `{"message":"hi"}`, wantErr: true},
		{name: "missing message", payload: `{"unique_id":"abc"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := pipeline.DecodeTask(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, pipeline.ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.JSONEq(t, `{"unique_id":"x","message":"y"}`, pipeline.Task{UniqueID: "x", Message: "y"}.Encode())
}

func TestParseSpeechLine(t *testing.T) {
	t.Parallel()
	got, err := pipeline.ParseSpeechLine("abc|3|a | b")
	require.NoError(t, err)
	assert.Equal(t, pipeline.SpeechLine{UniqueID: "abc", Index: 3, Text: "a | b"}, got)
	assert.Equal(t, "abc|3|a | b", got.Encode())

	for _, bad := range []string{"abc", "abc|x|text", "|1|text", "abc|1"} {
		_, err := pipeline.ParseSpeechLine(bad)
		assert.ErrorIs(t, err, pipeline.ErrMalformed, bad)
	}
}

func TestParsePlaybackItem(t *testing.T) {
	t.Parallel()
	got, err := pipeline.ParsePlaybackItem("abc|/tmp/x|y.opus")
	require.NoError(t, err)
	assert.Equal(t, pipeline.PlaybackItem{UniqueID: "abc", Path: "/tmp/x|y.opus"}, got)

	for _, bad := range []string{"abc", "|/tmp/x", "abc|"} {
		_, err := pipeline.ParsePlaybackItem(bad)
		assert.ErrorIs(t, err, pipeline.ErrMalformed, bad)
	}
}

func TestDecodeTranscriptionJob(t *testing.T) {
	t.Parallel()
	job := pipeline.TranscriptionJob{UserID: "42", AudioPath: "/tmp/42.wav"}
	got, err := pipeline.DecodeTranscriptionJob(job.Encode())
	require.NoError(t, err)
	assert.Equal(t, job, got)

	for _, bad := range []string{"", "{}", `{"user_id":"42"}`, `{"audio_path":"/x"}`} {
		_, err := pipeline.DecodeTranscriptionJob(bad)
		assert.ErrorIs(t, err, pipeline.ErrMalformed, bad)
	}
}

func TestContextStore(t *testing.T) {
	t.Parallel()
	s := pipeline.NewContextStore()
	ch := pipeline.ChannelFunc(func(context.Context, string) error { return nil })

	require.NoError(t, s.Register("a", ch))
	assert.ErrorIs(t, s.Register("a", ch), pipeline.ErrDuplicate)
	require.NoError(t, s.Register("b", ch))
	assert.Equal(t, 2, s.Len())

	_, ok := s.Lookup("a")
	assert.True(t, ok)
	s.Unregister("a")
	s.Unregister("missing")
	_, ok = s.Lookup("a")
	assert.False(t, ok)
	require.NoError(t, s.Register("a", ch), "id can be reused once unregistered")
}

func TestLoop(t *testing.T) {
	mr, store := setupQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 10)
	l := &pipeline.Loop{
		Name:       "test",
		Queue:      "work",
		Store:      store,
		IdleSleep:  10 * time.Millisecond,
		ErrorSleep: 10 * time.Millisecond,
		Metrics:    testMetrics(t),
		Handle: func(_ context.Context, payload string) error {
			switch payload {
			case "bad":
				return pipeline.ErrMalformed
			case "boom":
				panic("boom")
			case "fail":
				return errors.New("transient")
			}
			handled <- payload
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	for _, p := range []string{"bad", "boom", "fail", "one", "two"} {
		require.NoError(t, store.Push(ctx, "work", p))
	}
	for _, want := range []string{"one", "two"} {
		select {
		case got := <-handled:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	assert.False(t, mr.Exists("work"))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}
