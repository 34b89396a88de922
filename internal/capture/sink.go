// Package capture buffers received voice audio per speaker, detects the end
// of each utterance and hands finished utterances to transcription.
//
// The Discord receive goroutine only ever calls [Sink.OnPacket], which writes
// into the speaker's ring buffer and feeds the speaker's detector under the
// speaker lock. [Sink.Run] owns everything slow: a 100 ms release check drains
// released buffers onto a bounded channel and a flusher goroutine converts
// them to 16 kHz mono WAV files and queues a transcription job for each.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/pipeline"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/audio"
	"github.com/MrWong99/derfbot/pkg/audio/vad"
)

// Defaults for [Config].
const (
	DefaultCheckInterval = 100 * time.Millisecond
	DefaultHandoffSize   = 16
)

// Pusher is the queue operation the flusher needs.
type Pusher interface {
	Push(ctx context.Context, queue, payload string) error
}

// Config configures a [Sink].
type Config struct {
	Queue Pusher

	// OutputDir receives the utterance WAV files. Defaults to os.TempDir().
	OutputDir string

	// BufferSize is the per-speaker ring buffer capacity in bytes. Zero
	// selects audio.DefaultRingBufferSize.
	BufferSize int

	VAD vad.Config

	// CheckInterval is the release check period. Defaults to 100ms.
	CheckInterval time.Duration

	// HandoffSize is the capacity of the channel between the release check
	// and the flusher. Defaults to 16.
	HandoffSize int

	Metrics *observe.Metrics
}

type speaker struct {
	mu  sync.Mutex
	buf *audio.RingBuffer
	det *vad.Detector
}

type flush struct {
	speakerID string
	pcm       []byte
}

// Sink implements [audio.PacketSink].
type Sink struct {
	cfg Config
	met *observe.Metrics
	now func() time.Time

	flushes chan flush

	mu       sync.Mutex
	speakers map[string]*speaker
	closed   bool
}

var _ audio.PacketSink = (*Sink)(nil)

// New creates a Sink. Call [Sink.Run] to start releasing utterances.
func New(cfg Config) *Sink {
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.HandoffSize <= 0 {
		cfg.HandoffSize = DefaultHandoffSize
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Sink{
		cfg:      cfg,
		met:      met,
		now:      time.Now,
		flushes:  make(chan flush, cfg.HandoffSize),
		speakers: make(map[string]*speaker),
	}
}

// OnPacket stores one decoded 48 kHz stereo frame for speakerID. Every frame
// is buffered, quiet or not; the detector only decides when to release.
func (s *Sink) OnPacket(speakerID string, pcm []byte) {
	sp := s.speaker(speakerID)
	if sp == nil {
		return
	}
	now := s.now()
	sp.mu.Lock()
	sp.buf.Write(pcm)
	sp.det.ProcessAudio(pcm, now)
	sp.mu.Unlock()
}

func (s *Sink) speaker(id string) *speaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	sp, ok := s.speakers[id]
	if !ok {
		sp = &speaker{buf: audio.NewRingBuffer(s.cfg.BufferSize), det: vad.New(s.cfg.VAD)}
		s.speakers[id] = sp
		s.met.ActiveSpeakers.Add(context.Background(), 1)
	}
	return sp
}

// Remove drops all state for speakerID, discarding unreleased audio.
func (s *Sink) Remove(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.speakers[speakerID]; ok {
		delete(s.speakers, speakerID)
		s.met.ActiveSpeakers.Add(context.Background(), -1)
	}
}

// Close drops every speaker. Later packets are ignored.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if n := len(s.speakers); n > 0 {
		s.met.ActiveSpeakers.Add(context.Background(), int64(-n))
	}
	clear(s.speakers)
}

// Speakers returns the number of speakers with capture state.
func (s *Sink) Speakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// Run checks for released utterances every CheckInterval and writes them out
// until ctx is cancelled. It returns ctx.Err().
func (s *Sink) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.NewTicker(s.cfg.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				s.release(ctx)
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case f := <-s.flushes:
				if err := s.write(ctx, f); err != nil {
					s.met.CaptureDropped.Add(ctx, 1)
					slog.Warn("capture: flush failed", "speaker", f.speakerID, "err", err)
				}
			}
		}
	})
	return g.Wait()
}

// release drains every speaker whose utterance ended and hands the audio to
// the flusher. The hand-off blocks while the flusher is behind.
func (s *Sink) release(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.speakers))
	sps := make([]*speaker, 0, len(s.speakers))
	for id, sp := range s.speakers {
		ids = append(ids, id)
		sps = append(sps, sp)
	}
	s.mu.Unlock()

	now := s.now()
	for i, sp := range sps {
		sp.mu.Lock()
		var pcm []byte
		if sp.det.CheckRelease(now) {
			pcm = sp.buf.ReadAll()
		}
		sp.mu.Unlock()
		if len(pcm) == 0 {
			continue
		}
		select {
		case s.flushes <- flush{speakerID: ids[i], pcm: pcm}:
		case <-ctx.Done():
			s.met.CaptureDropped.Add(context.WithoutCancel(ctx), 1)
			return
		}
	}
}

// write stores one utterance as a 16 kHz mono WAV and queues it for
// transcription.
func (s *Sink) write(ctx context.Context, f flush) error {
	clip := audio.Clip{PCM: audio.DownmixForTranscription(f.pcm), Format: audio.Transcription}
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s_%s.wav", f.speakerID, uuid.NewString()))
	if err := audio.WriteWAVFile(path, clip); err != nil {
		return fmt.Errorf("capture: write %s: %w", path, err)
	}
	job := pipeline.TranscriptionJob{UserID: f.speakerID, AudioPath: path}
	if err := s.cfg.Queue.Push(ctx, queue.TranscriptionQueue, job.Encode()); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("capture: queue %s: %w", path, err)
	}
	s.met.CaptureFlushes.Add(ctx, 1)
	slog.Debug("capture: utterance queued", "speaker", f.speakerID, "path", path, "duration", clip.Duration())
	return nil
}
