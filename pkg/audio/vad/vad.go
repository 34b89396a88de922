// Package vad implements the loudness-threshold voice activity detector used
// for capture.
//
// Discord stops sending packets while a user is silent, so end-of-utterance is
// detected by the absence of packets rather than by quiet ones: every packet
// refreshes the last-packet time, loud packets start an utterance, and
// [Detector.CheckRelease] fires once the stream has been quiet for the
// configured silence window.
package vad

import (
	"math"
	"time"
)

// Defaults for [Config].
const (
	DefaultThresholdDB = -40.0
	DefaultSilence     = time.Second
)

// Config tunes a [Detector].
type Config struct {
	// ThresholdDB is the loudness (dBFS) at or above which a packet counts as
	// speech. Zero selects DefaultThresholdDB.
	ThresholdDB float64

	// Silence is how long no packets must arrive after speech before the
	// utterance is released. Zero selects DefaultSilence.
	Silence time.Duration
}

func (c Config) withDefaults() Config {
	if c.ThresholdDB == 0 {
		c.ThresholdDB = DefaultThresholdDB
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	return c
}

// State is a copy of a detector's internal state.
type State struct {
	Speaking        bool
	SpeechStartedAt time.Time // zero unless Speaking
	LastPacketAt    time.Time
}

// Detector tracks one speaker. It is not safe for concurrent use; the owner
// serializes calls (capture holds the speaker lock).
type Detector struct {
	cfg   Config
	state State
}

// New returns an idle detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// ProcessAudio records a packet that arrived at now. Loud packets mark the
// speaker as speaking; the first one also records when speech started.
func (d *Detector) ProcessAudio(pcm []byte, now time.Time) {
	d.state.LastPacketAt = now
	if Loudness(pcm) < d.cfg.ThresholdDB {
		return
	}
	if !d.state.Speaking {
		d.state.Speaking = true
		d.state.SpeechStartedAt = now
	}
}

// CheckRelease reports whether an utterance just ended: the speaker was
// speaking and no packet has arrived for at least the silence window. It
// returns true once per utterance and resets the detector to idle.
func (d *Detector) CheckRelease(now time.Time) bool {
	if !d.state.Speaking || now.Sub(d.state.LastPacketAt) < d.cfg.Silence {
		return false
	}
	d.state.Speaking = false
	d.state.SpeechStartedAt = time.Time{}
	return true
}

// Snapshot returns a copy of the current state.
func (d *Detector) Snapshot() State { return d.state }

// Loudness returns the RMS level of int16 PCM in dBFS (0 is full scale).
// Silence and empty input yield negative infinity.
func Loudness(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
		sum += s * s
	}
	if sum == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(math.Sqrt(sum/float64(n)))
}
