// Package pipeline implements the stages between a request and its spoken
// reply: LLM completion, delivery to the chat channel, optional summarizing,
// speech synthesis and playback, plus the transcription and voice-bridge
// entry points for captured speech.
//
// Stages communicate only through Redis queues and result mailboxes (see
// package queue). Every stage is a [Loop] that pops one payload at a time,
// so a failing item never halts the pipeline.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks a queue payload that cannot be decoded. Loops log and
// drop such items.
var ErrMalformed = errors.New("pipeline: malformed payload")

// Task is the JSON envelope on the response, summarizer and voice queues.
type Task struct {
	UniqueID string `json:"unique_id"`
	Message  string `json:"message"`
}

// Encode returns the JSON form of t.
func (t Task) Encode() string {
	b, _ := json.Marshal(t)
	return string(b)
}

// DecodeTask parses a [Task]. Both fields are required.
func DecodeTask(payload string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return Task{}, fmt.Errorf("%w: task: %v", ErrMalformed, err)
	}
	if t.UniqueID == "" {
		return Task{}, fmt.Errorf("%w: task without unique_id", ErrMalformed)
	}
	if t.Message == "" {
		return Task{}, fmt.Errorf("%w: task %s without message", ErrMalformed, t.UniqueID)
	}
	return t, nil
}

// SpeechLine is one sentence awaiting synthesis, encoded as
// "{unique_id}|{index}|{text}". Index counts from 1 within a reply.
type SpeechLine struct {
	UniqueID string
	Index    int
	Text     string
}

// Encode returns the pipe-delimited form of l.
func (l SpeechLine) Encode() string {
	return l.UniqueID + "|" + strconv.Itoa(l.Index) + "|" + l.Text
}

// ParseSpeechLine parses a [SpeechLine]. The text may itself contain pipes.
func ParseSpeechLine(payload string) (SpeechLine, error) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 || parts[0] == "" {
		return SpeechLine{}, fmt.Errorf("%w: speech line %q", ErrMalformed, payload)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return SpeechLine{}, fmt.Errorf("%w: speech line index %q", ErrMalformed, parts[1])
	}
	return SpeechLine{UniqueID: parts[0], Index: idx, Text: parts[2]}, nil
}

// PlaybackItem is a synthesized clip awaiting playback, encoded as
// "{unique_id}|{path}".
type PlaybackItem struct {
	UniqueID string
	Path     string
}

// Encode returns the pipe-delimited form of p.
func (p PlaybackItem) Encode() string {
	return p.UniqueID + "|" + p.Path
}

// ParsePlaybackItem parses a [PlaybackItem].
func ParsePlaybackItem(payload string) (PlaybackItem, error) {
	id, path, ok := strings.Cut(payload, "|")
	if !ok || id == "" || path == "" {
		return PlaybackItem{}, fmt.Errorf("%w: playback item %q", ErrMalformed, payload)
	}
	return PlaybackItem{UniqueID: id, Path: path}, nil
}

// TranscriptionJob is a captured utterance awaiting speech-to-text.
type TranscriptionJob struct {
	UserID    string `json:"user_id"`
	AudioPath string `json:"audio_path"`
}

// Encode returns the JSON form of j.
func (j TranscriptionJob) Encode() string {
	b, _ := json.Marshal(j)
	return string(b)
}

// DecodeTranscriptionJob parses a [TranscriptionJob]. Both fields are
// required.
func DecodeTranscriptionJob(payload string) (TranscriptionJob, error) {
	var j TranscriptionJob
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return TranscriptionJob{}, fmt.Errorf("%w: transcription job: %v", ErrMalformed, err)
	}
	if j.UserID == "" || j.AudioPath == "" {
		return TranscriptionJob{}, fmt.Errorf("%w: transcription job missing user_id or audio_path", ErrMalformed)
	}
	return j, nil
}
