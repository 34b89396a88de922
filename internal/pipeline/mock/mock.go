// Package mock provides test doubles for the pipeline capability interfaces
// [pipeline.Channel], [pipeline.Voice] and [pipeline.NameResolver].
package mock

import (
	"context"
	"fmt"
	"sync"
)

// Channel records every message sent to it.
type Channel struct {
	mu   sync.Mutex
	sent []string

	// SendErr, if non-nil, is returned from Send after recording.
	SendErr error
}

// Send implements pipeline.Channel.
func (c *Channel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return c.SendErr
}

// Messages returns a copy of everything sent so far.
func (c *Channel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Voice is a configurable pipeline.Voice.
type Voice struct {
	mu sync.Mutex

	// ConnectErr is returned from EnsureConnected.
	ConnectErr error

	// Present is returned from IsHumanPresent.
	Present bool

	// PlayErr is returned from PlayAudio.
	PlayErr error

	// OnPlay, when set, runs inside PlayAudio.
	OnPlay func(path string)

	connectCalls  int
	presenceCalls int
	played        []string
}

// EnsureConnected implements pipeline.Voice.
func (v *Voice) EnsureConnected(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connectCalls++
	return v.ConnectErr
}

// IsHumanPresent implements pipeline.Voice.
func (v *Voice) IsHumanPresent(context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.presenceCalls++
	return v.Present
}

// PlayAudio implements pipeline.Voice.
func (v *Voice) PlayAudio(_ context.Context, path string) error {
	v.mu.Lock()
	v.played = append(v.played, path)
	onPlay, err := v.OnPlay, v.PlayErr
	v.mu.Unlock()
	if onPlay != nil {
		onPlay(path)
	}
	return err
}

// SetPresent changes the presence answer.
func (v *Voice) SetPresent(present bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Present = present
}

// Played returns the paths passed to PlayAudio.
func (v *Voice) Played() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.played))
	copy(out, v.played)
	return out
}

// ConnectCalls returns the number of EnsureConnected calls.
func (v *Voice) ConnectCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connectCalls
}

// PresenceCalls returns the number of IsHumanPresent calls.
func (v *Voice) PresenceCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.presenceCalls
}

// Names is a map-backed name resolver. Unknown ids fail.
type Names map[string]string

// DisplayName implements pipeline.NameResolver.
func (n Names) DisplayName(_ context.Context, userID string) (string, error) {
	if name, ok := n[userID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown user %s", userID)
}
