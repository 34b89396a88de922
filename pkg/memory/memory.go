// Package memory defines the persistence contracts of derfbot: the exchange
// journal that archives every answered request and the avatar state shared
// with external avatar clients.
//
// Implementations must be safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AvatarState is what the bot's avatar is currently doing.
type AvatarState string

const (
	AvatarIdle     AvatarState = "idle"
	AvatarThinking AvatarState = "thinking"
	AvatarTalking  AvatarState = "talking"
)

// ParseAvatarState converts s (case-insensitive) into an [AvatarState].
func ParseAvatarState(s string) (AvatarState, error) {
	switch st := AvatarState(strings.ToLower(strings.TrimSpace(s))); st {
	case AvatarIdle, AvatarThinking, AvatarTalking:
		return st, nil
	default:
		return "", fmt.Errorf("memory: unknown avatar state %q", s)
	}
}

// Source names where a request entered the system.
type Source string

const (
	SourceCommand Source = "command"
	SourceVoice   Source = "voice"
	SourceAPI     Source = "api"
)

// Exchange is one answered request.
type Exchange struct {
	UniqueID string
	Identity string // bot identity that answered
	Source   Source
	AuthorID string

	Prompt   string
	Response string
	Summary  string // empty unless the response was summarized

	CreatedAt time.Time
}

// SearchOpts narrows a [Journal.Search].
type SearchOpts struct {
	Identity string
	AuthorID string
	After    time.Time
	Before   time.Time

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Journal archives exchanges.
type Journal interface {
	// Archive stores e. Archiving the same UniqueID twice keeps the first copy.
	Archive(ctx context.Context, e Exchange) error

	// Recent returns the newest exchanges of identity, newest first.
	Recent(ctx context.Context, identity string, limit int) ([]Exchange, error)

	// Search returns exchanges whose prompt or response matches query,
	// oldest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Exchange, error)
}

// AvatarStore tracks the avatar state per bot identity. An identity that
// never had a state set is [AvatarIdle].
type AvatarStore interface {
	SetAvatarState(ctx context.Context, identity string, state AvatarState) error
	AvatarState(ctx context.Context, identity string) (AvatarState, error)
}

// Store is a combined [Journal] and [AvatarStore].
type Store interface {
	Journal
	AvatarStore
}
