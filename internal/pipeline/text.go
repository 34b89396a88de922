package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength is Discord's message length limit in characters.
const MaxMessageLength = 2000

// TextTaskID derives the id of a typed request from the context it was issued
// in and its text. Repeating the same message in the same context yields the
// same id, which the [ContextStore] rejects while the first is in flight.
func TextTaskID(contextKey, message string) string {
	sum := md5.Sum([]byte(contextKey + "^" + message))
	return hex.EncodeToString(sum[:])
}

// NewVoiceTaskID returns a random id for a transcribed request.
func NewVoiceTaskID() string {
	return uuid.NewString()
}

// SplitMessage cuts text into chunks of at most limit characters, breaking at
// the last space inside the limit and hard-cutting when a chunk has no space.
// Chunks are trimmed. Text that already fits is returned unchanged.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if rest[i] == ' ' {
				cut = i + 1
				break
			}
		}
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

// SplitSentences splits text on periods and newlines into trimmed, non-empty
// lines for synthesis.
func SplitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// NameResolver looks up the display name of a chat user.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// NameResolverFunc adapts a function to [NameResolver].
type NameResolverFunc func(ctx context.Context, userID string) (string, error)

// DisplayName implements [NameResolver].
func (f NameResolverFunc) DisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

var (
	emojiPattern   = regexp.MustCompile(`:\w+:`)
	mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// ReplaceMentions replaces user mentions ("<@123>", "<@!123>") with display
// names. Unresolvable users become "User{id}". A nil resolver resolves
// nothing.
func ReplaceMentions(ctx context.Context, text string, names NameResolver) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		id := mentionPattern.FindStringSubmatch(m)[1]
		return resolveName(ctx, names, id)
	})
}

func resolveName(ctx context.Context, names NameResolver, id string) string {
	if names != nil {
		if name, err := names.DisplayName(ctx, id); err == nil && name != "" {
			return name
		}
	}
	return "User" + id
}

// CleanForSpeech prepares chat text for synthesis: emoji tokens (":name:")
// are removed, mentions replaced with display names and whitespace runs
// collapsed.
func CleanForSpeech(ctx context.Context, text string, names NameResolver) string {
	text = emojiPattern.ReplaceAllString(text, "")
	text = ReplaceMentions(ctx, text, names)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}
