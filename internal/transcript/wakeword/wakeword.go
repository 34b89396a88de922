// Package wakeword decides which bot identity a voice transcript addresses.
//
// Each identity owns a list of wake words. A transcript is first searched for
// whole-word, case-insensitive occurrences of every identity's words; the
// identity whose word appears first wins. When nothing matches exactly and
// the phonetic fallback is enabled, every transcript word is compared with
// every wake word using Double Metaphone codes and Jaro-Winkler similarity,
// which catches STT spellings like "durf" or "dorff".
package wakeword

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PrimaryWords are the wake words of the primary identity.
var PrimaryWords = []string{"bot", "derf", "derfbot", "dorf", "dwarf"}

// Identity is one bot persona and the words that address it.
type Identity struct {
	Name  string
	Words []string
}

// Config configures a [Detector].
type Config struct {
	Identities []Identity

	// Phonetic enables the fuzzy fallback.
	Phonetic bool

	// PhoneticThreshold and FuzzyThreshold tune the fallback. Zero selects
	// the defaults.
	PhoneticThreshold float64
	FuzzyThreshold    float64
}

type identityPattern struct {
	name  string
	words []string
	re    *regexp.Regexp
}

// Detector matches transcripts against wake words. It is read-only after
// construction and safe for concurrent use.
type Detector struct {
	ids               []identityPattern
	phonetic          bool
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New compiles cfg. Every identity needs a name and at least one word.
func New(cfg Config) (*Detector, error) {
	if len(cfg.Identities) == 0 {
		return nil, errors.New("wakeword: no identities configured")
	}
	d := &Detector{
		phonetic:          cfg.Phonetic,
		phoneticThreshold: cfg.PhoneticThreshold,
		fuzzyThreshold:    cfg.FuzzyThreshold,
	}
	if d.phoneticThreshold <= 0 {
		d.phoneticThreshold = DefaultPhoneticThreshold
	}
	if d.fuzzyThreshold <= 0 {
		d.fuzzyThreshold = DefaultFuzzyThreshold
	}

	var errs []error
	for i, id := range cfg.Identities {
		name := strings.ToLower(strings.TrimSpace(id.Name))
		if name == "" {
			errs = append(errs, fmt.Errorf("wakeword: identity %d has no name", i))
			continue
		}
		var words, quoted []string
		for _, w := range id.Words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			words = append(words, w)
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
		if len(words) == 0 {
			errs = append(errs, fmt.Errorf("wakeword: identity %q has no wake words", name))
			continue
		}
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			errs = append(errs, fmt.Errorf("wakeword: identity %q: %w", name, err))
			continue
		}
		d.ids = append(d.ids, identityPattern{name: name, words: words, re: re})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

// Match returns the identity text addresses.
func (d *Detector) Match(text string) (string, bool) {
	best, bestAt := "", -1
	for _, id := range d.ids {
		loc := id.re.FindStringIndex(text)
		if loc != nil && (bestAt < 0 || loc[0] < bestAt) {
			best, bestAt = id.name, loc[0]
		}
	}
	if bestAt >= 0 {
		return best, true
	}
	if !d.phonetic {
		return "", false
	}
	for _, tok := range tokens(text) {
		name, score := "", 0.0
		for _, id := range d.ids {
			for _, w := range id.words {
				if s, ok := soundsLike(tok, w, d.phoneticThreshold, d.fuzzyThreshold); ok && s > score {
					name, score = id.name, s
				}
			}
		}
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// Identities returns the configured identity names in order.
func (d *Detector) Identities() []string {
	out := make([]string, len(d.ids))
	for i, id := range d.ids {
		out[i] = id.name
	}
	return out
}
