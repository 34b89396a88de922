package wakeword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Similarity thresholds for the phonetic fallback.
const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85

	// minFuzzyLen keeps short words ("bot", "but", "both") out of the
	// fallback; they only ever match exactly.
	minFuzzyLen = 4
)

// soundsLike reports how closely token resembles word. Tokens that share a
// Double Metaphone code with word need phoneticThreshold Jaro-Winkler
// similarity, all others need fuzzyThreshold.
func soundsLike(token, word string, phoneticThreshold, fuzzyThreshold float64) (float64, bool) {
	if len([]rune(token)) < minFuzzyLen || len([]rune(word)) < minFuzzyLen {
		return 0, false
	}
	score := matchr.JaroWinkler(token, word, false)
	if codesOverlap(codes(token), codes(word)) {
		return score, score >= phoneticThreshold
	}
	return score, score >= fuzzyThreshold
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	for _, c := range []string{p, s} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// tokens lowercases text and splits it into words, dropping punctuation.
func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127 && r != ' ')
	})
}
