// Package scoring grades a free-text guess against the secret title.
//
// A guess lands in exactly one of three buckets: exact (1.0), near miss (0.5)
// or miss (0). Callers rely on the bucketing, so the raw similarity is only
// exposed for diagnostics.
package scoring

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	ScoreExact = 1.0
	ScoreNear  = 0.5
	ScoreMiss  = 0.0

	// NearGuessThreshold is the minimum similarity for a near miss,
	// roughly one wrong character in five.
	NearGuessThreshold = 0.8
)

func normalize(s string) string {
	return strings.ToLower(s)
}

// Similarity returns 1 - distance/maxLen on the case-folded inputs.
func Similarity(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

// Score buckets guess against secret.
func Score(guess, secret string) float64 {
	if normalize(guess) == normalize(secret) {
		return ScoreExact
	}
	if Similarity(guess, secret) >= NearGuessThreshold {
		return ScoreNear
	}
	return ScoreMiss
}

// Label names a score bucket for logs and transcripts.
func Label(score float64) string {
	switch score {
	case ScoreExact:
		return "exact"
	case ScoreNear:
		return "near"
	default:
		return "miss"
	}
}
