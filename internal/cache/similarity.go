package cache

import (
	"strings"
	"unicode"
)

// SimilarityThreshold is the Jaccard score a stored query must exceed to be
// treated as the same question.
const SimilarityThreshold = 0.3

// NormalizeQuery lowercases q, drops punctuation and collapses whitespace.
func NormalizeQuery(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Jaccard is |A ∩ B| / |A ∪ B| over the word sets of two normalized queries.
func Jaccard(a string, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, word := range strings.Fields(s) {
		set[word] = struct{}{}
	}
	return set
}
