package catalog

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// SimilarityThreshold is the minimum Similarity for a billing line item to
// select a service.
const SimilarityThreshold = 0.75

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)), measured in
// runes. It is symmetric and case sensitive; two empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
