package scoring

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Similarity provides normalized string comparison algorithms. All results are in [0,1].
type Similarity struct{}

// NewSimilarity creates a new Similarity
func NewSimilarity() *Similarity {
	return &Similarity{}
}

// Compare applies the named metric
func (s *Similarity) Compare(metric, a, b string) float64 {
	switch metric {
	case models.StringMetricLevenshtein:
		return s.Levenshtein(a, b)
	case models.StringMetricExact:
		return s.ExactMatch(a, b, false)
	}
	return s.JaroWinkler(a, b)
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Similarity) ExactMatch(a, b string, caseSensitive bool) float64 {
	if caseSensitive {
		if a == b {
			return 1.0
		}
		return 0.0
	}
	if strings.EqualFold(a, b) {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Similarity) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	// Winkler modification: boost for a common prefix of up to 4 runes
	prefixLen := 0
	maxPrefix := 4
	for i := 0; i < len(ra) && i < len(rb) && i < maxPrefix; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	scalingFactor := 0.1
	return jaro + float64(prefixLen)*scalingFactor*(1.0-jaro)
}

// Jaro calculates the Jaro similarity between two strings
func (s *Similarity) Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return jaro([]rune(a), []rune(b))
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	// Maximum distance for character matching
	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein returns the edit distance normalized to a similarity: 1 - distance/maxLen
func (s *Similarity) Levenshtein(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}
