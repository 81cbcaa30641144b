// Package resolve scores person pairs for entity resolution. Scores
// feed the merge-candidate review list and an offline threshold sweep;
// merges themselves are always operator-confirmed.
package resolve

import "strings"

const (
	// prefixWeight is the Winkler prefix bonus factor.
	prefixWeight = 0.1
	// maxPrefixLen caps the shared-prefix bonus window.
	maxPrefixLen = 4
)

// JaroWinkler returns the case-folded Jaro-Winkler similarity of two
// strings, boosting pairs that share up to four leading characters.
func JaroWinkler(a, b string) float64 {
	s1 := []rune(strings.ToLower(a))
	s2 := []rune(strings.ToLower(b))

	sim := jaro(s1, s2)

	prefix := 0
	for i := 0; i < maxPrefixLen && i < len(s1) && i < len(s2); i++ {
		if s1[i] != s2[i] {
			break
		}
		prefix++
	}
	return sim + float64(prefix)*prefixWeight*(1-sim)
}

// jaro computes the plain Jaro similarity over rune slices.
func jaro(s1, s2 []rune) float64 {
	if string(s1) == string(s2) {
		return 1.0
	}
	len1, len2 := len(s1), len(s2)
	if len1 == 0 || len2 == 0 {
		return 0.0
	}

	matchDist := max(len1, len2)/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	matched1 := make([]bool, len1)
	matched2 := make([]bool, len2)
	matches := 0
	for i := 0; i < len1; i++ {
		lo := i - matchDist
		if lo < 0 {
			lo = 0
		}
		hi := i + matchDist + 1
		if hi > len2 {
			hi = len2
		}
		for j := lo; j < hi; j++ {
			if matched2[j] || s1[i] != s2[j] {
				continue
			}
			matched1[i] = true
			matched2[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len1; i++ {
		if !matched1[i] {
			continue
		}
		for !matched2[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len1) + m/float64(len2) + (m-float64(transpositions)/2)/m) / 3
}
