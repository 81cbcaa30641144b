// Package fusion merges the ranked candidate lists produced by the
// lexical and vector retrieval legs into a single ordering.
//
// Two schemes are supported:
//
//   - Reciprocal Rank Fusion (default): rank-only, ignores raw scores.
//   - Weighted score fusion: min-max normalizes each leg's scores and
//     combines them with operator-tuned weights.
package fusion

import (
	"math"
	"sort"
)

// DefaultK is the RRF constant from the literature. Larger values
// flatten the contribution difference between adjacent ranks.
const DefaultK = 60

// Ranked pairs a candidate id with the score its retrieval leg
// assigned. Slices are ordered best first.
type Ranked struct {
	ID    string
	Score float64
}

// RRF merges two ranked id lists using Reciprocal Rank Fusion:
//
//	score(id) = Σ 1/(k + rank + 1)
//
// summed over each list containing id, with rank counted from zero.
// Ties keep the order ids were first seen (lexical list, then vector).
func RRF(lexIDs, vecIDs []string, k int) []string {
	if k <= 0 {
		k = DefaultK
	}
	scores, order := rrfScores(lexIDs, vecIDs, k)
	sortByScore(order, scores)
	return order
}

// RRFScores exposes the raw fused scores, keyed by id.
func RRFScores(lexIDs, vecIDs []string, k int) map[string]float64 {
	if k <= 0 {
		k = DefaultK
	}
	scores, _ := rrfScores(lexIDs, vecIDs, k)
	return scores
}

func rrfScores(lexIDs, vecIDs []string, k int) (map[string]float64, []string) {
	scores := make(map[string]float64, len(lexIDs)+len(vecIDs))
	order := make([]string, 0, len(lexIDs)+len(vecIDs))
	for _, list := range [][]string{lexIDs, vecIDs} {
		for rank, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+rank+1)
		}
	}
	return scores, order
}

// Weighted fuses the two legs by score instead of rank:
//
//	combined(id) = lexWeight·norm_lex(id) + vecWeight·norm_vec(id)
//
// Each leg is min-max normalized on its own so BM25 magnitudes cannot
// drown out cosine similarities. An id missing from one leg contributes
// zero for that side. Ties keep first-seen order, as in RRF.
func Weighted(lex, vec []Ranked, lexWeight, vecWeight float64) []string {
	normLex := normalize(lex)
	normVec := normalize(vec)

	combined := make(map[string]float64, len(normLex)+len(normVec))
	order := make([]string, 0, len(normLex)+len(normVec))
	for _, leg := range [][]Ranked{lex, vec} {
		for _, r := range leg {
			if _, seen := combined[r.ID]; seen {
				continue
			}
			order = append(order, r.ID)
			combined[r.ID] = lexWeight*normLex[r.ID] + vecWeight*normVec[r.ID]
		}
	}
	sortByScore(order, combined)
	return order
}

// normalize min-max scales a leg's scores into [0,1]. A constant list
// maps every id to 1.0 so a degenerate leg still contributes instead of
// producing NaN from a zero range.
func normalize(leg []Ranked) map[string]float64 {
	if len(leg) == 0 {
		return map[string]float64{}
	}
	lo, hi := leg[0].Score, leg[0].Score
	for _, r := range leg[1:] {
		lo = math.Min(lo, r.Score)
		hi = math.Max(hi, r.Score)
	}
	out := make(map[string]float64, len(leg))
	rng := hi - lo
	for _, r := range leg {
		if rng == 0 {
			out[r.ID] = 1.0
			continue
		}
		out[r.ID] = (r.Score - lo) / rng
	}
	return out
}

// UseWeighted reports whether the configured weights diverge enough
// from the balanced default to switch fusion schemes. A 0.01 band
// absorbs float drift from round-tripping weights through the config
// table.
func UseWeighted(lexWeight, vecWeight float64) bool {
	return math.Abs(lexWeight-0.5) > 0.01 || math.Abs(vecWeight-0.5) > 0.01
}

func sortByScore(order []string, scores map[string]float64) {
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})
}
