package resolve

import (
	"math"
	"strings"
)

// Weights for the combined scorer. Name similarity dominates; the
// email domain and shared-document signals only nudge borderline pairs.
const (
	nameWeight   = 0.6
	domainWeight = 0.3
	docWeight    = 0.1

	// sharedDocSaturation is the co-occurrence count at which the
	// shared-document signal maxes out.
	sharedDocSaturation = 5
)

// Variant selects which scorer a threshold sweep evaluates.
type Variant string

const (
	// VariantNames scores on display names alone.
	VariantNames Variant = "a"
	// VariantCombined blends names with domain and co-occurrence.
	VariantCombined Variant = "b"
)

// ScorePairA scores two persons on display-name similarity alone.
func ScorePairA(nameA, nameB string) float64 {
	return JaroWinkler(nameA, nameB)
}

// ScorePairB blends name similarity with an email-domain match and the
// number of documents both persons appear in.
func ScorePairB(nameA, emailA, nameB, emailB string, sharedDocs int) float64 {
	nameScore := JaroWinkler(nameA, nameB)

	domainScore := 0.0
	if d := emailDomain(emailA); d != "" && d == emailDomain(emailB) {
		domainScore = 1.0
	}

	docScore := math.Min(float64(sharedDocs)/sharedDocSaturation, 1.0)

	return nameWeight*nameScore + domainWeight*domainScore + docWeight*docScore
}

// emailDomain returns the lowercased part after the last "@", or ""
// when the address has none.
func emailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// LabeledPair is one row of the hand-labeled evaluation dataset.
type LabeledPair struct {
	NameA       string `json:"name_a"`
	EmailA      string `json:"email_a"`
	NameB       string `json:"name_b"`
	EmailB      string `json:"email_b"`
	SharedDocs  int    `json:"shared_docs"`
	IsDuplicate bool   `json:"is_duplicate"`
}

// PrecisionRecall summarizes scorer quality at one threshold.
type PrecisionRecall struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// score applies the selected scorer variant to a labeled pair.
func (p LabeledPair) score(variant Variant) float64 {
	if variant == VariantCombined {
		return ScorePairB(p.NameA, p.EmailA, p.NameB, p.EmailB, p.SharedDocs)
	}
	return ScorePairA(p.NameA, p.NameB)
}

// ThresholdSweep evaluates a scorer variant over the labeled pairs at
// each threshold. A pair is predicted duplicate when its score meets
// the threshold; metrics are zero when undefined rather than NaN.
func ThresholdSweep(pairs []LabeledPair, thresholds []float64, variant Variant) map[float64]PrecisionRecall {
	out := make(map[float64]PrecisionRecall, len(thresholds))
	for _, threshold := range thresholds {
		var tp, fp, fn int
		for _, pair := range pairs {
			predicted := pair.score(variant) >= threshold
			switch {
			case predicted && pair.IsDuplicate:
				tp++
			case predicted && !pair.IsDuplicate:
				fp++
			case !predicted && pair.IsDuplicate:
				fn++
			}
		}

		var pr PrecisionRecall
		if tp+fp > 0 {
			pr.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			pr.Recall = float64(tp) / float64(tp+fn)
		}
		if pr.Precision+pr.Recall > 0 {
			pr.F1 = 2 * pr.Precision * pr.Recall / (pr.Precision + pr.Recall)
		}
		out[threshold] = pr
	}
	return out
}
