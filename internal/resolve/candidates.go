package resolve

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

const (
	// CandidateThreshold is the combined score above which a pair is
	// surfaced for operator review.
	CandidateThreshold = 0.85
	// CandidateScanLimit caps the persons scanned per pass. The scan
	// is O(n²), so the cap keeps a pass under a second.
	CandidateScanLimit = 200
)

// PersonSource provides the person rows and document co-occurrence the
// candidate scan needs.
type PersonSource interface {
	ActivePersons(ctx context.Context, limit int) ([]store.Person, error)
	PersonDocuments(ctx context.Context) (map[string][]string, error)
}

// Resolver proposes person merges. It never applies one.
type Resolver struct {
	source PersonSource
	logger *zap.Logger
}

func NewResolver(source PersonSource, logger *zap.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// MergeCandidates scores every active-person pair and returns the ones
// whose combined score reaches CandidateThreshold, in display-name
// scan order.
func (r *Resolver) MergeCandidates(ctx context.Context) ([]store.MergeCandidate, error) {
	persons, err := r.source.ActivePersons(ctx, CandidateScanLimit)
	if err != nil {
		return nil, err
	}
	docs, err := r.source.PersonDocuments(ctx)
	if err != nil {
		return nil, err
	}

	docSets := make(map[string]map[string]struct{}, len(docs))
	for personID, ids := range docs {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		docSets[personID] = set
	}

	candidates := make([]store.MergeCandidate, 0)
	for i, a := range persons {
		for _, b := range persons[i+1:] {
			shared := sharedDocCount(docSets[a.ID], docSets[b.ID])
			score := ScorePairB(a.DisplayName, a.Email, b.DisplayName, b.Email, shared)
			if score < CandidateThreshold {
				continue
			}
			domainA := emailDomain(a.Email)
			candidates = append(candidates, store.MergeCandidate{
				IDA:        a.ID,
				NameA:      a.DisplayName,
				IDB:        b.ID,
				NameB:      b.DisplayName,
				JWScore:    round3(score),
				SameDomain: domainA != "" && domainA == emailDomain(b.Email),
				SharedDocs: shared,
			})
		}
	}

	r.logger.Debug("merge candidate scan complete",
		zap.Int("persons", len(persons)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

func sharedDocCount(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for id := range a {
		if _, ok := b[id]; ok {
			n++
		}
	}
	return n
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
