// Package search runs the hybrid retrieval pipeline: lexical and vector
// legs fetched concurrently, rank fusion, snippet hydration, and an
// optional cross-encoder rerank. Optional stages degrade instead of
// failing; the response says so via the degraded flag.
package search

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hsn0918/memex/internal/clients/embedding"
	"github.com/hsn0918/memex/internal/clients/rerank"
	"github.com/hsn0918/memex/internal/fusion"
	"github.com/hsn0918/memex/internal/store"
)

const (
	// candidateLimit is how deep each retrieval leg reaches.
	candidateLimit = 50
	// overFetchFactor over-selects fused ids so the reranker has room
	// to reorder before the final cut.
	overFetchFactor = 5
	// rerankMinCandidates below which reranking is skipped without
	// marking the response degraded.
	rerankMinCandidates = 5
	// rerankInputChars caps the text sent per candidate.
	rerankInputChars = 500
	// snippetChars caps the text returned per result.
	snippetChars = 200
)

// Result is one search hit.
type Result struct {
	ChunkID     string  `json:"chunk_id"`
	DocID       string  `json:"doc_id"`
	SourcePath  string  `json:"source_path"`
	Sender      string  `json:"sender"`
	Snippet     string  `json:"snippet"`
	LexScore    float64 `json:"lex_score"`
	VecScore    float64 `json:"vec_score"`
	RerankScore float64 `json:"rerank_score"`
}

// Response is the full search answer. Degraded means an optional stage
// (query embedding or rerank) was skipped.
type Response struct {
	Results  []Result `json:"results"`
	Degraded bool     `json:"degraded"`
	Query    string   `json:"query"`
}

// Store is the retrieval surface the pipeline needs.
type Store interface {
	LexicalSearch(ctx context.Context, q string, limit int) ([]store.ScoredChunk, error)
	VectorSearch(ctx context.Context, embedding []float32, limit int) ([]store.ScoredChunk, error)
	ChunkDetails(ctx context.Context, ids []string) (map[string]store.ChunkDetail, error)
	RuntimeConfig(ctx context.Context) store.RuntimeConfig
}

// Service executes searches.
type Service struct {
	store    Store
	embedder embedding.Embedder
	reranker rerank.Reranker
	logger   *zap.Logger
	cache    *resultCache
}

// NewService wires the search pipeline.
func NewService(st Store, embedder embedding.Embedder, reranker rerank.Reranker, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		embedder: embedder,
		reranker: reranker,
		logger:   logger,
		cache:    newResultCache(),
	}
}

// Search runs the pipeline for q and returns the top limit results.
// Bounds on q and limit are enforced by the HTTP layer.
func (s *Service) Search(ctx context.Context, q string, limit int) (*Response, error) {
	key := cacheKey{q: q, limit: limit}
	if cached := s.cache.get(key); cached != nil {
		s.logger.Debug("search cache hit", zap.String("query", clip(q, 100)))
		return cached, nil
	}

	cfg := s.store.RuntimeConfig(ctx)
	degraded := false

	// Both legs run concurrently; the vector leg embeds the query
	// first and degrades silently if the embedding endpoint is down.
	var lexLeg, vecLeg []store.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexLeg, err = s.store.LexicalSearch(gctx, q, candidateLimit)
		return err
	})
	g.Go(func() error {
		vectors, err := s.embedder.Embed(gctx, cfg.EmbedModel, []string{q})
		if err != nil || len(vectors) != 1 {
			s.logger.Warn("query embedding failed, vector leg skipped", zap.Error(err))
			degraded = true
			return nil
		}
		vecLeg, err = s.store.VectorSearch(gctx, vectors[0], candidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lexScores := scoreMap(lexLeg)
	vecScores := scoreMap(vecLeg)

	var fused []string
	if fusion.UseWeighted(cfg.BM25Weight, cfg.VectorWeight) && len(vecLeg) > 0 {
		fused = fusion.Weighted(ranked(lexLeg), ranked(vecLeg), cfg.BM25Weight, cfg.VectorWeight)
	} else {
		fused = fusion.RRF(ids(lexLeg), ids(vecLeg), cfg.RRFK)
	}
	if n := limit * overFetchFactor; len(fused) > n {
		fused = fused[:n]
	}

	details, err := s.store.ChunkDetails(ctx, fused)
	if err != nil {
		return nil, err
	}

	// Ids the hydrate step did not return vanished between retrieval
	// and now; drop them and keep fusion order.
	valid := fused[:0]
	for _, id := range fused {
		if _, ok := details[id]; ok {
			valid = append(valid, id)
		}
	}

	rerankScores, reranked := s.rerankCandidates(ctx, q, valid, details)
	if !reranked && len(valid) >= rerankMinCandidates {
		degraded = true
	}

	if len(valid) > limit {
		valid = valid[:limit]
	}

	results := make([]Result, 0, len(valid))
	for _, id := range valid {
		d := details[id]
		results = append(results, Result{
			ChunkID:     id,
			DocID:       d.DocID,
			SourcePath:  d.SourcePath,
			Sender:      d.Sender,
			Snippet:     clip(d.Text, snippetChars),
			LexScore:    round4(lexScores[id]),
			VecScore:    round4(vecScores[id]),
			RerankScore: round4(rerankScores[id]),
		})
	}

	resp := &Response{Results: results, Degraded: degraded, Query: q}
	s.cache.set(key, resp, cfg.SearchCacheTTL)
	return resp, nil
}

// rerankCandidates reorders valid in place by cross-encoder score. The
// second return is false when reranking was skipped: fewer than five
// candidates, no reranker configured, or the call failed. Fusion order
// is preserved in that case.
func (s *Service) rerankCandidates(ctx context.Context, q string, valid []string, details map[string]store.ChunkDetail) (map[string]float64, bool) {
	scores := make(map[string]float64, len(valid))

	if len(valid) < rerankMinCandidates || s.reranker == nil || !s.reranker.Available() {
		return scores, false
	}

	texts := make([]string, len(valid))
	for i, id := range valid {
		texts[i] = clip(details[id].Text, rerankInputChars)
	}

	results, err := s.reranker.Rerank(ctx, q, texts)
	if err != nil {
		s.logger.Warn("rerank failed, keeping fusion order", zap.Error(err))
		return scores, false
	}

	for _, r := range results {
		if r.Index >= 0 && r.Index < len(valid) {
			scores[valid[r.Index]] = r.RelevanceScore
		}
	}
	sortByScoreStable(valid, scores)
	return scores, true
}

func scoreMap(leg []store.ScoredChunk) map[string]float64 {
	out := make(map[string]float64, len(leg))
	for _, c := range leg {
		out[c.ID] = c.Score
	}
	return out
}

func ids(leg []store.ScoredChunk) []string {
	out := make([]string, len(leg))
	for i, c := range leg {
		out[i] = c.ID
	}
	return out
}

func ranked(leg []store.ScoredChunk) []fusion.Ranked {
	out := make([]fusion.Ranked, len(leg))
	for i, c := range leg {
		out[i] = fusion.Ranked{ID: c.ID, Score: c.Score}
	}
	return out
}

// sortByScoreStable reorders ids best first, keeping the incoming
// (fusion) order for equal scores.
func sortByScoreStable(ids []string, scores map[string]float64) {
	sort.SliceStable(ids, func(i, j int) bool {
		return scores[ids[i]] > scores[ids[j]]
	})
}

// clip cuts s to at most max runes.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
