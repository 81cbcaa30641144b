package embedder

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/chunker"
	"github.com/hsn0918/memex/internal/clients/embedding"
	"github.com/hsn0918/memex/internal/store"
)

const (
	// ReindexBatchSize is larger than the live worker's batch because
	// the backfill runs offline and favors throughput.
	ReindexBatchSize = 50

	reindexFailureLimit = 5
)

// ReindexClaim is one locked batch of chunks awaiting the second vector.
type ReindexClaim interface {
	Chunks() []store.ReindexChunk
	SetEmbedding(ctx context.Context, id string, embedding []float32) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReindexSource is the slice of the relational store the backfill needs.
type ReindexSource interface {
	ClaimReindexBatch(ctx context.Context, batch int) (ReindexClaim, error)
	ReindexRemaining(ctx context.Context) (int64, error)
	PromoteEmbeddingV2(ctx context.Context) error
	RuntimeConfig(ctx context.Context) store.RuntimeConfig
}

// ReindexStoreSource adapts *store.Store to ReindexSource.
func ReindexStoreSource(st *store.Store) ReindexSource { return reindexSource{st} }

type reindexSource struct{ st *store.Store }

func (s reindexSource) ClaimReindexBatch(ctx context.Context, batch int) (ReindexClaim, error) {
	claim, err := s.st.ClaimReindexBatch(ctx, batch)
	if err != nil || claim == nil {
		return nil, err
	}
	return claim, nil
}

func (s reindexSource) ReindexRemaining(ctx context.Context) (int64, error) {
	return s.st.ReindexRemaining(ctx)
}

func (s reindexSource) PromoteEmbeddingV2(ctx context.Context) error {
	return s.st.PromoteEmbeddingV2(ctx)
}

func (s reindexSource) RuntimeConfig(ctx context.Context) store.RuntimeConfig {
	return s.st.RuntimeConfig(ctx)
}

// Reindexer re-embeds every done chunk into the second vector column so
// an embedding model can be swapped without downtime. Run as a one-shot
// job; concurrent runs are safe.
type Reindexer struct {
	source ReindexSource
	client embedding.Embedder
	logger *zap.Logger
}

// NewReindexer wires a reindex job.
func NewReindexer(source ReindexSource, client embedding.Embedder, logger *zap.Logger) *Reindexer {
	return &Reindexer{source: source, client: client, logger: logger}
}

// Run backfills until no rows remain. With promote set it then swaps
// the second column into the primary slot atomically. The backfill
// aborts after five consecutive batch failures rather than spinning on
// a dead endpoint.
func (r *Reindexer) Run(ctx context.Context, promote bool) error {
	cfg := r.source.RuntimeConfig(ctx)
	model := cfg.EmbedModelV2
	if model == "" {
		model = cfg.EmbedModel
	}

	remaining, err := r.source.ReindexRemaining(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("reindex started",
		zap.String("model", model),
		zap.Int64("remaining", remaining))

	var total int64
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		claim, err := r.source.ClaimReindexBatch(ctx, ReindexBatchSize)
		if err != nil {
			return err
		}
		if claim == nil {
			break
		}

		n, err := r.embedBatch(ctx, claim, model)
		if err != nil {
			failures++
			r.logger.Error("reindex batch failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			if failures >= reindexFailureLimit {
				return fmt.Errorf("reindex aborted after %d consecutive batch failures: %w",
					failures, err)
			}
			continue
		}
		failures = 0
		total += n
		r.logger.Info("reindex progress", zap.Int64("embedded", total))
	}

	r.logger.Info("reindex complete", zap.Int64("total_embedded", total))

	if !promote {
		r.logger.Info("column swap skipped, run with promote to activate the new model")
		return nil
	}
	return r.source.PromoteEmbeddingV2(ctx)
}

func (r *Reindexer) embedBatch(ctx context.Context, claim ReindexClaim, model string) (int64, error) {
	defer func() { _ = claim.Rollback(ctx) }()

	chunks := claim.Chunks()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = chunker.Truncate(c.Text, chunker.MaxChunkChars)
	}

	vectors, err := r.client.Embed(ctx, model, texts)
	if err != nil {
		return 0, err
	}

	for i, c := range chunks {
		if err := claim.SetEmbedding(ctx, c.ID, vectors[i]); err != nil {
			return 0, err
		}
	}
	if err := claim.Commit(ctx); err != nil {
		return 0, err
	}
	return int64(len(chunks)), nil
}
