// Package embedder runs the background loops that turn chunk text into
// vectors: the main worker for freshly ingested chunks and the reindex
// worker that backfills a second model during a rolling upgrade. Both
// claim rows with FOR UPDATE SKIP LOCKED, so extra copies are safe.
package embedder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/chunker"
	"github.com/hsn0918/memex/internal/clients/embedding"
	"github.com/hsn0918/memex/internal/store"
)

const (
	// PollInterval is the idle wait when no chunks are pending.
	PollInterval = time.Second
	// DefaultBatchSize stays single-digit: the endpoint embeds each
	// input independently and enforces per-input context limits.
	DefaultBatchSize = 4

	breakerThreshold = 10
	breakerPause     = 60 * time.Second
	errorPause       = 5 * time.Second
)

// Claim is one locked batch of pending chunks. The claim transaction
// stays open across the embedding call; rolling back returns every row
// to pending untouched.
type Claim interface {
	Chunks() []store.ClaimedChunk
	Complete(ctx context.Context, id string, embedding []float32) error
	Fail(ctx context.Context, id string, retryCount, retryMax int) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ChunkSource is the slice of the relational store the worker needs.
type ChunkSource interface {
	ClaimPendingChunks(ctx context.Context, batch int) (Claim, error)
	RuntimeConfig(ctx context.Context) store.RuntimeConfig
}

// StoreSource adapts *store.Store to ChunkSource.
func StoreSource(st *store.Store) ChunkSource { return storeSource{st} }

type storeSource struct{ st *store.Store }

func (s storeSource) ClaimPendingChunks(ctx context.Context, batch int) (Claim, error) {
	claim, err := s.st.ClaimPendingChunks(ctx, batch)
	if err != nil || claim == nil {
		return nil, err
	}
	return claim, nil
}

func (s storeSource) RuntimeConfig(ctx context.Context) store.RuntimeConfig {
	return s.st.RuntimeConfig(ctx)
}

// Worker embeds pending chunks until stopped.
type Worker struct {
	source ChunkSource
	client embedding.Embedder
	logger *zap.Logger
	batch  int

	consecutiveErrors int
}

// NewWorker wires an embedding worker with the default batch size.
func NewWorker(source ChunkSource, client embedding.Embedder, logger *zap.Logger) *Worker {
	return &Worker{
		source: source,
		client: client,
		logger: logger,
		batch:  DefaultBatchSize,
	}
}

// Run polls for pending chunks until the context is cancelled. Iteration
// errors (claim or commit failures, not embedding failures) feed a
// breaker that pauses the loop for a minute after ten in a row.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("embedding worker started", zap.Int("batch", w.batch))

	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := PollInterval
		switch {
		case err != nil:
			w.consecutiveErrors++
			if w.consecutiveErrors >= breakerThreshold {
				w.logger.Error("embedding breaker open",
					zap.Int("consecutive_errors", w.consecutiveErrors),
					zap.Error(err))
				w.consecutiveErrors = 0
				wait = breakerPause
			} else {
				w.logger.Error("embedding iteration failed",
					zap.Int("consecutive_errors", w.consecutiveErrors),
					zap.Error(err))
				wait = errorPause
			}
		case worked:
			w.consecutiveErrors = 0
			continue
		default:
			w.consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce claims and processes one batch. Returns false when nothing
// was pending.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	cfg := w.source.RuntimeConfig(ctx)

	claim, err := w.source.ClaimPendingChunks(ctx, w.batch)
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}
	defer func() { _ = claim.Rollback(ctx) }()

	chunks := claim.Chunks()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = chunker.Truncate(c.Text, chunker.MaxChunkChars)
	}

	vectors, err := w.client.Embed(ctx, cfg.EmbedModel, texts)
	switch {
	case err == nil:
		for i, c := range chunks {
			if cerr := claim.Complete(ctx, c.ID, vectors[i]); cerr != nil {
				return false, cerr
			}
		}
		w.logger.Info("embeddings written", zap.Int("count", len(chunks)))

	case embedding.IsContextLengthError(err) && len(chunks) > 1:
		// One oversized input poisons the whole batch; retry items
		// individually so only the offender pays.
		w.logger.Warn("batch hit context limit, splitting",
			zap.Int("batch", len(chunks)))
		if serr := w.embedOneAtATime(ctx, claim, chunks, texts, cfg); serr != nil {
			return false, serr
		}

	default:
		w.logger.Error("embedding batch failed",
			zap.Int("batch", len(chunks)),
			zap.Error(err))
		for _, c := range chunks {
			if ferr := claim.Fail(ctx, c.ID, c.RetryCount, cfg.EmbedRetryMax); ferr != nil {
				return false, ferr
			}
		}
	}

	if err := claim.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) embedOneAtATime(ctx context.Context, claim Claim, chunks []store.ClaimedChunk, texts []string, cfg store.RuntimeConfig) error {
	for i, c := range chunks {
		vectors, err := w.client.Embed(ctx, cfg.EmbedModel, texts[i:i+1])
		if err != nil || len(vectors) != 1 {
			w.logger.Warn("single chunk embedding failed",
				zap.String("chunk_id", c.ID),
				zap.Int("retry_count", c.RetryCount+1),
				zap.Error(err))
			if ferr := claim.Fail(ctx, c.ID, c.RetryCount, cfg.EmbedRetryMax); ferr != nil {
				return ferr
			}
			continue
		}
		if cerr := claim.Complete(ctx, c.ID, vectors[0]); cerr != nil {
			return cerr
		}
	}
	return nil
}
