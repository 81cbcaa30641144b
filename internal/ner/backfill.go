// Package ner backfills concept mentions. A periodic pass claims
// embedded chunks that were never scanned, tags them through the
// named-entity service, and queues one concept_added outbox event per
// distinct entity. The graph drainer turns those into Concept nodes
// and MENTIONS edges.
package ner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/clients/tagger"
	"github.com/hsn0918/memex/internal/store"
)

const (
	// PollInterval is the idle wait; concept extraction is not
	// latency-sensitive.
	PollInterval = 30 * time.Second
	// DefaultBatchSize stays small because the claim transaction is
	// held open across one tagger call per chunk.
	DefaultBatchSize = 8

	errorPause = 5 * time.Second
)

// conceptLabels are the entity kinds that become graph concepts:
// people, organisations, and geopolitical places.
var conceptLabels = map[string]bool{
	tagger.LabelPerson: true,
	"ORG":              true,
	"GPE":              true,
}

// Claim is one locked batch of unscanned chunks plus the transaction
// its concept events enqueue under.
type Claim interface {
	Chunks() []store.NERChunk
	EnqueueConcept(ctx context.Context, payload map[string]interface{}) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ChunkSource is the slice of the relational store the backfill needs.
type ChunkSource interface {
	ClaimNERBatch(ctx context.Context, batch int) (Claim, error)
}

// StoreSource adapts *store.Store to ChunkSource.
func StoreSource(st *store.Store) ChunkSource { return storeSource{st} }

type storeSource struct{ st *store.Store }

func (s storeSource) ClaimNERBatch(ctx context.Context, batch int) (Claim, error) {
	claim, err := s.st.ClaimNERBatch(ctx, batch)
	if err != nil || claim == nil {
		return nil, err
	}
	return claim, nil
}

// Worker scans embedded chunks for concepts until stopped.
type Worker struct {
	source ChunkSource
	tagger tagger.Tagger
	logger *zap.Logger
	batch  int
}

func NewWorker(source ChunkSource, tg tagger.Tagger, logger *zap.Logger) *Worker {
	return &Worker{
		source: source,
		tagger: tg,
		logger: logger,
		batch:  DefaultBatchSize,
	}
}

// Run polls for unscanned chunks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.tagger == nil || !w.tagger.Available() {
		w.logger.Info("concept backfill idle: tagger unconfigured")
	} else {
		w.logger.Info("concept backfill started", zap.Int("batch", w.batch))
	}

	for {
		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := PollInterval
		switch {
		case err != nil:
			w.logger.Error("concept backfill iteration failed", zap.Error(err))
			wait = errorPause
		case worked:
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce claims and tags one batch. Returns false when nothing was
// pending or the tagger is unavailable. A tagging failure rolls the
// whole claim back so every chunk returns to the unscanned pool.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if w.tagger == nil || !w.tagger.Available() {
		return false, nil
	}

	claim, err := w.source.ClaimNERBatch(ctx, w.batch)
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}
	defer func() { _ = claim.Rollback(ctx) }()

	validAt := time.Now().UTC().Format(time.RFC3339)
	queued := 0
	for _, c := range claim.Chunks() {
		entities, err := w.tagger.Tag(ctx, c.Text)
		if err != nil {
			return false, fmt.Errorf("tag chunk %s: %w", c.ID, err)
		}
		for _, ent := range dedupeConcepts(entities) {
			err := claim.EnqueueConcept(ctx, map[string]interface{}{
				"doc_id":       c.DocID,
				"chunk_id":     c.ID,
				"entity_text":  ent.Text,
				"entity_label": ent.Label,
				"valid_at":     validAt,
			})
			if err != nil {
				return false, err
			}
			queued++
		}
	}

	if err := claim.Commit(ctx); err != nil {
		return false, err
	}
	if queued > 0 {
		w.logger.Info("concepts queued",
			zap.Int("chunks", len(claim.Chunks())),
			zap.Int("concepts", queued))
	}
	return true, nil
}

// dedupeConcepts keeps the first occurrence of each (text, label) pair
// among the labels that become concepts.
func dedupeConcepts(entities []tagger.Entity) []tagger.Entity {
	seen := make(map[tagger.Entity]bool, len(entities))
	out := make([]tagger.Entity, 0, len(entities))
	for _, ent := range entities {
		ent.Text = strings.TrimSpace(ent.Text)
		if ent.Text == "" || !conceptLabels[ent.Label] {
			continue
		}
		if seen[ent] {
			continue
		}
		seen[ent] = true
		out = append(out, ent)
	}
	return out
}
