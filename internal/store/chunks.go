package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// redactedPlaceholder replaces the text of PII chunks during bulk redaction.
const redactedPlaceholder = "[REDACTED]"

// Claim is a batch of chunks flipped to processing under an open
// transaction. The transaction stays open across the embedding call so
// that an abort, including process death, returns every row to pending
// with nothing written.
type Claim struct {
	tx     pgx.Tx
	chunks []ClaimedChunk
}

// ClaimPendingChunks locks up to batch pending chunks, marks them
// processing, and returns them under the claim transaction. Returns
// (nil, nil) when nothing is pending.
func (s *Store) ClaimPendingChunks(ctx context.Context, batch int) (*Claim, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE chunks SET embedding_status = 'processing'
		WHERE id IN (
			SELECT id FROM chunks
			WHERE embedding_status = 'pending'
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, text, retry_count`, batch)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim chunks: %w", err)
	}

	var chunks []ClaimedChunk
	for rows.Next() {
		var c ClaimedChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.RetryCount); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("scan claimed chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim chunks: %w", err)
	}

	if len(chunks) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	return &Claim{tx: tx, chunks: chunks}, nil
}

func (c *Claim) Chunks() []ClaimedChunk { return c.chunks }

// Complete stores the vector and flips the chunk to done.
func (c *Claim) Complete(ctx context.Context, id string, embedding []float32) error {
	_, err := c.tx.Exec(ctx, `
		UPDATE chunks
		SET embedding = $1, embedded_at = now(), embedding_status = 'done'
		WHERE id = $2::uuid`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("complete chunk %s: %w", id, err)
	}
	return nil
}

// Fail bumps the retry counter; at retryMax the chunk turns terminal,
// otherwise it goes back to pending for the next claim.
func (c *Claim) Fail(ctx context.Context, id string, retryCount, retryMax int) error {
	next := retryCount + 1
	status := StatusPending
	if next >= retryMax {
		status = StatusFailed
	}
	_, err := c.tx.Exec(ctx, `
		UPDATE chunks SET embedding_status = $1, retry_count = $2
		WHERE id = $3::uuid`,
		string(status), next, id)
	if err != nil {
		return fmt.Errorf("fail chunk %s: %w", id, err)
	}
	return nil
}

func (c *Claim) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// Rollback returns the whole claim to pending. Safe after Commit.
func (c *Claim) Rollback(ctx context.Context) error {
	err := c.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback claim: %w", err)
	}
	return nil
}

// LexicalSearch returns the best chunk ids for q by full-text rank.
// Only embedded, PII-clean chunks of live documents are searchable.
func (s *Store) LexicalSearch(ctx context.Context, q string, limit int) ([]ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, ts_rank(c.tsv, plainto_tsquery('english', $1)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tsv @@ plainto_tsquery('english', $1)
		  AND c.embedding_status = 'done'
		  AND c.pii_detected = false
		  AND d.deleted_at IS NULL
		ORDER BY score DESC
		LIMIT $2`, q, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return scanScored(rows)
}

// VectorSearch returns the nearest chunk ids by cosine similarity under
// the same visibility filters as LexicalSearch.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, 1 - (c.embedding <=> $1) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
		  AND c.embedding_status = 'done'
		  AND c.pii_detected = false
		  AND d.deleted_at IS NULL
		ORDER BY c.embedding <=> $1
		LIMIT $2`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return scanScored(rows)
}

func scanScored(rows pgx.Rows) ([]ScoredChunk, error) {
	defer rows.Close()
	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.Score); err != nil {
			return nil, fmt.Errorf("scan scored chunk: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ChunkDetails hydrates fused ids with text, document, and sender for
// the response. Ids whose document vanished or was soft-deleted between
// retrieval and hydration are simply absent from the map.
func (s *Store) ChunkDetails(ctx context.Context, ids []string) (map[string]ChunkDetail, error) {
	out := make(map[string]ChunkDetail, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, c.text, c.document_id::text, d.source_path, COALESCE(p.email, '')
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		LEFT JOIN doc_participants dp ON dp.document_id = d.id AND dp.role = 'sender'
		LEFT JOIN persons p ON p.id = dp.person_id
		WHERE c.id = ANY($1::uuid[]) AND d.deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var d ChunkDetail
		if err := rows.Scan(&id, &d.Text, &d.DocID, &d.SourcePath, &d.Sender); err != nil {
			return nil, fmt.Errorf("scan chunk detail: %w", err)
		}
		out[id] = d
	}
	return out, rows.Err()
}

// PIIChunks lists flagged chunks for the review report, text capped at
// 200 characters.
func (s *Store) PIIChunks(ctx context.Context) ([]PIIChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id::text, LEFT(c.text, 200), c.document_id::text
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.pii_detected = true AND d.deleted_at IS NULL
		ORDER BY c.id
		LIMIT 200`)
	if err != nil {
		return nil, fmt.Errorf("list pii chunks: %w", err)
	}
	defer rows.Close()

	var out []PIIChunk
	for rows.Next() {
		var c PIIChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.DocID); err != nil {
			return nil, fmt.Errorf("scan pii chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BulkRedact replaces the text of flagged chunks with a placeholder,
// batchSize rows at a time, until none remain. The PII flag stays set
// so redacted chunks remain outside search results.
func (s *Store) BulkRedact(ctx context.Context, batchSize int) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			UPDATE chunks SET text = $1
			WHERE id IN (
				SELECT id FROM chunks
				WHERE pii_detected = true AND text <> $1
				LIMIT $2
			)`, redactedPlaceholder, batchSize)
		if err != nil {
			return total, fmt.Errorf("bulk redact: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(batchSize) {
			return total, nil
		}
	}
}

// ChunkStatusCounts returns chunk counts grouped by embedding status.
func (s *Store) ChunkStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT embedding_status::text, COUNT(*) FROM chunks GROUP BY embedding_status`)
	if err != nil {
		return nil, fmt.Errorf("chunk status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ReindexClaim is the rolling-upgrade counterpart of Claim: done chunks
// that still miss the second vector, locked until Commit.
type ReindexClaim struct {
	tx     pgx.Tx
	chunks []ReindexChunk
}

// ClaimReindexBatch locks up to batch embedded chunks whose second
// vector is still null. Returns (nil, nil) when the backfill is done.
func (s *Store) ClaimReindexBatch(ctx context.Context, batch int) (*ReindexClaim, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id::text, text
		FROM chunks
		WHERE embedding_v2 IS NULL AND embedding_status = 'done'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, batch)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim reindex batch: %w", err)
	}

	var chunks []ReindexChunk
	for rows.Next() {
		var c ReindexChunk
		if err := rows.Scan(&c.ID, &c.Text); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("scan reindex chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim reindex batch: %w", err)
	}

	if len(chunks) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	return &ReindexClaim{tx: tx, chunks: chunks}, nil
}

func (c *ReindexClaim) Chunks() []ReindexChunk { return c.chunks }

func (c *ReindexClaim) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	_, err := c.tx.Exec(ctx,
		`UPDATE chunks SET embedding_v2 = $1 WHERE id = $2::uuid`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("set embedding_v2 %s: %w", id, err)
	}
	return nil
}

func (c *ReindexClaim) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reindex batch: %w", err)
	}
	return nil
}

func (c *ReindexClaim) Rollback(ctx context.Context) error {
	err := c.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback reindex batch: %w", err)
	}
	return nil
}

// ReindexRemaining counts embedded chunks that still miss the second
// vector.
func (s *Store) ReindexRemaining(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chunks
		WHERE embedding_v2 IS NULL AND embedding_status = 'done'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reindex remaining: %w", err)
	}
	return n, nil
}

// PromoteEmbeddingV2 swaps the second vector column into the primary
// slot. Callers must have finished the backfill; rows without a second
// vector lose their embedding and would need re-embedding.
func (s *Store) PromoteEmbeddingV2(ctx context.Context) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range []string{
		`ALTER TABLE chunks RENAME COLUMN embedding TO embedding_old`,
		`ALTER TABLE chunks RENAME COLUMN embedding_v2 TO embedding`,
		`ALTER TABLE chunks DROP COLUMN embedding_old`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("promote embedding_v2: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit promote: %w", err)
	}
	s.log.Info("embedding_v2 promoted to primary column")
	return nil
}

// NERClaim holds chunks awaiting a concept scan. Events enqueue under
// the claim transaction so a failed scan leaves the chunk unscanned.
type NERClaim struct {
	tx     pgx.Tx
	chunks []NERChunk
}

// ClaimNERBatch marks up to batch embedded, never-scanned chunks as
// scanned and returns them for tagging. Returns (nil, nil) when none
// remain.
func (s *Store) ClaimNERBatch(ctx context.Context, batch int) (*NERClaim, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE chunks SET ner_scanned_at = now()
		WHERE id IN (
			SELECT id FROM chunks
			WHERE embedding_status = 'done' AND ner_scanned_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id::text, document_id::text, text`, batch)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim ner batch: %w", err)
	}

	var chunks []NERChunk
	for rows.Next() {
		var c NERChunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Text); err != nil {
			rows.Close()
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("scan ner chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("claim ner batch: %w", err)
	}

	if len(chunks) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	return &NERClaim{tx: tx, chunks: chunks}, nil
}

func (c *NERClaim) Chunks() []NERChunk { return c.chunks }

// EnqueueConcept writes one concept_added outbox row under the claim.
func (c *NERClaim) EnqueueConcept(ctx context.Context, payload map[string]interface{}) error {
	return enqueueOutbox(ctx, c.tx, EventConceptAdded, payload)
}

func (c *NERClaim) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ner batch: %w", err)
	}
	return nil
}

func (c *NERClaim) Rollback(ctx context.Context) error {
	err := c.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback ner batch: %w", err)
	}
	return nil
}
