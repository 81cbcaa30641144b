package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestRecipient mirrors a parsed mail recipient for persistence.
type IngestRecipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Field string `json:"field"`
}

// IngestParams carries everything one document ingest persists.
type IngestParams struct {
	SourcePath  string
	SourceType  string
	SHA256      string
	SenderEmail string
	SenderName  string
	Recipients  []IngestRecipient
	Metadata    map[string]interface{}
	Chunks      []NewChunk
}

// documentAddedPayload is the outbox payload of a document_added event.
type documentAddedPayload struct {
	DocID      string            `json:"doc_id"`
	SourcePath string            `json:"source_path"`
	SourceType string            `json:"source_type"`
	IngestedAt string            `json:"ingested_at"`
	Sender     *payloadSender    `json:"sender,omitempty"`
	Recipients []IngestRecipient `json:"recipients"`
}

type payloadSender struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// IngestDocument persists one document, its participants, its chunks,
// and the document_added outbox row in a single transaction. Everything
// commits together or not at all; the two stores converge through the
// outbox drain. Returns ErrDuplicate when the fingerprint is already
// ingested.
func (s *Store) IngestDocument(ctx context.Context, p IngestParams) (string, error) {
	docID := uuid.New().String()
	now := time.Now().UTC()

	meta, err := sonic.Marshal(nonNilMetadata(p.Metadata))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, source_path, source_type, sha256, ingested_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $5, $6)`,
		docID, p.SourcePath, p.SourceType, p.SHA256, now, meta)
	if err != nil {
		if isUniqueViolation(err, "documents_sha256_key") {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("insert document: %w", err)
	}

	payload := documentAddedPayload{
		DocID:      docID,
		SourcePath: p.SourcePath,
		SourceType: p.SourceType,
		IngestedAt: now.Format(time.RFC3339),
		Recipients: []IngestRecipient{},
	}

	if p.SenderEmail != "" {
		senderID, err := upsertPerson(ctx, tx, p.SenderEmail, p.SenderName, true)
		if err != nil {
			return "", err
		}
		if err := linkParticipant(ctx, tx, docID, senderID, RoleSender); err != nil {
			return "", err
		}
		payload.Sender = &payloadSender{
			ID:    senderID,
			Email: normalizeEmail(p.SenderEmail),
			Name:  p.SenderName,
		}
	}

	for _, r := range p.Recipients {
		if r.Email == "" {
			continue
		}
		personID, err := upsertPerson(ctx, tx, r.Email, r.Name, false)
		if err != nil {
			return "", err
		}
		role := r.Field
		if role == "" {
			role = RoleTo
		}
		if err := linkParticipant(ctx, tx, docID, personID, role); err != nil {
			return "", err
		}
		r.Email = normalizeEmail(r.Email)
		payload.Recipients = append(payload.Recipients, r)
	}

	for _, c := range p.Chunks {
		// Duplicate chunk indices inside one document are skipped so a
		// re-run of the same parse is idempotent.
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, text, embedding_status, retry_count, pii_detected)
			VALUES ($1, $2, $3, $4, 'pending', 0, $5)
			ON CONFLICT (document_id, chunk_index) DO NOTHING`,
			uuid.New().String(), docID, c.Index, c.Text, c.PIIDetected)
		if err != nil {
			return "", fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	if err := enqueueOutbox(ctx, tx, EventDocumentAdded, payload); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit ingest: %w", err)
	}

	s.log.Info("document ingested",
		zap.String("doc_id", docID),
		zap.String("source_path", p.SourcePath),
		zap.String("source_type", p.SourceType),
		zap.Int("chunks", len(p.Chunks)))
	return docID, nil
}

// FingerprintExists reports whether a document with this fingerprint is
// already stored. Used by the watcher as a cheap duplicate short-circuit
// before parsing; the insert itself is the authoritative check.
func (s *Store) FingerprintExists(ctx context.Context, sha256 string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM documents WHERE sha256 = $1`, sha256).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("fingerprint lookup: %w", err)
	}
	return true, nil
}

// SoftDeleteDocument stamps deleted_at and enqueues the graph
// invalidation in the same transaction. Already-deleted or unknown ids
// return ErrNotFound.
func (s *Store) SoftDeleteDocument(ctx context.Context, id string) (time.Time, error) {
	return s.softDelete(ctx, "documents", "document", id)
}

// SoftDeletePerson is the persons counterpart of SoftDeleteDocument.
func (s *Store) SoftDeletePerson(ctx context.Context, id string) (time.Time, error) {
	return s.softDelete(ctx, "persons", "person", id)
}

func (s *Store) softDelete(ctx context.Context, table, entityType, id string) (time.Time, error) {
	now := time.Now().UTC()

	tx, err := s.begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET deleted_at = $1 WHERE id = $2::uuid AND deleted_at IS NULL`, table),
		now, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("soft delete %s: %w", entityType, err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, ErrNotFound
	}

	err = enqueueOutbox(ctx, tx, EventEntityDeleted, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   id,
		"deleted_at":  now.Format(time.RFC3339),
	})
	if err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit soft delete: %w", err)
	}

	s.log.Info("entity soft-deleted",
		zap.String("entity_type", entityType), zap.String("id", id))
	return now, nil
}

// PurgeExpired hard-deletes documents and persons whose soft-delete
// timestamp is older than cutoff. Chunks cascade through the foreign
// key; one entity_hard_deleted outbox row per removed entity is written
// in the same transaction.
func (s *Store) PurgeExpired(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult

	tx, err := s.begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res.DocIDs, err = collectIDs(ctx, tx,
		`SELECT id::text FROM documents WHERE deleted_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("collect expired documents: %w", err)
	}
	res.PersonIDs, err = collectIDs(ctx, tx,
		`SELECT id::text FROM persons WHERE deleted_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("collect expired persons: %w", err)
	}

	if len(res.DocIDs) == 0 && len(res.PersonIDs) == 0 {
		return res, tx.Rollback(ctx)
	}

	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.deleted_at < $1`, cutoff).Scan(&res.DeletedChunks); err != nil {
		return res, fmt.Errorf("count cascading chunks: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE deleted_at < $1`, cutoff); err != nil {
		return res, fmt.Errorf("purge documents: %w", err)
	}
	// Merge survivors may still reference an expired loser; detach first.
	if _, err := tx.Exec(ctx, `
		UPDATE persons SET merged_into = NULL
		WHERE merged_into IN (SELECT id FROM persons WHERE deleted_at < $1)`, cutoff); err != nil {
		return res, fmt.Errorf("detach merged references: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM persons WHERE deleted_at < $1`, cutoff); err != nil {
		return res, fmt.Errorf("purge persons: %w", err)
	}

	for _, id := range append(append([]string{}, res.DocIDs...), res.PersonIDs...) {
		err := enqueueOutbox(ctx, tx, EventEntityHardDeleted, map[string]interface{}{
			"entity_id": id,
		})
		if err != nil {
			return res, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit purge: %w", err)
	}

	s.log.Info("expired entities purged",
		zap.Int("documents", len(res.DocIDs)),
		zap.Int("persons", len(res.PersonIDs)),
		zap.Int64("chunks", res.DeletedChunks))
	return res, nil
}

func collectIDs(ctx context.Context, q querier, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNilMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
