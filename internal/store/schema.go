package store

import (
	"context"
	"fmt"
)

// schemaStatements is executed in order at pool open. Everything is
// idempotent so a restart against an initialized database is a no-op.
// The two %d verbs are the embedding column width.
const schemaStatements = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

DO $$ BEGIN
    CREATE TYPE embedding_status_enum AS ENUM ('pending', 'processing', 'done', 'failed');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;

CREATE TABLE IF NOT EXISTS documents (
    id          UUID PRIMARY KEY,
    source_path TEXT NOT NULL,
    source_type TEXT NOT NULL,
    sha256      TEXT NOT NULL UNIQUE,
    ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at  TIMESTAMPTZ,
    metadata    JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS persons (
    id           UUID PRIMARY KEY,
    email        TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    pii          BOOLEAN NOT NULL DEFAULT true,
    merged_into  UUID REFERENCES persons(id),
    deleted_at   TIMESTAMPTZ,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doc_participants (
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    person_id   UUID NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    role        TEXT NOT NULL,
    PRIMARY KEY (document_id, person_id, role)
);

CREATE INDEX IF NOT EXISTS doc_participants_person_idx
    ON doc_participants (person_id);

CREATE TABLE IF NOT EXISTS chunks (
    id               UUID PRIMARY KEY,
    document_id      UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index      INT NOT NULL,
    text             TEXT NOT NULL,
    embedding        vector(%d),
    embedding_v2     vector(%d),
    embedding_status embedding_status_enum NOT NULL DEFAULT 'pending',
    retry_count      INT NOT NULL DEFAULT 0,
    pii_detected     BOOLEAN NOT NULL DEFAULT false,
    embedded_at      TIMESTAMPTZ,
    ner_scanned_at   TIMESTAMPTZ,
    tsv              tsvector GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
    UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw
    ON chunks USING hnsw (embedding vector_cosine_ops)
    WHERE embedding_status = 'done';
CREATE INDEX IF NOT EXISTS chunks_embedding_v2_hnsw
    ON chunks USING hnsw (embedding_v2 vector_cosine_ops)
    WHERE embedding_status = 'done';
CREATE INDEX IF NOT EXISTS chunks_tsv_gin ON chunks USING gin (tsv);
CREATE INDEX IF NOT EXISTS chunks_pending_idx
    ON chunks (id)
    WHERE embedding_status = 'pending';

CREATE TABLE IF NOT EXISTS outbox (
    id           BIGSERIAL PRIMARY KEY,
    event_type   TEXT NOT NULL,
    payload      JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    processed_at TIMESTAMPTZ,
    attempts     INT NOT NULL DEFAULT 0,
    failed       BOOLEAN NOT NULL DEFAULT false,
    error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS outbox_pending_idx
    ON outbox (created_at)
    WHERE processed_at IS NULL AND NOT failed;

CREATE TABLE IF NOT EXISTS dead_letter (
    id           BIGSERIAL PRIMARY KEY,
    file_path    TEXT NOT NULL UNIQUE,
    error        TEXT NOT NULL,
    attempts     INT NOT NULL DEFAULT 0,
    last_attempt TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS config (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    value_type TEXT NOT NULL DEFAULT 'str',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

INSERT INTO config (key, value, value_type) VALUES
    ('bm25_weight',      '0.5',              'float'),
    ('vector_weight',    '0.5',              'float'),
    ('rrf_k',            '60',               'int'),
    ('chunk_size',       '512',              'int'),
    ('chunk_overlap',    '50',               'int'),
    ('embed_model',      'nomic-embed-text', 'str'),
    ('embed_retry_max',  '5',                'int'),
    ('search_cache_ttl', '60',               'int')
ON CONFLICT (key) DO NOTHING;
`

func (s *Store) ensureSchema(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("ensure schema: invalid embedding dims %d", dims)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(schemaStatements, dims, dims)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
