// Package store owns the relational schema and every SQL statement in
// the system. It wraps a process-wide pgx pool with pgvector types
// registered on each connection; repositories are method sets on Store
// grouped by table.
package store

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by callers with errors.Is.
var (
	// ErrDuplicate means the document fingerprint is already ingested.
	ErrDuplicate = errors.New("store: duplicate fingerprint")
	// ErrNotFound means the addressed row does not exist or is deleted.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyMerged means the merge source already carries a
	// merged_into reference and cannot be merged again.
	ErrAlreadyMerged = errors.New("store: person already merged")
)

// UnknownFieldError rejects an update diff key outside the allowlist.
type UnknownFieldError struct {
	EntityType string
	Field      string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("store: field %q is not updatable on %s", e.Field, e.EntityType)
}

// FieldValueError rejects an update diff value of the wrong shape.
type FieldValueError struct {
	Field string
	Want  string
}

func (e *FieldValueError) Error() string {
	return fmt.Sprintf("store: field %q requires a %s value", e.Field, e.Want)
}

// EmbeddingStatus is the chunk embedding lifecycle.
type EmbeddingStatus string

const (
	StatusPending    EmbeddingStatus = "pending"
	StatusProcessing EmbeddingStatus = "processing"
	StatusDone       EmbeddingStatus = "done"
	StatusFailed     EmbeddingStatus = "failed"
)

// Document is one ingested source document.
type Document struct {
	ID         string
	SourcePath string
	SourceType string
	SHA256     string
	IngestedAt time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	Metadata   map[string]interface{}
}

// Person is a mail participant, deduplicated by case-folded email.
type Person struct {
	ID          string
	Email       string
	DisplayName string
	PII         bool
	MergedInto  *string
	DeletedAt   *time.Time
	UpdatedAt   time.Time
}

// NewChunk is the coordinator's input row: text plus its PII verdict.
type NewChunk struct {
	Index       int
	Text        string
	PIIDetected bool
}

// ClaimedChunk is one row returned by a pending-chunk claim.
type ClaimedChunk struct {
	ID         string
	Text       string
	RetryCount int
}

// ReindexChunk is one row of a rolling-upgrade claim.
type ReindexChunk struct {
	ID   string
	Text string
}

// NERChunk is one row of a concept-scan claim.
type NERChunk struct {
	ID    string
	DocID string
	Text  string
}

// ScoredChunk is a retrieval hit: chunk id plus the leg's raw score.
type ScoredChunk struct {
	ID    string
	Score float64
}

// ChunkDetail hydrates a fused chunk id for result assembly.
type ChunkDetail struct {
	Text       string
	DocID      string
	SourcePath string
	Sender     string
}

// PIIChunk is one row of the PII report.
type PIIChunk struct {
	ID    string
	Text  string
	DocID string
}

// PIIPerson is one row of the PII report person listing.
type PIIPerson struct {
	ID          string
	DisplayName string
	Email       string
	DocCount    int
}

// OutboxEvent is a durable record of a graph side effect.
type OutboxEvent struct {
	ID          int64
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Attempts    int
	Failed      bool
	Error       string
}

// Outbox event types. Graph writes happen only through these.
const (
	EventDocumentAdded     = "document_added"
	EventEntityDeleted     = "entity_deleted"
	EventPersonMerged      = "person_merged"
	EventEntityUpdated     = "entity_updated"
	EventEntityHardDeleted = "entity_hard_deleted"
	EventConceptAdded      = "concept_added"
)

// DeadLetter is a file the intake pipeline could not ingest.
type DeadLetter struct {
	ID          int64
	FilePath    string
	Error       string
	Attempts    int
	LastAttempt time.Time
}

// MergeCandidate is one scored person pair proposed for operator review.
type MergeCandidate struct {
	IDA        string  `json:"id_a"`
	NameA      string  `json:"name_a"`
	IDB        string  `json:"id_b"`
	NameB      string  `json:"name_b"`
	JWScore    float64 `json:"jw_score"`
	SameDomain bool    `json:"same_domain"`
	SharedDocs int     `json:"shared_docs"`
}

// PurgeResult summarizes one hard-delete sweep.
type PurgeResult struct {
	DocIDs        []string
	PersonIDs     []string
	DeletedChunks int64
}
