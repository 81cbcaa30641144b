// Package graph applies outbox events to the graph store and answers
// node lookups. Every mutation is an idempotent MERGE keyed on stable
// ids, so replaying an event that already reached the graph is a no-op.
// Nothing outside this package issues graph writes.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/pkg/falkor"
)

// maxPropertyChars bounds string properties carried onto graph nodes.
// The full metadata map stays in the relational store.
const maxPropertyChars = 256

// Applier translates outbox events into graph mutations.
type Applier struct {
	graph  falkor.GraphClient
	logger *zap.Logger
}

// NewApplier creates an Applier bound to the given graph client.
func NewApplier(graph falkor.GraphClient, logger *zap.Logger) *Applier {
	return &Applier{graph: graph, logger: logger}
}

// Ping reports whether the graph store is reachable.
func (a *Applier) Ping(ctx context.Context) error {
	return a.graph.Ping(ctx)
}

// Apply executes one outbox event against the graph. Unknown event
// types are logged and dropped so a schema-newer producer cannot wedge
// the drain loop.
func (a *Applier) Apply(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case "document_added":
		return a.applyDocumentAdded(ctx, payload)
	case "entity_deleted", "entity_hard_deleted":
		return a.applyEntityDeleted(ctx, payload)
	case "person_merged":
		return a.applyPersonMerged(ctx, payload)
	case "entity_updated":
		return a.applyEntityUpdated(ctx, payload)
	case "concept_added":
		return a.applyConceptAdded(ctx, payload)
	default:
		a.logger.Warn("skipping unknown outbox event type",
			zap.String("event_type", eventType))
		return nil
	}
}

type documentAddedEvent struct {
	DocID      string `json:"doc_id"`
	SourcePath string `json:"source_path"`
	SourceType string `json:"source_type"`
	IngestedAt string `json:"ingested_at"`
	Sender     *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"sender"`
	Recipients []struct {
		Email string `json:"email"`
		Name  string `json:"name"`
		Field string `json:"field"`
	} `json:"recipients"`
}

func (a *Applier) applyDocumentAdded(ctx context.Context, payload []byte) error {
	var ev documentAddedEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode document_added: %w", err)
	}

	if ev.Sender != nil {
		_, err := a.graph.Query(ctx,
			`MERGE (p:Person {email: $email})
			 ON CREATE SET p.id = $pid, p.display_name = $name, p.pii = true
			 MERGE (d:Document {id: $doc_id})
			 ON CREATE SET d.source_path = $path, d.source_type = $type, d.ingested_at = $ts
			 MERGE (p)-[r:SENT {thread_id: $doc_id}]->(d)
			 ON CREATE SET r.valid_at = $ts`,
			map[string]interface{}{
				"email":  ev.Sender.Email,
				"pid":    ev.Sender.ID,
				"name":   truncate(ev.Sender.Name, maxPropertyChars),
				"doc_id": ev.DocID,
				"path":   ev.SourcePath,
				"type":   ev.SourceType,
				"ts":     ev.IngestedAt,
			})
		if err != nil {
			return fmt.Errorf("merge sender: %w", err)
		}
	} else {
		// Senderless sources (markdown, pdf) still get a document node.
		_, err := a.graph.Query(ctx,
			`MERGE (d:Document {id: $doc_id})
			 ON CREATE SET d.source_path = $path, d.source_type = $type, d.ingested_at = $ts`,
			map[string]interface{}{
				"doc_id": ev.DocID,
				"path":   ev.SourcePath,
				"type":   ev.SourceType,
				"ts":     ev.IngestedAt,
			})
		if err != nil {
			return fmt.Errorf("merge document: %w", err)
		}
	}

	for _, r := range ev.Recipients {
		if r.Email == "" {
			continue
		}
		field := r.Field
		if field == "" {
			field = "to"
		}
		_, err := a.graph.Query(ctx,
			`MERGE (p:Person {email: $email})
			 ON CREATE SET p.pii = true
			 MERGE (d:Document {id: $doc_id})
			 MERGE (p)-[rel:RECEIVED {thread_id: $doc_id, field: $field}]->(d)
			 ON CREATE SET rel.valid_at = $ts`,
			map[string]interface{}{
				"email":  r.Email,
				"doc_id": ev.DocID,
				"field":  field,
				"ts":     ev.IngestedAt,
			})
		if err != nil {
			return fmt.Errorf("merge recipient %s: %w", r.Email, err)
		}
	}
	return nil
}

type entityDeletedEvent struct {
	EntityID string `json:"entity_id"`
}

func (a *Applier) applyEntityDeleted(ctx context.Context, payload []byte) error {
	var ev entityDeletedEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode entity_deleted: %w", err)
	}
	_, err := a.graph.Query(ctx,
		`MATCH (n {id: $id}) DETACH DELETE n`,
		map[string]interface{}{"id": ev.EntityID})
	if err != nil {
		return fmt.Errorf("detach delete %s: %w", ev.EntityID, err)
	}
	return nil
}

type personMergedEvent struct {
	MergedFrom string `json:"merged_from"`
	MergedAt   string `json:"merged_at"`
}

func (a *Applier) applyPersonMerged(ctx context.Context, payload []byte) error {
	var ev personMergedEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode person_merged: %w", err)
	}
	// The loser's history stays queryable; edges are closed, not removed.
	_, err := a.graph.Query(ctx,
		`MATCH (a:Person {id: $from_id})-[r]->() SET r.invalid_at = $ts`,
		map[string]interface{}{"from_id": ev.MergedFrom, "ts": ev.MergedAt})
	if err != nil {
		return fmt.Errorf("invalidate edges of %s: %w", ev.MergedFrom, err)
	}
	return nil
}

type entityUpdatedEvent struct {
	EntityID  string                 `json:"entity_id"`
	Diff      map[string]interface{} `json:"diff"`
	UpdatedAt string                 `json:"updated_at"`
}

func (a *Applier) applyEntityUpdated(ctx context.Context, payload []byte) error {
	var ev entityUpdatedEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode entity_updated: %w", err)
	}

	props := scalarProps(ev.Diff)
	if len(props) == 0 {
		return nil
	}

	params := map[string]interface{}{"id": ev.EntityID}
	clauses := make([]string, 0, len(props))
	for name, value := range props {
		param := "p_" + name
		clauses = append(clauses, fmt.Sprintf("n.`%s` = $%s", name, param))
		params[param] = value
	}

	_, err := a.graph.Query(ctx,
		fmt.Sprintf("MATCH (n {id: $id}) SET %s", strings.Join(clauses, ", ")),
		params)
	if err != nil {
		return fmt.Errorf("update node %s: %w", ev.EntityID, err)
	}
	return nil
}

type conceptAddedEvent struct {
	DocID       string `json:"doc_id"`
	ChunkID     string `json:"chunk_id"`
	EntityText  string `json:"entity_text"`
	EntityLabel string `json:"entity_label"`
	ValidAt     string `json:"valid_at"`
}

func (a *Applier) applyConceptAdded(ctx context.Context, payload []byte) error {
	var ev conceptAddedEvent
	if err := sonic.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode concept_added: %w", err)
	}
	_, err := a.graph.Query(ctx,
		`MERGE (c:Concept {name: $name})
		 ON CREATE SET c.label = $label
		 MERGE (ch:Chunk {id: $chunk_id})
		 ON CREATE SET ch.document_id = $doc_id
		 MERGE (ch)-[r:MENTIONS]->(c)
		 ON CREATE SET r.valid_at = $ts`,
		map[string]interface{}{
			"name":     truncate(ev.EntityText, maxPropertyChars),
			"label":    ev.EntityLabel,
			"chunk_id": ev.ChunkID,
			"doc_id":   ev.DocID,
			"ts":       ev.ValidAt,
		})
	if err != nil {
		return fmt.Errorf("merge concept %q: %w", ev.EntityText, err)
	}
	return nil
}

// scalarProps keeps only values the graph store can hold as node
// properties. Nested maps stay in the relational store, except a
// "subject" key which is lifted out for display.
func scalarProps(diff map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(diff))
	for name, value := range diff {
		name = sanitizeProp(name)
		if name == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			out[name] = truncate(v, maxPropertyChars)
		case bool, float64, int, int64:
			out[name] = v
		case map[string]interface{}:
			if subject, ok := v["subject"].(string); ok {
				out["subject"] = truncate(subject, maxPropertyChars)
			}
		}
	}
	return out
}

func sanitizeProp(name string) string {
	return strings.ReplaceAll(name, "`", "")
}

// truncate caps s at max runes. Byte slicing could split a multi-byte
// rune and feed invalid UTF-8 into a CYPHER string.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
