package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/pkg/falkor"
)

type recordedQuery struct {
	cypher string
	params map[string]interface{}
}

// fakeGraph records every query and can be told to fail.
type fakeGraph struct {
	queries []recordedQuery
	reads   []recordedQuery
	result  *falkor.Result
	err     error
}

func (f *fakeGraph) Query(_ context.Context, cypher string, params map[string]interface{}) (*falkor.Result, error) {
	f.queries = append(f.queries, recordedQuery{cypher, params})
	if f.err != nil {
		return nil, f.err
	}
	return &falkor.Result{}, nil
}

func (f *fakeGraph) ReadQuery(_ context.Context, cypher string, params map[string]interface{}) (*falkor.Result, error) {
	f.reads = append(f.reads, recordedQuery{cypher, params})
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &falkor.Result{}, nil
}

func (f *fakeGraph) Ping(context.Context) error { return f.err }
func (f *fakeGraph) Close()                     {}

func newTestApplier(fake *fakeGraph) *Applier {
	return NewApplier(fake, zap.NewNop())
}

func TestApplyDocumentAddedWithSender(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"doc_id": "d1",
		"source_path": "/drop/mail.eml",
		"source_type": "mail",
		"ingested_at": "2026-01-02T03:04:05Z",
		"sender": {"id": "p1", "email": "alice@example.com", "name": "Alice"},
		"recipients": [
			{"email": "bob@example.com", "name": "Bob", "field": "to"},
			{"email": "carol@example.com", "name": "Carol", "field": "cc"}
		]
	}`)

	require.NoError(t, a.Apply(context.Background(), "document_added", payload))
	require.Len(t, fake.queries, 3)

	sent := fake.queries[0]
	assert.Contains(t, sent.cypher, "MERGE (p:Person {email: $email})")
	assert.Contains(t, sent.cypher, "[r:SENT {thread_id: $doc_id}]")
	assert.Equal(t, "alice@example.com", sent.params["email"])
	assert.Equal(t, "p1", sent.params["pid"])
	assert.Equal(t, "2026-01-02T03:04:05Z", sent.params["ts"])

	received := fake.queries[1]
	assert.Contains(t, received.cypher, "RECEIVED {thread_id: $doc_id, field: $field}")
	assert.Equal(t, "bob@example.com", received.params["email"])
	assert.Equal(t, "to", received.params["field"])

	assert.Equal(t, "cc", fake.queries[2].params["field"])
}

func TestApplyDocumentAddedWithoutSender(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"doc_id": "d2",
		"source_path": "/drop/notes.md",
		"source_type": "markdown",
		"ingested_at": "2026-01-02T03:04:05Z",
		"recipients": []
	}`)

	require.NoError(t, a.Apply(context.Background(), "document_added", payload))
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0].cypher, "MERGE (d:Document {id: $doc_id})")
	assert.NotContains(t, fake.queries[0].cypher, "Person")
}

func TestApplyDocumentAddedSkipsEmptyRecipientEmail(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"doc_id": "d3",
		"source_type": "mail",
		"ingested_at": "2026-01-02T03:04:05Z",
		"sender": {"id": "p1", "email": "alice@example.com", "name": "Alice"},
		"recipients": [{"email": "", "field": "to"}]
	}`)

	require.NoError(t, a.Apply(context.Background(), "document_added", payload))
	assert.Len(t, fake.queries, 1)
}

func TestApplyEntityDeleted(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{"entity_type": "person", "entity_id": "p9", "deleted_at": "2026-01-02T00:00:00Z"}`)
	require.NoError(t, a.Apply(context.Background(), "entity_deleted", payload))

	require.Len(t, fake.queries, 1)
	assert.Equal(t, "MATCH (n {id: $id}) DETACH DELETE n", fake.queries[0].cypher)
	assert.Equal(t, "p9", fake.queries[0].params["id"])
}

func TestApplyEntityHardDeletedSharesDeletePath(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	require.NoError(t, a.Apply(context.Background(), "entity_hard_deleted", []byte(`{"entity_id": "d4"}`)))
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0].cypher, "DETACH DELETE")
}

func TestApplyPersonMerged(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"merged_from": "loser",
		"merged_into": "winner",
		"merged_at": "2026-03-04T05:06:07Z"
	}`)
	require.NoError(t, a.Apply(context.Background(), "person_merged", payload))

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q.cypher, "SET r.invalid_at = $ts")
	assert.Equal(t, "loser", q.params["from_id"])
	assert.Equal(t, "2026-03-04T05:06:07Z", q.params["ts"])
}

func TestApplyEntityUpdatedScalarDiff(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"entity_type": "person",
		"entity_id": "p1",
		"diff": {"display_name": "Alice B.", "pii": false},
		"updated_at": "2026-01-01T00:00:00Z"
	}`)
	require.NoError(t, a.Apply(context.Background(), "entity_updated", payload))

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q.cypher, "MATCH (n {id: $id}) SET ")
	assert.Contains(t, q.cypher, "n.`display_name` = $p_display_name")
	assert.Contains(t, q.cypher, "n.`pii` = $p_pii")
	assert.Equal(t, "Alice B.", q.params["p_display_name"])
	assert.Equal(t, false, q.params["p_pii"])
}

func TestApplyEntityUpdatedLiftsSubjectFromMetadata(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	subject := strings.Repeat("s", 300)
	payload := []byte(`{
		"entity_id": "d1",
		"diff": {"metadata": {"subject": "` + subject + `", "attachments": [1, 2]}},
		"updated_at": "2026-01-01T00:00:00Z"
	}`)
	require.NoError(t, a.Apply(context.Background(), "entity_updated", payload))

	require.Len(t, fake.queries, 1)
	got, ok := fake.queries[0].params["p_subject"].(string)
	require.True(t, ok)
	assert.Len(t, got, maxPropertyChars)
}

func TestApplyEntityUpdatedClipsSubjectOnRuneBoundary(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	subject := strings.Repeat("ü", 300)
	payload := []byte(`{
		"entity_id": "d1",
		"diff": {"metadata": {"subject": "` + subject + `"}},
		"updated_at": "2026-01-01T00:00:00Z"
	}`)
	require.NoError(t, a.Apply(context.Background(), "entity_updated", payload))

	require.Len(t, fake.queries, 1)
	got, ok := fake.queries[0].params["p_subject"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxPropertyChars, utf8.RuneCountInString(got))
}

func TestApplyEntityUpdatedEmptyDiffIsNoop(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{"entity_id": "d1", "diff": {}, "updated_at": "2026-01-01T00:00:00Z"}`)
	require.NoError(t, a.Apply(context.Background(), "entity_updated", payload))
	assert.Empty(t, fake.queries)
}

func TestApplyConceptAdded(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	payload := []byte(`{
		"doc_id": "d1",
		"chunk_id": "c1",
		"entity_text": "Acme Corp",
		"entity_label": "ORG",
		"valid_at": "2026-01-02T03:04:05Z"
	}`)
	require.NoError(t, a.Apply(context.Background(), "concept_added", payload))

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q.cypher, "MERGE (c:Concept {name: $name})")
	assert.Contains(t, q.cypher, "[r:MENTIONS]")
	assert.Equal(t, "Acme Corp", q.params["name"])
	assert.Equal(t, "ORG", q.params["label"])
}

func TestApplyUnknownEventTypeIsDropped(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	require.NoError(t, a.Apply(context.Background(), "mystery_event", []byte(`{}`)))
	assert.Empty(t, fake.queries)
}

func TestApplyPropagatesGraphErrors(t *testing.T) {
	fake := &fakeGraph{err: errors.New("connection reset")}
	a := newTestApplier(fake)

	err := a.Apply(context.Background(), "entity_deleted", []byte(`{"entity_id": "x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestBrowseNodesRejectsUnknownLabel(t *testing.T) {
	a := newTestApplier(&fakeGraph{})

	_, err := a.BrowseNodes(context.Background(), "Malware", nil)
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestBrowseNodesBuildsFilteredQuery(t *testing.T) {
	fake := &fakeGraph{result: &falkor.Result{
		Columns: []string{"n"},
		Rows: [][]interface{}{
			{falkor.Node{ID: 1, Labels: []string{"Person"}, Properties: map[string]interface{}{"email": "alice@example.com"}}},
		},
	}}
	a := newTestApplier(fake)

	nodes, err := a.BrowseNodes(context.Background(), "Person", map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "alice@example.com", nodes[0]["email"])

	require.Len(t, fake.reads, 1)
	q := fake.reads[0]
	assert.Contains(t, q.cypher, "MATCH (n:Person) WHERE n.`email` = $p_email RETURN n LIMIT 50")
	assert.Equal(t, "alice@example.com", q.params["p_email"])
}

func TestBrowseNodesSanitizesFilters(t *testing.T) {
	fake := &fakeGraph{}
	a := newTestApplier(fake)

	// Backticks are stripped; oversized names and values are dropped.
	filters := map[string]string{
		"na`me":                 "x",
		strings.Repeat("p", 65): "too long prop",
		"ok":                    strings.Repeat("v", 1001),
	}
	_, err := a.BrowseNodes(context.Background(), "Document", filters)
	require.NoError(t, err)

	require.Len(t, fake.reads, 1)
	q := fake.reads[0]
	assert.Contains(t, q.cypher, "n.`name` = $p_name")
	assert.NotContains(t, q.cypher, "ok")
	assert.NotContains(t, q.cypher, strings.Repeat("p", 65))
}
