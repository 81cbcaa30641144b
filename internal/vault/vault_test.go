package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNote() DocumentNote {
	return DocumentNote{
		DocID:       "3f2b8c91-aaaa-bbbb-cccc-000011112222",
		SourcePath:  "/drop/zone/mail.mbox",
		SourceType:  "mail",
		SenderEmail: "ada@acme.com",
		Subject:     "Quarterly Report: Q3/2025",
		IngestedAt:  time.Date(2025, 10, 2, 9, 30, 0, 0, time.UTC),
	}
}

func TestWritePersonNote(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())

	path, err := m.WritePersonNote("ada@acme.com", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "persons", "ada_acme.com.md"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, `email: "ada@acme.com"`)
	assert.Contains(t, content, `display_name: "Ada Lovelace"`)
	assert.Contains(t, content, "# Ada Lovelace")
}

func TestWritePersonNoteFallsBackToEmailTitle(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())

	path, err := m.WritePersonNote("bot@acme.com", "")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# bot@acme.com")
}

func TestWriteDocumentNote(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())
	note := testNote()

	path, err := m.WriteDocumentNote(note)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report_ Q3_2025_3f2b8c91.md", filepath.Base(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, `doc_id: "3f2b8c91-aaaa-bbbb-cccc-000011112222"`)
	assert.Contains(t, content, `sender: "[[persons/ada_acme.com]]"`)
	assert.Contains(t, content, "# Quarterly Report: Q3/2025")
	assert.Contains(t, content, "- **Ingested:** 2025-10-02 09:30 UTC")
}

func TestWriteDocumentNoteTruncatesLongSubjects(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())
	note := testNote()
	note.Subject = strings.Repeat("a", 100)

	path, err := m.WriteDocumentNote(note)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 60)+"_3f2b8c91.md", filepath.Base(path))
}

func TestWriteDocumentNoteOverwritesReadOnly(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())
	note := testNote()

	first, err := m.WriteDocumentNote(note)
	require.NoError(t, err)

	note.SourceType = "markdown"
	second, err := m.WriteDocumentNote(note)
	require.NoError(t, err)
	require.Equal(t, first, second)

	raw, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `source_type: "markdown"`)
}

func TestUpdateDocumentWikilinksMerges(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())
	note := testNote()

	_, err := m.WriteDocumentNote(note)
	require.NoError(t, err)

	_, err = m.UpdateDocumentWikilinks(note.DocID, []string{"Grace Hopper"})
	require.NoError(t, err)
	path, err := m.UpdateDocumentWikilinks(note.DocID, []string{"Alan Turing"})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	assert.Equal(t, 1, strings.Count(content, "## Mentions"))
	turing := strings.Index(content, "- [[persons/Alan Turing]]")
	hopper := strings.Index(content, "- [[persons/Grace Hopper]]")
	require.Positive(t, turing)
	require.Positive(t, hopper)
	assert.Less(t, turing, hopper)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}

func TestUpdateDocumentWikilinksMissingNote(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())

	path, err := m.UpdateDocumentWikilinks("ffffffff-0000-0000-0000-000000000000", []string{"Nobody"})
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRefreshDocumentAddedWritesPersonNotes(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())

	payload := []byte(`{
		"doc_id": "3f2b8c91-aaaa-bbbb-cccc-000011112222",
		"sender": {"id": "p1", "email": "ada@acme.com", "name": "Ada Lovelace"},
		"recipients": [{"email": "bob@acme.com", "name": "Bob", "field": "to"}]
	}`)
	m.Refresh(context.Background(), "document_added", payload)

	assert.FileExists(t, filepath.Join(dir, "persons", "ada_acme.com.md"))
	assert.FileExists(t, filepath.Join(dir, "persons", "bob_acme.com.md"))
}

func TestRefreshConceptAddedAddsMention(t *testing.T) {
	dir := t.TempDir()
	m := NewMirror(dir, zap.NewNop())
	note := testNote()

	path, err := m.WriteDocumentNote(note)
	require.NoError(t, err)

	payload := []byte(`{"doc_id": "3f2b8c91-aaaa-bbbb-cccc-000011112222", "chunk_id": "c1", "entity_text": "Grace Hopper", "entity_label": "PERSON"}`)
	m.Refresh(context.Background(), "concept_added", payload)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "- [[persons/Grace Hopper]]")
}

func TestDisabledMirrorIsNoop(t *testing.T) {
	m := NewMirror("", zap.NewNop())
	assert.False(t, m.Enabled())

	path, err := m.WriteDocumentNote(testNote())
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = m.WritePersonNote("a@b.c", "A")
	require.NoError(t, err)
	assert.Empty(t, path)
}
