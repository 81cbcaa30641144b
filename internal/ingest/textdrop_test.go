package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/parser"
)

func TestQueueTextWritesDropZoneFile(t *testing.T) {
	dir := t.TempDir()

	res, err := QueueText(dir, "Hello world body.", map[string]interface{}{
		"topic":  "q3: plans",
		"multi":  "line1\nline2",
		"a:b":    "colon key",
		"weight": 3,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, res.Queued)
	_, err = uuid.Parse(res.DocID)
	assert.NoError(t, err)
	assert.Equal(t, "ingest_"+res.DocID+".md", res.File)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging file must not linger")

	data, err := os.ReadFile(filepath.Join(dir, res.File))
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "---\ndoc_id: "+res.DocID+"\n"))
	assert.Contains(t, content, "a_b: \"colon key\"\n")
	assert.Contains(t, content, "multi: \"line1 line2\"\n")
	assert.Contains(t, content, "topic: \"q3: plans\"\n")
	assert.Contains(t, content, "weight: \"3\"\n")
	assert.True(t, strings.HasSuffix(content, "---\nHello world body."))
}

func TestQueueTextRoundTripsThroughMarkdownParser(t *testing.T) {
	dir := t.TempDir()

	res, err := QueueText(dir, "Just the body text.", map[string]interface{}{"source": "api"}, zap.NewNop())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, res.File))
	require.NoError(t, err)

	text, err := parser.ParseMarkdown(data)
	require.NoError(t, err)
	assert.Equal(t, "Just the body text.", strings.TrimSpace(text))
}

func TestQueueTextFileIsWatcherEligible(t *testing.T) {
	dir := t.TempDir()

	res, err := QueueText(dir, "body", nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, ".md", filepath.Ext(res.File))
}

func TestQueueTextMissingDropZone(t *testing.T) {
	_, err := QueueText(filepath.Join(t.TempDir(), "nope"), "body", nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrDropZoneUnavailable)
}

func TestQueueTextDropZoneMustBeDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := QueueText(file, "body", nil, zap.NewNop())
	assert.ErrorIs(t, err, ErrDropZoneUnavailable)
}

func TestQueueTextClipsOversizedMetadata(t *testing.T) {
	dir := t.TempDir()

	longKey := strings.Repeat("k", 100)
	longVal := strings.Repeat("v", 2000)
	res, err := QueueText(dir, "body", map[string]interface{}{longKey: longVal}, zap.NewNop())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, res.File))
	require.NoError(t, err)

	wantLine := strings.Repeat("k", 64) + ": \"" + strings.Repeat("v", 1000) + "\"\n"
	assert.Contains(t, string(data), wantLine)
	assert.NotContains(t, string(data), strings.Repeat("k", 65))
}
