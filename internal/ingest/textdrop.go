package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxTextDropChars caps a raw text submission.
const MaxTextDropChars = 500_000

const (
	maxMetaKeyChars   = 64
	maxMetaValueChars = 1000
)

// ErrDropZoneUnavailable means the drop zone directory does not exist,
// so text submissions cannot be queued.
var ErrDropZoneUnavailable = errors.New("ingest: drop zone unavailable")

// TextDropResult reports where a text submission was queued.
type TextDropResult struct {
	Queued bool   `json:"queued"`
	DocID  string `json:"doc_id"`
	File   string `json:"file"`
}

// QueueText writes raw text into the drop zone as a Markdown file with
// a tracking id and the caller's metadata in its frontmatter. The
// watcher then ingests it like any dropped file. The file lands under
// its final name only once fully written, so a watcher event never
// races a partial write.
func QueueText(dropZone, text string, metadata map[string]interface{}, logger *zap.Logger) (TextDropResult, error) {
	info, err := os.Stat(dropZone)
	if err != nil || !info.IsDir() {
		return TextDropResult{}, ErrDropZoneUnavailable
	}

	docID := uuid.NewString()
	content := frontmatter(docID, metadata) + text

	staging := filepath.Join(dropZone, ".ingest_"+docID)
	final := filepath.Join(dropZone, "ingest_"+docID+".md")
	if err := os.WriteFile(staging, []byte(content), 0o644); err != nil {
		return TextDropResult{}, fmt.Errorf("write drop zone file: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.Remove(staging)
		return TextDropResult{}, fmt.Errorf("publish drop zone file: %w", err)
	}

	logger.Info("text submission queued",
		zap.String("doc_id", docID),
		zap.String("file", final),
		zap.Int("text_len", len(text)))
	return TextDropResult{Queued: true, DocID: docID, File: filepath.Base(final)}, nil
}

// frontmatter renders the tracking id and sanitised metadata. Keys
// lose colons and values lose newlines so every line stays a single
// key: value pair.
func frontmatter(docID string, metadata map[string]interface{}) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("doc_id: " + docID + "\n")
	for _, k := range keys {
		safeKey := strings.ReplaceAll(clipRunes(k, maxMetaKeyChars), ":", "_")
		val := clipRunes(fmt.Sprintf("%v", metadata[k]), maxMetaValueChars)
		val = strings.ReplaceAll(val, "\n", " ")
		b.WriteString(safeKey + ": " + strconv.Quote(val) + "\n")
	}
	b.WriteString("---\n")
	return b.String()
}

func clipRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
