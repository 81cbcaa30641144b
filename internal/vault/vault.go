// Package vault mirrors persons and documents into a directory of
// read-only Markdown notes with YAML frontmatter and wikilinks, laid
// out for an Obsidian vault. Every write is best-effort: a mirror
// failure never blocks ingest or the outbox drain.
package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	personsDir   = "persons"
	documentsDir = "documents"

	// noteMode keeps mirrored notes read-only inside the vault.
	noteMode = os.FileMode(0o444)

	// maxSubjectChars bounds the subject part of a document filename.
	maxSubjectChars = 60

	mentionsMarker = "\n## Mentions\n"
)

// DocumentNote is the ingest-time snapshot a document note renders.
type DocumentNote struct {
	DocID       string
	SourcePath  string
	SourceType  string
	SenderEmail string
	Subject     string
	IngestedAt  time.Time
}

// Mirror writes notes under one vault root. A Mirror with an empty
// root is disabled and every method is a no-op.
type Mirror struct {
	root   string
	logger *zap.Logger
}

func NewMirror(root string, logger *zap.Logger) *Mirror {
	return &Mirror{root: root, logger: logger}
}

// Enabled reports whether a vault root is configured.
func (m *Mirror) Enabled() bool {
	return m.root != ""
}

// WritePersonNote renders persons/<email>.md.
func (m *Mirror) WritePersonNote(email, displayName string) (string, error) {
	if !m.Enabled() || email == "" {
		return "", nil
	}

	dir := filepath.Join(m.root, personsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("vault persons dir: %w", err)
	}

	title := displayName
	if title == "" {
		title = email
	}
	content := fmt.Sprintf(`---
email: %q
display_name: %q
type: person
---

# %s

- **Email:** %s
`, email, displayName, title, email)

	path := filepath.Join(dir, safeFilename(email)+".md")
	if err := m.writeReadOnly(path, content); err != nil {
		return "", err
	}
	m.logger.Debug("vault person note written", zap.String("path", path))
	return path, nil
}

// WriteDocumentNote renders documents/<subject>_<docid>.md. The
// filename keeps the first 60 subject characters so notes sort by
// topic, with a doc-id suffix for uniqueness.
func (m *Mirror) WriteDocumentNote(note DocumentNote) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	dir := filepath.Join(m.root, documentsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("vault documents dir: %w", err)
	}

	subject := safeFilename(note.Subject)
	if subject == "" {
		subject = safeFilename(note.DocID)
	}
	if subject == "" {
		subject = "doc-" + clipRunes(note.DocID, 12)
	}
	name := clipRunes(subject, maxSubjectChars) + "_" + clipRunes(note.DocID, 8) + ".md"

	title := note.Subject
	if title == "" {
		title = note.SourcePath
	}
	senderLink := "[[" + personsDir + "/" + safeFilename(note.SenderEmail) + "]]"
	content := fmt.Sprintf(`---
doc_id: %q
source_path: %q
source_type: %q
sender: %q
ingested_at: %q
---

# %s

- **Source:** `+"`%s`"+`
- **Type:** %s
- **Sender:** %s
- **Ingested:** %s UTC
`,
		note.DocID, note.SourcePath, note.SourceType, senderLink,
		note.IngestedAt.UTC().Format(time.RFC3339),
		title, note.SourcePath, note.SourceType, senderLink,
		note.IngestedAt.UTC().Format("2006-01-02 15:04"))

	path := filepath.Join(dir, name)
	if err := m.writeReadOnly(path, content); err != nil {
		return "", err
	}
	m.logger.Debug("vault document note written", zap.String("path", path))
	return path, nil
}

// UpdateDocumentWikilinks merges mention links into the document
// note's Mentions section. Existing links survive, so per-event
// refreshes accumulate instead of clobbering each other.
func (m *Mirror) UpdateDocumentWikilinks(docID string, mentions []string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}

	pattern := filepath.Join(m.root, documentsDir, "*_"+clipRunes(docID, 8)+".md")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		m.logger.Warn("vault note not found for wikilinks", zap.String("doc_id", docID))
		return "", nil
	}
	path := matches[0]

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read vault note: %w", err)
	}

	body := string(raw)
	merged := make(map[string]struct{})
	if idx := strings.Index(body, mentionsMarker); idx >= 0 {
		for _, line := range strings.Split(body[idx+len(mentionsMarker):], "\n") {
			link := strings.TrimSuffix(strings.TrimPrefix(line, "- [["+personsDir+"/"), "]]")
			if link != line && link != "" {
				merged[link] = struct{}{}
			}
		}
		body = body[:idx]
	}
	for _, mention := range mentions {
		if s := safeFilename(mention); s != "" {
			merged[s] = struct{}{}
		}
	}
	if len(merged) == 0 {
		return path, nil
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	b.WriteString(mentionsMarker)
	for _, name := range names {
		fmt.Fprintf(&b, "- [[%s/%s]]\n", personsDir, name)
	}

	if err := m.writeReadOnly(path, b.String()); err != nil {
		return "", err
	}
	m.logger.Debug("vault wikilinks updated",
		zap.String("doc_id", docID), zap.Int("mentions", len(names)))
	return path, nil
}

// Refresh is the outbox drain hook: after an event reaches the graph,
// the notes it touches are rewritten. Failures are logged and dropped.
func (m *Mirror) Refresh(_ context.Context, eventType string, payload []byte) {
	if !m.Enabled() {
		return
	}

	switch eventType {
	case "document_added":
		var p struct {
			Sender *struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			} `json:"sender"`
			Recipients []struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			} `json:"recipients"`
		}
		if err := sonic.Unmarshal(payload, &p); err != nil {
			m.logger.Warn("vault refresh: bad payload", zap.Error(err))
			return
		}
		if p.Sender != nil {
			if _, err := m.WritePersonNote(p.Sender.Email, p.Sender.Name); err != nil {
				m.logger.Warn("vault person note failed", zap.Error(err))
			}
		}
		for _, r := range p.Recipients {
			if _, err := m.WritePersonNote(r.Email, r.Name); err != nil {
				m.logger.Warn("vault person note failed", zap.Error(err))
			}
		}
	case "concept_added":
		var p struct {
			DocID      string `json:"doc_id"`
			EntityText string `json:"entity_text"`
		}
		if err := sonic.Unmarshal(payload, &p); err != nil {
			m.logger.Warn("vault refresh: bad payload", zap.Error(err))
			return
		}
		if _, err := m.UpdateDocumentWikilinks(p.DocID, []string{p.EntityText}); err != nil {
			m.logger.Warn("vault wikilink update failed", zap.Error(err))
		}
	}
}

// writeReadOnly replaces a note, temporarily lifting the read-only bit
// when the note already exists.
func (m *Mirror) writeReadOnly(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		_ = os.Chmod(path, 0o644)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write vault note: %w", err)
	}
	if err := os.Chmod(path, noteMode); err != nil {
		return fmt.Errorf("chmod vault note: %w", err)
	}
	return nil
}

// safeFilename keeps letters, digits, and "._- "; everything else
// becomes an underscore. Leading and trailing spaces are trimmed.
func safeFilename(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			return r
		}
		return '_'
	}, name)
	return strings.TrimSpace(mapped)
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
