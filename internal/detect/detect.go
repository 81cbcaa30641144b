// Package detect classifies dropped files and computes their content
// fingerprint. Classification trusts the extension first and falls back
// to magic-byte sniffing; files that match neither are unknown and go to
// the dead-letter table.
package detect

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// SourceType tags a document with its originating format.
type SourceType string

const (
	SourceMail     SourceType = "mail"
	SourcePDF      SourceType = "pdf"
	SourceMarkdown SourceType = "markdown"
	SourceUnknown  SourceType = "unknown"
)

// fingerprintBlockSize is the streaming block size for hashing.
const fingerprintBlockSize = 64 * 1024

// sniffLen bounds how much of the file the magic-byte fallback reads.
const sniffLen = 512

var extTypes = map[string]SourceType{
	".mbox":     SourceMail,
	".mbx":      SourceMail,
	".eml":      SourceMail,
	".pdf":      SourcePDF,
	".md":       SourceMarkdown,
	".markdown": SourceMarkdown,
}

// WatchedExtension reports whether the watcher should react to the path.
func WatchedExtension(path string) bool {
	_, ok := extTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DetectType classifies a file, extension first, magic bytes second.
func DetectType(path string) SourceType {
	if t, ok := extTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return sniffType(path)
}

// Fingerprint streams the file through SHA-256 in fixed-size blocks and
// returns the lowercase hex digest.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fingerprintBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes hashes an in-memory payload, for text submitted over
// the API rather than dropped as a file.
func FingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sniffType(path string) SourceType {
	f, err := os.Open(path)
	if err != nil {
		return SourceUnknown
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return SourceUnknown
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return SourcePDF
	case bytes.HasPrefix(head, []byte("From ")):
		// mbox postmark
		return SourceMail
	case looksLikeText(head):
		return SourceMarkdown
	default:
		return SourceUnknown
	}
}

// looksLikeText accepts NUL-free, mostly-valid UTF-8 content.
func looksLikeText(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	// The final rune may be cut mid-sequence by the sniff window.
	trimmed := head
	for len(trimmed) > 0 && !utf8.Valid(trimmed) {
		trimmed = trimmed[:len(trimmed)-1]
		if len(head)-len(trimmed) > utf8.UTFMax {
			return false
		}
	}
	return len(trimmed) > 0
}
