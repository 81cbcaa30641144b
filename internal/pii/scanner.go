// Package pii decides whether a chunk of text carries personally
// identifiable information. Two signals: a fixed regex set over
// identifier shapes, and named-entity tagging for person names. Either
// one fires the flag.
package pii

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/clients/tagger"
	"github.com/hsn0918/memex/pkg/logger"
)

// Identifier shapes scanned before any model is consulted.
var patterns = []*regexp.Regexp{
	// national-ID triplet ddd-dd-dddd
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// 16-digit card numbers with optional separators
	regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
	// medical vocabulary
	regexp.MustCompile(`(?i)\b(diagnosis|prescription|medical record|dob|date of birth)\b`),
	// date-of-birth shapes
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
}

// Scanner evaluates the PII verdict for chunk texts.
type Scanner struct {
	tagger tagger.Tagger
	log    *zap.Logger
}

// NewScanner builds a scanner. A nil tagger disables the NER signal and
// the scanner degrades to regex-only precision.
func NewScanner(t tagger.Tagger) *Scanner {
	return &Scanner{tagger: t, log: logger.Get()}
}

// Scan returns true when the text carries a PII signal. The regex set is
// evaluated first; the tagger runs only on regex-clean text and only
// when available. A tagger failure degrades precision, never
// availability: the verdict is still returned.
func (s *Scanner) Scan(ctx context.Context, text string) bool {
	if MatchesIdentifier(text) {
		return true
	}

	if s.tagger == nil || !s.tagger.Available() {
		return false
	}

	entities, err := s.tagger.Tag(ctx, text)
	if err != nil {
		s.log.Warn("tagger unavailable for pii scan, regex verdict stands",
			zap.Error(err))
		return false
	}
	for _, e := range entities {
		if e.Label == tagger.LabelPerson {
			return true
		}
	}
	return false
}

// MatchesIdentifier runs only the regex signal.
func MatchesIdentifier(text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
