// Package ingest turns dropped files into persisted documents: type
// detection, parsing, chunking, PII scanning, and the transactional
// write that queues the graph event. Failures retry in-line with
// backoff and dead-letter afterwards, so one bad file never stalls the
// drop zone.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/chunker"
	"github.com/hsn0918/memex/internal/clients/extract"
	"github.com/hsn0918/memex/internal/detect"
	"github.com/hsn0918/memex/internal/parser"
	"github.com/hsn0918/memex/internal/store"
	"github.com/hsn0918/memex/internal/vault"
)

// RetryDelays spaces the in-line attempts before a file dead-letters.
var RetryDelays = []time.Duration{2 * time.Second, 8 * time.Second, 32 * time.Second}

// ErrUnsupportedType marks files no parser claims. They dead-letter
// immediately; retrying cannot change the verdict.
var ErrUnsupportedType = errors.New("ingest: unsupported file type")

// Store is the slice of the relational store the coordinator needs.
type Store interface {
	FingerprintExists(ctx context.Context, sha256 string) (bool, error)
	IngestDocument(ctx context.Context, p store.IngestParams) (string, error)
	RuntimeConfig(ctx context.Context) store.RuntimeConfig
	WriteDeadLetter(ctx context.Context, filePath, errMsg string) error
	DeadLetters(ctx context.Context) ([]store.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id int64) error
	BumpDeadLetter(ctx context.Context, id int64, errMsg string) error
}

// Scanner yields the PII verdict for one chunk text.
type Scanner interface {
	Scan(ctx context.Context, text string) bool
}

// Archiver keeps a raw copy of ingested files, keyed by fingerprint.
type Archiver interface {
	Enabled() bool
	ArchiveFile(ctx context.Context, path, fingerprint string) error
}

// Coordinator runs the ingest pipeline for one file at a time.
type Coordinator struct {
	store     Store
	scanner   Scanner
	extractor extract.Extractor
	mirror    *vault.Mirror
	archive   Archiver
	logger    *zap.Logger
	delays    []time.Duration
}

// NewCoordinator wires the pipeline. extractor and archive may be nil;
// mirror may be disabled.
func NewCoordinator(st Store, scanner Scanner, extractor extract.Extractor, mirror *vault.Mirror, archive Archiver, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     st,
		scanner:   scanner,
		extractor: extractor,
		mirror:    mirror,
		archive:   archive,
		logger:    logger,
		delays:    RetryDelays,
	}
}

// IngestFile runs the full pipeline on one dropped file. Transient
// failures retry in-line; the final failure is dead-lettered and
// returned. store.ErrDuplicate passes through untouched so callers can
// treat it as idempotent success.
func (c *Coordinator) IngestFile(ctx context.Context, path, fingerprint string) error {
	err := c.ingestWithRetry(ctx, path, fingerprint)
	switch {
	case err == nil:
		c.archiveRaw(ctx, path, fingerprint)
		return nil
	case errors.Is(err, store.ErrDuplicate):
		return err
	}

	if dlErr := c.store.WriteDeadLetter(ctx, path, err.Error()); dlErr != nil {
		c.logger.Warn("dead letter write failed",
			zap.String("path", path), zap.Error(dlErr))
	}
	return err
}

func (c *Coordinator) ingestWithRetry(ctx context.Context, path, fingerprint string) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.ingestOnce(ctx, path, fingerprint)
		if err == nil || errors.Is(err, store.ErrDuplicate) || errors.Is(err, ErrUnsupportedType) {
			return err
		}
		if attempt >= len(c.delays) {
			return err
		}
		c.logger.Warn("ingest attempt failed",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", c.delays[attempt]),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.delays[attempt]):
		}
	}
}

func (c *Coordinator) ingestOnce(ctx context.Context, path, fingerprint string) error {
	// Cheap short-circuit; the unique constraint is the real check.
	if exists, err := c.store.FingerprintExists(ctx, fingerprint); err == nil && exists {
		return store.ErrDuplicate
	}

	cfg := c.store.RuntimeConfig(ctx)
	size, overlap := chunkParams(cfg, c.logger)

	fileType := detect.DetectType(path)
	switch fileType {
	case detect.SourceMail:
		return c.ingestMail(ctx, path, fingerprint, size, overlap)
	case detect.SourcePDF:
		return c.ingestPDF(ctx, path, fingerprint, size, overlap)
	case detect.SourceMarkdown:
		return c.ingestMarkdown(ctx, path, fingerprint, size, overlap)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

// ingestMail persists one document per archive message. Messages carry
// fingerprints derived from the archive hash and their ordinal, so a
// half-ingested archive resumes where it stopped and a re-run is a
// clean duplicate.
func (c *Coordinator) ingestMail(ctx context.Context, path, fingerprint string, size, overlap int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mail archive: %w", err)
	}
	defer f.Close()

	var ingested, duplicates, index int
	scanner := parser.NewMboxScanner(f)
	for {
		msg, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read mail archive: %w", err)
		}

		entry := index
		index++
		if msg.Err != nil {
			c.logger.Warn("mail entry skipped",
				zap.String("path", path),
				zap.Int("entry", entry),
				zap.Error(msg.Err))
			continue
		}

		err = c.persistMessage(ctx, path, fingerprint, entry, msg, size, overlap)
		if errors.Is(err, store.ErrDuplicate) {
			duplicates++
			continue
		}
		if err != nil {
			return err
		}
		ingested++
	}

	if ingested == 0 && duplicates > 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (c *Coordinator) persistMessage(ctx context.Context, path, fingerprint string, entry int, msg *parser.Message, size, overlap int) error {
	recipients := make([]store.IngestRecipient, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		recipients = append(recipients, store.IngestRecipient{
			Email: r.Email,
			Name:  r.Name,
			Field: r.Field,
		})
	}

	docID, err := c.store.IngestDocument(ctx, store.IngestParams{
		SourcePath:  path,
		SourceType:  string(detect.SourceMail),
		SHA256:      messageFingerprint(fingerprint, entry),
		SenderEmail: msg.Sender.Email,
		SenderName:  msg.Sender.Name,
		Recipients:  recipients,
		Metadata: map[string]interface{}{
			"subject":      msg.Subject,
			"sender_email": msg.Sender.Email,
		},
		Chunks: c.buildChunks(ctx, msg.BodyText, size, overlap),
	})
	if err != nil {
		return err
	}

	c.writeDocumentNote(vault.DocumentNote{
		DocID:       docID,
		SourcePath:  path,
		SourceType:  string(detect.SourceMail),
		SenderEmail: msg.Sender.Email,
		Subject:     msg.Subject,
		IngestedAt:  time.Now().UTC(),
	})
	return nil
}

func (c *Coordinator) ingestPDF(ctx context.Context, path, fingerprint string, size, overlap int) error {
	if c.extractor == nil || !c.extractor.Available() {
		return errors.New("pdf extractor not configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	text, err := c.extractor.ExtractText(ctx, data)
	if err != nil {
		return fmt.Errorf("extract pdf text: %w", err)
	}
	return c.persistSingle(ctx, path, fingerprint, detect.SourcePDF, text, size, overlap)
}

func (c *Coordinator) ingestMarkdown(ctx context.Context, path, fingerprint string, size, overlap int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read markdown: %w", err)
	}
	text, err := parser.ParseMarkdown(data)
	if err != nil {
		return fmt.Errorf("parse markdown: %w", err)
	}
	return c.persistSingle(ctx, path, fingerprint, detect.SourceMarkdown, text, size, overlap)
}

func (c *Coordinator) persistSingle(ctx context.Context, path, fingerprint string, sourceType detect.SourceType, text string, size, overlap int) error {
	subject := filepath.Base(path)
	docID, err := c.store.IngestDocument(ctx, store.IngestParams{
		SourcePath: path,
		SourceType: string(sourceType),
		SHA256:     fingerprint,
		Metadata:   map[string]interface{}{"subject": subject},
		Chunks:     c.buildChunks(ctx, text, size, overlap),
	})
	if err != nil {
		return err
	}

	c.writeDocumentNote(vault.DocumentNote{
		DocID:      docID,
		SourcePath: path,
		SourceType: string(sourceType),
		Subject:    subject,
		IngestedAt: time.Now().UTC(),
	})
	return nil
}

func (c *Coordinator) buildChunks(ctx context.Context, text string, size, overlap int) []store.NewChunk {
	pieces := chunker.Split(text, size, overlap)
	out := make([]store.NewChunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, store.NewChunk{
			Index:       p.Index,
			Text:        p.Text,
			PIIDetected: c.scanner.Scan(ctx, p.Text),
		})
	}
	return out
}

// RetryDeadLetters re-runs every recorded failure whose attempt budget
// is not spent. A clean ingest (or a duplicate) removes the row; a
// failure bumps its counter. Returns how many files recovered.
func (c *Coordinator) RetryDeadLetters(ctx context.Context) (int, error) {
	rows, err := c.store.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, row := range rows {
		if row.Attempts > len(RetryDelays) {
			continue
		}

		fingerprint, err := detect.Fingerprint(row.FilePath)
		if err == nil {
			err = c.ingestOnce(ctx, row.FilePath, fingerprint)
		}
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			if bumpErr := c.store.BumpDeadLetter(ctx, row.ID, err.Error()); bumpErr != nil {
				c.logger.Warn("dead letter bump failed",
					zap.Int64("id", row.ID), zap.Error(bumpErr))
			}
			continue
		}

		if err := c.store.ResolveDeadLetter(ctx, row.ID); err != nil {
			c.logger.Warn("dead letter resolve failed",
				zap.Int64("id", row.ID), zap.Error(err))
			continue
		}
		recovered++
		c.logger.Info("dead letter recovered", zap.String("path", row.FilePath))
	}
	return recovered, nil
}

func (c *Coordinator) writeDocumentNote(note vault.DocumentNote) {
	if c.mirror == nil || !c.mirror.Enabled() {
		return
	}
	if _, err := c.mirror.WriteDocumentNote(note); err != nil {
		c.logger.Warn("vault document note failed",
			zap.String("doc_id", note.DocID), zap.Error(err))
	}
}

func (c *Coordinator) archiveRaw(ctx context.Context, path, fingerprint string) {
	if c.archive == nil || !c.archive.Enabled() {
		return
	}
	if err := c.archive.ArchiveFile(ctx, path, fingerprint); err != nil {
		c.logger.Warn("raw archive failed",
			zap.String("path", path), zap.Error(err))
	}
}

// messageFingerprint derives the per-message fingerprint from the
// archive hash and the message ordinal. Documents are unique by
// fingerprint, and the derivation is stable so re-ingesting the same
// archive dedups message by message.
func messageFingerprint(fingerprint string, entry int) string {
	return detect.FingerprintBytes([]byte(fingerprint + ":" + strconv.Itoa(entry)))
}

// chunkParams reads the tunable chunking knobs, clamping an overlap
// that would prevent the accumulator from advancing.
func chunkParams(cfg store.RuntimeConfig, logger *zap.Logger) (size, overlap int) {
	size = cfg.ChunkSize
	if size < 1 {
		size = 1
	}
	overlap = cfg.ChunkOverlap
	if overlap >= size {
		logger.Warn("chunk overlap exceeds size, clamping",
			zap.Int("chunk_size", size),
			zap.Int("chunk_overlap", overlap))
		overlap = size / 4
	}
	return size, overlap
}
