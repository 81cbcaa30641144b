// Package retention enforces the deletion lifecycle. Soft-deleted
// entities stay out of every read path for the retention window; a
// confirmed hard delete then purges them and appends an audit receipt.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

// DefaultRetentionDays is the purge window when none is configured.
const DefaultRetentionDays = 30

// Store is the slice of the relational store retention needs.
type Store interface {
	SoftDeleteDocument(ctx context.Context, id string) (time.Time, error)
	SoftDeletePerson(ctx context.Context, id string) (time.Time, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (store.PurgeResult, error)
}

// Receipt is one line of the deletion log.
type Receipt struct {
	Timestamp        string   `json:"timestamp"`
	DeletedDocuments int      `json:"deleted_documents"`
	DeletedPersons   int      `json:"deleted_persons"`
	DocIDs           []string `json:"doc_ids"`
	PersonIDs        []string `json:"person_ids"`
}

// HardDeleteResult is the API-facing purge summary.
type HardDeleteResult struct {
	DeletedDocuments int    `json:"deleted_documents"`
	DeletedPersons   int    `json:"deleted_persons"`
	DeletedChunks    int64  `json:"deleted_chunks"`
	LogPath          string `json:"log_path"`
}

// Service coordinates soft deletes and the retention purge.
type Service struct {
	store   Store
	logPath string
	days    int
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, logPath string, days int, logger *zap.Logger) *Service {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return &Service{
		store:   store,
		logPath: logPath,
		days:    days,
		logger:  logger,
		now:     time.Now,
	}
}

// SoftDelete stamps one entity invisible and queues the graph
// invalidation.
func (s *Service) SoftDelete(ctx context.Context, entityType, id string) (time.Time, error) {
	switch entityType {
	case "document":
		return s.store.SoftDeleteDocument(ctx, id)
	case "person":
		return s.store.SoftDeletePerson(ctx, id)
	default:
		return time.Time{}, fmt.Errorf("unknown entity type %q", entityType)
	}
}

// HardDelete purges everything soft-deleted before the retention
// cutoff and appends a receipt line. The purge commits before the
// receipt is written; a receipt failure therefore comes back as an
// error even though rows are already gone.
func (s *Service) HardDelete(ctx context.Context) (HardDeleteResult, error) {
	cutoff := s.now().UTC().Add(-time.Duration(s.days) * 24 * time.Hour)

	res, err := s.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		return HardDeleteResult{}, fmt.Errorf("purge expired entities: %w", err)
	}

	if err := s.appendReceipt(res); err != nil {
		return HardDeleteResult{}, fmt.Errorf(
			"receipt write failed after purging %d documents and %d persons: %w",
			len(res.DocIDs), len(res.PersonIDs), err)
	}

	return HardDeleteResult{
		DeletedDocuments: len(res.DocIDs),
		DeletedPersons:   len(res.PersonIDs),
		DeletedChunks:    res.DeletedChunks,
		LogPath:          s.logPath,
	}, nil
}

func (s *Service) appendReceipt(res store.PurgeResult) error {
	if err := os.MkdirAll(filepath.Dir(s.logPath), 0o755); err != nil {
		return fmt.Errorf("deletion log dir: %w", err)
	}

	receipt := Receipt{
		Timestamp:        s.now().UTC().Format(time.RFC3339),
		DeletedDocuments: len(res.DocIDs),
		DeletedPersons:   len(res.PersonIDs),
		DocIDs:           nonNil(res.DocIDs),
		PersonIDs:        nonNil(res.PersonIDs),
	}
	line, err := sonic.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open deletion log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}

	s.logger.Info("hard delete receipt written",
		zap.Int("documents", receipt.DeletedDocuments),
		zap.Int("persons", receipt.DeletedPersons),
		zap.String("log_path", s.logPath))
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
