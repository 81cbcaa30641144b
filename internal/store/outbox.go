package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// OutboxMaxAttempts dead-letters an event after this many failed
// applications.
const OutboxMaxAttempts = 10

// enqueueOutbox writes one event row on the caller's transaction so the
// event commits or aborts with the business write it describes.
func enqueueOutbox(ctx context.Context, q querier, eventType string, payload interface{}) error {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	_, err = q.Exec(ctx,
		`INSERT INTO outbox (event_type, payload) VALUES ($1, $2)`,
		eventType, body)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// PendingOutbox returns up to limit unprocessed, non-failed events in
// creation order.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, payload, created_at, processed_at, attempts, failed, error
		FROM outbox
		WHERE processed_at IS NULL AND NOT failed
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.CreatedAt,
			&e.ProcessedAt, &e.Attempts, &e.Failed, &e.Error)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutboxProcessed stamps the row before the graph apply and counts
// the attempt. Graph mutations are idempotent merges, so replaying a
// crashed-but-applied row is safe while a silently dropped row is not.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET processed_at = now(), attempts = attempts + 1
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox %d processed: %w", id, err)
	}
	return nil
}

// ReopenOutbox undoes the processed stamp after a failed apply. The
// attempt stays counted so exhaustion still dead-letters.
func (s *Store) ReopenOutbox(ctx context.Context, id int64, applyErr error) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET processed_at = NULL, error = $1
		WHERE id = $2`, applyErr.Error(), id)
	if err != nil {
		return fmt.Errorf("reopen outbox %d: %w", id, err)
	}
	return nil
}

// FailOutbox marks an event permanently dead.
func (s *Store) FailOutbox(ctx context.Context, id int64, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET failed = true, error = $1
		WHERE id = $2`, reason, id)
	if err != nil {
		return fmt.Errorf("fail outbox %d: %w", id, err)
	}
	return nil
}

// OutboxDepth counts events still waiting for the drainer.
func (s *Store) OutboxDepth(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND NOT failed`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox depth: %w", err)
	}
	return n, nil
}

// OutboxPendingByType breaks the waiting events down by event type.
func (s *Store) OutboxPendingByType(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM outbox
		WHERE processed_at IS NULL AND NOT failed
		GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("outbox pending by type: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scan pending count: %w", err)
		}
		out[eventType] = n
	}
	return out, rows.Err()
}

// OutboxOldestPendingAge reports how long the oldest waiting event has
// been queued; zero when the queue is empty.
func (s *Store) OutboxOldestPendingAge(ctx context.Context) (time.Duration, error) {
	var seconds *float64
	err := s.pool.QueryRow(ctx, `
		SELECT EXTRACT(EPOCH FROM (now() - MIN(created_at)))
		FROM outbox
		WHERE processed_at IS NULL AND NOT failed`).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("outbox oldest age: %w", err)
	}
	if seconds == nil {
		return 0, nil
	}
	return time.Duration(*seconds * float64(time.Second)), nil
}
