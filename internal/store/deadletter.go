package store

import (
	"context"
	"fmt"
)

// WriteDeadLetter records a file the pipeline gave up on. One row per
// path; a second failure for the same file is a no-op.
func (s *Store) WriteDeadLetter(ctx context.Context, filePath, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter (file_path, error)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, filePath, errMsg)
	if err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return nil
}

// DeadLetters lists recorded failures, oldest attempt first.
func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, file_path, error, attempts, last_attempt
		FROM dead_letter
		ORDER BY last_attempt`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.FilePath, &d.Error, &d.Attempts, &d.LastAttempt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResolveDeadLetter removes a row whose file was re-ingested.
func (s *Store) ResolveDeadLetter(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve dead letter %d: %w", id, err)
	}
	return nil
}

// BumpDeadLetter counts another failed retry for a recorded file.
func (s *Store) BumpDeadLetter(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dead_letter
		SET attempts = attempts + 1, last_attempt = now(), error = $1
		WHERE id = $2`, errMsg, id)
	if err != nil {
		return fmt.Errorf("bump dead letter %d: %w", id, err)
	}
	return nil
}
