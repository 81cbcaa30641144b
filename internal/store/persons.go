package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Participant roles on a document.
const (
	RoleSender = "sender"
	RoleTo     = "to"
	RoleCC     = "cc"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// upsertPerson inserts a person keyed by case-folded email and returns
// the row id. refreshName lets the sender path overwrite a stale display
// name; recipients never clobber one.
func upsertPerson(ctx context.Context, q querier, email, name string, refreshName bool) (string, error) {
	email = normalizeEmail(email)

	var id string
	if refreshName {
		err := q.QueryRow(ctx, `
			INSERT INTO persons (id, email, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (email) DO UPDATE SET
				display_name = CASE WHEN EXCLUDED.display_name <> ''
					THEN EXCLUDED.display_name ELSE persons.display_name END,
				updated_at = now()
			RETURNING id::text`,
			uuid.New().String(), email, name).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("upsert person %s: %w", email, err)
		}
		return id, nil
	}

	err := q.QueryRow(ctx, `
		INSERT INTO persons (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id::text`,
		uuid.New().String(), email, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return "", fmt.Errorf("upsert person %s: %w", email, err)
	}
	err = q.QueryRow(ctx,
		`SELECT id::text FROM persons WHERE email = $1`, email).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup person %s: %w", email, err)
	}
	return id, nil
}

func linkParticipant(ctx context.Context, q querier, docID, personID, role string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO doc_participants (document_id, person_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		docID, personID, role)
	if err != nil {
		return fmt.Errorf("link participant: %w", err)
	}
	return nil
}

// GetPerson returns one person row regardless of merge or delete state.
func (s *Store) GetPerson(ctx context.Context, id string) (Person, error) {
	var p Person
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, email, display_name, pii, merged_into::text, deleted_at, updated_at
		FROM persons WHERE id = $1::uuid`, id).
		Scan(&p.ID, &p.Email, &p.DisplayName, &p.PII, &p.MergedInto, &p.DeletedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

// PersonByName finds a live person by exact display name. With several
// homonyms the earliest row wins, matching manual-merge expectations of
// small personal corpora.
func (s *Store) PersonByName(ctx context.Context, name string) (Person, error) {
	var p Person
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, email, display_name, pii, merged_into::text, deleted_at, updated_at
		FROM persons
		WHERE display_name = $1 AND deleted_at IS NULL
		ORDER BY updated_at
		LIMIT 1`, name).
		Scan(&p.ID, &p.Email, &p.DisplayName, &p.PII, &p.MergedInto, &p.DeletedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("person by name: %w", err)
	}
	return p, nil
}

// MergePersons points the loser at the winner and queues the graph
// rewrite. A participant that is already merged away, on either side,
// cannot take part in another merge.
func (s *Store) MergePersons(ctx context.Context, winnerID, loserID string) error {
	if winnerID == loserID {
		return fmt.Errorf("merge: winner and loser are the same person")
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock both rows in id order so concurrent merges cannot deadlock.
	rows, err := tx.Query(ctx, `
		SELECT id::text, email, merged_into IS NOT NULL
		FROM persons
		WHERE id IN ($1::uuid, $2::uuid) AND deleted_at IS NULL
		ORDER BY id
		FOR UPDATE`, winnerID, loserID)
	if err != nil {
		return fmt.Errorf("lock merge rows: %w", err)
	}

	emails := make(map[string]string, 2)
	merged := make(map[string]bool, 2)
	for rows.Next() {
		var id, email string
		var isMerged bool
		if err := rows.Scan(&id, &email, &isMerged); err != nil {
			rows.Close()
			return fmt.Errorf("scan merge row: %w", err)
		}
		emails[id] = email
		merged[id] = isMerged
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock merge rows: %w", err)
	}

	if len(emails) != 2 {
		return ErrNotFound
	}
	if merged[winnerID] || merged[loserID] {
		return ErrAlreadyMerged
	}

	if _, err := tx.Exec(ctx, `
		UPDATE persons SET merged_into = $1::uuid, updated_at = now()
		WHERE id = $2::uuid`, winnerID, loserID); err != nil {
		return fmt.Errorf("mark merged: %w", err)
	}

	err = enqueueOutbox(ctx, tx, EventPersonMerged, map[string]interface{}{
		"merged_from":       loserID,
		"merged_into":       winnerID,
		"merged_from_email": emails[loserID],
		"merged_into_email": emails[winnerID],
		"merged_at":         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}

	s.log.Info("persons merged",
		zap.String("winner", emails[winnerID]),
		zap.String("loser", emails[loserID]))
	return nil
}

// MarkPersonPublic clears the PII flag after a manual review.
func (s *Store) MarkPersonPublic(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE persons SET pii = false, updated_at = now()
		WHERE id = $1::uuid AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("mark person public: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivePersons lists persons still eligible for resolution: not
// deleted and not merged away.
func (s *Store) ActivePersons(ctx context.Context, limit int) ([]Person, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, email, display_name, pii, merged_into::text, deleted_at, updated_at
		FROM persons
		WHERE deleted_at IS NULL AND merged_into IS NULL
		ORDER BY display_name
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		err := rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PII,
			&p.MergedInto, &p.DeletedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PersonDocuments maps each active person id to the ids of documents
// they appear in. Resolution uses it to score shared-document overlap.
func (s *Store) PersonDocuments(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dp.person_id::text, dp.document_id::text
		FROM doc_participants dp
		JOIN persons p ON p.id = dp.person_id
		JOIN documents d ON d.id = dp.document_id
		WHERE p.deleted_at IS NULL AND p.merged_into IS NULL
		  AND d.deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list participation: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var personID, docID string
		if err := rows.Scan(&personID, &docID); err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		out[personID] = append(out[personID], docID)
	}
	return out, rows.Err()
}

// PIIPersons lists flagged persons for the review report, busiest
// senders first. Capped at 100 rows.
func (s *Store) PIIPersons(ctx context.Context) ([]PIIPerson, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id::text, p.display_name, p.email, COUNT(DISTINCT d.id) AS doc_count
		FROM persons p
		LEFT JOIN doc_participants dp ON dp.person_id = p.id AND dp.role = 'sender'
		LEFT JOIN documents d ON d.id = dp.document_id AND d.deleted_at IS NULL
		WHERE p.pii = true AND p.deleted_at IS NULL
		GROUP BY p.id, p.display_name, p.email
		ORDER BY doc_count DESC, p.email
		LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("list pii persons: %w", err)
	}
	defer rows.Close()

	var out []PIIPerson
	for rows.Next() {
		var p PIIPerson
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email, &p.DocCount); err != nil {
			return nil, fmt.Errorf("scan pii person: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
