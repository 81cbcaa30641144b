package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Per-type update allowlists. Anything else in a diff is rejected
// before the transaction opens.
var (
	personUpdatable   = map[string]bool{"display_name": true, "email": true, "pii": true}
	documentUpdatable = map[string]bool{"source_path": true, "metadata": true}
)

// UpdateResult reports the outcome of a bidirectional entity update.
type UpdateResult struct {
	UpdatedFields    []string
	ConflictDetected bool
	ServerUpdatedAt  time.Time
}

// UpdateEntity applies a client diff under a last-writer check: when the
// server row changed after clientUpdatedAt the server wins, no field is
// touched, and the caller learns about the conflict. A clean apply
// enqueues one entity_updated event for the graph.
func (s *Store) UpdateEntity(ctx context.Context, entityType, id string, diffs map[string]interface{}, clientUpdatedAt time.Time) (UpdateResult, error) {
	var table string
	var allow map[string]bool
	switch entityType {
	case "person":
		table, allow = "persons", personUpdatable
	case "document":
		table, allow = "documents", documentUpdatable
	default:
		return UpdateResult{}, fmt.Errorf("unknown entity type %q", entityType)
	}

	fields := make([]string, 0, len(diffs))
	for k := range diffs {
		if !allow[k] {
			return UpdateResult{}, &UnknownFieldError{EntityType: entityType, Field: k}
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	tx, err := s.begin(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var serverUpdatedAt time.Time
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT updated_at FROM %s WHERE id = $1::uuid AND deleted_at IS NULL FOR UPDATE`, table),
		id).Scan(&serverUpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return UpdateResult{}, ErrNotFound
		}
		return UpdateResult{}, fmt.Errorf("load %s for update: %w", entityType, err)
	}

	if serverUpdatedAt.After(clientUpdatedAt) {
		return UpdateResult{
			UpdatedFields:    []string{},
			ConflictDetected: true,
			ServerUpdatedAt:  serverUpdatedAt,
		}, nil
	}

	now := time.Now().UTC()
	applied := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		val, err := coerceField(f, diffs[f])
		if err != nil {
			return UpdateResult{}, err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET %s = $1, updated_at = $2 WHERE id = $3::uuid`, table, f),
			val, now, id)
		if err != nil {
			if isUniqueViolation(err, "persons_email_key") {
				return UpdateResult{}, ErrDuplicate
			}
			return UpdateResult{}, fmt.Errorf("update %s.%s: %w", entityType, f, err)
		}
		applied[f] = diffs[f]
	}

	err = enqueueOutbox(ctx, tx, EventEntityUpdated, map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   id,
		"diff":        applied,
		"updated_at":  now.Format(time.RFC3339),
	})
	if err != nil {
		return UpdateResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, fmt.Errorf("commit update: %w", err)
	}

	s.log.Info("entity updated",
		zap.String("entity_type", entityType),
		zap.String("id", id),
		zap.Strings("fields", fields))
	return UpdateResult{UpdatedFields: fields, ServerUpdatedAt: now}, nil
}

// coerceField turns a decoded JSON diff value into the SQL parameter
// for its column, rejecting wrong shapes with a 4xx-mappable error.
func coerceField(field string, v interface{}) (interface{}, error) {
	switch field {
	case "display_name", "source_path":
		sv, ok := v.(string)
		if !ok {
			return nil, &FieldValueError{Field: field, Want: "string"}
		}
		return sv, nil
	case "email":
		sv, ok := v.(string)
		if !ok {
			return nil, &FieldValueError{Field: field, Want: "string"}
		}
		return normalizeEmail(sv), nil
	case "pii":
		bv, ok := v.(bool)
		if !ok {
			return nil, &FieldValueError{Field: field, Want: "boolean"}
		}
		return bv, nil
	case "metadata":
		mv, ok := v.(map[string]interface{})
		if !ok {
			return nil, &FieldValueError{Field: field, Want: "object"}
		}
		body, err := sonic.Marshal(mv)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata diff: %w", err)
		}
		return body, nil
	default:
		return nil, &FieldValueError{Field: field, Want: "known field"}
	}
}
