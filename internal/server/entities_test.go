package server

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/retention"
	"github.com/hsn0918/memex/internal/store"
)

func TestSoftDelete(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ts, f := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.deleter.softTime = stamp
	})

	code, body := doJSON(t, http.MethodDelete, ts.URL+"/entities/document/d1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "d1", body["id"])
	assert.Equal(t, "document", body["entity_type"])
	assert.Equal(t, "2026-03-01T10:00:00Z", body["deleted_at"])
	require.Len(t, f.deleter.softCalls, 1)
	assert.Equal(t, [2]string{"document", "d1"}, f.deleter.softCalls[0])
}

func TestSoftDeleteRejectsUnknownType(t *testing.T) {
	ts, f := newTestServer(t, nil)

	code, body := doJSON(t, http.MethodDelete, ts.URL+"/entities/concept/c1", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "entity type must be document or person", body["detail"])
	assert.Empty(t, f.deleter.softCalls)
}

func TestSoftDeleteNotFound(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.deleter.softErr = store.ErrNotFound
	})

	code, body := doJSON(t, http.MethodDelete, ts.URL+"/entities/person/p9", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "person p9 not found or already deleted", body["detail"])
}

func TestUpdateEntity(t *testing.T) {
	serverAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ts, f := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.updateResult = store.UpdateResult{
			UpdatedFields:   []string{"display_name"},
			ServerUpdatedAt: serverAt,
		}
	})

	code, body := doJSON(t, http.MethodPut, ts.URL+"/entities/person/p1",
		`{"diffs":{"display_name":"Alice B"},"client_updated_at":"2026-03-02T08:00:00Z"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, false, body["conflict_detected"])
	assert.Equal(t, []interface{}{"display_name"}, body["updated_fields"])
	assert.Equal(t, "2026-03-02T09:00:00Z", body["server_updated_at"])

	require.Len(t, f.store.updateCalls, 1)
	call := f.store.updateCalls[0]
	assert.Equal(t, "person", call.entityType)
	assert.Equal(t, "Alice B", call.diffs["display_name"])
	assert.True(t, call.clientUpdatedAt.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
}

func TestUpdateEntityConflict(t *testing.T) {
	serverAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.updateResult = store.UpdateResult{
			UpdatedFields:    []string{},
			ConflictDetected: true,
			ServerUpdatedAt:  serverAt,
		}
	})

	code, body := doJSON(t, http.MethodPut, ts.URL+"/entities/person/p1",
		`{"diffs":{"display_name":"Alice B"},"client_updated_at":"2026-03-02T08:00:00Z"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["conflict_detected"])
	assert.Equal(t, []interface{}{}, body["updated_fields"])
}

func TestUpdateEntityValidation(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		detail string
	}{
		{"unknown type", "/entities/concept/c1", `{"diffs":{"x":1},"client_updated_at":"2026-03-02T08:00:00Z"}`, "entity type must be document or person"},
		{"empty diffs", "/entities/person/p1", `{"diffs":{},"client_updated_at":"2026-03-02T08:00:00Z"}`, "diffs must not be empty"},
		{"missing body", "/entities/person/p1", "", "request body required"},
		{"bad timestamp", "/entities/person/p1", `{"diffs":{"pii":true},"client_updated_at":"yesterday"}`, "client_updated_at must be an RFC 3339 timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doJSON(t, http.MethodPut, ts.URL+tt.path, tt.body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, code)
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestUpdateEntityErrorMapping(t *testing.T) {
	body := `{"diffs":{"email":"a@b.c"},"client_updated_at":"2026-03-02T08:00:00Z"}`

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown field", &store.UnknownFieldError{EntityType: "person", Field: "shoe_size"}, http.StatusUnprocessableEntity},
		{"bad value", &store.FieldValueError{Field: "pii", Want: "boolean"}, http.StatusUnprocessableEntity},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"duplicate email", store.ErrDuplicate, http.StatusConflict},
		{"internal", errors.New("pg down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
				f.store.updateErr = tt.err
			})
			code, _ := doJSON(t, http.MethodPut, ts.URL+"/entities/person/p1", body, nil)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestHardDeleteRequiresConfirm(t *testing.T) {
	ts, f := newTestServer(t, nil)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/entities/hard-delete", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Pass confirm=true to execute hard delete. This is irreversible.", body["detail"])
	assert.Zero(t, f.deleter.hardCalls)

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/entities/hard-delete?confirm=yes", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Zero(t, f.deleter.hardCalls)
}

func TestHardDelete(t *testing.T) {
	ts, f := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.deleter.hardRes = retention.HardDeleteResult{
			DeletedDocuments: 2,
			DeletedPersons:   1,
			DeletedChunks:    40,
			LogPath:          "/var/log/deletions.jsonl",
		}
	})

	code, body := doJSON(t, http.MethodPost, ts.URL+"/entities/hard-delete?confirm=true", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["deleted_documents"])
	assert.Equal(t, float64(1), body["deleted_persons"])
	assert.Equal(t, float64(40), body["deleted_chunks"])
	assert.Equal(t, "/var/log/deletions.jsonl", body["log_path"])
	assert.Equal(t, 1, f.deleter.hardCalls)
}

func TestMergePersons(t *testing.T) {
	ts, f := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.persons = map[string]store.Person{
			"Alice":   {ID: "p1", DisplayName: "Alice"},
			"Alice B": {ID: "p2", DisplayName: "Alice B"},
		}
	})

	code, body := doJSON(t, http.MethodPost, ts.URL+"/entities/merge",
		`{"name_a":"Alice","name_b":"Alice B"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p2", body["merged_from"])
	assert.Equal(t, "p1", body["merged_into"])
	require.Len(t, f.store.mergedPairs, 1)
	assert.Equal(t, [2]string{"p1", "p2"}, f.store.mergedPairs[0])
}

func TestMergePersonsNotFound(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.persons = map[string]store.Person{"Alice": {ID: "p1"}}
	})

	code, body := doJSON(t, http.MethodPost, ts.URL+"/entities/merge",
		`{"name_a":"Alice","name_b":"Nobody"}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "One or both persons not found", body["detail"])
}

func TestMergePersonsValidation(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.persons = map[string]store.Person{"Alice": {ID: "p1"}}
	})

	code, body := doJSON(t, http.MethodPost, ts.URL+"/entities/merge", `{"name_a":"Alice"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "name_a and name_b are required", body["detail"])

	code, body = doJSON(t, http.MethodPost, ts.URL+"/entities/merge",
		`{"name_a":"Alice","name_b":"Alice"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "cannot merge a person into itself", body["detail"])
}

func TestMergePersonsAlreadyMerged(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.persons = map[string]store.Person{
			"Alice": {ID: "p1"},
			"Bob":   {ID: "p2"},
		}
		f.store.mergeErr = store.ErrAlreadyMerged
	})

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/entities/merge",
		`{"name_a":"Alice","name_b":"Bob"}`, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestMergeCandidates(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.resolver.candidates = []store.MergeCandidate{{
			IDA: "p1", NameA: "Alice", IDB: "p2", NameB: "Alicia",
			JWScore: 0.93, SameDomain: true, SharedDocs: 4,
		}}
	})

	code, body := doJSON(t, http.MethodGet, ts.URL+"/entities/merge-candidates", "", nil)
	require.Equal(t, http.StatusOK, code)

	candidates, ok := body["candidates"].([]interface{})
	require.True(t, ok)
	require.Len(t, candidates, 1)
	first := candidates[0].(map[string]interface{})
	assert.Equal(t, "Alicia", first["name_b"])
	assert.Equal(t, true, first["same_domain"])
}

func TestMergeCandidatesEmpty(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/entities/merge-candidates", "", nil)
	require.Equal(t, http.StatusOK, code)
	candidates, ok := body["candidates"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, candidates)
}
