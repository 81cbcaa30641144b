package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/store"
)

func TestPIIReport(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.piiPersons = []store.PIIPerson{{
			ID: "p1", DisplayName: "Alice", Email: "alice@example.com", DocCount: 3,
		}}
		f.store.piiChunks = []store.PIIChunk{{
			ID: "c1", Text: "ssn is 123", DocID: "d1",
		}}
	})

	code, body := doJSON(t, http.MethodGet, ts.URL+"/pii/report", "", nil)
	require.Equal(t, http.StatusOK, code)

	persons, ok := body["persons"].([]interface{})
	require.True(t, ok)
	require.Len(t, persons, 1)
	p := persons[0].(map[string]interface{})
	assert.Equal(t, "alice@example.com", p["email"])
	assert.Equal(t, float64(3), p["doc_count"])

	chunks, ok := body["pii_chunks"].([]interface{})
	require.True(t, ok)
	require.Len(t, chunks, 1)
	c := chunks[0].(map[string]interface{})
	assert.Equal(t, "d1", c["doc_id"])
}

func TestPIIReportEmpty(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/pii/report", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["persons"])
	assert.Empty(t, body["pii_chunks"])
	assert.NotNil(t, body["persons"])
	assert.NotNil(t, body["pii_chunks"])
}

func TestMarkPublic(t *testing.T) {
	ts, f := newTestServer(t, nil)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/pii/mark-public/p1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, false, body["pii"])
	assert.Equal(t, []string{"p1"}, f.store.markedPublic)
}

func TestMarkPublicNotFound(t *testing.T) {
	ts, _ := newTestServer(t, func(_ *config.Config, f *serverFakes) {
		f.store.markPublicErr = store.ErrNotFound
	})

	code, body := doJSON(t, http.MethodPost, ts.URL+"/pii/mark-public/p9", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Person not found", body["detail"])
}

func TestBulkRedactDefaultsAndClamping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"no body", "", 1000},
		{"explicit", `{"batch_size":250}`, 250},
		{"clamped high", `{"batch_size":50000}`, 10000},
		{"clamped low", `{"batch_size":-5}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, f := newTestServer(t, func(_ *config.Config, f *serverFakes) {
				f.store.redacted = 7
			})
			code, body := doJSON(t, http.MethodPost, ts.URL+"/pii/bulk-redact", tt.body, nil)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, float64(7), body["redacted"])
			require.Len(t, f.store.redactCalls, 1)
			assert.Equal(t, tt.want, f.store.redactCalls[0])
		})
	}
}
