package rerank

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsn0918/memex/internal/config"
)

func TestRerank(t *testing.T) {
	var got Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, sonic.Unmarshal(raw, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"index":1,"relevance_score":0.92},
			{"index":0,"relevance_score":0.41}
		]}`))
	}))
	defer ts.Close()

	c := NewClient(config.ServiceConfig{BaseURL: ts.URL, Model: "bge-reranker"})
	results, err := c.Rerank(context.Background(), "roadmap", []string{"doc a", "doc b"})
	require.NoError(t, err)

	assert.Equal(t, "bge-reranker", got.Model)
	assert.Equal(t, "roadmap", got.Query)
	assert.Equal(t, []string{"doc a", "doc b"}, got.Documents)

	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.InDelta(t, 0.92, results[0].RelevanceScore, 1e-9)
}

func TestRerankSurfacesClientError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`model not loaded`))
	}))
	defer ts.Close()

	c := NewClient(config.ServiceConfig{BaseURL: ts.URL})
	_, err := c.Rerank(context.Background(), "q", []string{"d"})
	assert.Error(t, err)
}

func TestAvailable(t *testing.T) {
	assert.False(t, NewClient(config.ServiceConfig{}).Available())
	assert.True(t, NewClient(config.ServiceConfig{BaseURL: "http://localhost:9000"}).Available())
}
