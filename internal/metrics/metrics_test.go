package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	counts    map[string]int64
	countsErr error
	depth     int64
	depthErr  error
	pending   map[string]int64
	oldest    time.Duration
}

func (f *fakeSource) ChunkStatusCounts(context.Context) (map[string]int64, error) {
	return f.counts, f.countsErr
}

func (f *fakeSource) OutboxDepth(context.Context) (int64, error) {
	return f.depth, f.depthErr
}

func (f *fakeSource) OutboxPendingByType(context.Context) (map[string]int64, error) {
	return f.pending, nil
}

func (f *fakeSource) OutboxOldestPendingAge(context.Context) (time.Duration, error) {
	return f.oldest, nil
}

func TestCollectorEmitsPipelineGauges(t *testing.T) {
	src := &fakeSource{
		counts:  map[string]int64{"done": 40, "pending": 2, "failed": 1},
		depth:   7,
		pending: map[string]int64{"document_added": 5, "concept_added": 2},
		oldest:  90 * time.Second,
	}
	c := NewCollector(src, zap.NewNop())

	expected := `
# HELP memex_chunks_total Chunks by embedding status.
# TYPE memex_chunks_total gauge
memex_chunks_total{status="done"} 40
memex_chunks_total{status="failed"} 1
memex_chunks_total{status="pending"} 2
# HELP memex_outbox_depth Outbox events not yet applied to the graph.
# TYPE memex_outbox_depth gauge
memex_outbox_depth 7
# HELP memex_outbox_oldest_pending_seconds Age of the oldest pending outbox event.
# TYPE memex_outbox_oldest_pending_seconds gauge
memex_outbox_oldest_pending_seconds 90
# HELP memex_outbox_pending_events Pending outbox events by type.
# TYPE memex_outbox_pending_events gauge
memex_outbox_pending_events{event_type="concept_added"} 2
memex_outbox_pending_events{event_type="document_added"} 5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCollectorDropsFailingGauges(t *testing.T) {
	src := &fakeSource{
		countsErr: errors.New("pool closed"),
		depth:     3,
		pending:   map[string]int64{"document_added": 3},
		oldest:    time.Second,
	}
	c := NewCollector(src, zap.NewNop())

	// depth + one pending type + oldest age; chunk counts dropped.
	assert.Equal(t, 3, testutil.CollectAndCount(c))
}

func TestHandlerServesPrometheusText(t *testing.T) {
	src := &fakeSource{
		counts: map[string]int64{"done": 1},
		depth:  0,
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(src, zap.NewNop()).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `memex_chunks_total{status="done"} 1`)
	assert.Contains(t, body, "memex_outbox_depth 0")
}
