package embedder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/chunker"
	"github.com/hsn0918/memex/internal/store"
	"github.com/hsn0918/memex/pkg/clients/base"
)

type fakeClaim struct {
	chunks     []store.ClaimedChunk
	completed  map[string][]float32
	failed     map[string]int // id -> retry count passed to Fail
	committed  bool
	rolledBack bool
}

func newFakeClaim(chunks ...store.ClaimedChunk) *fakeClaim {
	return &fakeClaim{
		chunks:    chunks,
		completed: map[string][]float32{},
		failed:    map[string]int{},
	}
}

func (f *fakeClaim) Chunks() []store.ClaimedChunk { return f.chunks }

func (f *fakeClaim) Complete(_ context.Context, id string, embedding []float32) error {
	f.completed[id] = embedding
	return nil
}

func (f *fakeClaim) Fail(_ context.Context, id string, retryCount, _ int) error {
	f.failed[id] = retryCount + 1
	return nil
}

func (f *fakeClaim) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeClaim) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeChunkSource struct {
	claim    *fakeClaim
	claimErr error
	cfg      store.RuntimeConfig
}

func (f *fakeChunkSource) ClaimPendingChunks(context.Context, int) (Claim, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if f.claim == nil {
		return nil, nil
	}
	claim := f.claim
	f.claim = nil
	return claim, nil
}

func (f *fakeChunkSource) RuntimeConfig(context.Context) store.RuntimeConfig {
	if f.cfg.EmbedModel == "" {
		f.cfg = store.RuntimeConfig{EmbedModel: "test-model", EmbedRetryMax: 3}
	}
	return f.cfg
}

// fakeEmbedder scripts responses per call.
type fakeEmbedder struct {
	calls   [][]string
	scripts []func(inputs []string) ([][]float32, error)
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, inputs []string) ([][]float32, error) {
	f.calls = append(f.calls, inputs)
	if len(f.scripts) == 0 {
		vecs := make([][]float32, len(inputs))
		for i := range vecs {
			vecs[i] = []float32{float32(len(inputs[i]))}
		}
		return vecs, nil
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]
	return script(inputs)
}

func contextLengthErr() error {
	return base.NewHTTPError("embedding", "embed", 400, "input exceeds context length")
}

func TestRunOnceEmptyClaim(t *testing.T) {
	source := &fakeChunkSource{}
	w := NewWorker(source, &fakeEmbedder{}, zap.NewNop())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOnceHappyPath(t *testing.T) {
	claim := newFakeClaim(
		store.ClaimedChunk{ID: "c1", Text: "first chunk"},
		store.ClaimedChunk{ID: "c2", Text: "second chunk"},
	)
	source := &fakeChunkSource{claim: claim}
	client := &fakeEmbedder{}
	w := NewWorker(source, client, zap.NewNop())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	assert.Len(t, claim.completed, 2)
	assert.Empty(t, claim.failed)
	assert.True(t, claim.committed)
	require.Len(t, client.calls, 1)
	assert.Equal(t, []string{"first chunk", "second chunk"}, client.calls[0])
}

func TestRunOnceTruncatesOversizedText(t *testing.T) {
	long := strings.Repeat("word ", 1000) // 5000 chars
	claim := newFakeClaim(store.ClaimedChunk{ID: "c1", Text: long})
	source := &fakeChunkSource{claim: claim}
	client := &fakeEmbedder{}
	w := NewWorker(source, client, zap.NewNop())

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, client.calls, 1)
	sent := client.calls[0][0]
	assert.LessOrEqual(t, len(sent), chunker.MaxChunkChars)
	assert.False(t, strings.HasSuffix(sent, " "))
}

func TestRunOnceContextLengthFallback(t *testing.T) {
	claim := newFakeClaim(
		store.ClaimedChunk{ID: "ok1", Text: "fine", RetryCount: 0},
		store.ClaimedChunk{ID: "bad", Text: "huge", RetryCount: 1},
		store.ClaimedChunk{ID: "ok2", Text: "fine too", RetryCount: 0},
	)
	source := &fakeChunkSource{claim: claim}
	client := &fakeEmbedder{scripts: []func([]string) ([][]float32, error){
		func([]string) ([][]float32, error) { return nil, contextLengthErr() }, // batch
		func([]string) ([][]float32, error) { return [][]float32{{1}}, nil },   // ok1
		func([]string) ([][]float32, error) { return nil, contextLengthErr() }, // bad
		func([]string) ([][]float32, error) { return [][]float32{{2}}, nil },   // ok2
	}}
	w := NewWorker(source, client, zap.NewNop())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	// Only the offender pays a retry bump; the rest complete.
	assert.ElementsMatch(t, []string{"ok1", "ok2"}, keys(claim.completed))
	assert.Equal(t, map[string]int{"bad": 2}, claim.failed)
	assert.True(t, claim.committed)
	assert.Len(t, client.calls, 4)
}

func TestRunOnceSingleChunkContextErrorSkipsFallback(t *testing.T) {
	claim := newFakeClaim(store.ClaimedChunk{ID: "c1", Text: "huge", RetryCount: 0})
	source := &fakeChunkSource{claim: claim}
	client := &fakeEmbedder{scripts: []func([]string) ([][]float32, error){
		func([]string) ([][]float32, error) { return nil, contextLengthErr() },
	}}
	w := NewWorker(source, client, zap.NewNop())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	// Batch of one: no split possible, the chunk takes the retry bump.
	assert.Equal(t, map[string]int{"c1": 1}, claim.failed)
	assert.Len(t, client.calls, 1)
}

func TestRunOnceTransportErrorBumpsRetries(t *testing.T) {
	claim := newFakeClaim(
		store.ClaimedChunk{ID: "c1", Text: "a", RetryCount: 0},
		store.ClaimedChunk{ID: "c2", Text: "b", RetryCount: 4},
	)
	source := &fakeChunkSource{claim: claim}
	client := &fakeEmbedder{scripts: []func([]string) ([][]float32, error){
		func([]string) ([][]float32, error) { return nil, errors.New("connection refused") },
	}}
	w := NewWorker(source, client, zap.NewNop())

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	assert.Empty(t, claim.completed)
	assert.Equal(t, map[string]int{"c1": 1, "c2": 5}, claim.failed)
	assert.True(t, claim.committed)
}

func TestRunOnceClaimErrorPropagates(t *testing.T) {
	source := &fakeChunkSource{claimErr: errors.New("pool exhausted")}
	w := NewWorker(source, &fakeEmbedder{}, zap.NewNop())

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool exhausted")
}

func keys(m map[string][]float32) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
