package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/store"
)

type fakeStore struct {
	softDocs    []string
	softPersons []string
	gotCutoff   time.Time
	purge       store.PurgeResult
	purgeErr    error
	deletedAt   time.Time
}

func (f *fakeStore) SoftDeleteDocument(_ context.Context, id string) (time.Time, error) {
	f.softDocs = append(f.softDocs, id)
	return f.deletedAt, nil
}

func (f *fakeStore) SoftDeletePerson(_ context.Context, id string) (time.Time, error) {
	f.softPersons = append(f.softPersons, id)
	return f.deletedAt, nil
}

func (f *fakeStore) PurgeExpired(_ context.Context, cutoff time.Time) (store.PurgeResult, error) {
	f.gotCutoff = cutoff
	return f.purge, f.purgeErr
}

func testService(t *testing.T, st *fakeStore, days int) *Service {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "data", "deletion_log.jsonl")
	return NewService(st, logPath, days, zap.NewNop())
}

func TestSoftDeleteRoutesByEntityType(t *testing.T) {
	st := &fakeStore{deletedAt: time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)}
	svc := testService(t, st, 30)

	got, err := svc.SoftDelete(context.Background(), "document", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, st.deletedAt, got)

	_, err = svc.SoftDelete(context.Background(), "person", "per-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"doc-1"}, st.softDocs)
	assert.Equal(t, []string{"per-1"}, st.softPersons)
}

func TestSoftDeleteRejectsUnknownType(t *testing.T) {
	svc := testService(t, &fakeStore{}, 30)

	_, err := svc.SoftDelete(context.Background(), "chunk", "c-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}

func TestHardDeleteUsesRetentionCutoff(t *testing.T) {
	st := &fakeStore{}
	svc := testService(t, st, 30)
	frozen := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	_, err := svc.HardDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frozen.Add(-30*24*time.Hour), st.gotCutoff)
}

func TestHardDeleteWritesReceiptLine(t *testing.T) {
	st := &fakeStore{purge: store.PurgeResult{
		DocIDs:        []string{"d1", "d2"},
		PersonIDs:     []string{"p1"},
		DeletedChunks: 14,
	}}
	svc := testService(t, st, 30)
	frozen := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	res, err := svc.HardDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedDocuments)
	assert.Equal(t, 1, res.DeletedPersons)
	assert.Equal(t, int64(14), res.DeletedChunks)
	assert.Equal(t, svc.logPath, res.LogPath)

	data, err := os.ReadFile(svc.logPath)
	require.NoError(t, err)

	var receipt Receipt
	require.NoError(t, sonic.Unmarshal(data, &receipt))
	assert.Equal(t, "2025-10-02T12:00:00Z", receipt.Timestamp)
	assert.Equal(t, 2, receipt.DeletedDocuments)
	assert.Equal(t, 1, receipt.DeletedPersons)
	assert.Equal(t, []string{"d1", "d2"}, receipt.DocIDs)
	assert.Equal(t, []string{"p1"}, receipt.PersonIDs)
}

func TestHardDeleteAppendsOneLinePerRun(t *testing.T) {
	st := &fakeStore{}
	svc := testService(t, st, 30)

	_, err := svc.HardDelete(context.Background())
	require.NoError(t, err)
	_, err = svc.HardDelete(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(svc.logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var receipt Receipt
	require.NoError(t, sonic.Unmarshal([]byte(lines[1]), &receipt))
	assert.Equal(t, []string{}, receipt.DocIDs, "empty purge keeps arrays, not null")
	assert.Equal(t, []string{}, receipt.PersonIDs)
}

func TestHardDeletePropagatesPurgeError(t *testing.T) {
	boom := errors.New("pool exhausted")
	st := &fakeStore{purgeErr: boom}
	svc := testService(t, st, 30)

	_, err := svc.HardDelete(context.Background())
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(svc.logPath)
	assert.True(t, os.IsNotExist(statErr), "no receipt on failed purge")
}

func TestHardDeleteReportsReceiptFailure(t *testing.T) {
	st := &fakeStore{purge: store.PurgeResult{DocIDs: []string{"d1"}}}
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	svc := NewService(st, filepath.Join(blocker, "deletion_log.jsonl"), 30, zap.NewNop())

	_, err := svc.HardDelete(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receipt write failed after purging 1 documents")
}

func TestNewServiceDefaultsRetentionWindow(t *testing.T) {
	st := &fakeStore{}
	svc := NewService(st, filepath.Join(t.TempDir(), "log.jsonl"), 0, zap.NewNop())
	frozen := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }

	_, err := svc.HardDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frozen.Add(-DefaultRetentionDays*24*time.Hour), st.gotCutoff)
}
