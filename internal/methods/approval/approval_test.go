package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestMethods(t *testing.T) (*Methods, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, testLogger()), st
}

func createValidation(t *testing.T, st *store.Store, filePath string) string {
	t.Helper()
	v := &store.ValidationRecord{FilePath: filePath, Status: store.ValidationStatusPass, Severity: "info"}
	require.NoError(t, st.WithSession(context.Background(), func(sess *store.Session) error {
		return sess.CreateValidation(context.Background(), v)
	}))
	return v.ID
}

func TestApproveSingleIDAsString(t *testing.T) {
	m, st := newTestMethods(t)
	id := createValidation(t, st, "a.md")

	result, err := NewApprove(m).Execute(context.Background(), json.RawMessage(`{"ids":"`+id+`"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 1, out["approved_count"])
	assert.Equal(t, 0, out["failed_count"])
}

func TestApproveListOfIDsWithOneMissing(t *testing.T) {
	m, st := newTestMethods(t)
	id := createValidation(t, st, "a.md")

	result, err := NewApprove(m).Execute(context.Background(), json.RawMessage(`{"ids":["`+id+`","missing-id"]}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 1, out["approved_count"])
	assert.Equal(t, 1, out["failed_count"])
	assert.Len(t, out["errors"], 1)
}

func TestApproveEmptyIDsReturnsGracefulZero(t *testing.T) {
	m, _ := newTestMethods(t)
	result, err := NewApprove(m).Execute(context.Background(), json.RawMessage(`{"ids":[]}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.True(t, out["success"].(bool))
	assert.Equal(t, 0, out["approved_count"])
}

func TestRejectAppliesReasonAsNote(t *testing.T) {
	m, st := newTestMethods(t)
	id := createValidation(t, st, "a.md")

	result, err := NewReject(m).Execute(context.Background(), json.RawMessage(`{"ids":["`+id+`"],"reason":"broken links"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 1, out["rejected_count"])

	var v *store.ValidationRecord
	require.NoError(t, st.WithSession(context.Background(), func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(context.Background(), id)
		return err
	}))
	assert.Equal(t, store.ValidationStatusRejected, v.Status)
	assert.Contains(t, v.Notes, "broken links")
}

func TestBulkApproveProcessesInBatches(t *testing.T) {
	m, st := newTestMethods(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, createValidation(t, st, "f.md"))
	}

	params, err := json.Marshal(map[string]any{"ids": ids, "batch_size": 2})
	require.NoError(t, err)

	result, err := NewBulkApprove(m).Execute(context.Background(), params)
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 5, out["total"])
	assert.Equal(t, 5, out["approved_count"])
	assert.Equal(t, 0, out["failed_count"])
	assert.GreaterOrEqual(t, out["processing_time_ms"].(float64), 0.0)
}

func TestBulkApproveEmptyListReturnsZeroWithoutError(t *testing.T) {
	m, _ := newTestMethods(t)
	result, err := NewBulkApprove(m).Execute(context.Background(), json.RawMessage(`{"ids":[]}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 0, out["total"])
}

func TestBulkRejectAppliesReasonToEveryRecord(t *testing.T) {
	m, st := newTestMethods(t)
	id1 := createValidation(t, st, "a.md")
	id2 := createValidation(t, st, "b.md")

	params, err := json.Marshal(map[string]any{"ids": []string{id1, id2}, "reason": "stale content"})
	require.NoError(t, err)

	result, err := NewBulkReject(m).Execute(context.Background(), params)
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, 2, out["rejected_count"])

	require.NoError(t, st.WithSession(context.Background(), func(sess *store.Session) error {
		v, err := sess.GetValidation(context.Background(), id1)
		require.NoError(t, err)
		assert.Contains(t, v.Notes, "stale content")
		return nil
	}))
}
