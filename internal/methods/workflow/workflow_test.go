package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/store"
	wf "github.com/babar-raza/tbcv-sub003/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestMethods(t *testing.T) (*Methods, *wf.Manager) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	manager := wf.NewManager(st, testLogger())
	return New(manager, testLogger()), manager
}

func waitForStatus(t *testing.T, m *Methods, id string, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		result, err := NewGetWorkflowSummary(m).Execute(context.Background(), json.RawMessage(`{"workflow_id":"`+id+`"}`))
		require.NoError(t, err)
		if result.(*wf.Summary).Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s never reached status %s", id, want)
}

func TestCreateWorkflowValidateDirectoryCountsFiles(t *testing.T) {
	m, manager := newTestMethods(t)
	manager.RegisterExecutor(wf.TypeValidateDirectory, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		return nil
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# B"), 0o644))

	result, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"validate_directory","directory_path":"`+dir+`"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 2, out["total_steps"])
}

func TestCreateWorkflowMissingDirectoryPathRejected(t *testing.T) {
	m, _ := newTestMethods(t)
	_, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"full_audit"}`))
	require.Error(t, err)
}

func TestCreateWorkflowUnknownTypeRejected(t *testing.T) {
	m, _ := newTestMethods(t)
	_, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"not_a_type"}`))
	require.Error(t, err)
}

func TestControlWorkflowCancelsRunningWorkflow(t *testing.T) {
	m, manager := newTestMethods(t)
	started := make(chan struct{})
	manager.RegisterExecutor(wf.TypeBatchEnhance, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		close(started)
		for {
			if err := report(ctx, 1, 10); err != nil {
				return err
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	result, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"batch_enhance","validation_ids":["a","b"]}`))
	require.NoError(t, err)
	id := result.(map[string]any)["workflow_id"].(string)
	<-started

	controlResult, err := NewControlWorkflow(m).Execute(context.Background(), json.RawMessage(`{"workflow_id":"`+id+`","action":"cancel"}`))
	require.NoError(t, err)
	assert.Equal(t, store.WorkflowStateCancelled, controlResult.(map[string]any)["new_status"])
	waitForStatus(t, m, id, store.WorkflowStateCancelled)
}

func TestControlWorkflowInvalidActionRejected(t *testing.T) {
	m, manager := newTestMethods(t)
	manager.RegisterExecutor(wf.TypeBatchEnhance, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		return nil
	})
	result, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"batch_enhance","validation_ids":["a"]}`))
	require.NoError(t, err)
	id := result.(map[string]any)["workflow_id"].(string)

	_, err = NewControlWorkflow(m).Execute(context.Background(), json.RawMessage(`{"workflow_id":"`+id+`","action":"resume"}`))
	require.Error(t, err)
}

func TestGetWorkflowReportIncludesDetailsWhenRequested(t *testing.T) {
	m, manager := newTestMethods(t)
	manager.RegisterExecutor(wf.TypeRecommendationBatch, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		return report(ctx, 1, 1)
	})
	result, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"recommendation_batch","recommendation_ids":["r1"]}`))
	require.NoError(t, err)
	id := result.(map[string]any)["workflow_id"].(string)
	waitForStatus(t, m, id, store.WorkflowStateCompleted)

	reportResult, err := NewGetWorkflowReport(m).Execute(context.Background(), json.RawMessage(`{"workflow_id":"`+id+`","include_details":true}`))
	require.NoError(t, err)
	report := reportResult.(*wf.Report)
	assert.Equal(t, []any{"r1"}, report.InputParams["recommendation_ids"])
}

func TestDeleteWorkflowRunningWithoutForceRejected(t *testing.T) {
	m, manager := newTestMethods(t)
	started := make(chan struct{})
	manager.RegisterExecutor(wf.TypeBatchEnhance, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	result, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"batch_enhance","validation_ids":["a"]}`))
	require.NoError(t, err)
	id := result.(map[string]any)["workflow_id"].(string)
	<-started

	_, err = NewDeleteWorkflow(m).Execute(context.Background(), json.RawMessage(`{"workflow_id":"`+id+`"}`))
	require.Error(t, err)
}

func TestBulkDeleteWorkflowsByExplicitIDs(t *testing.T) {
	m, manager := newTestMethods(t)
	manager.RegisterExecutor(wf.TypeBatchEnhance, func(ctx context.Context, params map[string]any, report wf.StepProgress) error {
		return nil
	})
	result1, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"batch_enhance","validation_ids":["a"]}`))
	require.NoError(t, err)
	id1 := result1.(map[string]any)["workflow_id"].(string)
	result2, err := NewCreateWorkflow(m).Execute(context.Background(), json.RawMessage(`{"type":"batch_enhance","validation_ids":["b"]}`))
	require.NoError(t, err)
	id2 := result2.(map[string]any)["workflow_id"].(string)
	waitForStatus(t, m, id1, store.WorkflowStateCompleted)
	waitForStatus(t, m, id2, store.WorkflowStateCompleted)

	bulkResult, err := NewBulkDeleteWorkflows(m).Execute(context.Background(), json.RawMessage(`{"workflow_ids":["`+id1+`","`+id2+`"]}`))
	require.NoError(t, err)
	out := bulkResult.(map[string]any)
	assert.Equal(t, 2, out["deleted_count"])
	assert.Equal(t, 0, out["failed_count"])
}
