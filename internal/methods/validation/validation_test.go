package validation

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/family"
	"github.com/babar-raza/tbcv-sub003/internal/ingest"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/rules"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestMethods(t *testing.T) (*Methods, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	det := family.NewDetector(filepath.Join(dir, "rules"), filepath.Join(dir, "truth"))
	ruleMgr := rules.NewManager(filepath.Join(dir, "rules"), testLogger())
	pipeline := ingest.NewPipeline(det, ruleMgr, st, testLogger())

	return New(pipeline, st, testLogger()), dir
}

func TestValidateFileAlwaysCreatesRecordEvenWithoutFindings(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "clean.md")
	require.NoError(t, os.WriteFile(path, []byte("A clean document with no issues.\n"), 0o644))

	tool := NewValidateFile(m)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.True(t, out["success"].(bool))
	assert.NotEmpty(t, out["validation_id"])
}

func TestValidateFileMissingFileReturnsNotFound(t *testing.T) {
	m, dir := newTestMethods(t)
	tool := NewValidateFile(m)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"file_path":"`+filepath.Join(dir, "missing.md")+`"}`))
	require.Error(t, err)
	de, ok := rpc.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, rpc.KindResourceNotFound, de.Kind)
}

func TestValidateFileMissingParamReturnsInvalidParams(t *testing.T) {
	m, _ := newTestMethods(t)
	tool := NewValidateFile(m)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	de, ok := rpc.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, rpc.KindInvalidParams, de.Kind)
}

func TestValidateContentDefaultsFilePath(t *testing.T) {
	m, _ := newTestMethods(t)
	tool := NewValidateContent(m)

	result, err := tool.Execute(context.Background(), json.RawMessage("{\"content\":\"```\\nno lang\\n```\\n\"}"))
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.True(t, out["success"].(bool))
	issues := out["issues"].([]ingest.Finding)
	require.Len(t, issues, 1)
	assert.Equal(t, "missing_code_language", issues[0].Type)
}

func TestValidateFolderAggregatesAcrossFiles(t *testing.T) {
	m, dir := newTestMethods(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("clean\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("```\nno lang\n```\n"), 0o644))

	tool := NewValidateFolder(m)
	params, err := json.Marshal(map[string]any{"folder_path": dir, "recursive": false})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.True(t, out["success"].(bool))
}

func TestGetValidationRoundTrip(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("```\nno lang\n```\n"), 0o644))

	created, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)
	id := created.(map[string]any)["validation_id"].(string)

	result, err := NewGetValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`"}`))
	require.NoError(t, err)
	v := result.(map[string]any)["validation"].(map[string]any)
	assert.Equal(t, id, v["id"])
	assert.Equal(t, path, v["file_path"])
}

func TestGetValidationNotFound(t *testing.T) {
	m, _ := newTestMethods(t)
	_, err := NewGetValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"nope"}`))
	require.Error(t, err)
	de, ok := rpc.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, rpc.KindResourceNotFound, de.Kind)
}

func TestListValidationsFiltersByStatus(t *testing.T) {
	m, dir := newTestMethods(t)
	clean := filepath.Join(dir, "clean.md")
	bad := filepath.Join(dir, "bad.md")
	require.NoError(t, os.WriteFile(clean, []byte("All good.\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("---\ntitle: 5\n---\nbody\n"), 0o644))

	_, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+clean+`"}`))
	require.NoError(t, err)
	_, err = NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+bad+`"}`))
	require.NoError(t, err)

	result, err := NewListValidations(m).Execute(context.Background(), json.RawMessage(`{"status":"pass"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.GreaterOrEqual(t, out["total"].(int), 1)
}

func TestUpdateValidationRejectsInvalidStatus(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("clean\n"), 0o644))

	created, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)
	id := created.(map[string]any)["validation_id"].(string)

	_, err = NewUpdateValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`","status":"bogus"}`))
	require.Error(t, err)
	de, ok := rpc.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, rpc.KindInvalidParams, de.Kind)
}

func TestUpdateValidationAppliesNotesAndStatus(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("clean\n"), 0o644))

	created, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)
	id := created.(map[string]any)["validation_id"].(string)

	_, err = NewUpdateValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`","status":"approved","notes":"looks good"}`))
	require.NoError(t, err)

	result, err := NewGetValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`"}`))
	require.NoError(t, err)
	v := result.(map[string]any)["validation"].(map[string]any)
	assert.Equal(t, store.ValidationStatusApproved, v["status"])
	assert.Equal(t, "looks good", v["notes"])
}

func TestDeleteValidationRemovesRecord(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("clean\n"), 0o644))

	created, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)
	id := created.(map[string]any)["validation_id"].(string)

	_, err = NewDeleteValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`"}`))
	require.NoError(t, err)

	_, err = NewGetValidation(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+id+`"}`))
	require.Error(t, err)
}

func TestRevalidateCreatesNewRecordAgainstSameFile(t *testing.T) {
	m, dir := newTestMethods(t)
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("```\nno lang\n```\n"), 0o644))

	created, err := NewValidateFile(m).Execute(context.Background(), json.RawMessage(`{"file_path":"`+path+`"}`))
	require.NoError(t, err)
	originalID := created.(map[string]any)["validation_id"].(string)

	result, err := NewRevalidate(m).Execute(context.Background(), json.RawMessage(`{"validation_id":"`+originalID+`"}`))
	require.NoError(t, err)
	out := result.(map[string]any)
	assert.Equal(t, originalID, out["original_validation_id"])
	assert.NotEqual(t, originalID, out["new_validation_id"])
}
