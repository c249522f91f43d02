package rules

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRulesFile(t *testing.T, dir, family string, doc rulesDocument) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, family+".json"), data, 0o644))
}

func TestGetMissingFileReturnsDefaults(t *testing.T) {
	m := NewManager(t.TempDir(), testLogger())
	r := m.Get("words")
	assert.Equal(t, "words", r.Family)
	assert.True(t, r.NonEditableFields["title"])
	assert.False(t, r.IsEditable("title"))
	assert.True(t, r.IsEditable("description"))
}

func TestGetLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	writeRulesFile(t, dir, "code", rulesDocument{
		Fields: map[string]FieldRule{
			"language": {Required: true, Type: "string", Enum: []string{"go", "python"}},
		},
		NonEditableFields: []string{"slug"},
		ForbiddenFields:   []string{"legacy_id"},
	})

	m := NewManager(dir, testLogger())
	r := m.Get("code")
	assert.Equal(t, []string{"language"}, r.RequiredFields())
	typ, ok := r.FieldType("language")
	assert.True(t, ok)
	assert.Equal(t, "string", typ)
	assert.Equal(t, []string{"go", "python"}, r.AllowedEnumValues("language"))
	assert.True(t, r.IsForbidden("legacy_id"))
	assert.False(t, r.IsEditable("slug"))
	assert.False(t, r.IsEditable("title"), "global non-editable fields always apply")

	assert.Contains(t, m.LoadedFamilies(), "code")
}

func TestReloadSingleFamily(t *testing.T) {
	dir := t.TempDir()
	writeRulesFile(t, dir, "code", rulesDocument{Fields: map[string]FieldRule{"a": {Required: true}}})
	m := NewManager(dir, testLogger())
	m.Get("code")

	writeRulesFile(t, dir, "code", rulesDocument{Fields: map[string]FieldRule{"b": {Required: true}}})
	m.Reload("code")
	r := m.Get("code")
	assert.Equal(t, []string{"b"}, r.RequiredFields())
}

func TestReloadAll(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, testLogger())
	m.Get("code")
	m.Get("words")
	assert.Len(t, m.LoadedFamilies(), 2)

	m.Reload("")
	assert.Empty(t, m.LoadedFamilies())
}

func TestInvalidJSONFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	m := NewManager(dir, testLogger())
	r := m.Get("broken")
	assert.Empty(t, r.RequiredFields())
}
