package prompts

import (
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

func writePromptFile(t *testing.T, dir, domain, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain+".json"), []byte(content), 0o644))
}

func TestGetMissingDomainReturnsEmpty(t *testing.T) {
	l := NewLoader(t.TempDir(), testLogger())
	assert.Equal(t, "", l.Get("validator", "missing"))
}

func TestGetBareStringTemplate(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "validator", `{"contradiction_detection": "Check {content} for issues."}`)
	l := NewLoader(dir, testLogger())
	assert.Equal(t, "Check {content} for issues.", l.Get("validator", "contradiction_detection"))
}

func TestGetObjectTemplateWithDescription(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "validator", `{
		"omission_detection": {"template": "Find gaps in {content}.", "description": "Finds omissions"}
	}`)
	l := NewLoader(dir, testLogger())
	tpl := l.GetWithDescription("validator", "omission_detection")
	assert.Equal(t, "Find gaps in {content}.", tpl.Text)
	assert.Equal(t, "Finds omissions", tpl.Description)
}

func TestFormatSubstitutesPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "enhancer", `{"rewrite": "Rewrite {content} in {style} style."}`)
	l := NewLoader(dir, testLogger())
	got := l.Format("enhancer", "rewrite", map[string]string{"content": "hello", "style": "formal"})
	assert.Equal(t, "Rewrite hello in formal style.", got)
}

func TestFormatMissingArgumentReturnsUnformatted(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "enhancer", `{"rewrite": "Rewrite {content} in {style} style."}`)
	l := NewLoader(dir, testLogger())
	got := l.Format("enhancer", "rewrite", map[string]string{"content": "hello"})
	assert.Equal(t, "Rewrite {content} in {style} style.", got)
}

func TestListDomainsAndKeys(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "validator", `{"a": "x", "b": "y"}`)
	writePromptFile(t, dir, "enhancer", `{"c": "z"}`)
	l := NewLoader(dir, testLogger())
	assert.Equal(t, []string{"enhancer", "validator"}, l.ListDomains())
	assert.Equal(t, []string{"a", "b"}, l.ListKeys("validator"))
}

func TestReloadSingleDomain(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "validator", `{"a": "first"}`)
	l := NewLoader(dir, testLogger())
	assert.Equal(t, "first", l.Get("validator", "a"))

	writePromptFile(t, dir, "validator", `{"a": "second"}`)
	l.Reload("validator")
	assert.Equal(t, "second", l.Get("validator", "a"))
}

func TestInvalidJSONYieldsEmptyTemplates(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "broken", `{not json`)
	l := NewLoader(dir, testLogger())
	assert.Equal(t, "", l.Get("broken", "anything"))
}
