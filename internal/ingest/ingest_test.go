package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/family"
	"github.com/babar-raza/tbcv-sub003/internal/rules"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

func TestParseContentSplitsHeaderAndBody(t *testing.T) {
	doc := ParseContent("---\ntitle: Hello\ncount: 3\n---\nBody text\n")
	require.True(t, doc.HasHeader)
	assert.NoError(t, doc.HeaderErr)
	assert.Equal(t, "Hello", doc.Header["title"])
	assert.Equal(t, "Body text\n", doc.Body)
}

func TestParseContentNoHeaderReturnsWholeBody(t *testing.T) {
	doc := ParseContent("Just body, no header\n")
	assert.False(t, doc.HasHeader)
	assert.Equal(t, "Just body, no header\n", doc.Body)
}

func TestParseContentInvalidYAMLReportsErrButKeepsBody(t *testing.T) {
	doc := ParseContent("---\n: : not valid\n---\nbody\n")
	assert.True(t, doc.HasHeader)
	assert.Error(t, doc.HeaderErr)
	assert.Equal(t, "body\n", doc.Body)
}

func TestValidateHeaderMissingRequiredField(t *testing.T) {
	fr := &rules.FamilyRules{
		Family: "words",
		Fields: map[string]rules.FieldRule{
			"title": {Required: true, Type: "string"},
		},
	}
	findings := ValidateHeader(map[string]any{}, fr)
	require.Len(t, findings, 1)
	assert.Equal(t, "missing_required_field", findings[0].Type)
	assert.Equal(t, SeverityError, findings[0].Severity)
}

func TestValidateHeaderInvalidType(t *testing.T) {
	fr := &rules.FamilyRules{
		Fields: map[string]rules.FieldRule{
			"weight": {Type: "number"},
		},
	}
	findings := ValidateHeader(map[string]any{"weight": "not-a-number"}, fr)
	require.Len(t, findings, 1)
	assert.Equal(t, "invalid_field_type", findings[0].Type)
}

func TestValidateHeaderInvalidEnum(t *testing.T) {
	fr := &rules.FamilyRules{
		Fields: map[string]rules.FieldRule{
			"status": {Type: "string", Enum: []string{"draft", "final"}},
		},
	}
	findings := ValidateHeader(map[string]any{"status": "archived"}, fr)
	require.Len(t, findings, 1)
	assert.Equal(t, "invalid_enum_value", findings[0].Type)
}

func TestValidateHeaderForbiddenField(t *testing.T) {
	fr := &rules.FamilyRules{
		ForbiddenFields: map[string]bool{"secret": true},
	}
	findings := ValidateHeader(map[string]any{"secret": "x"}, fr)
	require.Len(t, findings, 1)
	assert.Equal(t, "forbidden_field", findings[0].Type)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
}

func TestValidateBodyExternalLinks(t *testing.T) {
	findings := ValidateBody("See [docs](https://example.com/a) and [more](https://example.com/b).", nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "external_links", findings[0].Type)
	assert.Len(t, findings[0].Links, 2)
}

func TestValidateBodyMissingCodeLanguage(t *testing.T) {
	findings := ValidateBody("```\nfmt.Println()\n```\n", nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "missing_code_language", findings[0].Type)
}

func TestValidateBodyHeadingSkipsLevels(t *testing.T) {
	findings := ValidateBody("# Title\n#### Too Deep\n", nil)
	require.Len(t, findings, 1)
	assert.Equal(t, "heading_structure", findings[0].Type)
}

func TestValidateBodyTitleConsistency(t *testing.T) {
	findings := ValidateBody("Body without the title anywhere.\n", map[string]any{"title": "Missing Title"})
	require.Len(t, findings, 1)
	assert.Equal(t, "title_consistency", findings[0].Type)
}

func TestOverallSeverityPicksHighest(t *testing.T) {
	assert.Equal(t, SeverityInfo, OverallSeverity(nil))
	assert.Equal(t, SeverityWarning, OverallSeverity([]Finding{{Severity: SeverityInfo}, {Severity: SeverityWarning}}))
	assert.Equal(t, SeverityError, OverallSeverity([]Finding{{Severity: SeverityWarning}, {Severity: SeverityError}, {Severity: SeverityInfo}}))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestIngestFilePersistsValidationOnFindings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("---\n---\n```\ncode without language\n```\n"), 0o644))

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer st.Close()

	det := family.NewDetector(filepath.Join(dir, "rules"), filepath.Join(dir, "truth"))
	ruleMgr := rules.NewManager(filepath.Join(dir, "rules"), testLogger())
	pipeline := NewPipeline(det, ruleMgr, st, testLogger())

	fr, err := pipeline.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, fr.ValidationCreated)
	assert.NotEmpty(t, fr.ValidationID)

	require.NoError(t, st.WithSession(context.Background(), func(sess *store.Session) error {
		v, err := sess.GetValidation(context.Background(), fr.ValidationID)
		require.NoError(t, err)
		assert.Equal(t, store.ValidationStatusPass, v.Status)
		assert.Equal(t, SeverityInfo, v.Severity)
		return nil
	}))
}

func TestIngestFileNoFindingsSkipsPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clean.md")
	require.NoError(t, os.WriteFile(path, []byte("Just a clean body with no issues.\n"), 0o644))

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer st.Close()

	det := family.NewDetector(filepath.Join(dir, "rules"), filepath.Join(dir, "truth"))
	ruleMgr := rules.NewManager(filepath.Join(dir, "rules"), testLogger())
	pipeline := NewPipeline(det, ruleMgr, st, testLogger())

	fr, err := pipeline.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, fr.ValidationCreated)
}

func TestIngestFolderAggregatesResults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("clean\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("```\nno lang\n```\n"), 0o644))

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer st.Close()

	det := family.NewDetector(filepath.Join(dir, "rules"), filepath.Join(dir, "truth"))
	ruleMgr := rules.NewManager(filepath.Join(dir, "rules"), testLogger())
	pipeline := NewPipeline(det, ruleMgr, st, testLogger())

	result, err := pipeline.IngestFolder(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesFound)
	assert.Equal(t, 2, result.FilesProcessed)
	assert.Equal(t, 1, result.ValidationsCreated)
}
