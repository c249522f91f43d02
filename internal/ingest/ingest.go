// Package ingest implements the markdown ingestion pipeline: recursive
// folder discovery, header/body splitting, family detection, header and
// body validation against a family's rules, and severity roll-up into a
// persisted validation record.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/babar-raza/tbcv-sub003/internal/family"
	"github.com/babar-raza/tbcv-sub003/internal/fsio"
	"github.com/babar-raza/tbcv-sub003/internal/rules"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Finding is a single validator observation, categorized and
// severity-tagged, as persisted inside a validation record's results.
type Finding struct {
	Type         string   `json:"type"`
	Field        string   `json:"field,omitempty"`
	Message      string   `json:"message"`
	Severity     string   `json:"severity"`
	ExpectedType string   `json:"expected_type,omitempty"`
	ActualType   string   `json:"actual_type,omitempty"`
	Value        string   `json:"value,omitempty"`
	ValidValues  []string `json:"valid_values,omitempty"`
	Links        []string `json:"links,omitempty"`
	BlockIndex   int      `json:"block_index,omitempty"`
	Heading      string   `json:"heading,omitempty"`
	Level        int      `json:"level,omitempty"`
}

// Severity levels, ordered low to high.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ParsedDocument is the result of splitting a file into front-matter
// header and body.
type ParsedDocument struct {
	Header    map[string]any
	HeaderErr error
	Body      string
	HasHeader bool
}

// ParseContent splits content into YAML front matter and body. A region
// delimited by a leading "---" line and a matching "---" line, each on
// its own line, is parsed as YAML; invalid header syntax is reported in
// HeaderErr but the body is still returned so body validation can
// proceed. Content with no opening "---" line is returned whole as body.
func ParseContent(content string) ParsedDocument {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return ParsedDocument{Body: content}
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			closingIdx = i
			break
		}
	}
	if closingIdx == -1 {
		return ParsedDocument{Body: content}
	}

	headerText := strings.Join(lines[1:closingIdx], "\n")
	body := strings.Join(lines[closingIdx+1:], "\n")

	doc := ParsedDocument{HasHeader: true, Body: body}
	if strings.TrimSpace(headerText) == "" {
		doc.Header = map[string]any{}
		return doc
	}

	var header map[string]any
	if err := yaml.Unmarshal([]byte(headerText), &header); err != nil {
		doc.HeaderErr = err
		doc.Header = map[string]any{}
		return doc
	}
	if header == nil {
		header = map[string]any{}
	}
	doc.Header = header
	return doc
}

var codeBlockPattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)\\n```")
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
var externalLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)

// ValidateHeader checks header fields against fr: required fields, field
// types, enum membership, and forbidden fields.
func ValidateHeader(header map[string]any, fr *rules.FamilyRules) []Finding {
	var findings []Finding

	for _, field := range fr.RequiredFields() {
		if _, ok := header[field]; !ok {
			findings = append(findings, Finding{
				Type:     "missing_required_field",
				Field:    field,
				Message:  fmt.Sprintf("Required field '%s' is missing", field),
				Severity: SeverityError,
			})
		}
	}

	for field, value := range header {
		expected, governed := fr.FieldType(field)
		if !governed {
			continue
		}
		actual := goType(value)
		if !typeMatches(value, expected) {
			findings = append(findings, Finding{
				Type:         "invalid_field_type",
				Field:        field,
				ExpectedType: expected,
				ActualType:   actual,
				Message:      fmt.Sprintf("Field '%s' should be %s", field, expected),
				Severity:     SeverityError,
			})
			continue
		}

		if enum := fr.AllowedEnumValues(field); len(enum) > 0 {
			if !containsValue(enum, value) {
				findings = append(findings, Finding{
					Type:        "invalid_enum_value",
					Field:       field,
					Value:       fmt.Sprintf("%v", value),
					ValidValues: enum,
					Message:     fmt.Sprintf("Field '%s' value '%v' not in allowed values: %v", field, value, enum),
					Severity:    SeverityError,
				})
			}
		}
	}

	for field := range header {
		if fr.IsForbidden(field) {
			findings = append(findings, Finding{
				Type:     "forbidden_field",
				Field:    field,
				Message:  fmt.Sprintf("Field '%s' is not allowed", field),
				Severity: SeverityWarning,
			})
		}
	}

	return findings
}

// ValidateBody checks body structure: external links, code block language
// tags, heading-level jumps, and title consistency against header.
func ValidateBody(body string, header map[string]any) []Finding {
	var findings []Finding

	if links := externalLinkPattern.FindAllStringSubmatch(body, -1); len(links) > 0 {
		urls := make([]string, len(links))
		for i, l := range links {
			urls[i] = l[2]
		}
		findings = append(findings, Finding{
			Type:     "external_links",
			Links:    urls,
			Message:  fmt.Sprintf("Found %d external links. Only internal links are allowed.", len(urls)),
			Severity: SeverityWarning,
		})
	}

	for i, block := range codeBlockPattern.FindAllStringSubmatch(body, -1) {
		if strings.TrimSpace(block[1]) == "" {
			findings = append(findings, Finding{
				Type:       "missing_code_language",
				BlockIndex: i,
				Message:    fmt.Sprintf("Code block %d missing language specification", i+1),
				Severity:   SeverityInfo,
			})
		}
	}

	prevLevel := 0
	for _, h := range headingPattern.FindAllStringSubmatch(body, -1) {
		level := len(h[1])
		title := h[2]
		if level > prevLevel+1 {
			findings = append(findings, Finding{
				Type:     "heading_structure",
				Heading:  title,
				Level:    level,
				Message:  fmt.Sprintf("Heading '%s' skips levels (h%d -> h%d)", title, prevLevel, level),
				Severity: SeverityInfo,
			})
		}
		prevLevel = level
	}

	if title, ok := header["title"]; ok {
		if titleStr, ok := title.(string); ok && titleStr != "" && !strings.Contains(body, titleStr) {
			findings = append(findings, Finding{
				Type:     "title_consistency",
				Message:  "Title from YAML front-matter not found in markdown content",
				Severity: SeverityInfo,
			})
		}
	}

	return findings
}

// OverallSeverity returns the maximum severity across findings (error >
// warning > info), matching the first-error-wins precedence fixtures
// depend on.
func OverallSeverity(findings []Finding) string {
	severity := SeverityInfo
	for _, f := range findings {
		if f.Severity == SeverityError {
			return SeverityError
		}
		if f.Severity == SeverityWarning {
			severity = SeverityWarning
		}
	}
	return severity
}

func goType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int, int64, float64:
		return "number"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func typeMatches(v any, expected string) bool {
	switch expected {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int64, float64:
			return true
		default:
			return false
		}
	case "bool":
		_, ok := v.(bool)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	case "dict":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func containsValue(allowed []string, v any) bool {
	s := fmt.Sprintf("%v", v)
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}

// Pipeline ties family detection, rule lookup, header/body validation, and
// persistence together for single-file and folder ingestion.
type Pipeline struct {
	detector *family.Detector
	rules    *rules.Manager
	store    *store.Store
	logger   *slog.Logger
}

// NewPipeline builds a Pipeline from its collaborators.
func NewPipeline(detector *family.Detector, ruleMgr *rules.Manager, st *store.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{detector: detector, rules: ruleMgr, store: st, logger: logger}
}

// FileResult is the per-file outcome of folder ingestion.
type FileResult struct {
	FilePath          string `json:"file_path"`
	Family            string `json:"family"`
	HeaderValid       bool   `json:"yaml_valid"`
	BodyValid         bool   `json:"markdown_valid"`
	ValidationID      string `json:"validation_id,omitempty"`
	ValidationCreated bool   `json:"validation_created"`
	Error             string `json:"error,omitempty"`
}

// FolderResult summarizes an ingest_folder run.
type FolderResult struct {
	FolderPath         string         `json:"folder_path"`
	FilesFound         int            `json:"files_found"`
	FilesProcessed     int            `json:"files_processed"`
	FilesFailed        int            `json:"files_failed"`
	ValidationsCreated int            `json:"validations_created"`
	FamiliesDetected   map[string]int `json:"families_detected"`
	Errors             []FileError    `json:"errors"`
	FileResults        []FileResult   `json:"file_results"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

// FileError records one file that failed to process during folder
// ingestion, so the rest of the batch can still complete.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// IngestFolder walks folderPath (recursively, if recursive is true),
// processes every markdown file found, and returns an aggregate summary.
// A single file's failure is captured in Errors rather than aborting the
// batch.
func (p *Pipeline) IngestFolder(ctx context.Context, folderPath string, recursive bool) (*FolderResult, error) {
	start := time.Now()

	files, err := fsio.ListMarkdownFiles(folderPath, recursive)
	if err != nil {
		return nil, fmt.Errorf("listing markdown files under %s: %w", folderPath, err)
	}

	result := &FolderResult{
		FolderPath:       folderPath,
		FilesFound:       len(files),
		FamiliesDetected: map[string]int{},
	}

	for _, path := range files {
		fr, err := p.IngestFile(ctx, path)
		if err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, FileError{File: path, Error: err.Error()})
			continue
		}
		result.FilesProcessed++
		result.FileResults = append(result.FileResults, *fr)
		if fr.ValidationCreated {
			result.ValidationsCreated++
		}
		if fr.Family != "" {
			result.FamiliesDetected[fr.Family]++
		}
	}

	result.DurationSeconds = time.Since(start).Seconds()
	return result, nil
}

// ProcessResult is the outcome of running the header/body validators
// against one document, before any persistence decision is made.
type ProcessResult struct {
	Family      string
	Findings    []Finding
	HeaderValid bool
	BodyValid   bool
	Severity    string
	Status      string
}

// ProcessContent detects family and runs header/body validation against
// content, without touching disk or the store. The header's "family" field,
// when present, decides the family; otherwise path is used for family
// detection. path is also the record's eventual file_path.
func (p *Pipeline) ProcessContent(path, content string) *ProcessResult {
	parsed := ParseContent(content)

	headerFamily, _ := parsed.Header["family"].(string)
	fam := p.detector.Detect(path, headerFamily)

	var findings []Finding
	if parsed.HeaderErr != nil {
		findings = append(findings, Finding{
			Type:     "invalid_header_syntax",
			Message:  parsed.HeaderErr.Error(),
			Severity: SeverityError,
		})
	}

	var headerFindings, bodyFindings []Finding
	if fam != "" {
		fr := p.rules.Get(fam)
		headerFindings = ValidateHeader(parsed.Header, fr)
	}
	bodyFindings = ValidateBody(parsed.Body, parsed.Header)

	findings = append(findings, headerFindings...)
	findings = append(findings, bodyFindings...)

	severity := OverallSeverity(findings)
	status := store.ValidationStatusPass
	if severity == SeverityError {
		status = store.ValidationStatusFail
	}

	return &ProcessResult{
		Family:      fam,
		Findings:    findings,
		HeaderValid: !hasSeverity(headerFindings, SeverityError) && parsed.HeaderErr == nil,
		BodyValid:   !hasSeverity(bodyFindings, SeverityError),
		Severity:    severity,
		Status:      status,
	}
}

// ProcessFile reads path from disk and runs ProcessContent against it,
// also returning the raw content so callers can persist it alongside the
// validation record.
func (p *Pipeline) ProcessFile(path string) (content string, result *ProcessResult, err error) {
	content, err = fsio.ReadText(path)
	if err != nil {
		return "", nil, err
	}
	return content, p.ProcessContent(path, content), nil
}

// NoteLines renders findings as one line per finding, the format used for
// a validation record's notes field.
func NoteLines(findings []Finding) string {
	var lines []string
	for _, f := range findings {
		lines = append(lines, fmt.Sprintf("[%s] %s", f.Type, f.Message))
	}
	return strings.Join(lines, "\n")
}

// IngestFile reads, parses, validates, and (if findings exist) persists a
// validation record for a single file.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*FileResult, error) {
	fr := &FileResult{FilePath: path}

	content, result, err := p.ProcessFile(path)
	if err != nil {
		fr.Error = err.Error()
		return fr, err
	}

	fr.Family = result.Family
	fr.HeaderValid = result.HeaderValid
	fr.BodyValid = result.BodyValid

	if len(result.Findings) == 0 {
		return fr, nil
	}

	resultsJSON, err := json.Marshal(result.Findings)
	if err != nil {
		fr.Error = err.Error()
		return fr, nil
	}
	rulesAppliedJSON, err := json.Marshal(map[string]bool{
		"yaml_validation":     len(result.Findings) > 0 || result.Family != "",
		"markdown_validation": true,
	})
	if err != nil {
		fr.Error = err.Error()
		return fr, nil
	}

	record := &store.ValidationRecord{
		FilePath:          path,
		Status:            result.Status,
		Severity:          result.Severity,
		RulesAppliedJSON:  string(rulesAppliedJSON),
		ValidationResults: string(resultsJSON),
		Content:           content,
		Notes:             NoteLines(result.Findings),
	}

	if p.store != nil {
		err := p.store.WithSession(ctx, func(sess *store.Session) error {
			return sess.CreateValidation(ctx, record)
		})
		if err != nil {
			p.logger.Error("failed to persist validation record, continuing batch", "file", path, "error", err)
			fr.Error = err.Error()
			return fr, nil
		}
		fr.ValidationID = record.ID
		fr.ValidationCreated = true
	}

	return fr, nil
}

func hasSeverity(findings []Finding, severity string) bool {
	for _, f := range findings {
		if f.Severity == severity {
			return true
		}
	}
	return false
}
