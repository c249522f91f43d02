// Package validation implements the validate_folder, validate_file,
// validate_content, get_validation, list_validations, update_validation,
// delete_validation, and revalidate JSON-RPC methods, wrapping the
// ingestion pipeline and the validations table.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/babar-raza/tbcv-sub003/internal/ingest"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Methods groups the validation-method handlers over a shared pipeline and
// store, one exported struct per operation.
type Methods struct {
	pipeline *ingest.Pipeline
	store    *store.Store
	logger   *slog.Logger
}

// New builds a Methods over pipeline and st.
func New(pipeline *ingest.Pipeline, st *store.Store, logger *slog.Logger) *Methods {
	return &Methods{pipeline: pipeline, store: st, logger: logger}
}

// ValidateFolder is the validate_folder method.
type ValidateFolder struct{ m *Methods }

func NewValidateFolder(m *Methods) *ValidateFolder { return &ValidateFolder{m: m} }

func (t *ValidateFolder) Name() string { return "validate_folder" }
func (t *ValidateFolder) Description() string {
	return "Validate every markdown file under a folder, optionally recursively, creating a validation record for each file with findings."
}

type validateFolderParams struct {
	FolderPath string `json:"folder_path" validate:"required"`
	Recursive  *bool  `json:"recursive"`
}

func (t *ValidateFolder) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validateFolderParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	recursive := true
	if p.Recursive != nil {
		recursive = *p.Recursive
	}

	t.m.logger.Info("validating folder", "folder_path", p.FolderPath, "recursive", recursive)

	results, err := t.m.pipeline.IngestFolder(ctx, p.FolderPath, recursive)
	if err != nil {
		return nil, rpc.NewInvalidParams("validating folder %s: %v", p.FolderPath, err)
	}

	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Validated %d files", results.FilesProcessed),
		"results": results,
	}, nil
}

// ValidateFile is the validate_file method. Unlike folder ingestion, a
// direct validate_file call always creates a new validation record, even
// when the file has no findings — the caller asked for a record of this
// specific check.
type ValidateFile struct{ m *Methods }

func NewValidateFile(m *Methods) *ValidateFile { return &ValidateFile{m: m} }

func (t *ValidateFile) Name() string { return "validate_file" }
func (t *ValidateFile) Description() string {
	return "Validate a single markdown file and persist a new validation record for it."
}

type validateFileParams struct {
	FilePath        string   `json:"file_path" validate:"required"`
	Family          string   `json:"family"`
	ValidationTypes []string `json:"validation_types"`
}

func (t *ValidateFile) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validateFileParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	t.m.logger.Info("validating file", "file_path", p.FilePath)

	content, result, err := t.m.pipeline.ProcessFile(p.FilePath)
	if err != nil {
		return nil, rpc.NewNotFound("file not found: %s", p.FilePath)
	}

	record, err := t.m.persist(ctx, p.FilePath, content, p.ValidationTypes, result, "Validated via MCP")
	if err != nil {
		return nil, rpc.NewInternal(err, "persisting validation record")
	}

	return map[string]any{
		"success":       true,
		"validation_id": record.ID,
		"status":        record.Status,
		"issues":        result.Findings,
		"file_path":     p.FilePath,
	}, nil
}

// ValidateContent is the validate_content method: validates a content
// string against a virtual file path without reading or writing disk.
type ValidateContent struct{ m *Methods }

func NewValidateContent(m *Methods) *ValidateContent { return &ValidateContent{m: m} }

func (t *ValidateContent) Name() string { return "validate_content" }
func (t *ValidateContent) Description() string {
	return "Validate a markdown content string against a virtual file path, persisting a validation record."
}

type validateContentParams struct {
	Content         string   `json:"content" validate:"required"`
	FilePath        string   `json:"file_path"`
	ValidationTypes []string `json:"validation_types"`
}

func (t *ValidateContent) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validateContentParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.FilePath == "" {
		p.FilePath = "temp.md"
	}

	t.m.logger.Info("validating content", "virtual_path", p.FilePath)

	result := t.m.pipeline.ProcessContent(p.FilePath, p.Content)

	record, err := t.m.persist(ctx, p.FilePath, p.Content, p.ValidationTypes, result, "Content validation via MCP")
	if err != nil {
		return nil, rpc.NewInternal(err, "persisting validation record")
	}

	return map[string]any{
		"success":       true,
		"validation_id": record.ID,
		"status":        record.Status,
		"issues":        result.Findings,
	}, nil
}

// persist always creates a new validation record from a ProcessResult,
// regardless of whether it has findings, matching validate_file/
// validate_content's "every call is a new record" contract.
func (m *Methods) persist(ctx context.Context, filePath, content string, validationTypes []string, result *ingest.ProcessResult, notes string) (*store.ValidationRecord, error) {
	resultsJSON, err := json.Marshal(result.Findings)
	if err != nil {
		return nil, fmt.Errorf("marshaling findings: %w", err)
	}
	typesJSON, err := json.Marshal(validationTypes)
	if err != nil {
		return nil, fmt.Errorf("marshaling validation types: %w", err)
	}
	rulesAppliedJSON, err := json.Marshal(map[string]bool{
		"yaml_validation":     result.Family != "",
		"markdown_validation": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rules applied: %w", err)
	}

	record := &store.ValidationRecord{
		FilePath:          filePath,
		Status:            result.Status,
		Severity:          result.Severity,
		RulesAppliedJSON:  string(rulesAppliedJSON),
		ValidationTypesJS: string(typesJSON),
		ValidationResults: string(resultsJSON),
		Content:           content,
		Notes:             notes,
	}

	err = m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.CreateValidation(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetValidation is the get_validation method.
type GetValidation struct{ m *Methods }

func NewGetValidation(m *Methods) *GetValidation { return &GetValidation{m: m} }

func (t *GetValidation) Name() string        { return "get_validation" }
func (t *GetValidation) Description() string { return "Fetch one validation record by id." }

type validationIDParams struct {
	ValidationID string `json:"validation_id" validate:"required"`
}

func (t *GetValidation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validationIDParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var v *store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	return map[string]any{"validation": serialize(v)}, nil
}

// ListValidations is the list_validations method.
type ListValidations struct{ m *Methods }

func NewListValidations(m *Methods) *ListValidations { return &ListValidations{m: m} }

func (t *ListValidations) Name() string { return "list_validations" }
func (t *ListValidations) Description() string {
	return "List validation records, optionally filtered by status and file path, with pagination."
}

type listValidationsParams struct {
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	Status   string `json:"status"`
	FilePath string `json:"file_path"`
}

func (t *ListValidations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p listValidationsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}

	var records []*store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		records, err = sess.ListValidations(ctx, store.ListValidationsFilter{
			Status: p.Status, FilePath: p.FilePath, Limit: p.Limit, Offset: p.Offset,
		})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing validations")
	}

	out := make([]map[string]any, 0, len(records))
	for _, v := range records {
		out = append(out, serialize(v))
	}

	return map[string]any{"validations": out, "total": len(out)}, nil
}

// UpdateValidation is the update_validation method.
type UpdateValidation struct{ m *Methods }

func NewUpdateValidation(m *Methods) *UpdateValidation { return &UpdateValidation{m: m} }

func (t *UpdateValidation) Name() string { return "update_validation" }
func (t *UpdateValidation) Description() string {
	return "Update a validation record's status and/or notes."
}

var validStatuses = map[string]bool{
	store.ValidationStatusPass:     true,
	store.ValidationStatusFail:     true,
	store.ValidationStatusApproved: true,
	store.ValidationStatusRejected: true,
	store.ValidationStatusEnhanced: true,
}

type updateValidationParams struct {
	ValidationID string  `json:"validation_id" validate:"required"`
	Notes        *string `json:"notes"`
	Status       *string `json:"status"`
}

func (t *UpdateValidation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p updateValidationParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Status != nil && !validStatuses[*p.Status] {
		return nil, rpc.NewInvalidParams("invalid status: %s", *p.Status)
	}

	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.UpdateValidation(ctx, p.ValidationID, store.UpdateValidationFields{Notes: p.Notes, Status: p.Status})
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	t.m.logger.Info("updated validation", "validation_id", p.ValidationID)

	return map[string]any{"success": true, "validation_id": p.ValidationID}, nil
}

// DeleteValidation is the delete_validation method.
type DeleteValidation struct{ m *Methods }

func NewDeleteValidation(m *Methods) *DeleteValidation { return &DeleteValidation{m: m} }

func (t *DeleteValidation) Name() string        { return "delete_validation" }
func (t *DeleteValidation) Description() string { return "Delete a validation record." }

func (t *DeleteValidation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validationIDParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.DeleteValidation(ctx, p.ValidationID)
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "deleting validation %s", p.ValidationID)
	}

	t.m.logger.Info("deleted validation", "validation_id", p.ValidationID)

	return map[string]any{"success": true, "validation_id": p.ValidationID}, nil
}

// Revalidate is the revalidate method: re-runs validation against a
// previous record's file and returns both the original and new ids.
type Revalidate struct{ m *Methods }

func NewRevalidate(m *Methods) *Revalidate { return &Revalidate{m: m} }

func (t *Revalidate) Name() string { return "revalidate" }
func (t *Revalidate) Description() string {
	return "Re-run validation for the file behind an existing validation record."
}

func (t *Revalidate) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p validationIDParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var original *store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		original, err = sess.GetValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	var validationTypes []string
	_ = json.Unmarshal([]byte(original.ValidationTypesJS), &validationTypes)

	content, result, err := t.m.pipeline.ProcessFile(original.FilePath)
	if err != nil {
		return nil, rpc.NewNotFound("file not found: %s", original.FilePath)
	}

	newRecord, err := t.m.persist(ctx, original.FilePath, content, validationTypes, result, "Validated via MCP")
	if err != nil {
		return nil, rpc.NewInternal(err, "persisting revalidation record")
	}

	t.m.logger.Info("revalidated file", "file_path", original.FilePath, "original_validation_id", p.ValidationID, "new_validation_id", newRecord.ID)

	return map[string]any{
		"success":                true,
		"new_validation_id":      newRecord.ID,
		"original_validation_id": p.ValidationID,
	}, nil
}

func serialize(v *store.ValidationRecord) map[string]any {
	var results any
	_ = json.Unmarshal([]byte(v.ValidationResults), &results)
	var rulesApplied any
	_ = json.Unmarshal([]byte(v.RulesAppliedJSON), &rulesApplied)
	var validationTypes any
	_ = json.Unmarshal([]byte(v.ValidationTypesJS), &validationTypes)

	return map[string]any{
		"id":                 v.ID,
		"file_path":          v.FilePath,
		"status":             v.Status,
		"severity":           v.Severity,
		"rules_applied":      rulesApplied,
		"validation_results": results,
		"validation_types":   validationTypes,
		"notes":              v.Notes,
		"created_at":         v.CreatedAt,
		"updated_at":         v.UpdatedAt,
	}
}
