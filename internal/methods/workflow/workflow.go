// Package workflow implements the create_workflow, control_workflow,
// get_workflow_summary, get_workflow_report, delete_workflow, and
// bulk_delete_workflows JSON-RPC methods, wrapping internal/workflow.Manager.
// Executors (the actual per-type work) are registered separately during
// server wiring; this package only exposes the manager's lifecycle
// operations through the dispatcher.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/babar-raza/tbcv-sub003/internal/fsio"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/workflow"
)

// Methods groups the workflow-method handlers over a shared manager.
type Methods struct {
	manager *workflow.Manager
	logger  *slog.Logger
}

// New builds a Methods over manager.
func New(manager *workflow.Manager, logger *slog.Logger) *Methods {
	return &Methods{manager: manager, logger: logger}
}

// requiredParams per type, per §4.8's table: validate_directory and
// full_audit take a directory, batch_enhance and recommendation_batch take
// an explicit id list.
type createWorkflowParams struct {
	Type              string         `json:"type" validate:"required,oneof=validate_directory batch_enhance full_audit recommendation_batch"`
	DirectoryPath     string         `json:"directory_path"`
	Recursive         *bool          `json:"recursive"`
	ValidationIDs     []string       `json:"validation_ids"`
	RecommendationIDs []string       `json:"recommendation_ids"`
	Metadata          map[string]any `json:"metadata"`
}

// CreateWorkflow is the create_workflow method.
type CreateWorkflow struct{ m *Methods }

func NewCreateWorkflow(m *Methods) *CreateWorkflow { return &CreateWorkflow{m: m} }

func (t *CreateWorkflow) Name() string { return "create_workflow" }
func (t *CreateWorkflow) Description() string {
	return "Create and start a background workflow of the given type."
}

func (t *CreateWorkflow) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p createWorkflowParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	inputParams := map[string]any{}
	totalSteps := 0

	switch p.Type {
	case workflow.TypeValidateDirectory, workflow.TypeFullAudit:
		if p.DirectoryPath == "" {
			return nil, rpc.NewInvalidParams("%s requires directory_path", p.Type)
		}
		recursive := true
		if p.Recursive != nil {
			recursive = *p.Recursive
		}
		files, err := fsio.ListMarkdownFiles(p.DirectoryPath, recursive)
		if err != nil {
			return nil, rpc.NewInvalidParams("listing %s: %v", p.DirectoryPath, err)
		}
		totalSteps = len(files)
		inputParams["directory_path"] = p.DirectoryPath
		inputParams["recursive"] = recursive
	case workflow.TypeBatchEnhance:
		if len(p.ValidationIDs) == 0 {
			return nil, rpc.NewInvalidParams("batch_enhance requires validation_ids")
		}
		totalSteps = len(p.ValidationIDs)
		inputParams["validation_ids"] = p.ValidationIDs
	case workflow.TypeRecommendationBatch:
		if len(p.RecommendationIDs) == 0 {
			return nil, rpc.NewInvalidParams("recommendation_batch requires recommendation_ids")
		}
		totalSteps = len(p.RecommendationIDs)
		inputParams["recommendation_ids"] = p.RecommendationIDs
	}

	w, err := t.m.manager.Create(ctx, p.Type, inputParams, totalSteps, p.Metadata)
	if err != nil {
		if errors.Is(err, workflow.ErrUnknownType) {
			return nil, rpc.NewInvalidParams("%v", err)
		}
		return nil, rpc.NewInternal(err, "creating workflow")
	}

	return map[string]any{
		"success":     true,
		"workflow_id": w.ID,
		"status":      w.State,
		"total_steps": w.TotalSteps,
	}, nil
}

// ControlWorkflow is the control_workflow method.
type ControlWorkflow struct{ m *Methods }

func NewControlWorkflow(m *Methods) *ControlWorkflow { return &ControlWorkflow{m: m} }

func (t *ControlWorkflow) Name() string { return "control_workflow" }
func (t *ControlWorkflow) Description() string {
	return "Pause, resume, or cancel a running workflow."
}

type controlWorkflowParams struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	Action     string `json:"action" validate:"required,oneof=pause resume cancel"`
}

func (t *ControlWorkflow) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p controlWorkflowParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	newState, err := t.m.manager.Control(ctx, p.WorkflowID, p.Action)
	if err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			return nil, rpc.NewInvalidParams("%v", err)
		}
		return nil, rpc.NewNotFound("workflow %s not found", p.WorkflowID)
	}

	return map[string]any{"success": true, "workflow_id": p.WorkflowID, "new_status": newState}, nil
}

// GetWorkflowSummary is the get_workflow_summary method.
type GetWorkflowSummary struct{ m *Methods }

func NewGetWorkflowSummary(m *Methods) *GetWorkflowSummary { return &GetWorkflowSummary{m: m} }

func (t *GetWorkflowSummary) Name() string { return "get_workflow_summary" }
func (t *GetWorkflowSummary) Description() string {
	return "Return a dashboard-friendly snapshot of one workflow's progress."
}

type workflowIDParams struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
}

func (t *GetWorkflowSummary) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p workflowIDParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	summary, err := t.m.manager.GetSummary(ctx, p.WorkflowID)
	if err != nil {
		return nil, rpc.NewNotFound("workflow %s not found", p.WorkflowID)
	}
	return summary, nil
}

// GetWorkflowReport is the get_workflow_report method.
type GetWorkflowReport struct{ m *Methods }

func NewGetWorkflowReport(m *Methods) *GetWorkflowReport { return &GetWorkflowReport{m: m} }

func (t *GetWorkflowReport) Name() string { return "get_workflow_report" }
func (t *GetWorkflowReport) Description() string {
	return "Return a workflow's summary plus, when requested, its full input params and metadata."
}

type getWorkflowReportParams struct {
	WorkflowID     string `json:"workflow_id" validate:"required"`
	IncludeDetails bool   `json:"include_details"`
}

func (t *GetWorkflowReport) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getWorkflowReportParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	report, err := t.m.manager.GetReport(ctx, p.WorkflowID, p.IncludeDetails)
	if err != nil {
		return nil, rpc.NewNotFound("workflow %s not found", p.WorkflowID)
	}
	return report, nil
}

// DeleteWorkflow is the delete_workflow method.
type DeleteWorkflow struct{ m *Methods }

func NewDeleteWorkflow(m *Methods) *DeleteWorkflow { return &DeleteWorkflow{m: m} }

func (t *DeleteWorkflow) Name() string { return "delete_workflow" }
func (t *DeleteWorkflow) Description() string {
	return "Delete a workflow record; a running workflow requires force."
}

type deleteWorkflowParams struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
	Force      bool   `json:"force"`
}

func (t *DeleteWorkflow) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p deleteWorkflowParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if err := t.m.manager.Delete(ctx, p.WorkflowID, p.Force); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			return nil, rpc.NewInvalidParams("%v", err)
		}
		return nil, rpc.NewNotFound("workflow %s not found", p.WorkflowID)
	}
	return map[string]any{"success": true, "workflow_id": p.WorkflowID}, nil
}

// BulkDeleteWorkflows is the bulk_delete_workflows method.
type BulkDeleteWorkflows struct{ m *Methods }

func NewBulkDeleteWorkflows(m *Methods) *BulkDeleteWorkflows { return &BulkDeleteWorkflows{m: m} }

func (t *BulkDeleteWorkflows) Name() string { return "bulk_delete_workflows" }
func (t *BulkDeleteWorkflows) Description() string {
	return "Delete every workflow selected by explicit ids or by status/type/created_before filter."
}

type bulkDeleteWorkflowsParams struct {
	WorkflowIDs   []string `json:"workflow_ids"`
	Status        string   `json:"status"`
	Type          string   `json:"type"`
	CreatedBefore string   `json:"created_before"`
	Force         bool     `json:"force"`
}

func (t *BulkDeleteWorkflows) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p bulkDeleteWorkflowsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	deletedCount, failures, err := t.m.manager.BulkDelete(ctx, workflow.BulkDeleteFilter{
		WorkflowIDs:   p.WorkflowIDs,
		Status:        p.Status,
		Type:          p.Type,
		CreatedBefore: p.CreatedBefore,
		Force:         p.Force,
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "bulk deleting workflows")
	}

	errs := make([]string, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f.WorkflowID+": "+f.Error)
	}

	return map[string]any{
		"success":       true,
		"deleted_count": deletedCount,
		"failed_count":  len(failures),
		"errors":        errs,
	}, nil
}
