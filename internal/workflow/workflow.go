// Package workflow runs long-lived background operations — directory
// validation, batch enhancement, recommendation batches, full audits —
// each as a single goroutine that reports progress and honors cooperative
// pause/cancel at step boundaries.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Valid workflow types, per §4.8's table of required params.
const (
	TypeValidateDirectory   = store.WorkflowTypeValidateDirectory
	TypeBatchEnhance        = store.WorkflowTypeBatchEnhance
	TypeFullAudit           = store.WorkflowTypeFullAudit
	TypeRecommendationBatch = store.WorkflowTypeRecommendationBatch
)

var validTypes = map[string]bool{
	TypeValidateDirectory:   true,
	TypeBatchEnhance:        true,
	TypeFullAudit:           true,
	TypeRecommendationBatch: true,
}

// ErrCancelled is returned by StepProgress (and surfaces from an Executor)
// when the workflow was cancelled at a step boundary.
var ErrCancelled = errors.New("workflow cancelled")

// ErrUnknownType is returned when Create is asked to start a workflow type
// with no registered Executor.
var ErrUnknownType = errors.New("no executor registered for workflow type")

// ErrInvalidTransition is returned by Control when the requested action
// does not apply to the workflow's current state.
var ErrInvalidTransition = errors.New("invalid workflow state transition")

// StepProgress is called by an Executor after completing one unit of work.
// It persists progress, and returns ErrCancelled if the workflow's control
// flag was tripped since the last call — the Executor must check this
// return value and stop promptly.
type StepProgress func(ctx context.Context, step, total int) error

// Executor performs one workflow type's actual work, reporting progress
// via report after each step and returning report's error immediately
// when it is non-nil.
type Executor func(ctx context.Context, params map[string]any, report StepProgress) error

// Manager creates, runs, and controls workflows.
type Manager struct {
	store     *store.Store
	logger    *slog.Logger
	mu        sync.Mutex
	executors map[string]Executor
	controls  map[string]*control
}

// NewManager builds a Manager backed by st.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		logger:    logger,
		executors: make(map[string]Executor),
		controls:  make(map[string]*control),
	}
}

// RegisterExecutor binds workflowType to fn. Intended to be called once
// per type during server wiring, after the validation/enhancement/
// recommendation method packages (which supply the actual Executor
// functions) are constructed.
func (m *Manager) RegisterExecutor(workflowType string, fn Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[workflowType] = fn
}

type control struct {
	mu     sync.Mutex
	state  string
	cancel context.CancelFunc
	resume chan struct{}
}

// checkpoint blocks while paused, and reports cancellation once triggered,
// either directly or while blocked waiting to resume.
func (c *control) checkpoint(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	resumeCh := c.resume
	c.mu.Unlock()

	if state == store.WorkflowStateCancelled {
		return ErrCancelled
	}
	if state != store.WorkflowStatePaused {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
			return nil
		}
	}
	select {
	case <-resumeCh:
		return nil
	case <-ctx.Done():
		return ErrCancelled
	}
}

// Create persists a pending workflow record of workflowType and starts it
// on a dedicated goroutine. totalSteps should reflect the unit of work the
// registered Executor will report progress against (e.g. file count).
func (m *Manager) Create(ctx context.Context, workflowType string, inputParams map[string]any, totalSteps int, metadata map[string]any) (*store.Workflow, error) {
	if !validTypes[workflowType] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, workflowType)
	}

	m.mu.Lock()
	executor, ok := m.executors[workflowType]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, workflowType)
	}

	inputJSON, err := json.Marshal(inputParams)
	if err != nil {
		return nil, fmt.Errorf("marshaling workflow params: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling workflow metadata: %w", err)
	}

	w := &store.Workflow{
		Type:            workflowType,
		State:           store.WorkflowStatePending,
		InputParamsJSON: string(inputJSON),
		TotalSteps:      totalSteps,
		MetadataJSON:    string(metaJSON),
	}

	if err := m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.CreateWorkflow(ctx, w)
	}); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}

	go m.run(w.ID, executor, inputParams, totalSteps)

	return w, nil
}

func (m *Manager) run(id string, executor Executor, params map[string]any, totalSteps int) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := &control{state: store.WorkflowStateRunning, cancel: cancel, resume: make(chan struct{})}
	m.mu.Lock()
	m.controls[id] = ctrl
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.controls, id)
		m.mu.Unlock()
	}()

	bg := context.Background()
	if err := m.store.WithSession(bg, func(sess *store.Session) error {
		return sess.UpdateWorkflowState(bg, id, store.WorkflowStateRunning, "", false)
	}); err != nil {
		m.logger.Error("failed to mark workflow running", "workflow_id", id, "error", err)
	}

	report := func(ctx context.Context, step, total int) error {
		if err := ctrl.checkpoint(ctx); err != nil {
			return err
		}
		pct := roundTo1(100 * float64(step) / float64(total))
		if err := m.store.WithSession(bg, func(sess *store.Session) error {
			return sess.UpdateWorkflowProgress(bg, id, step, pct)
		}); err != nil {
			m.logger.Error("failed to persist workflow progress", "workflow_id", id, "error", err)
		}
		return nil
	}

	err := executor(runCtx, params, report)

	ctrl.mu.Lock()
	cancelled := ctrl.state == store.WorkflowStateCancelled
	ctrl.mu.Unlock()

	switch {
	case cancelled || errors.Is(err, ErrCancelled):
		if err := m.store.WithSession(bg, func(sess *store.Session) error {
			return sess.UpdateWorkflowState(bg, id, store.WorkflowStateCancelled, "", true)
		}); err != nil {
			m.logger.Error("failed to persist workflow cancellation", "workflow_id", id, "error", err)
		}
	case err != nil:
		if err := m.store.WithSession(bg, func(sess *store.Session) error {
			return sess.UpdateWorkflowState(bg, id, store.WorkflowStateFailed, err.Error(), true)
		}); err != nil {
			m.logger.Error("failed to persist workflow failure", "workflow_id", id, "error", err)
		}
	default:
		if err := m.store.WithSession(bg, func(sess *store.Session) error {
			if err := sess.UpdateWorkflowProgress(bg, id, totalSteps, 100.0); err != nil {
				return err
			}
			return sess.UpdateWorkflowState(bg, id, store.WorkflowStateCompleted, "", true)
		}); err != nil {
			m.logger.Error("failed to persist workflow completion", "workflow_id", id, "error", err)
		}
	}
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

// getWorkflow loads one workflow record in its own short-lived session.
func (m *Manager) getWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	var w *store.Workflow
	err := m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		w, err = sess.GetWorkflow(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Control applies a pause, resume, or cancel action to a running workflow
// and returns the resulting state. Invalid transitions (e.g. pausing an
// already-completed workflow) fail with ErrInvalidTransition.
func (m *Manager) Control(ctx context.Context, id string, action string) (string, error) {
	m.mu.Lock()
	ctrl, ok := m.controls[id]
	m.mu.Unlock()

	if !ok {
		w, err := m.getWorkflow(ctx, id)
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: workflow %s is %s and not running in this process", ErrInvalidTransition, id, w.State)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	switch action {
	case "pause":
		if ctrl.state != store.WorkflowStateRunning {
			return "", fmt.Errorf("%w: cannot pause a workflow in state %s", ErrInvalidTransition, ctrl.state)
		}
		ctrl.state = store.WorkflowStatePaused
	case "resume":
		if ctrl.state != store.WorkflowStatePaused {
			return "", fmt.Errorf("%w: cannot resume a workflow in state %s", ErrInvalidTransition, ctrl.state)
		}
		ctrl.state = store.WorkflowStateRunning
		close(ctrl.resume)
		ctrl.resume = make(chan struct{})
	case "cancel":
		if ctrl.state == store.WorkflowStateCancelled {
			return "", fmt.Errorf("%w: workflow %s is already cancelled", ErrInvalidTransition, id)
		}
		ctrl.state = store.WorkflowStateCancelled
		ctrl.cancel()
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}

	newState := ctrl.state
	if err := m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.UpdateWorkflowState(ctx, id, newState, "", false)
	}); err != nil {
		return "", fmt.Errorf("persisting workflow control action: %w", err)
	}

	return newState, nil
}

// Summary is the shape get_workflow_summary returns.
type Summary struct {
	WorkflowID      string  `json:"workflow_id"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	FilesProcessed  int     `json:"files_processed"`
	FilesTotal      int     `json:"files_total"`
	ErrorsCount     int     `json:"errors_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	ETASeconds      float64 `json:"eta_seconds"`
}

// GetSummary computes a dashboard-friendly snapshot of one workflow,
// including an estimated-time-remaining projection from elapsed time and
// steps completed so far.
func (m *Manager) GetSummary(ctx context.Context, id string) (*Summary, error) {
	w, err := m.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	elapsed := elapsedSeconds(w)
	eta := 0.0
	if w.CurrentStep > 0 {
		eta = elapsed * float64(w.TotalSteps-w.CurrentStep) / float64(max(w.CurrentStep, 1))
	}

	errorsCount := 0
	if w.ErrorMessage != "" {
		errorsCount = 1
	}

	return &Summary{
		WorkflowID:      w.ID,
		Status:          w.State,
		ProgressPercent: w.ProgressPercent,
		FilesProcessed:  w.CurrentStep,
		FilesTotal:      w.TotalSteps,
		ErrorsCount:     errorsCount,
		DurationSeconds: elapsed,
		ETASeconds:      eta,
	}, nil
}

// Report is the shape get_workflow_report returns; Details is populated
// only when requested.
type Report struct {
	Summary
	Type        string         `json:"type"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt *string        `json:"completed_at,omitempty"`
	InputParams map[string]any `json:"input_params,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// GetReport returns a Summary plus, when includeDetails is true, the
// workflow's full input params and metadata.
func (m *Manager) GetReport(ctx context.Context, id string, includeDetails bool) (*Report, error) {
	w, err := m.getWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := m.GetSummary(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Summary:     *summary,
		Type:        w.Type,
		CurrentStep: w.CurrentStep,
		TotalSteps:  w.TotalSteps,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
		CompletedAt: w.CompletedAt,
	}

	if includeDetails {
		var params map[string]any
		_ = json.Unmarshal([]byte(w.InputParamsJSON), &params)
		var meta map[string]any
		_ = json.Unmarshal([]byte(w.MetadataJSON), &meta)
		report.InputParams = params
		report.Metadata = meta
	}

	return report, nil
}

// Delete removes a workflow record. A running workflow refuses deletion
// unless force is set, in which case it is cancelled first.
func (m *Manager) Delete(ctx context.Context, id string, force bool) error {
	w, err := m.getWorkflow(ctx, id)
	if err != nil {
		return err
	}

	if w.State == store.WorkflowStateRunning {
		if !force {
			return fmt.Errorf("%w: workflow %s is running; pass force to delete anyway", ErrInvalidTransition, id)
		}
		if _, err := m.Control(ctx, id, "cancel"); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
	}

	return m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.DeleteWorkflow(ctx, id)
	})
}

// BulkDeleteFilter narrows BulkDelete, mirroring bulk_delete_workflows.
type BulkDeleteFilter struct {
	WorkflowIDs   []string
	Status        string
	Type          string
	CreatedBefore string
	Force         bool
}

// BulkDeleteResult reports one failed deletion within a bulk call.
type BulkDeleteResult struct {
	WorkflowID string `json:"workflow_id"`
	Error      string `json:"error"`
}

// BulkDelete deletes every workflow selected by explicit ids or by filter,
// applying Delete's per-item semantics and collecting failures rather than
// aborting the batch.
func (m *Manager) BulkDelete(ctx context.Context, f BulkDeleteFilter) (deletedCount int, errs []BulkDeleteResult, err error) {
	ids := f.WorkflowIDs
	if len(ids) == 0 {
		var workflows []*store.Workflow
		err := m.store.WithSession(ctx, func(sess *store.Session) error {
			var err error
			workflows, err = sess.ListWorkflows(ctx, store.ListWorkflowsFilter{
				Status: f.Status, Type: f.Type, CreatedBefore: f.CreatedBefore,
			})
			return err
		})
		if err != nil {
			return 0, nil, err
		}
		for _, w := range workflows {
			ids = append(ids, w.ID)
		}
	}

	for _, id := range ids {
		if err := m.Delete(ctx, id, f.Force); err != nil {
			errs = append(errs, BulkDeleteResult{WorkflowID: id, Error: err.Error()})
			continue
		}
		deletedCount++
	}

	return deletedCount, errs, nil
}

func elapsedSeconds(w *store.Workflow) float64 {
	start, err := time.Parse("2006-01-02T15:04:05.000Z", w.CreatedAt)
	if err != nil {
		return 0
	}
	end := time.Now().UTC()
	if w.CompletedAt != nil {
		if parsed, err := time.Parse("2006-01-02T15:04:05.000Z", *w.CompletedAt); err == nil {
			end = parsed
		}
	}
	return end.Sub(start).Seconds()
}
