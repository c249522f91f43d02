package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateWorkflow inserts a new workflow record, in state pending unless
// w.State is already set.
func (sess *Session) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.ID == "" {
		w.ID = NewID()
	}
	now := nowUTC()
	w.CreatedAt, w.UpdatedAt = now, now
	if w.State == "" {
		w.State = WorkflowStatePending
	}

	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO workflows
			(id, type, state, input_params, progress_percent, current_step, total_steps,
			 error_message, metadata, created_at, updated_at, completed_at)
		VALUES
			(:id, :type, :state, :input_params, :progress_percent, :current_step, :total_steps,
			 :error_message, :metadata, :created_at, :updated_at, :completed_at)
	`, w)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads one workflow by id.
func (sess *Session) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var w Workflow
	err := sess.tx.GetContext(ctx, &w, `SELECT * FROM workflows WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}
	return &w, nil
}

// UpdateWorkflowProgress records a step advance: current step, computed
// progress percent, and bumps updated_at.
func (sess *Session) UpdateWorkflowProgress(ctx context.Context, id string, currentStep int, progressPercent float64) error {
	_, err := sess.tx.ExecContext(ctx, `
		UPDATE workflows
		SET current_step = ?, progress_percent = ?, updated_at = ?
		WHERE id = ?
	`, currentStep, progressPercent, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("updating workflow progress for %s: %w", id, err)
	}
	return nil
}

// UpdateWorkflowState transitions a workflow's state, optionally recording
// an error message and/or stamping completed_at.
func (sess *Session) UpdateWorkflowState(ctx context.Context, id, newState, errorMessage string, completed bool) error {
	now := nowUTC()
	var completedAt *string
	if completed {
		completedAt = &now
	}
	res, err := sess.tx.ExecContext(ctx, `
		UPDATE workflows
		SET state = ?, error_message = ?, updated_at = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, newState, errorMessage, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("updating workflow state for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkflowsFilter narrows ListWorkflows and BulkDeleteWorkflows.
type ListWorkflowsFilter struct {
	Status        string
	Type          string
	CreatedBefore string
}

// ListWorkflows returns workflows matching filter.
func (sess *Session) ListWorkflows(ctx context.Context, f ListWorkflowsFilter) ([]*Workflow, error) {
	query := `SELECT * FROM workflows WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND state = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.CreatedBefore != "" {
		query += ` AND created_at < ?`
		args = append(args, f.CreatedBefore)
	}
	query += ` ORDER BY created_at DESC`

	var out []*Workflow
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	return out, nil
}

// DeleteWorkflow removes one workflow record.
func (sess *Session) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := sess.tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWorkflows removes every workflow matching ids, returning how many
// rows were actually deleted.
func (sess *Session) DeleteWorkflows(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlxIn(`DELETE FROM workflows WHERE id IN (?)`, nil, ids)
	if err != nil {
		return 0, fmt.Errorf("building bulk delete query: %w", err)
	}
	res, err := sess.tx.ExecContext(ctx, sess.tx.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("bulk deleting workflows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}
