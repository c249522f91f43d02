package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateRecommendation inserts a new recommendation, assigning an id if one
// is not already set.
func (sess *Session) CreateRecommendation(ctx context.Context, r *Recommendation) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := nowUTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.Status == "" {
		r.Status = RecommendationStatusPending
	}

	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO recommendations
			(id, validation_id, type, title, description, scope, instruction, rationale,
			 severity, original_content, proposed_content, diff, confidence, priority,
			 status, reviewed_by, reviewed_at, review_notes, applied_at, applied_by,
			 metadata, created_at, updated_at)
		VALUES
			(:id, :validation_id, :type, :title, :description, :scope, :instruction, :rationale,
			 :severity, :original_content, :proposed_content, :diff, :confidence, :priority,
			 :status, :reviewed_by, :reviewed_at, :review_notes, :applied_at, :applied_by,
			 :metadata, :created_at, :updated_at)
	`, r)
	if err != nil {
		return fmt.Errorf("inserting recommendation: %w", err)
	}
	return nil
}

// GetRecommendation loads one recommendation by id.
func (sess *Session) GetRecommendation(ctx context.Context, id string) (*Recommendation, error) {
	var r Recommendation
	err := sess.tx.GetContext(ctx, &r, `SELECT * FROM recommendations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recommendation %s: %w", id, err)
	}
	return &r, nil
}

// ListRecommendationsFilter narrows ListRecommendations.
type ListRecommendationsFilter struct {
	ValidationID string
	Status       string
	Type         string
}

// ListRecommendations returns recommendations for a validation, oldest
// first (matching creation order, the tie-break ordering apply_recommendations
// relies on when the caller supplies no explicit id list).
func (sess *Session) ListRecommendations(ctx context.Context, f ListRecommendationsFilter) ([]*Recommendation, error) {
	query := `SELECT * FROM recommendations WHERE validation_id = ?`
	args := []any{f.ValidationID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY created_at ASC`

	var out []*Recommendation
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing recommendations: %w", err)
	}
	return out, nil
}

// DeleteRecommendationsForValidation removes every recommendation attached
// to validationID and returns how many were deleted, used by
// rebuild_recommendations.
func (sess *Session) DeleteRecommendationsForValidation(ctx context.Context, validationID string) (int, error) {
	res, err := sess.tx.ExecContext(ctx, `DELETE FROM recommendations WHERE validation_id = ?`, validationID)
	if err != nil {
		return 0, fmt.Errorf("deleting recommendations for validation %s: %w", validationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// ReviewRecommendation transitions a recommendation to approved or
// rejected, recording the reviewer's notes.
func (sess *Session) ReviewRecommendation(ctx context.Context, id, newStatus, notes string) error {
	now := nowUTC()
	res, err := sess.tx.ExecContext(ctx, `
		UPDATE recommendations
		SET status = ?, reviewed_at = ?, review_notes = ?, updated_at = ?
		WHERE id = ?
	`, newStatus, now, notes, now, id)
	if err != nil {
		return fmt.Errorf("reviewing recommendation %s: %w", id, err)
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

// MarkRecommendationApplied transitions a recommendation to applied.
func (sess *Session) MarkRecommendationApplied(ctx context.Context, id, appliedBy string) error {
	now := nowUTC()
	res, err := sess.tx.ExecContext(ctx, `
		UPDATE recommendations
		SET status = ?, applied_at = ?, applied_by = ?, updated_at = ?
		WHERE id = ?
	`, RecommendationStatusApplied, now, appliedBy, now, id)
	if err != nil {
		return fmt.Errorf("marking recommendation %s applied: %w", id, err)
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

// DeleteRecommendation removes one recommendation. Deletion is idempotent;
// a second call against the same id returns ErrNotFound.
func (sess *Session) DeleteRecommendation(ctx context.Context, id string) error {
	res, err := sess.tx.ExecContext(ctx, `DELETE FROM recommendations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting recommendation %s: %w", id, err)
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
