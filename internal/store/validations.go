package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// NewID returns an opaque 128-bit identifier rendered as 32 lowercase hex
// characters (hyphens stripped), matching the id convention of §3.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// sqlxIn expands a query's "IN (?)" placeholder against ids, alongside any
// scalar args that precede it in the statement.
func sqlxIn(query string, scalarArgs []any, ids []string) (string, []any, error) {
	allArgs := append(append([]any{}, scalarArgs...), idsToAny(ids))
	return sqlx.In(query, allArgs...)
}

func idsToAny(ids []string) any {
	return ids
}

// CreateValidation inserts a new validation record, assigning an id if one
// is not already set.
func (sess *Session) CreateValidation(ctx context.Context, v *ValidationRecord) error {
	if v.ID == "" {
		v.ID = NewID()
	}
	now := nowUTC()
	v.CreatedAt, v.UpdatedAt = now, now

	_, err := sess.tx.NamedExecContext(ctx, `
		INSERT INTO validations
			(id, file_path, status, severity, rules_applied, validation_types,
			 validation_results, content, notes, created_at, updated_at)
		VALUES
			(:id, :file_path, :status, :severity, :rules_applied, :validation_types,
			 :validation_results, :content, :notes, :created_at, :updated_at)
	`, v)
	if err != nil {
		return fmt.Errorf("inserting validation: %w", err)
	}
	return nil
}

// ErrNotFound is returned by single-record lookups that find nothing.
var ErrNotFound = errors.New("record not found")

// GetValidation loads one validation record by id.
func (sess *Session) GetValidation(ctx context.Context, id string) (*ValidationRecord, error) {
	var v ValidationRecord
	err := sess.tx.GetContext(ctx, &v, `SELECT * FROM validations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading validation %s: %w", id, err)
	}
	return &v, nil
}

// ListValidationsFilter narrows ListValidations.
type ListValidationsFilter struct {
	Status   string
	FilePath string
	Limit    int
	Offset   int
}

// ListValidations returns validations matching filter, most recently
// created first.
func (sess *Session) ListValidations(ctx context.Context, f ListValidationsFilter) ([]*ValidationRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	query := `SELECT * FROM validations WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, f.FilePath)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	var out []*ValidationRecord
	if err := sess.tx.SelectContext(ctx, &out, sess.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing validations: %w", err)
	}
	return out, nil
}

// UpdateValidationFields is a partial update; nil fields are left
// unchanged.
type UpdateValidationFields struct {
	Status *string
	Notes  *string
}

// UpdateValidation applies a partial update to one validation record.
func (sess *Session) UpdateValidation(ctx context.Context, id string, fields UpdateValidationFields) error {
	v, err := sess.GetValidation(ctx, id)
	if err != nil {
		return err
	}
	if fields.Status != nil {
		v.Status = *fields.Status
	}
	if fields.Notes != nil {
		v.Notes = *fields.Notes
	}
	v.UpdatedAt = nowUTC()

	_, err = sess.tx.NamedExecContext(ctx, `
		UPDATE validations
		SET status = :status, notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, v)
	if err != nil {
		return fmt.Errorf("updating validation %s: %w", id, err)
	}
	return nil
}

// SaveValidationResults persists the full structured result blob (header/
// body findings, and for enhancement, original/enhanced content and diff)
// plus the record's status and severity.
func (sess *Session) SaveValidationResults(ctx context.Context, id string, status, severity, resultsJSON string) error {
	now := nowUTC()
	res, err := sess.tx.ExecContext(ctx, `
		UPDATE validations
		SET status = ?, severity = ?, validation_results = ?, updated_at = ?
		WHERE id = ?
	`, status, severity, resultsJSON, now, id)
	if err != nil {
		return fmt.Errorf("saving validation results for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendValidationNote appends text to a validation's notes field, used
// for audit lines written by the enhancement methods.
func (sess *Session) AppendValidationNote(ctx context.Context, id string, note string) error {
	v, err := sess.GetValidation(ctx, id)
	if err != nil {
		return err
	}
	if v.Notes != "" {
		v.Notes += "\n" + note
	} else {
		v.Notes = note
	}
	v.UpdatedAt = nowUTC()
	_, err = sess.tx.ExecContext(ctx, `UPDATE validations SET notes = ?, updated_at = ? WHERE id = ?`, v.Notes, v.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("appending note to validation %s: %w", id, err)
	}
	return nil
}

// DeleteValidation removes a validation record. Deletion is idempotent: a
// missing id is not an error.
func (sess *Session) DeleteValidation(ctx context.Context, id string) error {
	_, err := sess.tx.ExecContext(ctx, `DELETE FROM validations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting validation %s: %w", id, err)
	}
	return nil
}

// BatchUpdateResult is the outcome of one id within a batched
// approve/reject call.
type BatchUpdateResult struct {
	ID    string
	Error string // non-empty if this id failed (typically "not found")
}

// BatchUpdateValidationStatus loads every id in ids within the current
// session, updates the found ones to newStatus (appending noteSuffix to
// notes when non-empty), and reports the rest as per-id errors. The whole
// operation runs as part of the caller's transaction, so the effect is
// atomic: either every update in this call is visible or none are, once
// the enclosing WithSession commits.
func (sess *Session) BatchUpdateValidationStatus(ctx context.Context, ids []string, newStatus string, noteSuffix string) (updated []string, results []BatchUpdateResult, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	query, args, err := sqlxIn(`SELECT id FROM validations WHERE id IN (?)`, nil, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("building batch lookup query: %w", err)
	}
	var found []string
	if err := sess.tx.SelectContext(ctx, &found, sess.tx.Rebind(query), args...); err != nil {
		return nil, nil, fmt.Errorf("looking up validations for batch update: %w", err)
	}

	foundSet := make(map[string]bool, len(found))
	for _, id := range found {
		foundSet[id] = true
	}

	now := nowUTC()
	for _, id := range ids {
		if !foundSet[id] {
			results = append(results, BatchUpdateResult{ID: id, Error: fmt.Sprintf("Validation %s not found", id)})
			continue
		}
	}
	if len(found) > 0 {
		updateQuery, updateArgs, err := sqlxIn(
			`UPDATE validations SET status = ?, updated_at = ? WHERE id IN (?)`,
			[]any{newStatus, now}, found,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("building batch update query: %w", err)
		}
		if _, err := sess.tx.ExecContext(ctx, sess.tx.Rebind(updateQuery), updateArgs...); err != nil {
			return nil, nil, fmt.Errorf("applying batch status update: %w", err)
		}
		if noteSuffix != "" {
			for _, id := range found {
				if err := sess.AppendValidationNote(ctx, id, noteSuffix); err != nil {
					return nil, nil, fmt.Errorf("appending note during batch update: %w", err)
				}
			}
		}
	}

	return found, results, nil
}
