// Package recommendation implements the generate_recommendations,
// rebuild_recommendations, get_recommendations, review_recommendation,
// bulk_review_recommendations, apply_recommendations, delete_recommendation,
// and mark_recommendations_applied JSON-RPC methods.
package recommendation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/fsio"
	"github.com/babar-raza/tbcv-sub003/internal/recommend"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Methods groups the recommendation-method handlers over a shared generator
// and store.
type Methods struct {
	generator *recommend.Generator
	store     *store.Store
	logger    *slog.Logger
}

// New builds a Methods over generator and st.
func New(generator *recommend.Generator, st *store.Store, logger *slog.Logger) *Methods {
	return &Methods{generator: generator, store: st, logger: logger}
}

const defaultThreshold = 0.7

func (m *Methods) generate(ctx context.Context, validationID string, threshold float64, types []string) (int, []map[string]any, error) {
	var v *store.ValidationRecord
	err := m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, validationID)
		return err
	})
	if err != nil {
		return 0, nil, rpc.NewNotFound("validation %s not found", validationID)
	}

	var results map[string]any
	_ = json.Unmarshal([]byte(v.ValidationResults), &results)
	var validationTypes []string
	_ = json.Unmarshal([]byte(v.ValidationTypesJS), &validationTypes)
	validationType := "unknown"
	if len(validationTypes) > 0 {
		validationType = validationTypes[0]
	}

	content := v.Content
	if content == "" && v.FilePath != "" {
		if text, err := fsio.ReadText(v.FilePath); err == nil {
			content = text
		}
	}

	suggestions, err := m.generator.Generate(ctx, recommend.Snapshot{
		ValidationType: validationType,
		Status:         v.Status,
		Message:        fmt.Sprintf("%v", results),
		Content:        content,
		FilePath:       v.FilePath,
	})
	if err != nil {
		return 0, nil, rpc.NewInternal(err, "generating recommendations for validation %s", validationID)
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	var stored []map[string]any
	for _, s := range suggestions {
		if s.Confidence < threshold {
			continue
		}
		if len(typeSet) > 0 && !typeSet[s.Type] {
			continue
		}

		metadataJSON, err := json.Marshal(s.Metadata)
		if err != nil {
			m.logger.Error("failed to marshal recommendation metadata, skipping", "error", err)
			continue
		}

		rec := &store.Recommendation{
			ValidationID:    validationID,
			Type:            s.Type,
			Title:           truncate(s.Instruction, 200),
			Description:     s.Rationale,
			Scope:           s.Scope,
			Instruction:     s.Instruction,
			Rationale:       s.Rationale,
			Severity:        s.Severity,
			OriginalContent: s.OriginalContent,
			ProposedContent: s.ProposedContent,
			Confidence:      s.Confidence,
			Status:          store.RecommendationStatusPending,
			MetadataJSON:    string(metadataJSON),
		}

		err = m.store.WithSession(ctx, func(sess *store.Session) error {
			return sess.CreateRecommendation(ctx, rec)
		})
		if err != nil {
			m.logger.Error("failed to store recommendation, continuing batch", "error", err)
			continue
		}
		stored = append(stored, serialize(rec))
	}

	return len(stored), stored, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GenerateRecommendations is the generate_recommendations method.
type GenerateRecommendations struct{ m *Methods }

func NewGenerateRecommendations(m *Methods) *GenerateRecommendations {
	return &GenerateRecommendations{m: m}
}

func (t *GenerateRecommendations) Name() string { return "generate_recommendations" }
func (t *GenerateRecommendations) Description() string {
	return "Generate and persist recommendations for a validation, filtered by confidence threshold and optional types."
}

type generateParams struct {
	ValidationID string   `json:"validation_id" validate:"required"`
	Threshold    *float64 `json:"threshold"`
	Types        []string `json:"types"`
}

func (t *GenerateRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p generateParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	threshold := defaultThreshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}

	t.m.logger.Info("generating recommendations", "validation_id", p.ValidationID, "threshold", threshold)

	count, recs, err := t.m.generate(ctx, p.ValidationID, threshold, p.Types)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":              true,
		"validation_id":        p.ValidationID,
		"recommendation_count": count,
		"recommendations":      recs,
		"threshold_used":       threshold,
	}, nil
}

// RebuildRecommendations is the rebuild_recommendations method.
type RebuildRecommendations struct{ m *Methods }

func NewRebuildRecommendations(m *Methods) *RebuildRecommendations {
	return &RebuildRecommendations{m: m}
}

func (t *RebuildRecommendations) Name() string { return "rebuild_recommendations" }
func (t *RebuildRecommendations) Description() string {
	return "Delete all existing recommendations for a validation and regenerate them."
}

type rebuildParams struct {
	ValidationID string   `json:"validation_id" validate:"required"`
	Threshold    *float64 `json:"threshold"`
}

func (t *RebuildRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p rebuildParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	threshold := defaultThreshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}

	t.m.logger.Info("rebuilding recommendations", "validation_id", p.ValidationID)

	var deletedCount int
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		deletedCount, err = sess.DeleteRecommendationsForValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "deleting recommendations for validation %s", p.ValidationID)
	}

	generatedCount, _, err := t.m.generate(ctx, p.ValidationID, threshold, nil)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":         true,
		"validation_id":   p.ValidationID,
		"deleted_count":   deletedCount,
		"generated_count": generatedCount,
	}, nil
}

// GetRecommendations is the get_recommendations method.
type GetRecommendations struct{ m *Methods }

func NewGetRecommendations(m *Methods) *GetRecommendations { return &GetRecommendations{m: m} }

func (t *GetRecommendations) Name() string { return "get_recommendations" }
func (t *GetRecommendations) Description() string {
	return "List recommendations for a validation, optionally filtered by status and type."
}

type getRecommendationsParams struct {
	ValidationID string `json:"validation_id" validate:"required"`
	Status       string `json:"status"`
	Type         string `json:"type"`
}

func (t *GetRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p getRecommendationsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	var recs []*store.Recommendation
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		recs, err = sess.ListRecommendations(ctx, store.ListRecommendationsFilter{
			ValidationID: p.ValidationID, Status: p.Status, Type: p.Type,
		})
		return err
	})
	if err != nil {
		return nil, rpc.NewInternal(err, "listing recommendations for validation %s", p.ValidationID)
	}

	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, serialize(r))
	}

	return map[string]any{
		"validation_id":   p.ValidationID,
		"recommendations": out,
		"total":           len(out),
	}, nil
}

var reviewActions = map[string]string{
	"approve": store.RecommendationStatusApproved,
	"reject":  store.RecommendationStatusRejected,
}

// ReviewRecommendation is the review_recommendation method.
type ReviewRecommendation struct{ m *Methods }

func NewReviewRecommendation(m *Methods) *ReviewRecommendation { return &ReviewRecommendation{m: m} }

func (t *ReviewRecommendation) Name() string { return "review_recommendation" }
func (t *ReviewRecommendation) Description() string {
	return "Approve or reject a single recommendation."
}

type reviewParams struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
	Action           string `json:"action" validate:"required,oneof=approve reject"`
	Notes            string `json:"notes"`
}

func (t *ReviewRecommendation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p reviewParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	newStatus := reviewActions[p.Action]
	t.m.logger.Info("reviewing recommendation", "recommendation_id", p.RecommendationID, "action", p.Action)

	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.ReviewRecommendation(ctx, p.RecommendationID, newStatus, p.Notes)
	})
	if err != nil {
		return nil, rpc.NewNotFound("recommendation %s not found", p.RecommendationID)
	}

	return map[string]any{
		"success":           true,
		"recommendation_id": p.RecommendationID,
		"action":            p.Action,
		"new_status":        newStatus,
	}, nil
}

// BulkReviewRecommendations is the bulk_review_recommendations method.
type BulkReviewRecommendations struct{ m *Methods }

func NewBulkReviewRecommendations(m *Methods) *BulkReviewRecommendations {
	return &BulkReviewRecommendations{m: m}
}

func (t *BulkReviewRecommendations) Name() string { return "bulk_review_recommendations" }
func (t *BulkReviewRecommendations) Description() string {
	return "Approve or reject many recommendations, reporting per-id errors."
}

// RecommendationIDs has no "required" validator tag: the original only
// requires the key be present, not non-empty, and an empty list is a
// legitimate no-op request (reviewed_count: 0), the same reasoning applied
// to the approve/reject "ids" parameter.
type bulkReviewParams struct {
	RecommendationIDs []string `json:"recommendation_ids"`
	Action            string   `json:"action" validate:"required,oneof=approve reject"`
	Notes             string   `json:"notes"`
}

func (t *BulkReviewRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p bulkReviewParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	newStatus := reviewActions[p.Action]
	t.m.logger.Info("bulk reviewing recommendations", "count", len(p.RecommendationIDs), "action", p.Action)

	reviewedCount := 0
	var errs []map[string]any
	for _, id := range p.RecommendationIDs {
		err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
			return sess.ReviewRecommendation(ctx, id, newStatus, p.Notes)
		})
		if err != nil {
			errs = append(errs, map[string]any{"recommendation_id": id, "error": err.Error()})
			continue
		}
		reviewedCount++
	}

	return map[string]any{
		"success":        true,
		"reviewed_count": reviewedCount,
		"errors":         errs,
		"action":         p.Action,
	}, nil
}

// ApplyRecommendations is the apply_recommendations method.
type ApplyRecommendations struct{ m *Methods }

func NewApplyRecommendations(m *Methods) *ApplyRecommendations { return &ApplyRecommendations{m: m} }

func (t *ApplyRecommendations) Name() string { return "apply_recommendations" }
func (t *ApplyRecommendations) Description() string {
	return "Apply approved recommendations to a validation's file, replacing the first occurrence of each recommendation's original content."
}

type applyParams struct {
	ValidationID      string   `json:"validation_id" validate:"required"`
	RecommendationIDs []string `json:"recommendation_ids"`
	DryRun            bool     `json:"dry_run"`
	CreateBackup      *bool    `json:"create_backup"`
}

func (t *ApplyRecommendations) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p applyParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	createBackup := true
	if p.CreateBackup != nil {
		createBackup = *p.CreateBackup
	}

	t.m.logger.Info("applying recommendations", "validation_id", p.ValidationID, "dry_run", p.DryRun)

	var validation *store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		validation, err = sess.GetValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	var candidates []*store.Recommendation
	if len(p.RecommendationIDs) > 0 {
		for _, id := range p.RecommendationIDs {
			var r *store.Recommendation
			err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
				var err error
				r, err = sess.GetRecommendation(ctx, id)
				return err
			})
			if err == nil {
				candidates = append(candidates, r)
			}
		}
	} else {
		err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
			var err error
			candidates, err = sess.ListRecommendations(ctx, store.ListRecommendationsFilter{ValidationID: p.ValidationID})
			return err
		})
		if err != nil {
			return nil, rpc.NewInternal(err, "listing recommendations for validation %s", p.ValidationID)
		}
	}

	var approved []*store.Recommendation
	for _, r := range candidates {
		if r.Status == store.RecommendationStatusApproved {
			approved = append(approved, r)
		}
	}

	if len(approved) == 0 {
		return map[string]any{
			"success":       true,
			"validation_id": p.ValidationID,
			"applied_count": 0,
			"skipped_count": len(candidates),
			"errors":        []map[string]any{},
			"message":       "No approved recommendations to apply",
		}, nil
	}

	var backupPath string
	if createBackup && !p.DryRun && validation.FilePath != "" {
		if path, err := fsio.BackupFile(validation.FilePath, time.Now().Format("20060102_150405")); err == nil {
			backupPath = path
			t.m.logger.Info("created backup", "path", path)
		} else {
			t.m.logger.Error("failed to create backup", "error", err)
		}
	}

	appliedCount, skippedCount := 0, 0
	var errs []map[string]any

	if p.DryRun {
		for _, r := range approved {
			if r.OriginalContent != "" && r.ProposedContent != "" {
				appliedCount++
			} else {
				skippedCount++
			}
		}
	} else if validation.FilePath != "" {
		content, readErr := fsio.ReadText(validation.FilePath)
		if readErr != nil {
			errs = append(errs, map[string]any{"error": fmt.Sprintf("failed to read/write file: %v", readErr)})
		} else {
			for _, r := range approved {
				if r.OriginalContent == "" || r.ProposedContent == "" {
					skippedCount++
					errs = append(errs, map[string]any{
						"recommendation_id": r.ID,
						"error":             "Recommendation missing original/proposed content",
					})
					continue
				}
				if !strings.Contains(content, r.OriginalContent) {
					skippedCount++
					errs = append(errs, map[string]any{
						"recommendation_id": r.ID,
						"error":             "Original content not found in file",
					})
					continue
				}
				content = strings.Replace(content, r.OriginalContent, r.ProposedContent, 1)
				appliedCount++
				_ = t.m.store.WithSession(ctx, func(sess *store.Session) error {
					return sess.MarkRecommendationApplied(ctx, r.ID, "")
				})
			}
			if appliedCount > 0 {
				if err := fsio.WriteTextCRLF(validation.FilePath, content); err != nil {
					errs = append(errs, map[string]any{"error": fmt.Sprintf("failed to read/write file: %v", err)})
				} else {
					t.m.logger.Info("applied recommendations", "count", appliedCount, "file_path", validation.FilePath)
				}
			}
		}
	} else {
		errs = append(errs, map[string]any{"error": "File not found: " + validation.FilePath})
	}

	if errs == nil {
		errs = []map[string]any{}
	}

	result := map[string]any{
		"success":       true,
		"validation_id": p.ValidationID,
		"applied_count": appliedCount,
		"skipped_count": skippedCount,
		"errors":        errs,
	}
	if backupPath != "" {
		result["backup_path"] = backupPath
	}
	if p.DryRun {
		result["dry_run"] = true
	}
	return result, nil
}

// DeleteRecommendation is the delete_recommendation method.
type DeleteRecommendation struct{ m *Methods }

func NewDeleteRecommendation(m *Methods) *DeleteRecommendation { return &DeleteRecommendation{m: m} }

func (t *DeleteRecommendation) Name() string        { return "delete_recommendation" }
func (t *DeleteRecommendation) Description() string { return "Delete a recommendation." }

type recommendationIDParams struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
}

func (t *DeleteRecommendation) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p recommendationIDParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.DeleteRecommendation(ctx, p.RecommendationID)
	})
	if err != nil {
		return nil, rpc.NewNotFound("recommendation %s not found", p.RecommendationID)
	}

	t.m.logger.Info("deleted recommendation", "recommendation_id", p.RecommendationID)

	return map[string]any{"success": true, "recommendation_id": p.RecommendationID}, nil
}

// MarkRecommendationsApplied is the mark_recommendations_applied method.
type MarkRecommendationsApplied struct{ m *Methods }

func NewMarkRecommendationsApplied(m *Methods) *MarkRecommendationsApplied {
	return &MarkRecommendationsApplied{m: m}
}

func (t *MarkRecommendationsApplied) Name() string { return "mark_recommendations_applied" }
func (t *MarkRecommendationsApplied) Description() string {
	return "Mark a list of recommendations as applied without touching any file."
}

// RecommendationIDs is unvalidated for the same reason as bulkReviewParams.
type markAppliedParams struct {
	RecommendationIDs []string `json:"recommendation_ids"`
}

func (t *MarkRecommendationsApplied) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p markAppliedParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	t.m.logger.Info("marking recommendations applied", "count", len(p.RecommendationIDs))

	markedCount := 0
	var errs []map[string]any
	for _, id := range p.RecommendationIDs {
		err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
			return sess.MarkRecommendationApplied(ctx, id, "")
		})
		if err != nil {
			errs = append(errs, map[string]any{"recommendation_id": id, "error": "Recommendation not found"})
			continue
		}
		markedCount++
	}
	if errs == nil {
		errs = []map[string]any{}
	}

	return map[string]any{
		"success":      true,
		"marked_count": markedCount,
		"errors":       errs,
	}, nil
}

func serialize(r *store.Recommendation) map[string]any {
	var metadata any
	_ = json.Unmarshal([]byte(r.MetadataJSON), &metadata)

	return map[string]any{
		"id":               r.ID,
		"validation_id":    r.ValidationID,
		"type":             r.Type,
		"title":            r.Title,
		"description":      r.Description,
		"scope":            r.Scope,
		"instruction":      r.Instruction,
		"rationale":        r.Rationale,
		"severity":         r.Severity,
		"original_content": r.OriginalContent,
		"proposed_content": r.ProposedContent,
		"diff":             r.Diff,
		"confidence":       r.Confidence,
		"priority":         r.Priority,
		"status":           r.Status,
		"reviewed_by":      r.ReviewedBy,
		"reviewed_at":      r.ReviewedAt,
		"review_notes":     r.ReviewNotes,
		"applied_at":       r.AppliedAt,
		"applied_by":       r.AppliedBy,
		"metadata":         metadata,
		"created_at":       r.CreatedAt,
		"updated_at":       r.UpdatedAt,
	}
}
