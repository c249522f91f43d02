// Package enhancement implements the enhance, enhance_batch, enhance_preview,
// enhance_auto_apply, and get_enhancement_comparison JSON-RPC methods.
package enhancement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/diffutil"
	"github.com/babar-raza/tbcv-sub003/internal/fsio"
	"github.com/babar-raza/tbcv-sub003/internal/llm"
	"github.com/babar-raza/tbcv-sub003/internal/prompts"
	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

const promptDomain = "enhancer"
const promptKey = "enhance_markdown"

const fallbackPrompt = `Please enhance this markdown document by:
1. Improving clarity and readability
2. Fixing any grammatical issues
3. Ensuring proper formatting
4. Adding missing sections if needed
5. Maintaining the original meaning and structure

Original content:
{content}

Enhanced content:`

const systemMessage = "You are a technical writing assistant. Enhance markdown documents while preserving their structure and meaning."

// Methods groups the enhancement-method handlers over a shared LLM
// capability, prompt loader, and store.
type Methods struct {
	llm     llm.Capability
	prompts *prompts.Loader
	store   *store.Store
	model   string
	logger  *slog.Logger
}

// New builds a Methods over capability, promptLoader, and st. model names
// the language model reported in persisted enhancement metadata.
func New(capability llm.Capability, promptLoader *prompts.Loader, st *store.Store, model string, logger *slog.Logger) *Methods {
	return &Methods{llm: capability, prompts: promptLoader, store: st, model: model, logger: logger}
}

// runPrompt formats the enhancement prompt template around content and
// returns the model's response with surrounding whitespace trimmed.
func (m *Methods) runPrompt(ctx context.Context, content string) (string, error) {
	template := m.prompts.Format(promptDomain, promptKey, map[string]string{"content": content})
	if template == "" {
		template = strings.ReplaceAll(fallbackPrompt, "{content}", content)
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: systemMessage},
		{Role: "user", Content: template},
	}

	response, err := m.llm.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// checkEnhanceable reports the reason v cannot be enhanced, or nil if it
// can: it must be approved, carry a real file path, and that path must
// resolve to an existing file outside any protected location.
func checkEnhanceable(v *store.ValidationRecord) error {
	if v.Status != store.ValidationStatusApproved {
		return fmt.Errorf("Validation %s not approved (status: %s)", v.ID, v.Status)
	}
	switch v.FilePath {
	case "unknown", "Unknown", "":
		return fmt.Errorf("Cannot enhance validation %s: invalid file path %q", v.ID, v.FilePath)
	}
	if !fsio.IsSafePath(v.FilePath, "") {
		return fmt.Errorf("Unsafe file path: %s", v.FilePath)
	}
	if _, err := os.Stat(v.FilePath); err != nil {
		return fmt.Errorf("File not found: %s", v.FilePath)
	}
	return nil
}

// enhanceOne runs the full enhancement for one validation id: load, check
// eligibility, call the model, write the file, persist the result, and
// transition status to ENHANCED. Any failure aborts only this id.
func (m *Methods) enhanceOne(ctx context.Context, id string) (map[string]any, error) {
	var v *store.ValidationRecord
	err := m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Validation %s not found", id)
	}
	if err := checkEnhanceable(v); err != nil {
		return nil, err
	}

	original, err := fsio.ReadText(v.FilePath)
	if err != nil {
		return nil, fmt.Errorf("File not found: %s", v.FilePath)
	}

	enhanced, err := m.runPrompt(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("Enhancement failed for %s: %v", id, err)
	}

	if err := fsio.WriteTextCRLF(v.FilePath, enhanced); err != nil {
		return nil, fmt.Errorf("Enhancement failed for %s: %v", id, err)
	}

	diff := diffutil.Generate(original, enhanced)
	timestamp := time.Now().UTC().Format(time.RFC3339)

	var results map[string]any
	_ = json.Unmarshal([]byte(v.ValidationResults), &results)
	if results == nil {
		results = map[string]any{}
	}
	results["original_content"] = original
	results["enhanced_content"] = enhanced
	results["diff"] = diff.UnifiedDiff
	results["enhancement_timestamp"] = timestamp
	results["model_used"] = m.model

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("Enhancement failed for %s: %v", id, err)
	}

	err = m.store.WithSession(ctx, func(sess *store.Session) error {
		if err := sess.SaveValidationResults(ctx, id, store.ValidationStatusEnhanced, v.Severity, string(resultsJSON)); err != nil {
			return err
		}
		return sess.AppendValidationNote(ctx, id, fmt.Sprintf(
			"Enhanced: model=%s original_size=%d enhanced_size=%d at %s",
			m.model, len(original), len(enhanced), timestamp,
		))
	})
	if err != nil {
		return nil, fmt.Errorf("Enhancement failed for %s: %v", id, err)
	}

	m.logger.Info("enhanced validation", "validation_id", id,
		"original_size", len(original), "enhanced_size", len(enhanced))

	return map[string]any{
		"validation_id": id,
		"action":        "enhance",
		"timestamp":     timestamp,
		"original_size": len(original),
		"enhanced_size": len(enhanced),
		"model_used":    m.model,
	}, nil
}

// Enhance is the enhance method.
type Enhance struct{ m *Methods }

func NewEnhance(m *Methods) *Enhance { return &Enhance{m: m} }

func (t *Enhance) Name() string { return "enhance" }
func (t *Enhance) Description() string {
	return "Enhance approved validation records by rewriting their file content through the configured language model."
}

// IDs carries no "required" validator tag: an empty list is a legitimate
// no-op request that returns enhanced_count: 0.
type enhanceParams struct {
	IDs []string `json:"ids"`
}

func (t *Enhance) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p enhanceParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	t.m.logger.Info("enhancing validation records", "count", len(p.IDs))

	var errs []string
	var enhancements []map[string]any
	for _, id := range p.IDs {
		result, err := t.m.enhanceOne(ctx, id)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		enhancements = append(enhancements, result)
	}
	if errs == nil {
		errs = []string{}
	}
	if enhancements == nil {
		enhancements = []map[string]any{}
	}

	t.m.logger.Info("enhanced validation records", "enhanced_count", len(enhancements), "total", len(p.IDs))

	return map[string]any{
		"success":        true,
		"enhanced_count": len(enhancements),
		"errors":         errs,
		"enhancements":   enhancements,
	}, nil
}

// EnhanceBatch is the enhance_batch method.
type EnhanceBatch struct{ m *Methods }

func NewEnhanceBatch(m *Methods) *EnhanceBatch { return &EnhanceBatch{m: m} }

func (t *EnhanceBatch) Name() string { return "enhance_batch" }
func (t *EnhanceBatch) Description() string {
	return "Enhance many validation records in fixed-size batches, reporting per-item outcomes and elapsed time."
}

type enhanceBatchParams struct {
	IDs       []string `json:"ids"`
	BatchSize int      `json:"batch_size"`
	Threshold float64  `json:"threshold"`
}

func (t *EnhanceBatch) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p enhanceBatchParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 10
	}
	if p.Threshold == 0 {
		p.Threshold = 0.7
	}

	start := time.Now()
	total := len(p.IDs)
	t.m.logger.Info("batch enhancing validations", "total", total, "batch_size", p.BatchSize)

	enhancedCount, failedCount, skippedCount := 0, 0, 0
	var errs []string
	var results []map[string]any

	for i := 0; i < total; i += p.BatchSize {
		end := i + p.BatchSize
		if end > total {
			end = total
		}
		batch := p.IDs[i:end]

		for _, id := range batch {
			var v *store.ValidationRecord
			err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
				var err error
				v, err = sess.GetValidation(ctx, id)
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Sprintf("Validation %s not found", id))
				failedCount++
				continue
			}
			if v.Status != store.ValidationStatusApproved {
				errs = append(errs, fmt.Sprintf("Validation %s not approved (status: %s)", id, v.Status))
				skippedCount++
				continue
			}

			detail, err := t.m.enhanceOne(ctx, id)
			if err != nil {
				errs = append(errs, err.Error())
				failedCount++
				continue
			}
			enhancedCount++
			results = append(results, map[string]any{
				"validation_id": id,
				"status":        "enhanced",
				"details":       detail,
			})
		}

		t.m.logger.Info("batch enhancement progress", "processed", end, "total", total)
	}

	if errs == nil {
		errs = []string{}
	}
	if results == nil {
		results = []map[string]any{}
	}

	return map[string]any{
		"success":            enhancedCount > 0,
		"total":              total,
		"enhanced_count":     enhancedCount,
		"failed_count":       failedCount,
		"skipped_count":      skippedCount,
		"errors":             errs,
		"results":            results,
		"processing_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		"threshold_used":     p.Threshold,
	}, nil
}

// EnhancePreview is the enhance_preview method.
type EnhancePreview struct{ m *Methods }

func NewEnhancePreview(m *Methods) *EnhancePreview { return &EnhancePreview{m: m} }

func (t *EnhancePreview) Name() string { return "enhance_preview" }
func (t *EnhancePreview) Description() string {
	return "Run the enhancement model against a validation's file without writing the file or mutating the record."
}

type enhancePreviewParams struct {
	ValidationID        string   `json:"validation_id" validate:"required"`
	Threshold           float64  `json:"threshold"`
	RecommendationTypes []string `json:"recommendation_types"`
}

func (t *EnhancePreview) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p enhancePreviewParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	t.m.logger.Info("previewing enhancement", "validation_id", p.ValidationID)

	var v *store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	switch v.FilePath {
	case "unknown", "Unknown", "":
		return nil, rpc.NewValidationFailed("cannot preview enhancement for validation %s: invalid file path %q", p.ValidationID, v.FilePath)
	}
	if !fsio.IsSafePath(v.FilePath, "") {
		return nil, rpc.NewValidationFailed("unsafe file path: %s", v.FilePath)
	}
	original, err := fsio.ReadText(v.FilePath)
	if err != nil {
		return nil, rpc.NewNotFound("file not found: %s", v.FilePath)
	}

	enhanced, err := t.m.runPrompt(ctx, original)
	if err != nil {
		t.m.logger.Error("enhancement preview failed", "validation_id", p.ValidationID, "error", err)
		return map[string]any{
			"success":               false,
			"validation_id":         p.ValidationID,
			"original_content":      original,
			"enhanced_content":      original,
			"diff":                  map[string]any{},
			"recommendations_count": 0,
			"changes_summary": map[string]any{
				"additions":     0,
				"deletions":     0,
				"modifications": 0,
			},
		}, nil
	}

	diff := diffutil.Generate(original, enhanced)

	return map[string]any{
		"success":               true,
		"validation_id":         p.ValidationID,
		"original_content":      original,
		"enhanced_content":      enhanced,
		"diff":                  diff,
		"recommendations_count": 1,
		"changes_summary": map[string]any{
			"additions":     diff.AdditionsCount,
			"deletions":     diff.DeletionsCount,
			"modifications": diff.ModificationsCount,
		},
	}, nil
}

// EnhanceAutoApply is the enhance_auto_apply method.
type EnhanceAutoApply struct{ m *Methods }

func NewEnhanceAutoApply(m *Methods) *EnhanceAutoApply { return &EnhanceAutoApply{m: m} }

func (t *EnhanceAutoApply) Name() string { return "enhance_auto_apply" }
func (t *EnhanceAutoApply) Description() string {
	return "Preview and then apply an enhancement for an approved validation in one call."
}

// threshold and recommendation_types are accepted and forwarded to the
// preview request, but they are not returned in the result and do not
// filter which record gets enhanced: nothing in this system ties a
// recommendation set to an enhancement run. The record either qualifies
// by status or it doesn't.
type enhanceAutoApplyParams struct {
	ValidationID        string   `json:"validation_id" validate:"required"`
	Threshold           float64  `json:"threshold"`
	RecommendationTypes []string `json:"recommendation_types"`
	PreviewFirst        *bool    `json:"preview_first"`
}

func (t *EnhanceAutoApply) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p enhanceAutoApplyParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Threshold == 0 {
		p.Threshold = 0.9
	}
	previewFirst := true
	if p.PreviewFirst != nil {
		previewFirst = *p.PreviewFirst
	}

	t.m.logger.Info("auto-applying enhancement", "validation_id", p.ValidationID, "threshold", p.Threshold)

	var v *store.ValidationRecord
	err := t.m.store.WithSession(ctx, func(sess *store.Session) error {
		var err error
		v, err = sess.GetValidation(ctx, p.ValidationID)
		return err
	})
	if err != nil {
		return nil, rpc.NewNotFound("validation %s not found", p.ValidationID)
	}

	var preview any
	if previewFirst {
		previewResult, err := NewEnhancePreview(t.m).Execute(ctx, mustJSON(map[string]any{
			"validation_id":        p.ValidationID,
			"threshold":            p.Threshold,
			"recommendation_types": p.RecommendationTypes,
		}))
		if err != nil {
			preview = nil
		} else {
			preview = previewResult
		}
	}

	if v.Status != store.ValidationStatusApproved {
		return map[string]any{
			"success":                 false,
			"validation_id":           p.ValidationID,
			"applied_count":           0,
			"skipped_count":           1,
			"applied_recommendations": []map[string]any{},
			"preview":                 preview,
		}, nil
	}

	_, err = t.m.enhanceOne(ctx, p.ValidationID)
	if err != nil {
		t.m.logger.Error("auto-apply enhancement failed", "validation_id", p.ValidationID, "error", err)
		return map[string]any{
			"success":                 false,
			"validation_id":           p.ValidationID,
			"applied_count":           0,
			"skipped_count":           1,
			"applied_recommendations": []map[string]any{},
			"preview":                 preview,
		}, nil
	}

	return map[string]any{
		"success":                 true,
		"validation_id":           p.ValidationID,
		"applied_count":           1,
		"skipped_count":           0,
		"applied_recommendations": []map[string]any{},
		"preview":                 preview,
	}, nil
}

// mustJSON marshals v for reuse as another method's raw params. v is
// always a small literal map built above, so marshaling cannot fail.
func mustJSON(v map[string]any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// GetEnhancementComparison is the get_enhancement_comparison method.
type GetEnhancementComparison struct{ m *Methods }

func NewGetEnhancementComparison(m *Methods) *GetEnhancementComparison {
	return &GetEnhancementComparison{m: m}
}

func (t *GetEnhancementComparison) Name() string { return "get_enhancement_comparison" }
func (t *GetEnhancementComparison) Description() string {
	return "Return the stored before/after content, diff, and statistics for an enhanced validation."
}

type comparisonParams struct {
	ValidationID string `json:"validation_id" validate:"required"`
	Format       string `json:"format"`
}

func (t *GetEnhancementComparison) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p comparisonParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	if p.Format == "" {
		p.Format = "unified"
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
	if v.Status != store.ValidationStatusEnhanced {
		return nil, rpc.NewValidationFailed("validation %s has not been enhanced", p.ValidationID)
	}

	var results map[string]any
	_ = json.Unmarshal([]byte(v.ValidationResults), &results)

	original, _ := results["original_content"].(string)
	enhanced, _ := results["enhanced_content"].(string)

	diff := diffutil.Generate(original, enhanced)
	stats := diffutil.StatsOf(diff)

	var diffOut any = diff
	if p.Format == "unified" {
		diffOut = diffutil.FormatUnifiedHeader(v.FilePath, diff)
	}

	return map[string]any{
		"validation_id":           p.ValidationID,
		"original_content":        original,
		"enhanced_content":        enhanced,
		"diff":                    diffOut,
		"statistics":              stats,
		"recommendations_applied": []map[string]any{},
	}, nil
}
