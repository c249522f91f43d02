// Package approval implements the approve, reject, bulk_approve, and
// bulk_reject JSON-RPC methods: batched status transitions over the
// validations table.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Methods groups the approval-method handlers over a shared store.
type Methods struct {
	store  *store.Store
	logger *slog.Logger
}

// New builds a Methods over st.
func New(st *store.Store, logger *slog.Logger) *Methods {
	return &Methods{store: st, logger: logger}
}

// idsParam accepts either a single string or a list of strings for "ids",
// the way the original accepted Union[str, List[str]].
type idsParam []string

func (p *idsParam) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*p = nil
		} else {
			*p = []string{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

func (m *Methods) batchUpdate(ctx context.Context, ids []string, status, noteSuffix string) (updatedCount int, errs []string, err error) {
	err = m.store.WithSession(ctx, func(sess *store.Session) error {
		updated, results, err := sess.BatchUpdateValidationStatus(ctx, ids, status, noteSuffix)
		if err != nil {
			return err
		}
		updatedCount = len(updated)
		for _, r := range results {
			errs = append(errs, r.Error)
		}
		return nil
	})
	return updatedCount, errs, err
}

// Approve is the approve method.
type Approve struct{ m *Methods }

func NewApprove(m *Methods) *Approve { return &Approve{m: m} }

func (t *Approve) Name() string        { return "approve" }
func (t *Approve) Description() string { return "Approve one or more validations by id." }

type idsParams struct {
	IDs idsParam `json:"ids"`
}

func (t *Approve) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p idsParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	if len(p.IDs) == 0 {
		t.m.logger.Info("no validation ids provided for approval")
		return map[string]any{"success": true, "approved_count": 0, "failed_count": 0, "errors": []string{}}, nil
	}

	t.m.logger.Info("approving validations", "count", len(p.IDs))

	approved, errs, err := t.m.batchUpdate(ctx, p.IDs, store.ValidationStatusApproved, "")
	if err != nil {
		return nil, rpc.NewInternal(err, "approving validations")
	}

	return map[string]any{
		"success":        true,
		"approved_count": approved,
		"failed_count":   len(p.IDs) - approved,
		"errors":         errs,
	}, nil
}

// Reject is the reject method.
type Reject struct{ m *Methods }

func NewReject(m *Methods) *Reject { return &Reject{m: m} }

func (t *Reject) Name() string { return "reject" }
func (t *Reject) Description() string {
	return "Reject one or more validations by id, with an optional reason recorded in notes."
}

type rejectParams struct {
	IDs    idsParam `json:"ids"`
	Reason string   `json:"reason"`
}

func (t *Reject) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	var p rejectParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}

	if len(p.IDs) == 0 {
		t.m.logger.Info("no validation ids provided for rejection")
		return map[string]any{"success": true, "rejected_count": 0, "failed_count": 0, "errors": []string{}}, nil
	}

	t.m.logger.Info("rejecting validations", "count", len(p.IDs))

	rejected, errs, err := t.m.batchUpdate(ctx, p.IDs, store.ValidationStatusRejected, p.Reason)
	if err != nil {
		return nil, rpc.NewInternal(err, "rejecting validations")
	}

	return map[string]any{
		"success":        true,
		"rejected_count": rejected,
		"failed_count":   len(p.IDs) - rejected,
		"errors":         errs,
	}, nil
}

const defaultBatchSize = 100

// BulkApprove is the bulk_approve method: splits a (potentially large) id
// list into batch_size-sized chunks, each applied in its own transaction,
// so one very large request cannot hold a single transaction open for the
// whole operation.
type BulkApprove struct{ m *Methods }

func NewBulkApprove(m *Methods) *BulkApprove { return &BulkApprove{m: m} }

func (t *BulkApprove) Name() string { return "bulk_approve" }
func (t *BulkApprove) Description() string {
	return "Approve a large batch of validations, processed in chunks."
}

type bulkParams struct {
	IDs       []string `json:"ids"`
	BatchSize int      `json:"batch_size"`
}

func (t *BulkApprove) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	start := time.Now()
	var p bulkParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := len(p.IDs)
	if total == 0 {
		t.m.logger.Info("no validation ids provided for bulk approval")
		return map[string]any{
			"success": true, "total": 0, "approved_count": 0, "failed_count": 0,
			"errors": []string{}, "processing_time_ms": 0.0,
		}, nil
	}

	t.m.logger.Info("bulk approving validations", "total", total, "batch_size", batchSize)

	totalApproved := 0
	var allErrors []string
	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}
		batch := p.IDs[i:end]

		approved, errs, err := t.m.batchUpdate(ctx, batch, store.ValidationStatusApproved, "")
		if err != nil {
			return nil, rpc.NewInternal(err, "bulk approving batch starting at %d", i)
		}
		totalApproved += approved
		allErrors = append(allErrors, errs...)
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	t.m.logger.Info("bulk approve complete", "approved", totalApproved, "total", total, "elapsed_ms", elapsedMs)

	return map[string]any{
		"success":            totalApproved > 0,
		"total":              total,
		"approved_count":     totalApproved,
		"failed_count":       total - totalApproved,
		"errors":             allErrors,
		"processing_time_ms": elapsedMs,
	}, nil
}

// BulkReject is the bulk_reject method, mirroring BulkApprove with a
// rejection reason applied as a note suffix.
type BulkReject struct{ m *Methods }

func NewBulkReject(m *Methods) *BulkReject { return &BulkReject{m: m} }

func (t *BulkReject) Name() string { return "bulk_reject" }
func (t *BulkReject) Description() string {
	return "Reject a large batch of validations, processed in chunks."
}

type bulkRejectParams struct {
	IDs       []string `json:"ids"`
	Reason    string   `json:"reason"`
	BatchSize int      `json:"batch_size"`
}

func (t *BulkReject) Execute(ctx context.Context, params json.RawMessage) (any, error) {
	start := time.Now()
	var p bulkRejectParams
	if err := rpc.BindParams(params, &p); err != nil {
		return nil, err
	}
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := len(p.IDs)
	if total == 0 {
		t.m.logger.Info("no validation ids provided for bulk rejection")
		return map[string]any{
			"success": true, "total": 0, "rejected_count": 0, "failed_count": 0,
			"errors": []string{}, "processing_time_ms": 0.0,
		}, nil
	}

	t.m.logger.Info("bulk rejecting validations", "total", total, "batch_size", batchSize)

	totalRejected := 0
	var allErrors []string
	for i := 0; i < total; i += batchSize {
		end := i + batchSize
		if end > total {
			end = total
		}
		batch := p.IDs[i:end]

		rejected, errs, err := t.m.batchUpdate(ctx, batch, store.ValidationStatusRejected, p.Reason)
		if err != nil {
			return nil, rpc.NewInternal(err, "bulk rejecting batch starting at %d", i)
		}
		totalRejected += rejected
		allErrors = append(allErrors, errs...)
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	t.m.logger.Info("bulk reject complete", "rejected", totalRejected, "total", total, "elapsed_ms", elapsedMs)

	return map[string]any{
		"success":            totalRejected > 0,
		"total":              total,
		"rejected_count":     totalRejected,
		"failed_count":       total - totalRejected,
		"errors":             allErrors,
		"processing_time_ms": elapsedMs,
	}, nil
}
