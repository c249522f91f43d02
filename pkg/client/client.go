// Package client provides synchronous and asynchronous convenience wrappers
// around internal/rpc.Dispatcher: one typed method per registered JSON-RPC
// handler, plus a generic Call for anything not wrapped yet. Both adapters
// retry retryable failures with exponential backoff before giving up, the
// same withRetry/shouldRetry shape used elsewhere in this codebase for
// outbound calls.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/babar-raza/tbcv-sub003/internal/rpc"
	"github.com/babar-raza/tbcv-sub003/internal/store"
	"github.com/babar-raza/tbcv-sub003/internal/workflow"
)

// Error wraps one JSON-RPC error response so callers can switch on Code
// instead of parsing Message, the typed-exception-conversion half of B1.
type Error struct {
	Code    int
	Message string
	Data    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// retryableCode reports whether Code is worth retrying: an internal error
// or a timeout. Anything else (bad params, not found, validation failure)
// is a permanent condition a retry would not fix.
func retryableCode(code int) bool {
	return code == rpc.CodeInternal || code == rpc.CodeTimeout
}

// Client is the synchronous adapter. Every typed method and Call block
// until the dispatcher returns, retrying transient failures in between.
type Client struct {
	dispatcher *rpc.Dispatcher
	logger     *slog.Logger
	maxRetries int
	nextID     atomic.Int64
}

// New builds a Client over dispatcher. maxRetries is the number of retry
// attempts after the first try (0 disables retrying).
func New(dispatcher *rpc.Dispatcher, logger *slog.Logger, maxRetries int) *Client {
	return &Client{dispatcher: dispatcher, logger: logger, maxRetries: maxRetries}
}

const (
	initialBackoff = 100 * time.Millisecond // 0.1s * 2^(attempt-1)
	maxBackoff     = 5 * time.Second
)

// Call dispatches method with params marshaled to JSON, retrying retryable
// failures with backoff doubling each attempt (0.1s, 0.2s, 0.4s, ... capped
// at maxBackoff). On success, result is unmarshaled into out when out is
// non-nil.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params for %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			c.logger.Warn("retrying rpc call after error",
				"method", method, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req := &rpc.Request{
			JSONRPC: "2.0",
			ID:      json.RawMessage(fmt.Sprintf("%d", c.nextID.Add(1))),
			Method:  method,
			Params:  paramsJSON,
		}
		resp := c.dispatcher.Dispatch(ctx, req)

		if resp.Error == nil {
			if out == nil {
				return nil
			}
			resultJSON, err := json.Marshal(resp.Result)
			if err != nil {
				return fmt.Errorf("re-marshaling result of %s: %w", method, err)
			}
			return json.Unmarshal(resultJSON, out)
		}

		lastErr = &Error{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
		if !retryableCode(resp.Error.Code) {
			return lastErr
		}
	}
	return lastErr
}

// --- Validation methods (M3) ---

func (c *Client) ValidateFile(ctx context.Context, filePath string, validationTypes []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "validate_file", map[string]any{"file_path": filePath, "validation_types": validationTypes}, &out)
	return out, err
}

func (c *Client) ValidateContent(ctx context.Context, content string, virtualPath string, validationTypes []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "validate_content", map[string]any{"content": content, "file_path": virtualPath, "validation_types": validationTypes}, &out)
	return out, err
}

func (c *Client) ValidateFolder(ctx context.Context, folderPath string, recursive bool) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "validate_folder", map[string]any{"folder_path": folderPath, "recursive": recursive}, &out)
	return out, err
}

func (c *Client) GetValidation(ctx context.Context, id string) (*store.ValidationRecord, error) {
	var out store.ValidationRecord
	err := c.Call(ctx, "get_validation", map[string]any{"validation_id": id}, &out)
	return &out, err
}

func (c *Client) ListValidations(ctx context.Context, status string, limit, offset int) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "list_validations", map[string]any{"status": status, "limit": limit, "offset": offset}, &out)
	return out, err
}

func (c *Client) DeleteValidation(ctx context.Context, id string) error {
	return c.Call(ctx, "delete_validation", map[string]any{"validation_id": id}, nil)
}

func (c *Client) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "revalidate", map[string]any{"validation_id": id}, &out)
	return out, err
}

// --- Approval methods (M4) ---

func (c *Client) Approve(ctx context.Context, ids []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "approve", map[string]any{"ids": ids}, &out)
	return out, err
}

func (c *Client) Reject(ctx context.Context, ids []string, reason string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "reject", map[string]any{"ids": ids, "reason": reason}, &out)
	return out, err
}

// --- Recommendation methods (M5) ---

func (c *Client) GenerateRecommendations(ctx context.Context, validationID string, threshold float64, types []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "generate_recommendations", map[string]any{
		"validation_id": validationID, "threshold": threshold, "types": types,
	}, &out)
	return out, err
}

func (c *Client) GetRecommendations(ctx context.Context, validationID string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "get_recommendations", map[string]any{"validation_id": validationID}, &out)
	return out, err
}

func (c *Client) ReviewRecommendation(ctx context.Context, id, decision, notes string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "review_recommendation", map[string]any{"recommendation_id": id, "action": decision, "notes": notes}, &out)
	return out, err
}

func (c *Client) ApplyRecommendations(ctx context.Context, validationID string, dryRun, createBackup bool) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "apply_recommendations", map[string]any{
		"validation_id": validationID, "dry_run": dryRun, "create_backup": createBackup,
	}, &out)
	return out, err
}

// --- Enhancement methods (M6) ---

func (c *Client) Enhance(ctx context.Context, ids []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "enhance", map[string]any{"ids": ids}, &out)
	return out, err
}

func (c *Client) EnhancePreview(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "enhance_preview", map[string]any{"validation_id": id}, &out)
	return out, err
}

func (c *Client) GetEnhancementComparison(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "get_enhancement_comparison", map[string]any{"validation_id": id}, &out)
	return out, err
}

// --- Admin/query methods (M7) ---

func (c *Client) GetSystemStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "get_system_status", map[string]any{}, &out)
	return out, err
}

func (c *Client) ClearCache(ctx context.Context, cacheTypes []string) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "clear_cache", map[string]any{"cache_types": cacheTypes}, &out)
	return out, err
}

func (c *Client) GetStats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "get_stats", map[string]any{}, &out)
	return out, err
}

func (c *Client) GetHealthReport(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.Call(ctx, "get_health_report", map[string]any{}, &out)
	return out, err
}

// --- Workflow methods (M8) ---

func (c *Client) CreateWorkflow(ctx context.Context, workflowType string, params map[string]any) (map[string]any, error) {
	body := map[string]any{"type": workflowType}
	for k, v := range params {
		body[k] = v
	}
	var out map[string]any
	err := c.Call(ctx, "create_workflow", body, &out)
	return out, err
}

func (c *Client) ControlWorkflow(ctx context.Context, workflowID, action string) (string, error) {
	var out map[string]any
	err := c.Call(ctx, "control_workflow", map[string]any{"workflow_id": workflowID, "action": action}, &out)
	if err != nil {
		return "", err
	}
	newStatus, _ := out["new_status"].(string)
	return newStatus, nil
}

func (c *Client) GetWorkflowSummary(ctx context.Context, workflowID string) (*workflow.Summary, error) {
	var out workflow.Summary
	err := c.Call(ctx, "get_workflow_summary", map[string]any{"workflow_id": workflowID}, &out)
	return &out, err
}

func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string, force bool) error {
	return c.Call(ctx, "delete_workflow", map[string]any{"workflow_id": workflowID, "force": force}, nil)
}
