package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Recorder observes one completed method call, decoupling the dispatcher
// from any particular metrics backend (internal/metrics.Recorder satisfies
// this).
type Recorder interface {
	Observe(ctx context.Context, method string, elapsed time.Duration, status string)
}

// Dispatcher validates envelopes, routes to the registry, and maps handler
// results/errors onto the JSON-RPC response shape. It is purely synchronous;
// AsyncDispatcher wraps it with a bounded worker pool.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	recorder Recorder
}

// NewDispatcher creates a Dispatcher over registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

// SetRecorder attaches r so every dispatched call is timed and observed.
// Unset by default; tests and callers that don't care about metrics can
// ignore this entirely.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// Dispatch handles one already-parsed request and always returns a non-nil
// Response (requests always carry an id in this system; there is no
// fire-and-forget notification concept here, unlike the MCP transport the
// teacher builds on).
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	resp := &Response{JSONRPC: "2.0", ID: req.ID}

	if err := validateEnvelope(req); err != nil {
		resp.Error = err
		return resp
	}

	method := d.registry.Get(req.Method)
	if method == nil {
		resp.Error = &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
		return resp
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	start := time.Now()
	result, err := method.Execute(ctx, params)
	if err != nil {
		resp.Error = d.mapError(req.Method, err)
		d.observe(ctx, req.Method, start, "error")
		return resp
	}

	resp.Result = result
	d.observe(ctx, req.Method, start, "ok")
	return resp
}

func (d *Dispatcher) observe(ctx context.Context, method string, start time.Time, status string) {
	if d.recorder == nil {
		return
	}
	d.recorder.Observe(ctx, method, time.Since(start), status)
}

// DispatchRaw parses a raw JSON-RPC request and dispatches it, returning a
// parse-error Response if the envelope is not valid JSON.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			Error: &Error{
				Code:    CodeParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}
	return d.Dispatch(ctx, &req)
}

func validateEnvelope(req *Request) *Error {
	if req.JSONRPC != "2.0" {
		return &Error{Code: CodeInvalidRequest, Message: `Invalid request: jsonrpc must be "2.0"`}
	}
	if req.Method == "" {
		return &Error{Code: CodeInvalidRequest, Message: "Invalid request: method is required"}
	}
	if len(req.ID) == 0 {
		return &Error{Code: CodeInvalidRequest, Message: "Invalid request: id is required"}
	}
	if len(req.Params) > 0 {
		var v any
		if err := json.Unmarshal(req.Params, &v); err != nil {
			return &Error{Code: CodeInvalidRequest, Message: "Invalid request: params must be valid JSON"}
		}
		if _, isObj := v.(map[string]any); !isObj {
			return &Error{Code: CodeInvalidRequest, Message: "Invalid request: params must be an object"}
		}
	}
	return nil
}

func (d *Dispatcher) mapError(method string, err error) *Error {
	if de, ok := AsDomainError(err); ok {
		if de.Kind == KindInternal {
			d.logger.Error("method failed", "method", method, "error", err)
		}
		return &Error{Code: CodeFor(de.Kind), Message: de.Error(), Data: de.Data}
	}
	// Any other returned error is InternalError with the message forwarded.
	d.logger.Error("method failed with unclassified error", "method", method, "error", err)
	return &Error{Code: CodeInternal, Message: err.Error()}
}
