package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoMethod() Method {
	return MethodFunc{
		MethodName: "echo",
		Desc:       "returns its params unchanged",
		Fn: func(ctx context.Context, params json.RawMessage) (any, error) {
			var v map[string]any
			if err := json.Unmarshal(params, &v); err != nil {
				return nil, NewInvalidParams("invalid params: %v", err)
			}
			return v, nil
		},
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, testLogger())

	req := &Request{JSONRPC: "2.0", Method: "nope", ID: json.RawMessage("1")}
	resp := d.Dispatch(context.Background(), req)

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: nope", resp.Error.Message)
}

func TestDispatchSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoMethod())
	d := NewDispatcher(reg, testLogger())

	req := &Request{
		JSONRPC: "2.0",
		Method:  "echo",
		ID:      json.RawMessage("1"),
		Params:  json.RawMessage(`{"a":1}`),
	}
	resp := d.Dispatch(context.Background(), req)

	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Result)
}

func TestDispatchInvalidEnvelope(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, testLogger())

	cases := []struct {
		name string
		req  *Request
	}{
		{"bad jsonrpc version", &Request{JSONRPC: "1.0", Method: "echo", ID: json.RawMessage("1")}},
		{"empty method", &Request{JSONRPC: "2.0", Method: "", ID: json.RawMessage("1")}},
		{"missing id", &Request{JSONRPC: "2.0", Method: "echo"}},
		{"non-object params", &Request{JSONRPC: "2.0", Method: "echo", ID: json.RawMessage("1"), Params: json.RawMessage(`[1,2]`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), tc.req)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
		})
	}
}

func TestDispatchDomainErrorMapping(t *testing.T) {
	reg := NewRegistry()
	reg.Register(MethodFunc{
		MethodName: "boom",
		Fn: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, NewNotFound("Validation %s not found", "abc")
		},
	})
	d := NewDispatcher(reg, testLogger())

	resp := d.Dispatch(context.Background(), &Request{
		JSONRPC: "2.0", Method: "boom", ID: json.RawMessage("1"), Params: json.RawMessage("{}"),
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeResourceNotFound, resp.Error.Code)
	assert.Equal(t, "Validation abc not found", resp.Error.Message)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoMethod())
	assert.Panics(t, func() { reg.Register(echoMethod()) })
}

func TestRegistryListOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(MethodFunc{MethodName: "b"})
	reg.Register(MethodFunc{MethodName: "a"})
	assert.Equal(t, []string{"b", "a"}, reg.List())
}
