package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/rpc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoMethod() rpc.Method {
	return rpc.MethodFunc{
		MethodName: "echo",
		Desc:       "returns its params unchanged",
		Fn: func(ctx context.Context, params json.RawMessage) (any, error) {
			var v map[string]any
			if err := json.Unmarshal(params, &v); err != nil {
				return nil, rpc.NewInvalidParams("invalid params: %v", err)
			}
			return v, nil
		},
	}
}

// flakyMethod fails with an internal error the first n calls, then succeeds.
func flakyMethod(failures int) rpc.Method {
	calls := 0
	return rpc.MethodFunc{
		MethodName: "flaky",
		Fn: func(ctx context.Context, params json.RawMessage) (any, error) {
			calls++
			if calls <= failures {
				return nil, rpc.NewInternal(nil, "transient failure %d", calls)
			}
			return map[string]any{"calls": calls}, nil
		},
	}
}

func notFoundMethod() rpc.Method {
	return rpc.MethodFunc{
		MethodName: "missing_thing",
		Fn: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, rpc.NewNotFound("thing not found")
		},
	}
}

func newTestClient(t *testing.T, methods ...rpc.Method) *Client {
	t.Helper()
	reg := rpc.NewRegistry()
	for _, m := range methods {
		reg.Register(m)
	}
	d := rpc.NewDispatcher(reg, testLogger())
	return New(d, testLogger(), 3)
}

func TestCallEchoesParams(t *testing.T) {
	c := newTestClient(t, echoMethod())
	var out map[string]any
	err := c.Call(context.Background(), "echo", map[string]any{"hello": "world"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "world", out["hello"])
}

func TestCallRetriesInternalErrorsUntilSuccess(t *testing.T) {
	c := newTestClient(t, flakyMethod(2))
	var out map[string]any
	err := c.Call(context.Background(), "flaky", map[string]any{}, &out)
	require.NoError(t, err)
	assert.Equal(t, float64(3), out["calls"])
}

func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	c := newTestClient(t, flakyMethod(10))
	err := c.Call(context.Background(), "flaky", map[string]any{}, nil)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeInternal, rpcErr.Code)
}

func TestCallDoesNotRetryNotFound(t *testing.T) {
	c := newTestClient(t, notFoundMethod())
	err := c.Call(context.Background(), "missing_thing", map[string]any{}, nil)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeResourceNotFound, rpcErr.Code)
}

func TestCallUnknownMethodReturnsMethodNotFound(t *testing.T) {
	c := newTestClient(t)
	err := c.Call(context.Background(), "nope", map[string]any{}, nil)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)
}
