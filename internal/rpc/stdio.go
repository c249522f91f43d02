package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// StdioServer reads newline-delimited JSON-RPC requests from r and writes
// responses to w. It is the synchronous CLI front-end's transport, kept
// minimal here since the CLI front-end itself is an external collaborator
// this is just enough plumbing to drive the dispatcher end-to-end, in the
// style of a line-delimited JSON-RPC read/dispatch/write loop.
type StdioServer struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewStdioServer(dispatcher *Dispatcher, logger *slog.Logger) *StdioServer {
	return &StdioServer{dispatcher: dispatcher, logger: logger}
}

// Run blocks until r is exhausted or ctx is cancelled.
func (s *StdioServer) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatcher.DispatchRaw(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}
