// Package llm wraps a local Ollama-compatible language model service behind
// a small capability interface: generate, chat, embed, list models, and a
// health check. Generate, Chat, and Embed use bounded retry on transient
// failures; ListModels and the IsAvailable health check do not retry.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ChatMessage is one turn in a chat-style conversation.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Capability is the LLM surface the enhancement and recommendation method
// handlers depend on.
type Capability interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Chat(ctx context.Context, messages []ChatMessage) (string, error)
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	ListModels(ctx context.Context) ([]string, error)
	IsAvailable(ctx context.Context) bool
}

// Options configures a Client.
type Options struct {
	Disabled   bool
	Endpoint   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements Capability over an Ollama-compatible endpoint via
// langchaingo. A disabled client short-circuits every call with a
// recoverable error rather than attempting a connection.
type Client struct {
	opts   Options
	model  llms.Model
	logger *slog.Logger
}

// New constructs a Client. The underlying langchaingo model is created
// eagerly but lazily dialed; construction never fails solely because the
// server is unreachable, so a cold-started Ollama can come up later.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Model == "" {
		opts.Model = "llama3"
	}

	c := &Client{opts: opts, logger: logger}
	if opts.Disabled {
		return c, nil
	}

	m, err := ollama.New(
		ollama.WithServerURL(opts.Endpoint),
		ollama.WithModel(opts.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing ollama model client: %w", err)
	}
	c.model = m
	return c, nil
}

var errDisabled = errors.New("llm capability is disabled")

// Generate completes prompt using the configured model.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.opts.Disabled {
		return "", errDisabled
	}

	var out string
	err := c.withRetry(ctx, "generate", func(ctx context.Context) error {
		resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// Chat completes a multi-turn conversation.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.opts.Disabled {
		return "", errDisabled
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleType(m.Role), m.Content))
	}

	var out string
	err := c.withRetry(ctx, "chat", func(ctx context.Context) error {
		resp, err := c.model.GenerateContent(ctx, content)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat: empty response from model")
		}
		out = resp.Choices[0].Content
		return nil
	})
	return out, err
}

func roleType(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// Embed generates vector embeddings for each of inputs.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.opts.Disabled {
		return nil, errDisabled
	}

	embedder, ok := c.model.(embedderModel)
	if !ok {
		return nil, fmt.Errorf("embed: configured model does not support embeddings")
	}

	var out [][]float32
	err := c.withRetry(ctx, "embed", func(ctx context.Context) error {
		vecs, err := embedder.CreateEmbedding(ctx, inputs)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	return out, err
}

// embedderModel is satisfied by langchaingo models that support
// CreateEmbedding, so Embed can be attempted without importing the concrete
// ollama type twice.
type embedderModel interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// ListModels returns the model names available on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.opts.Disabled {
		return nil, errDisabled
	}
	// langchaingo's ollama client has no list-models call; a single
	// configured model is reported instead, matching this client's
	// single-model-per-deployment configuration.
	return []string{c.opts.Model}, nil
}

// IsAvailable reports whether the model server responds to a trivial
// request within the configured timeout.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.opts.Disabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	_, err := llms.GenerateFromSinglePrompt(ctx, c.model, "ping")
	if err != nil {
		c.logger.Debug("llm availability check failed", "error", err)
		return false
	}
	return true
}

// withRetry runs fn with exponential backoff on transient errors, mirroring
// the retry shape used for outbound HTTP calls elsewhere in this codebase:
// fixed initial backoff, doubling each attempt, capped, bounded by
// MaxRetries.
func (c *Client) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	const initialBackoff = 200 * time.Millisecond
	const maxBackoff = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == c.opts.MaxRetries {
			break
		}

		backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		c.logger.Warn("retrying llm operation after error",
			"operation", operation, "attempt", attempt+1, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", operation, lastErr)
}

// shouldRetry reports whether err looks transient: connection refused,
// timeout, or a DNS/network failure, as opposed to a malformed request the
// retry would repeat forever.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "timeout", "eof", "connection reset", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
