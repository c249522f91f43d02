package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeModel struct {
	calls      int
	failTimes  int
	failErr    error
	response   string
	embeddings [][]float32
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return f.generate()
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	text, err := f.generate()
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (f *fakeModel) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	return f.embeddings, nil
}

func (f *fakeModel) generate() (string, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return "", f.failErr
	}
	return f.response, nil
}

func TestDisabledClientShortCircuits(t *testing.T) {
	c, err := New(Options{Disabled: true}, testLogger())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, errDisabled)

	_, err = c.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, errDisabled)

	assert.False(t, c.IsAvailable(context.Background()))
}

func TestShouldRetryClassifiesTransientErrors(t *testing.T) {
	assert.True(t, shouldRetry(errors.New("dial tcp: connection refused")))
	assert.True(t, shouldRetry(errors.New("context deadline exceeded: timeout")))
	assert.True(t, shouldRetry(&net.DNSError{Err: "no such host", IsTimeout: false}))
	assert.False(t, shouldRetry(errors.New("invalid request: missing field")))
	assert.False(t, shouldRetry(nil))
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	c := &Client{
		opts:   Options{Timeout: time.Second, MaxRetries: 3},
		model:  &fakeModel{failTimes: 2, failErr: errors.New("connection refused"), response: "ok"},
		logger: testLogger(),
	}

	out, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestWithRetryGivesUpOnNonRetryableError(t *testing.T) {
	c := &Client{
		opts:   Options{Timeout: time.Second, MaxRetries: 3},
		model:  &fakeModel{failTimes: 99, failErr: errors.New("invalid request")},
		logger: testLogger(),
	}

	_, err := c.Generate(context.Background(), "prompt")
	require.Error(t, err)
}

func TestEmbedUsesEmbedderModel(t *testing.T) {
	fm := &fakeModel{embeddings: [][]float32{{0.1, 0.2}}}
	c := &Client{opts: Options{Timeout: time.Second, MaxRetries: 1}, model: fm, logger: testLogger()}

	out, err := c.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}}, out)
}

func TestListModelsReturnsConfiguredModel(t *testing.T) {
	c := &Client{opts: Options{Model: "llama3"}, logger: testLogger()}
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3"}, models)
}
