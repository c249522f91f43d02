package recommend

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babar-raza/tbcv-sub003/internal/llm"
	"github.com/babar-raza/tbcv-sub003/internal/prompts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

type fakeCapability struct {
	response string
	err      error
}

func (f *fakeCapability) Generate(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}
func (f *fakeCapability) Chat(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	return f.response, f.err
}
func (f *fakeCapability) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeCapability) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeCapability) IsAvailable(ctx context.Context) bool             { return f.err == nil }

func TestGenerateParsesJSONArrayResponse(t *testing.T) {
	cap := &fakeCapability{response: `Sure, here it is:
[{"type":"clarity","instruction":"tighten intro","rationale":"too verbose","scope":"section","severity":"low","confidence":0.8,"original_content":"foo","proposed_content":"bar"}]
Hope that helps.`}
	loader := prompts.NewLoader(filepath.Join(t.TempDir(), "missing"), testLogger())
	gen := NewGenerator(cap, loader, testLogger())

	out, err := gen.Generate(context.Background(), Snapshot{ValidationType: "guide", Status: "fail", Content: "foo"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "clarity", out[0].Type)
	assert.Equal(t, 0.8, out[0].Confidence)
}

func TestGenerateReturnsEmptyOnUnavailableModel(t *testing.T) {
	cap := &fakeCapability{err: errors.New("llm capability is disabled")}
	loader := prompts.NewLoader(filepath.Join(t.TempDir(), "missing"), testLogger())
	gen := NewGenerator(cap, loader, testLogger())

	out, err := gen.Generate(context.Background(), Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGenerateReturnsEmptyOnUnparsableResponse(t *testing.T) {
	cap := &fakeCapability{response: "not json at all"}
	loader := prompts.NewLoader(filepath.Join(t.TempDir(), "missing"), testLogger())
	gen := NewGenerator(cap, loader, testLogger())

	out, err := gen.Generate(context.Background(), Snapshot{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFallbackPromptUsedWhenNoTemplateFile(t *testing.T) {
	cap := &fakeCapability{response: "[]"}
	loader := prompts.NewLoader(filepath.Join(t.TempDir(), "missing"), testLogger())
	gen := NewGenerator(cap, loader, testLogger())

	out, err := gen.Generate(context.Background(), Snapshot{Content: "hello"})
	require.NoError(t, err)
	assert.Empty(t, out)
}
