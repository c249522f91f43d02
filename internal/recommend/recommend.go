// Package recommend generates candidate content edits for a validation
// record by asking the configured language model for a list of structured
// suggestions, grounded on a validation's findings rather than its raw
// content alone.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/babar-raza/tbcv-sub003/internal/llm"
	"github.com/babar-raza/tbcv-sub003/internal/prompts"
)

// Snapshot is the validation context passed to the generator, assembled
// from a validation record and its parsed findings rather than persisted
// directly.
type Snapshot struct {
	ValidationType string
	Status         string
	Message        string
	Details        map[string]any
	Content        string
	FilePath       string
}

// Suggestion is one candidate edit returned by the generator, before
// confidence/type filtering and persistence.
type Suggestion struct {
	Type            string         `json:"type"`
	Instruction     string         `json:"instruction"`
	Rationale       string         `json:"rationale"`
	Scope           string         `json:"scope"`
	Severity        string         `json:"severity"`
	Confidence      float64        `json:"confidence"`
	OriginalContent string         `json:"original_content"`
	ProposedContent string         `json:"proposed_content"`
	Metadata        map[string]any `json:"metadata"`
}

const promptDomain = "recommender"
const promptKey = "generate_recommendations"

const fallbackPrompt = `You are a documentation quality reviewer. Given a markdown
document and a summary of validation findings against it, propose specific
edits as a JSON array. Each element must have the fields: type, instruction,
rationale, scope, severity, confidence (0 to 1), original_content,
proposed_content. Respond with the JSON array only, no prose.

Validation type: {validation_type}
Status: {status}
Finding summary: {message}

Document:
{content}`

// Generator produces Suggestions for a Snapshot via an LLM chat completion.
type Generator struct {
	llm     llm.Capability
	prompts *prompts.Loader
	logger  *slog.Logger
}

// NewGenerator builds a Generator over capability and promptLoader.
func NewGenerator(capability llm.Capability, promptLoader *prompts.Loader, logger *slog.Logger) *Generator {
	return &Generator{llm: capability, prompts: promptLoader, logger: logger}
}

// Generate asks the model for suggestions against snapshot. A model that is
// disabled, unreachable, or returns unparsable output yields an empty,
// non-error result — recommendation generation is best-effort, never a
// reason to fail the caller's request.
func (g *Generator) Generate(ctx context.Context, snapshot Snapshot) ([]Suggestion, error) {
	template := g.prompts.Format(promptDomain, promptKey, map[string]string{
		"validation_type": snapshot.ValidationType,
		"status":          snapshot.Status,
		"message":         snapshot.Message,
		"content":         snapshot.Content,
	})
	if template == "" {
		template = formatFallback(snapshot)
	}

	messages := []llm.ChatMessage{
		{Role: "system", Content: "You are a technical writing assistant that proposes structured documentation edits as JSON."},
		{Role: "user", Content: template},
	}

	response, err := g.llm.Chat(ctx, messages)
	if err != nil {
		g.logger.Warn("recommendation generation unavailable, returning no suggestions", "error", err)
		return nil, nil
	}

	suggestions, err := parseSuggestions(response)
	if err != nil {
		g.logger.Warn("recommendation response was not valid JSON, returning no suggestions", "error", err)
		return nil, nil
	}
	return suggestions, nil
}

func formatFallback(s Snapshot) string {
	r := strings.NewReplacer(
		"{validation_type}", s.ValidationType,
		"{status}", s.Status,
		"{message}", s.Message,
		"{content}", s.Content,
	)
	return r.Replace(fallbackPrompt)
}

// parseSuggestions extracts a JSON array from response, tolerating a model
// that wraps the array in prose or a markdown code fence.
func parseSuggestions(response string) ([]Suggestion, error) {
	text := strings.TrimSpace(response)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	text = text[start : end+1]

	var out []Suggestion
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decoding suggestions: %w", err)
	}
	return out, nil
}
