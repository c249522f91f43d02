// Package prompts loads and caches LLM prompt templates from JSON documents
// on disk, and formats them with named placeholders for the enhancement and
// recommendation capabilities.
package prompts

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// Template is one named prompt within a domain file.
type Template struct {
	Text        string `json:"template"`
	Description string `json:"description"`
}

// rawTemplate accepts either a bare string or an object with a "template"
// key, matching the two shapes the on-disk documents use.
type rawTemplate struct {
	asString string
	asObject Template
	isObject bool
}

func (r *rawTemplate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.asString = s
		return nil
	}
	var obj Template
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.asObject = obj
	r.isObject = true
	return nil
}

func (r rawTemplate) toTemplate() Template {
	if r.isObject {
		return r.asObject
	}
	return Template{Text: r.asString}
}

// Loader loads <domain>.json prompt documents from promptsDir and caches
// them in memory.
type Loader struct {
	mu         sync.RWMutex
	cache      map[string]map[string]Template
	promptsDir string
	logger     *slog.Logger
}

// NewLoader creates a Loader reading from promptsDir.
func NewLoader(promptsDir string, logger *slog.Logger) *Loader {
	return &Loader{
		cache:      make(map[string]map[string]Template),
		promptsDir: promptsDir,
		logger:     logger,
	}
}

func (l *Loader) loadFile(domain string) map[string]Template {
	l.mu.RLock()
	if data, ok := l.cache[domain]; ok {
		l.mu.RUnlock()
		return data
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if data, ok := l.cache[domain]; ok {
		return data
	}

	path := filepath.Join(l.promptsDir, domain+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("prompt file not found", "domain", domain, "path", path)
		l.cache[domain] = map[string]Template{}
		return l.cache[domain]
	}

	var rawMap map[string]rawTemplate
	if err := json.Unmarshal(raw, &rawMap); err != nil {
		l.logger.Error("invalid JSON in prompt file", "domain", domain, "path", path, "error", err)
		l.cache[domain] = map[string]Template{}
		return l.cache[domain]
	}

	templates := make(map[string]Template, len(rawMap))
	for key, rt := range rawMap {
		templates[key] = rt.toTemplate()
	}
	l.cache[domain] = templates
	l.logger.Debug("loaded prompts", "domain", domain, "path", path)
	return templates
}

// Get returns the named template's raw text, or "" if not found.
func (l *Loader) Get(domain, key string) string {
	t, ok := l.loadFile(domain)[key]
	if !ok {
		l.logger.Warn("prompt not found", "domain", domain, "key", key)
		return ""
	}
	return t.Text
}

// GetWithDescription returns the named template with its description.
func (l *Loader) GetWithDescription(domain, key string) Template {
	t, ok := l.loadFile(domain)[key]
	if !ok {
		l.logger.Warn("prompt not found", "domain", domain, "key", key)
		return Template{}
	}
	return t
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Format retrieves the named template and substitutes named placeholders
// ({name}) from values. A missing substitution logs an error and returns
// the unformatted template rather than failing — a badly configured prompt
// must never abort a validation or enhancement run.
func (l *Loader) Format(domain, key string, values map[string]string) string {
	template := l.Get(domain, key)
	if template == "" {
		return ""
	}

	missing := false
	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		missing = true
		return match
	})

	if missing {
		l.logger.Error("missing template argument", "domain", domain, "key", key)
		return template
	}
	return result
}

// ListDomains returns the domain files available under promptsDir.
func (l *Loader) ListDomains() []string {
	entries, err := os.ReadDir(l.promptsDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			out = append(out, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	sort.Strings(out)
	return out
}

// ListKeys returns the template keys available within domain.
func (l *Loader) ListKeys(domain string) []string {
	templates := l.loadFile(domain)
	out := make([]string, 0, len(templates))
	for k := range templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reload forces domain (or, if empty, every cached domain) to be re-read
// from disk on next access.
func (l *Loader) Reload(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if domain == "" {
		l.cache = make(map[string]map[string]Template)
		return
	}
	delete(l.cache, domain)
}
