// Package rules manages per-family validation rules loaded from JSON
// documents on disk: required fields, field types, enum values, forbidden
// fields, and the set of YAML front-matter fields a family may never edit.
package rules

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// globalNonEditableFields are withheld from every family regardless of its
// own rule document, matching the non_editable fields every family inherits.
var globalNonEditableFields = []string{
	"layout", "categories", "date", "draft", "lastmod", "title", "weight", "author",
}

// FieldRule describes the expected shape of one front-matter field.
type FieldRule struct {
	Required bool     `json:"required"`
	Type     string   `json:"type"` // "string", "number", "bool", "list"
	Enum     []string `json:"enum"` // allowed values, if non-empty
}

// FamilyRules holds the parsed rule document for one content family.
type FamilyRules struct {
	Family            string
	Fields            map[string]FieldRule
	NonEditableFields map[string]bool
	ForbiddenFields   map[string]bool
	RequiredHeadings  []string
}

// Manager loads and caches FamilyRules by family name.
type Manager struct {
	mu       sync.RWMutex
	cache    map[string]*FamilyRules
	rulesDir string
	logger   *slog.Logger
}

// NewManager creates a Manager that loads <family>.json documents from
// rulesDir.
func NewManager(rulesDir string, logger *slog.Logger) *Manager {
	return &Manager{
		cache:    make(map[string]*FamilyRules),
		rulesDir: rulesDir,
		logger:   logger,
	}
}

// rulesDocument is the on-disk JSON shape for a family's rule document.
type rulesDocument struct {
	Fields            map[string]FieldRule `json:"fields"`
	NonEditableFields []string             `json:"non_editable_yaml_fields"`
	ForbiddenFields   []string             `json:"forbidden_fields"`
	RequiredHeadings  []string             `json:"required_headings"`
}

// Get returns the rules for family, loading and caching them on first
// access. A missing or invalid rule document yields the family's defaults
// rather than an error — absence of custom rules is not a failure.
func (m *Manager) Get(family string) *FamilyRules {
	m.mu.RLock()
	r, ok := m.cache[family]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.cache[family]; ok {
		return r
	}
	r = m.load(family)
	m.cache[family] = r
	return r
}

func (m *Manager) load(family string) *FamilyRules {
	path := filepath.Join(m.rulesDir, family+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Error("failed to read rules file", "family", family, "path", path, "error", err)
		} else {
			m.logger.Warn("rules file not found, using defaults", "family", family, "path", path)
		}
		return defaultRules(family)
	}

	var doc rulesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		m.logger.Error("failed to parse rules file", "family", family, "path", path, "error", err)
		return defaultRules(family)
	}

	nonEditable := setOf(globalNonEditableFields)
	for _, f := range doc.NonEditableFields {
		nonEditable[f] = true
	}

	m.logger.Info("loaded rules", "family", family, "path", path)
	return &FamilyRules{
		Family:            family,
		Fields:            doc.Fields,
		NonEditableFields: nonEditable,
		ForbiddenFields:   setOf(doc.ForbiddenFields),
		RequiredHeadings:  doc.RequiredHeadings,
	}
}

func defaultRules(family string) *FamilyRules {
	return &FamilyRules{
		Family:            family,
		Fields:            map[string]FieldRule{},
		NonEditableFields: setOf(globalNonEditableFields),
		ForbiddenFields:   map[string]bool{},
		RequiredHeadings:  nil,
	}
}

func setOf(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// RequiredFields returns the names of fields marked required for family.
func (r *FamilyRules) RequiredFields() []string {
	var out []string
	for name, rule := range r.Fields {
		if rule.Required {
			out = append(out, name)
		}
	}
	return out
}

// FieldType returns the expected type of field, and whether the field is
// governed by a rule at all.
func (r *FamilyRules) FieldType(field string) (string, bool) {
	rule, ok := r.Fields[field]
	if !ok {
		return "", false
	}
	return rule.Type, true
}

// AllowedEnumValues returns the permitted values for field, or nil if the
// field has no enum constraint.
func (r *FamilyRules) AllowedEnumValues(field string) []string {
	rule, ok := r.Fields[field]
	if !ok {
		return nil
	}
	return rule.Enum
}

// IsForbidden reports whether field must not appear in front matter at all.
func (r *FamilyRules) IsForbidden(field string) bool {
	return r.ForbiddenFields[field]
}

// IsEditable reports whether field may be modified by an automated
// enhancement or recommendation apply step.
func (r *FamilyRules) IsEditable(field string) bool {
	return !r.NonEditableFields[field]
}

// Reload drops family from the cache (or the entire cache, if family is
// empty) so the next Get re-reads from disk.
func (m *Manager) Reload(family string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if family == "" {
		m.cache = make(map[string]*FamilyRules)
		m.logger.Info("cleared all rule caches")
		return
	}
	delete(m.cache, family)
	m.logger.Info("cleared rule cache", "family", family)
}

// LoadedFamilies returns the families currently cached, for diagnostics.
func (m *Manager) LoadedFamilies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cache))
	for k := range m.cache {
		out = append(out, k)
	}
	return out
}
