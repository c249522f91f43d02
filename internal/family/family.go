// Package family detects which content family a markdown document belongs
// to, by front-matter field, then path heuristic, then discovery over the
// rule/truth directories configured for the server.
package family

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Detector resolves a family name for a document.
type Detector struct {
	rulesDir string
	truthDir string
}

// NewDetector creates a Detector that discovers families from rulesDir and
// truthDir when front-matter and path heuristics are inconclusive.
func NewDetector(rulesDir, truthDir string) *Detector {
	return &Detector{rulesDir: rulesDir, truthDir: truthDir}
}

// pathPatterns maps a lowercase path substring to the family it implies.
// Checked in order; the first match wins.
var pathPatterns = []struct {
	substrings []string
	family     string
}{
	{[]string{"word", "vocab", "dictionary"}, "words"},
	{[]string{"code", "programming", "script"}, "code"},
	{[]string{"config", "setting"}, "config"},
}

// Detect resolves the family for path, consulting headerFamily (the
// front-matter "family" field, already parsed by the caller) first, then
// path heuristics, then discovery over the configured directories.
func (d *Detector) Detect(path string, headerFamily string) string {
	if headerFamily != "" {
		return headerFamily
	}

	if f := detectFromPath(path); f != "" {
		return f
	}

	return d.detectFromAvailableFiles()
}

func detectFromPath(path string) string {
	lower := strings.ToLower(path)
	for _, p := range pathPatterns {
		for _, s := range p.substrings {
			if strings.Contains(lower, s) {
				return p.family
			}
		}
	}
	return ""
}

// detectFromAvailableFiles prefers "words" if any rule or truth document
// defines it, otherwise the lexicographically first available family.
func (d *Detector) detectFromAvailableFiles() string {
	families := d.AvailableFamilies()
	if len(families) == 0 {
		return ""
	}
	for _, f := range families {
		if f == "words" {
			return "words"
		}
	}
	return families[0]
}

// AvailableFamilies returns the sorted, deduplicated set of family names
// discoverable from rule and truth documents on disk.
func (d *Detector) AvailableFamilies() []string {
	set := map[string]bool{}
	collectStems(d.rulesDir, ".json", set)
	collectStems(d.truthDir, ".json", set)

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HasFamilySupport reports whether family has a rule or truth document.
func (d *Detector) HasFamilySupport(family string) bool {
	_, rulesErr := os.Stat(filepath.Join(d.rulesDir, family+".json"))
	_, truthErr := os.Stat(filepath.Join(d.truthDir, family+".json"))
	return rulesErr == nil || truthErr == nil
}

func collectStems(dir, ext string, into map[string]bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		into[strings.TrimSuffix(e.Name(), ext)] = true
	}
}
