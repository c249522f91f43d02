// Package diffutil generates unified and side-by-side diffs between an
// original and an enhanced document, plus the line-count statistics the
// enhancement and recommendation methods report.
package diffutil

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// SideBySideKind classifies one line of a side-by-side diff.
type SideBySideKind string

const (
	KindUnchanged SideBySideKind = "unchanged"
	KindAddition  SideBySideKind = "addition"
	KindDeletion  SideBySideKind = "deletion"
)

// SideBySideLine is one row of a side-by-side diff rendering.
type SideBySideLine struct {
	Type    SideBySideKind `json:"type"`
	Content string         `json:"content"`
}

// Diff is the full diff result the enhancement methods persist and return.
type Diff struct {
	UnifiedDiff        string           `json:"unified_diff"`
	SideBySide         []SideBySideLine `json:"side_by_side"`
	AdditionsCount     int              `json:"additions_count"`
	DeletionsCount     int              `json:"deletions_count"`
	ModificationsCount int              `json:"modifications_count"`
	TotalChanges       int              `json:"total_changes"`
}

// Generate computes the diff between original and enhanced.
func Generate(original, enhanced string) Diff {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(original, enhanced)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var unified strings.Builder
	var sideBySide []SideBySideLine
	additions, deletions := 0, 0

	for _, d := range diffs {
		lines := splitLinesKeepEmpty(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, line := range lines {
				unified.WriteString("+" + line + "\n")
				sideBySide = append(sideBySide, SideBySideLine{Type: KindAddition, Content: line})
				additions++
			}
		case diffmatchpatch.DiffDelete:
			for _, line := range lines {
				unified.WriteString("-" + line + "\n")
				sideBySide = append(sideBySide, SideBySideLine{Type: KindDeletion, Content: line})
				deletions++
			}
		case diffmatchpatch.DiffEqual:
			for _, line := range lines {
				unified.WriteString(" " + line + "\n")
				sideBySide = append(sideBySide, SideBySideLine{Type: KindUnchanged, Content: line})
			}
		}
	}

	modifications := additions
	if deletions < modifications {
		modifications = deletions
	}

	return Diff{
		UnifiedDiff:        unified.String(),
		SideBySide:         sideBySide,
		AdditionsCount:     additions,
		DeletionsCount:     deletions,
		ModificationsCount: modifications,
		TotalChanges:       additions + deletions,
	}
}

// splitLinesKeepEmpty splits text on newlines without producing a
// trailing empty element for a final newline, since DiffLinesToChars
// already segments the text into whole lines.
func splitLinesKeepEmpty(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// Stats summarizes a diff for get_enhancement_comparison.
type Stats struct {
	LinesAdded    int `json:"lines_added"`
	LinesRemoved  int `json:"lines_removed"`
	LinesModified int `json:"lines_modified"`
	TotalChanges  int `json:"total_changes"`
}

// StatsOf converts a Diff into the Stats shape get_enhancement_comparison
// reports.
func StatsOf(d Diff) Stats {
	return Stats{
		LinesAdded:    d.AdditionsCount,
		LinesRemoved:  d.DeletionsCount,
		LinesModified: d.ModificationsCount,
		TotalChanges:  d.TotalChanges,
	}
}

// FormatUnifiedHeader prepends a standard two-line unified-diff header so
// UnifiedDiff reads as a conventional patch when format="unified" is
// requested.
func FormatUnifiedHeader(path string, d Diff) string {
	return fmt.Sprintf("--- %s\n+++ %s\n%s", path, path, d.UnifiedDiff)
}
