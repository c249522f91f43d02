package diffutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateCountsLinesCorrectly(t *testing.T) {
	original := "line one\nline two\nline three\n"
	enhanced := "line one\nline two changed\nline three\nline four\n"

	d := Generate(original, enhanced)

	plusLines := countPrefixedLines(d.UnifiedDiff, "+")
	minusLines := countPrefixedLines(d.UnifiedDiff, "-")

	assert.Equal(t, plusLines, d.AdditionsCount)
	assert.Equal(t, minusLines, d.DeletionsCount)
	assert.Equal(t, d.TotalChanges, d.AdditionsCount+d.DeletionsCount)
	assert.Equal(t, min(d.AdditionsCount, d.DeletionsCount), d.ModificationsCount)
}

func countPrefixedLines(text, prefix string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			count++
		}
	}
	return count
}

func TestGenerateNoChangesYieldsZeroCounts(t *testing.T) {
	text := "same\ncontent\n"
	d := Generate(text, text)
	assert.Zero(t, d.AdditionsCount)
	assert.Zero(t, d.DeletionsCount)
	assert.Zero(t, d.TotalChanges)
}

func TestSideBySideIncludesAllLineKinds(t *testing.T) {
	d := Generate("keep\nremove me\n", "keep\nadd me\n")
	var sawAddition, sawDeletion, sawUnchanged bool
	for _, l := range d.SideBySide {
		switch l.Type {
		case KindAddition:
			sawAddition = true
		case KindDeletion:
			sawDeletion = true
		case KindUnchanged:
			sawUnchanged = true
		}
	}
	assert.True(t, sawAddition)
	assert.True(t, sawDeletion)
	assert.True(t, sawUnchanged)
}

func TestStatsOfMirrorsDiffCounts(t *testing.T) {
	d := Generate("a\nb\n", "a\nc\nd\n")
	s := StatsOf(d)
	assert.Equal(t, d.AdditionsCount, s.LinesAdded)
	assert.Equal(t, d.DeletionsCount, s.LinesRemoved)
	assert.Equal(t, d.ModificationsCount, s.LinesModified)
	assert.Equal(t, d.TotalChanges, s.TotalChanges)
}

func TestFormatUnifiedHeaderIncludesPath(t *testing.T) {
	d := Generate("a\n", "b\n")
	out := FormatUnifiedHeader("doc.md", d)
	assert.True(t, strings.HasPrefix(out, "--- doc.md\n+++ doc.md\n"))
}
