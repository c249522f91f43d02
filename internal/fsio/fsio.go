// Package fsio implements file I/O for markdown documents that preserves
// line endings across reads and writes, normalizes to CRLF on write, and
// guards every path against traversal outside a configured root.
package fsio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// dangerousSubstrings flags path fragments that could escape a base
// directory or reach environment-variable expansion.
var dangerousSubstrings = []string{"..", "~", "$", "%"}

// protectedPrefixes are system-critical roots no write should ever touch.
var protectedPrefixes = []string{
	"/etc", "/sys", "/proc", "/dev", "/boot",
	`C:\Windows`, `C:\System32`,
}

// IsSafePath reports whether path is free of traversal patterns, does not
// resolve under a protected system root, and (when baseDir is non-empty)
// resolves to somewhere inside baseDir.
func IsSafePath(path string, baseDir string) bool {
	for _, pat := range dangerousSubstrings {
		if strings.Contains(path, pat) {
			return false
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(abs, prefix) {
			return false
		}
	}

	if baseDir != "" {
		baseAbs, err := filepath.Abs(baseDir)
		if err != nil {
			return false
		}
		rel, err := filepath.Rel(baseAbs, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return false
		}
	}

	return true
}

// ReadText reads path verbatim, preserving whatever line endings it
// contains on disk (no newline translation happens on read).
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// WriteTextCRLF normalizes content to CRLF line endings and writes it
// atomically: to a temp file in the same directory, then renamed into
// place, so a crash mid-write never leaves a half-written document.
func WriteTextCRLF(path string, content string) error {
	if !IsSafePath(path, "") {
		return fmt.Errorf("writing %s: unsafe path", path)
	}

	normalized := toCRLF(content)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".fsio-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(normalized); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}

	return nil
}

// toCRLF normalizes all line endings to CRLF regardless of the mix
// present in the input, and ends non-empty content that lacks a final
// line ending with one.
func toCRLF(content string) string {
	unified := strings.ReplaceAll(content, "\r\n", "\n")
	if unified != "" && !strings.HasSuffix(unified, "\n") {
		unified += "\n"
	}
	return strings.ReplaceAll(unified, "\n", "\r\n")
}

// EnsureDirectory creates dir (and any missing parents) if it does not
// already exist.
func EnsureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensuring directory %s: %w", dir, err)
	}
	return nil
}

// ListMarkdownFiles returns every .md file under root. When recursive is
// false, only root's immediate children are listed.
func ListMarkdownFiles(root string, recursive bool) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statting %s: %w", root, err)
	}

	var out []string
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
				out = append(out, filepath.Join(root, e.Name()))
			}
		}
		return out, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".md") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return out, nil
}

// BackupFile writes a timestamped sibling copy of path (path.bak_<suffix>)
// containing its current contents, with line endings normalized to CRLF by
// WriteTextCRLF, and returns the backup's path.
func BackupFile(path string, suffix string) (string, error) {
	content, err := ReadText(path)
	if err != nil {
		return "", err
	}
	backupPath := path + ".bak_" + suffix
	if err := WriteTextCRLF(backupPath, content); err != nil {
		return "", err
	}
	return backupPath, nil
}
