// Package tools holds the client-side capabilities an agent can call back
// into: the text file system behind fs/read_text_file and fs/write_text_file.
package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/tadpole/errors"
)

var (
	ErrHidden   = errors.Sentinel("access denied: path is hidden")
	ErrReadOnly = errors.Sentinel("access denied: path is read-only")
)

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// matchCandidates returns the forms of path that access globs are matched
// against: the path relative to root when it lies inside root, and the
// absolute path itself.
func matchCandidates(root, abs string) []string {
	out := []string{filepath.ToSlash(abs)}
	if root == "" {
		return out
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return out
	}
	return append([]string{filepath.ToSlash(rel)}, out...)
}
