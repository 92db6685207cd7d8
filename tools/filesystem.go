package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/tadpole/config"
	"github.com/m4xw311/tadpole/errors"
)

// FileSystem serves text file reads and writes on behalf of an agent,
// honouring the configured hidden and read-only globs. Relative paths are
// resolved against the root, which is also the base for relative globs.
type FileSystem struct {
	root   string
	access config.FilesystemAccess
}

func NewFileSystem(root string, access config.FilesystemAccess) *FileSystem {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &FileSystem{root: root, access: access}
}

// Root returns the directory relative paths resolve against.
func (fs *FileSystem) Root() string { return fs.root }

func (fs *FileSystem) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("missing path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(fs.root, path)
	}
	return filepath.Clean(path), nil
}

func (fs *FileSystem) check(abs string, patterns []string, denied error) error {
	for _, candidate := range matchCandidates(fs.root, abs) {
		restricted, err := isPathRestricted(candidate, patterns)
		if err != nil {
			return err
		}
		if restricted {
			return errors.Wrapf(denied, "%s", abs)
		}
	}
	return nil
}

// ReadTextFile returns the content of path. line is the 1-based first line to
// return and limit the maximum number of lines; zero means from the start and
// without limit respectively.
func (fs *FileSystem) ReadTextFile(path string, line, limit int) (string, error) {
	abs, err := fs.resolve(path)
	if err != nil {
		return "", err
	}
	if err := fs.check(abs, fs.access.Hidden, ErrHidden); err != nil {
		return "", err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", abs)
	}
	return sliceLines(string(content), line, limit), nil
}

// WriteTextFile replaces the content of path, creating it and its parent
// directories when missing.
func (fs *FileSystem) WriteTextFile(path, content string) error {
	abs, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if err := fs.check(abs, fs.access.Hidden, ErrHidden); err != nil {
		return err
	}
	if err := fs.check(abs, fs.access.ReadOnly, ErrReadOnly); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for '%s'", abs)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write to file '%s'", abs)
	}
	return nil
}

func sliceLines(content string, line, limit int) string {
	if line <= 1 && limit <= 0 {
		return content
	}
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	start := 0
	if line > 1 {
		start = line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return strings.Join(lines[start:end], "")
}
