package watcher

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

var vcsDirs = map[string]struct{}{
	".git": {},
	".hg":  {},
	".svn": {},
}

// Filter decides which paths under a root are of interest.
type Filter struct {
	root       string
	ignoreTemp bool
	matcher    gitignore.Matcher
	patterns   int
}

// NewFilter builds a filter for root. Patterns use .gitignore syntax and are
// relative to root. With respectGitignore the root's .gitignore is read too.
func NewFilter(root string, patterns []string, ignoreTemp, respectGitignore bool) (*Filter, error) {
	var ps []gitignore.Pattern
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	if respectGitignore {
		fromFile, err := readGitignore(filepath.Join(root, ".gitignore"))
		if err != nil {
			return nil, err
		}
		ps = append(ps, fromFile...)
	}
	return &Filter{
		root:       root,
		ignoreTemp: ignoreTemp,
		matcher:    gitignore.NewMatcher(ps),
		patterns:   len(ps),
	}, nil
}

func readGitignore(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, nil))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ps, nil
}

// Inside reports whether path lies under the root.
func (f *Filter) Inside(path string) bool {
	_, ok := f.rel(path)
	return ok
}

func (f *Filter) rel(path string) ([]string, bool) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false
	}
	if rel == "." {
		return nil, true
	}
	return strings.Split(filepath.ToSlash(rel), "/"), true
}

// Ignored reports whether an event on path should be dropped. Paths outside
// the root are always ignored.
func (f *Filter) Ignored(path string, isDir bool) bool {
	parts, ok := f.rel(path)
	if !ok {
		return true
	}
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		if _, vcs := vcsDirs[part]; vcs {
			return true
		}
	}
	if f.ignoreTemp && isTempFile(parts[len(parts)-1]) {
		return true
	}
	if f.patterns > 0 && f.matcher.Match(parts, isDir) {
		return true
	}
	return false
}

// isTempFile matches hidden, editor swap/backup and OS metadata files.
func isTempFile(base string) bool {
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasSuffix(base, ".tmp") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	return base == "Thumbs.db" || base == "4913"
}
