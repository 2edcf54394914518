// Package filter builds include/exclude path predicates from doublestar glob
// patterns.
package filter

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides whether an absolute path is in scope.
type Filter struct {
	include []string
	exclude []string
}

// New compiles include and exclude patterns. Relative patterns are anchored at
// baseDir. An empty include list includes everything. Exclusion wins.
func New(baseDir string, include, exclude []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.include, err = anchor(baseDir, include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if f.exclude, err = anchor(baseDir, exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return f, nil
}

func anchor(baseDir string, patterns []string) ([]string, error) {
	base := norm(baseDir)
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
		if !path.IsAbs(p) && !isWindowsAbs(p) {
			p = path.Join(base, p)
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether absPath passes the filter. A nil Filter matches
// everything.
func (f *Filter) Match(absPath string) bool {
	if f == nil {
		return true
	}
	p := norm(absPath)
	for _, pat := range f.exclude {
		if ok, _ := doublestar.Match(pat, p); ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pat := range f.include {
		if ok, _ := doublestar.Match(pat, p); ok {
			return true
		}
	}
	return false
}

func norm(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}

func isWindowsAbs(p string) bool {
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}
