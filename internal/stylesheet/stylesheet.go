// Package stylesheet resolves nested imports and rewrites asset urls inside
// stylesheets of every supported dialect, producing the final text and an
// external source map.
package stylesheet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vormadev/rebase/internal/dialect"
)

// Publisher places an asset referenced from a stylesheet into the output tree.
// Implementations must be safe for concurrent use and publish each source at
// most once per build.
type Publisher interface {
	// Publish copies the file at the absolute path src into the output asset
	// folder and returns the absolute destination path.
	Publish(src string) (string, error)
}

// Result is a processed stylesheet.
type Result struct {
	// Code is the stylesheet text, ending with a sourceMappingURL comment.
	Code []byte
	// Map is the JSON source map to write next to Code as "<dest>.map".
	Map []byte
}

// Processor runs the import/url transform. It holds no per-file state and can
// process many stylesheets concurrently.
type Processor struct {
	assets Publisher
	log    *slog.Logger
}

// New returns a Processor publishing referenced assets through assets.
func New(assets Publisher, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{assets: assets, log: log}
}

// ErrNotStylesheet is returned by Process for files of no known dialect.
var ErrNotStylesheet = errors.New("not a stylesheet")

// Process transforms the stylesheet at the absolute path src for output at the
// absolute path dest. Urls are rewritten relative to dest's directory.
func (p *Processor) Process(src, dest string) (Result, error) {
	d := dialect.Of(filepath.Ext(src))
	switch d.Engine() {
	case dialect.EngineDefault:
		contents, err := os.ReadFile(src)
		if err != nil {
			return Result{}, err
		}
		return p.bundle(contents, src, dest)
	case dialect.EngineSugar:
		contents, err := os.ReadFile(src)
		if err != nil {
			return Result{}, err
		}
		return p.bundle(dialect.SugarToCSS(contents), src, dest)
	case dialect.EngineSyntaxPreserving:
		return p.preserve(src, dest, d)
	default:
		return Result{}, fmt.Errorf("%s: %w", src, ErrNotStylesheet)
	}
}

// rewriteURL maps a url found in a file inside fromDir to the published
// location of the asset, relative to destDir. ok is false when the url must
// stay as written.
//
// Rewritten urls are relative to the directory of the emitted stylesheet, not
// to the output root: a stylesheet in static/ refers to static/x.svg as x.svg.
func (p *Processor) rewriteURL(raw, fromDir, destDir string) (rewritten string, ok bool, err error) {
	if !isLocalURL(raw) {
		return raw, false, nil
	}

	target, suffix := splitSuffix(raw)
	if unescaped, uerr := url.PathUnescape(target); uerr == nil {
		target = unescaped
	}
	abs := filepath.Join(fromDir, filepath.FromSlash(target))

	info, serr := os.Stat(abs)
	if serr != nil || info.IsDir() {
		if !strings.ContainsAny(raw, "$@") && !strings.Contains(raw, "#{") {
			p.log.Warn("url target not found, left unchanged", "url", raw, "dir", fromDir)
		}
		return raw, false, nil
	}

	out, err := p.assets.Publish(abs)
	if err != nil {
		return "", false, fmt.Errorf("publish %s: %w", raw, err)
	}
	rel, err := filepath.Rel(destDir, out)
	if err != nil {
		return "", false, err
	}
	return filepath.ToSlash(rel) + suffix, true, nil
}

// isLocalURL reports whether raw may point at a file next to the stylesheet.
func isLocalURL(raw string) bool {
	switch {
	case raw == "",
		strings.HasPrefix(raw, "#"),
		strings.HasPrefix(raw, "/"),
		strings.HasPrefix(strings.ToLower(raw), "data:"):
		return false
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return false
	}
	return true
}

func splitSuffix(raw string) (string, string) {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i], raw[i:]
	}
	return raw, ""
}

func mapComment(dest string) string {
	return "/*# sourceMappingURL=" + filepath.Base(dest) + ".map */\n"
}
