// Package resolver decides which references are relocatable assets, registers
// them, and synthesizes the redirect modules that point the bundle at their
// new location.
package resolver

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/vormadev/rebase/internal/dialect"
	"github.com/vormadev/rebase/internal/namer"
	"github.com/vormadev/rebase/internal/registry"
	"github.com/vormadev/rebase/kit/filter"
	"github.com/vormadev/rebase/kit/fsutil"
	"golang.org/x/sync/singleflight"
)

// Outcome classifies a resolution.
type Outcome int

const (
	// NotHandled leaves the reference to the host bundler.
	NotHandled Outcome = iota
	// Excluded tells the host to keep the reference external and not bundle it.
	Excluded
	// Handled means the reference now points at a redirect module.
	Handled
)

func (o Outcome) String() string {
	switch o {
	case Excluded:
		return "excluded"
	case Handled:
		return "handled"
	default:
		return "not-handled"
	}
}

// Request is one reference met during the host's module graph walk.
type Request struct {
	// Path is the reference as written.
	Path string
	// Importer is the referring file, empty for build entry points.
	Importer string
	// ResolveDir is the directory relative paths resolve against. Defaults to
	// the importer's directory.
	ResolveDir string
}

// Result of Resolve.
type Result struct {
	Outcome Outcome
	// Redirect is set when Outcome is Handled.
	Redirect registry.RedirectID
	// External is the output-relative import path ("./static/x.png"), set when
	// Outcome is Excluded.
	External string
}

// Options configures a Resolver.
type Options struct {
	Filter      *filter.Filter
	AssetFolder string
	Policy      namer.Policy
	Verbose     bool
	Log         *slog.Logger
}

// Resolver is safe for concurrent use; the host may call it from many
// goroutines at once.
type Resolver struct {
	state  *registry.State
	opts   Options
	hashes singleflight.Group
}

// New returns a Resolver writing into state.
func New(state *registry.State, opts Options) *Resolver {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Resolver{state: state, opts: opts}
}

// Resolve classifies req and registers the asset it names, if any.
//
// A reference whose target does not exist on disk is never an error: names
// like "jquery.min" look like assets but must fall through to the host.
func (r *Resolver) Resolve(req Request) (Result, error) {
	if req.Importer == "" {
		if abs, err := filepath.Abs(r.join(req)); err == nil {
			r.state.SetRoot(filepath.Dir(abs))
		}
		return Result{}, nil
	}

	if out, ok := r.state.Claimed(registry.VirtualID(req.Path)); ok {
		return Result{Outcome: Excluded, External: "./" + out}, nil
	}

	ext := filepath.Ext(req.Path)
	if ext == "" || dialect.IsScript(ext) {
		return Result{}, nil
	}
	outExt := dialect.OutputExt(ext)

	abs, err := filepath.Abs(r.join(req))
	if err != nil {
		return Result{}, nil
	}
	if !r.opts.Filter.Match(abs) {
		return Result{}, nil
	}
	if !fsutil.Exists(abs) {
		return Result{}, nil
	}

	rec, err := r.register(abs, outExt)
	if err != nil {
		return Result{}, err
	}

	v := registry.NewVirtualID(r.state.Root(), "", rec.Output)
	id := r.state.Claim(v, rec.Output)
	return Result{Outcome: Handled, Redirect: id}, nil
}

// register returns the record for abs, naming the file on first encounter.
// Concurrent first encounters share one hash computation.
func (r *Resolver) register(abs, outExt string) (registry.Record, error) {
	if rec, ok := r.state.Record(abs); ok {
		return rec, nil
	}

	v, err, _ := r.hashes.Do(abs, func() (any, error) {
		if rec, ok := r.state.Record(abs); ok {
			return rec, nil
		}
		name, err := r.opts.Policy.NameFile(abs, outExt)
		if err != nil {
			return nil, err
		}
		rec := r.state.PutRecord(registry.Record{
			Source: abs,
			Output: path.Join(registry.Slash(r.opts.AssetFolder), name),
		})
		r.logRegistered(rec)
		return rec, nil
	})
	if err != nil {
		return registry.Record{}, fmt.Errorf("register %s: %w", abs, err)
	}
	return v.(registry.Record), nil
}

func (r *Resolver) join(req Request) string {
	if filepath.IsAbs(req.Path) {
		return req.Path
	}
	dir := req.ResolveDir
	if dir == "" && req.Importer != "" {
		dir = filepath.Dir(req.Importer)
	}
	return filepath.Join(dir, filepath.FromSlash(req.Path))
}

func (r *Resolver) logRegistered(rec registry.Record) {
	log := r.opts.Log.Debug
	if r.opts.Verbose {
		log = r.opts.Log.Info
	}
	log("asset", "src", r.state.Rel(rec.Source), "output", rec.Output)
}

// Load returns the source of the redirect module id, or false if id is not a
// redirect module of this build.
func (r *Resolver) Load(id string) (string, bool) {
	rid, ok := registry.ParseRedirectID(id)
	if !ok {
		return "", false
	}
	target, ok := r.state.Redirect(rid)
	if !ok {
		return "", false
	}
	return RedirectModule(target), true
}

// RedirectModule is the one-line module re-exporting target's default export.
func RedirectModule(target registry.VirtualID) string {
	return fmt.Sprintf("export { default } from %q;\n", string(target))
}
