// Package rebase is an esbuild plugin that relocates the non-script assets a
// bundle references (images, fonts, stylesheets) into an asset folder under the
// build output, renaming them by content hash and rewriting the references
// inside stylesheets so they keep pointing at the relocated files.
package rebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/vormadev/rebase/internal/emitter"
	"github.com/vormadev/rebase/internal/namer"
	"github.com/vormadev/rebase/internal/registry"
	"github.com/vormadev/rebase/internal/resolver"
	"github.com/vormadev/rebase/kit/colorlog"
	"github.com/vormadev/rebase/kit/filter"
)

// Name is the esbuild plugin name and the namespace of redirect modules.
const Name = "asset-rebase"

// Options configures a Plugin. The zero value relocates every existing
// non-script asset into the output root with hash-only names.
type Options struct {
	// Include and Exclude are doublestar globs. Relative patterns are anchored
	// to the working directory. An empty Include matches everything; Exclude
	// wins over Include.
	Include []string
	Exclude []string
	// Verbose logs every copy and process action at info level.
	Verbose bool
	// KeepName keeps the source base name next to the hash (logo~1a2b3c.png).
	KeepName bool
	// SkipHash names outputs by base name only.
	SkipHash bool
	// AssetFolder is the sub-folder of the output root that receives assets.
	AssetFolder string
	// Log defaults to a colorlog logger labeled "rebase".
	Log *slog.Logger
}

// OutputDescriptor tells Finalize where the build wrote its output. Dir wins
// over File; relative paths resolve against the working directory.
type OutputDescriptor struct {
	File string
	Dir  string
}

// Plugin holds the state of one plugin instance. Each build (or rebuild)
// starts with Reset; instances never share state.
type Plugin struct {
	opts     Options
	policy   namer.Policy
	state    *registry.State
	resolver *resolver.Resolver
}

// New validates opts and returns a Plugin.
func New(opts Options) (*Plugin, error) {
	if opts.Log == nil {
		opts.Log = colorlog.New("rebase")
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	f, err := filter.New(wd, opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	p := &Plugin{
		opts:   opts,
		policy: namer.Policy{SkipHash: opts.SkipHash, KeepName: opts.KeepName},
		state:  registry.New(),
	}
	p.resolver = resolver.New(p.state, resolver.Options{
		Filter:      f,
		AssetFolder: opts.AssetFolder,
		Policy:      p.policy,
		Verbose:     opts.Verbose,
		Log:         opts.Log,
	})
	return p, nil
}

// Reset forgets every asset registered by a previous build.
func (p *Plugin) Reset() {
	p.state.Reset()
}

// Resolve classifies a reference met while walking the module graph. importer
// is empty for build entry points.
func (p *Plugin) Resolve(path, importer string) (resolver.Result, error) {
	return p.resolver.Resolve(resolver.Request{Path: path, Importer: importer})
}

// Load returns the source of a redirect module previously returned by
// Resolve, or false for any other id.
func (p *Plugin) Load(id string) (string, bool) {
	return p.resolver.Load(id)
}

// Records lists the assets registered so far, sorted by source path.
func (p *Plugin) Records() []registry.Record {
	return p.state.Records()
}

// Finalize writes every registered asset under out. It runs once per build,
// after the module graph is complete.
func (p *Plugin) Finalize(ctx context.Context, out OutputDescriptor) error {
	root, err := out.root()
	if err != nil {
		return err
	}

	start := time.Now()
	records := p.state.Records()
	err = emitter.Emit(ctx, records, emitter.Options{
		OutputRoot:  root,
		AssetFolder: p.opts.AssetFolder,
		Policy:      p.policy,
		Verbose:     p.opts.Verbose,
		Log:         p.opts.Log,
		Rel:         p.state.Rel,
	})
	if err != nil {
		return err
	}

	p.opts.Log.Info("assets rebased",
		"count", len(records),
		"took", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (o OutputDescriptor) root() (string, error) {
	dir := o.Dir
	if dir == "" {
		if o.File == "" {
			return "", errors.New("rebase: output descriptor has neither a file nor a directory")
		}
		dir = filepath.Dir(o.File)
	}
	return filepath.Abs(dir)
}

// Esbuild adapts the plugin to esbuild's plugin API.
func (p *Plugin) Esbuild() esbuild.Plugin {
	return esbuild.Plugin{
		Name:  Name,
		Setup: p.setup,
	}
}

func (p *Plugin) setup(build esbuild.PluginBuild) {
	entryDir, entryErr := entryDir(build.InitialOptions)
	build.OnStart(func() (esbuild.OnStartResult, error) {
		if entryErr != nil {
			return esbuild.OnStartResult{}, entryErr
		}
		p.Reset()
		if entryDir != "" {
			p.state.SetRoot(entryDir)
		}
		return esbuild.OnStartResult{}, nil
	})

	build.OnResolve(esbuild.OnResolveOptions{Filter: ".*"},
		func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
			switch args.Kind {
			case esbuild.ResolveCSSURLToken, esbuild.ResolveCSSImportRule, esbuild.ResolveCSSComposesFrom:
				return esbuild.OnResolveResult{}, nil
			}

			req := resolver.Request{Path: args.Path, ResolveDir: args.ResolveDir}
			if args.Kind != esbuild.ResolveEntryPoint {
				req.Importer = args.Importer
				if req.Importer == "" {
					// stdin and other importer-less references
					req.Importer = filepath.Join(args.ResolveDir, "<stdin>")
				}
			}

			res, err := p.resolver.Resolve(req)
			if err != nil {
				return esbuild.OnResolveResult{}, err
			}
			switch res.Outcome {
			case resolver.Excluded:
				return esbuild.OnResolveResult{Path: res.External, External: true}, nil
			case resolver.Handled:
				return esbuild.OnResolveResult{Path: res.Redirect.String(), Namespace: Name}, nil
			default:
				return esbuild.OnResolveResult{}, nil
			}
		},
	)

	build.OnLoad(esbuild.OnLoadOptions{Filter: ".*", Namespace: Name},
		func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
			src, ok := p.resolver.Load(args.Path)
			if !ok {
				return esbuild.OnLoadResult{}, nil
			}
			return esbuild.OnLoadResult{
				Contents:   &src,
				ResolveDir: p.state.Root(),
				Loader:     esbuild.LoaderJS,
			}, nil
		},
	)

	out := descriptorFor(build.InitialOptions)
	build.OnEnd(func(result *esbuild.BuildResult) (esbuild.OnEndResult, error) {
		if len(result.Errors) > 0 {
			return esbuild.OnEndResult{}, nil
		}
		return esbuild.OnEndResult{}, p.Finalize(context.Background(), out)
	})
}

// entryDir returns the directory shared by every entry point. Excluded
// references are emitted as "./<asset>" paths relative to each output file,
// so all outputs must land in the output root.
func entryDir(opts *esbuild.BuildOptions) (string, error) {
	if opts == nil {
		return "", nil
	}
	wd := opts.AbsWorkingDir
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(wd, p)
	}

	dirs := make([]string, 0, len(opts.EntryPoints)+len(opts.EntryPointsAdvanced))
	for _, e := range opts.EntryPoints {
		dirs = append(dirs, filepath.Dir(abs(e)))
	}
	for _, e := range opts.EntryPointsAdvanced {
		if strings.ContainsAny(e.OutputPath, `/\`) {
			return "", fmt.Errorf("%s: entry points must write to the output root, %q names a sub-directory", Name, e.OutputPath)
		}
		dirs = append(dirs, filepath.Dir(abs(e.InputPath)))
	}
	if len(dirs) == 0 {
		return "", nil
	}

	base := dirs[0]
	if opts.Outbase != "" {
		base = abs(opts.Outbase)
	}
	for _, d := range dirs {
		if d != base {
			return "", fmt.Errorf("%s: entry points must share one directory so outputs land in the output root, got %s and %s", Name, base, d)
		}
	}
	return dirs[0], nil
}

func descriptorFor(opts *esbuild.BuildOptions) OutputDescriptor {
	if opts == nil {
		return OutputDescriptor{}
	}
	out := OutputDescriptor{File: opts.Outfile, Dir: opts.Outdir}
	if opts.AbsWorkingDir != "" {
		if out.File != "" && !filepath.IsAbs(out.File) {
			out.File = filepath.Join(opts.AbsWorkingDir, out.File)
		}
		if out.Dir != "" && !filepath.IsAbs(out.Dir) {
			out.Dir = filepath.Join(opts.AbsWorkingDir, out.Dir)
		}
	}
	return out
}
