package tooling

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/rebase"
	"github.com/vormadev/rebase/internal/config"
	"github.com/vormadev/rebase/kit/colorlog"
	"github.com/vormadev/rebase/kit/esbuildutil"
)

// Builder bundles the configured entry points with the rebase plugin.
type Builder struct {
	cfg    *config.Config
	log    *slog.Logger
	plugin *rebase.Plugin
}

// NewBuilder creates the plugin described by cfg.Rebase.
func NewBuilder(cfg *config.Config, log *slog.Logger) (*Builder, error) {
	if log == nil {
		log = colorlog.New("rebase")
	}
	plugin, err := rebase.New(rebase.Options{
		Include:     cfg.Rebase.Include,
		Exclude:     cfg.Rebase.Exclude,
		Verbose:     cfg.Rebase.Verbose,
		KeepName:    cfg.Rebase.KeepName,
		SkipHash:    cfg.Rebase.SkipHash,
		AssetFolder: cfg.Rebase.AssetFolder,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, log: log, plugin: plugin}, nil
}

// Options returns the esbuild options for one build.
func (b *Builder) Options() esbuild.BuildOptions {
	entries := make([]string, len(b.cfg.EntryPoints))
	for i, e := range b.cfg.EntryPoints {
		entries[i] = b.cfg.Path(e)
	}

	opts := esbuild.BuildOptions{
		EntryPoints:       entries,
		Outdir:            b.cfg.Path(b.cfg.Outdir),
		Outfile:           b.cfg.Path(b.cfg.Outfile),
		AbsWorkingDir:     b.cfg.Dir,
		Bundle:            true,
		Write:             true,
		Format:            format(b.cfg.Format),
		MinifyWhitespace:  b.cfg.Minify,
		MinifyIdentifiers: b.cfg.Minify,
		MinifySyntax:      b.cfg.Minify,
		LogLevel:          esbuild.LogLevelSilent,
		Plugins:           []esbuild.Plugin{b.plugin.Esbuild()},
	}
	if b.cfg.Sourcemap {
		opts.Sourcemap = esbuild.SourceMapLinked
	}
	return opts
}

func format(f string) esbuild.Format {
	switch f {
	case "esm":
		return esbuild.FormatESModule
	case "cjs":
		return esbuild.FormatCommonJS
	case "iife":
		return esbuild.FormatIIFE
	default:
		return esbuild.FormatDefault
	}
}

// Build runs a single build.
func (b *Builder) Build() error {
	start := time.Now()
	result := esbuild.Build(b.Options())
	if err := b.report(result); err != nil {
		return err
	}
	b.log.Info("build complete", "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (b *Builder) report(result esbuild.BuildResult) error {
	for _, w := range result.Warnings {
		b.log.Warn(esbuildutil.FormatMessage(w))
	}
	return esbuildutil.CollectErrors(result)
}

// Watch builds once, then rebuilds on every relevant change under the watch
// root until ctx is done. Build errors are logged and do not stop watching.
func (b *Builder) Watch(ctx context.Context) error {
	bctx, ctxErr := esbuild.Context(b.Options())
	if ctxErr != nil {
		return fmt.Errorf("esbuild context: %w", esbuildutil.MessagesToError(ctxErr.Errors))
	}
	defer bctx.Dispose()

	rebuild := func() {
		start := time.Now()
		if err := b.report(bctx.Rebuild()); err != nil {
			b.log.Error("build failed", "error", err)
			return
		}
		b.log.Info("build complete", "took", time.Since(start).Round(time.Millisecond))
	}
	rebuild()

	w, err := NewWatcher(b.cfg.WatchRoot(), b.ignored(), b.log)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.AddDir(b.cfg.WatchRoot()); err != nil {
		return err
	}

	debouncer := NewDebouncer(b.cfg.Debounce(), func(events []fsnotify.Event) {
		events = w.Relevant(events)
		if len(events) == 0 {
			return
		}
		b.log.Info("rebuilding", "changed", len(events), "first", events[0].Name)
		rebuild()
	})
	defer debouncer.Stop()

	b.log.Info("watching", "root", b.cfg.WatchRoot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events():
			if !ok {
				return nil
			}
			debouncer.Add(evt)
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			b.log.Error("Watcher error", "error", err)
		}
	}
}

// ignored lists the watch exclusions, always including the output directory.
func (b *Builder) ignored() []string {
	out := []string{b.cfg.OutputDir()}
	if b.cfg.Watch != nil {
		for _, p := range b.cfg.Watch.Exclude {
			out = append(out, b.cfg.Path(p))
		}
	}
	return out
}
