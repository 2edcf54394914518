// Package emitter performs all file output of a rebase build: stylesheets are
// processed and written with a source map, every other asset is copied.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/vormadev/rebase/internal/dialect"
	"github.com/vormadev/rebase/internal/namer"
	"github.com/vormadev/rebase/internal/registry"
	"github.com/vormadev/rebase/internal/stylesheet"
	"github.com/vormadev/rebase/kit/fsutil"
	"golang.org/x/sync/errgroup"
)

// Stages reported in StageError.
const (
	StageCopy    = "copy"
	StageProcess = "process"
)

// StageError tells which stage failed for which source file.
type StageError struct {
	Stage  string
	Source string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Source, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configures an emit run.
type Options struct {
	// OutputRoot is the absolute output directory.
	OutputRoot  string
	AssetFolder string
	Policy      namer.Policy
	// Verbose logs every copy and process action at info level.
	Verbose bool
	Log     *slog.Logger
	// Rel shortens paths for logging. Optional.
	Rel func(string) string
}

type publication struct {
	once sync.Once
	dest string
	err  error
}

// Emitter writes one build's assets. It only reads the records it is given.
type Emitter struct {
	opts    Options
	records map[string]registry.Record
	proc    *stylesheet.Processor

	mu        sync.Mutex
	published map[string]*publication
}

// New prepares an emitter for records.
func New(records []registry.Record, opts Options) *Emitter {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Rel == nil {
		opts.Rel = filepath.ToSlash
	}
	e := &Emitter{
		opts:      opts,
		records:   make(map[string]registry.Record, len(records)),
		published: make(map[string]*publication),
	}
	for _, r := range records {
		e.records[r.Source] = r
	}
	e.proc = stylesheet.New(e, opts.Log)
	return e
}

// Emit writes every record concurrently and waits for all of them. The first
// failure cancels the rest; files already written stay on disk.
func Emit(ctx context.Context, records []registry.Record, opts Options) error {
	return New(records, opts).Run(ctx)
}

// Run writes every record the emitter was created with.
func (e *Emitter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range e.records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return e.emit(r)
		})
	}
	return g.Wait()
}

func (e *Emitter) emit(r registry.Record) error {
	if !dialect.Of(r.Ext()).IsStyle() {
		if _, err := e.Publish(r.Source); err != nil {
			return err
		}
		return nil
	}

	dest := e.dest(r.Output)
	res, err := e.proc.Process(r.Source, dest)
	if err != nil {
		return &StageError{Stage: StageProcess, Source: r.Source, Err: err}
	}
	if err := fsutil.WriteFileAtomicBytes(dest, res.Code); err != nil {
		return &StageError{Stage: StageProcess, Source: r.Source, Err: err}
	}
	if err := fsutil.WriteFileAtomicBytes(dest+".map", res.Map); err != nil {
		return &StageError{Stage: StageProcess, Source: r.Source, Err: err}
	}
	e.logf("processed", r.Source, dest)
	return nil
}

// Publish copies src into the asset folder once per emit run and returns its
// absolute destination. Registered sources keep their registered output path;
// others are named with the same policy. Registered stylesheets are written by
// their own process step and are not copied here.
func (e *Emitter) Publish(src string) (string, error) {
	e.mu.Lock()
	pub, ok := e.published[src]
	if !ok {
		pub = &publication{}
		e.published[src] = pub
	}
	e.mu.Unlock()

	pub.once.Do(func() {
		pub.dest, pub.err = e.publish(src)
	})
	return pub.dest, pub.err
}

func (e *Emitter) publish(src string) (string, error) {
	r, registered := e.records[src]
	if !registered {
		name, err := e.opts.Policy.NameFile(src, dialect.OutputExt(filepath.Ext(src)))
		if err != nil {
			return "", &StageError{Stage: StageCopy, Source: src, Err: err}
		}
		r = registry.Record{Source: src, Output: path.Join(registry.Slash(e.opts.AssetFolder), name)}
	}

	dest := e.dest(r.Output)
	if registered && dialect.Of(r.Ext()).IsStyle() {
		return dest, nil
	}
	if err := fsutil.CopyFile(src, dest); err != nil {
		return "", &StageError{Stage: StageCopy, Source: src, Err: err}
	}
	e.logf("copied", src, dest)
	return dest, nil
}

func (e *Emitter) dest(output string) string {
	return filepath.Join(e.opts.OutputRoot, filepath.FromSlash(output))
}

func (e *Emitter) logf(action, src, dest string) {
	level := slog.LevelDebug
	if e.opts.Verbose {
		level = slog.LevelInfo
	}
	rel, err := filepath.Rel(e.opts.OutputRoot, dest)
	if err != nil {
		rel = dest
	}
	e.opts.Log.Log(context.Background(), level, action,
		"src", e.opts.Rel(src),
		"dest", filepath.ToSlash(rel),
	)
}
