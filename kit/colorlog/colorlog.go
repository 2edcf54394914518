// Package colorlog is a compact slog handler for build tool output: one line
// per record, a label, and ANSI colors when writing to a terminal.
package colorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[37m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBlue   = "\033[34m"
)

type Options struct {
	Output   io.Writer
	Level    slog.Leveler
	UseColor *bool // nil = auto-detect
}

type Handler struct {
	label  string
	out    io.Writer
	level  slog.Leveler
	mu     *sync.Mutex // shared across clones
	attrs  string
	prefix string
	color  bool
}

// New returns a logger writing to stderr unless Options.Output is set.
func New(label string, opts ...Options) *slog.Logger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	return slog.New(&Handler{
		label: label,
		out:   o.Output,
		level: o.Level,
		mu:    &sync.Mutex{},
		color: detectColor(o.Output, o.UseColor),
	})
}

func detectColor(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.wrap(colorGray, r.Time.Format("15:04:05")))
	b.WriteString("  ")
	b.WriteString("(" + h.wrap(colorBlue, h.label) + ")  ")
	b.WriteString(h.wrap(levelColor(r.Level), levelPrefix(r.Level)+r.Message))
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString(h.renderAttr(a))
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	for _, a := range attrs {
		clone.attrs += h.renderAttr(a)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *Handler) renderAttr(a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}
	if a.Value.Kind() == slog.KindGroup {
		var b strings.Builder
		sub := *h
		sub.prefix = h.prefix + a.Key + "."
		for _, ga := range a.Value.Group() {
			b.WriteString(sub.renderAttr(ga))
		}
		return b.String()
	}
	return "  " + h.wrap(colorGray, h.prefix+a.Key+"=") + fmt.Sprintf("%v", a.Value.Any())
}

func (h *Handler) wrap(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + colorReset
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

func levelPrefix(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR  "
	case level >= slog.LevelWarn:
		return "WARNING  "
	case level >= slog.LevelInfo:
		return ""
	default:
		return "DEBUG  "
	}
}
