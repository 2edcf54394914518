// Package esbuildutil has small helpers for working with esbuild results.
package esbuildutil

import (
	"errors"
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// CollectErrors joins all error messages of a build result into one error.
// Returns nil if the build succeeded.
func CollectErrors(result esbuild.BuildResult) error {
	return MessagesToError(result.Errors)
}

// MessagesToError converts esbuild messages into a single error, or nil.
func MessagesToError(msgs []esbuild.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	errs := make([]error, 0, len(msgs))
	for _, m := range msgs {
		errs = append(errs, errors.New(FormatMessage(m)))
	}
	return fmt.Errorf("esbuild: %w", errors.Join(errs...))
}

// FormatMessage renders a message as "file:line:col: text".
func FormatMessage(m esbuild.Message) string {
	var b strings.Builder
	if m.Location != nil {
		fmt.Fprintf(&b, "%s:%d:%d: ", m.Location.File, m.Location.Line, m.Location.Column)
	}
	if m.PluginName != "" {
		fmt.Fprintf(&b, "[%s] ", m.PluginName)
	}
	b.WriteString(m.Text)
	return b.String()
}
