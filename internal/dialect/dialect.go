// Package dialect classifies file extensions into stylesheet dialects and
// picks the engine that knows how to process each of them.
package dialect

import "strings"

// Dialect is a recognized stylesheet syntax. The zero value, None, means the
// file is not a stylesheet at all.
type Dialect int

const (
	None Dialect = iota
	CSS
	PostCSS
	SugarSS
	Sass
	SCSS
)

var names = map[Dialect]string{
	None:    "none",
	CSS:     "css",
	PostCSS: "postcss",
	SugarSS: "sugarss",
	Sass:    "sass",
	SCSS:    "scss",
}

func (d Dialect) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return "unknown"
}

// Engine is the processing strategy used for a dialect.
type Engine int

const (
	// EngineNone is returned for non-stylesheets; they are copied verbatim.
	EngineNone Engine = iota
	// EngineDefault bundles plain CSS syntax with esbuild. Dialects without a
	// dedicated parser use it.
	EngineDefault
	// EngineSugar converts indentation syntax to braces, then runs EngineDefault.
	EngineSugar
	// EngineSyntaxPreserving rewrites imports and urls token by token and keeps
	// every other byte of the source syntax.
	EngineSyntaxPreserving
)

var byExt = map[string]Dialect{
	".css":  CSS,
	".pcss": PostCSS,
	".sss":  SugarSS,
	".sass": Sass,
	".scss": SCSS,
}

// Of maps an extension (with leading dot, any case) to its dialect.
func Of(ext string) Dialect {
	return byExt[strings.ToLower(ext)]
}

// IsStyle reports whether d is a stylesheet dialect.
func (d Dialect) IsStyle() bool {
	return d != None
}

// Engine returns the processing strategy for d.
func (d Dialect) Engine() Engine {
	switch d {
	case CSS, PostCSS:
		return EngineDefault
	case SugarSS:
		return EngineSugar
	case Sass, SCSS:
		return EngineSyntaxPreserving
	default:
		return EngineNone
	}
}

// OutputExt is the extension a file of dialect d is emitted with. Dialects
// whose syntax cannot be emitted as-is are remapped to ".css"; everything else
// keeps ext.
func OutputExt(ext string) string {
	if Of(ext) == SugarSS {
		return ".css"
	}
	return ext
}

// Exts lists the source extensions of d's family that an @import without an
// extension may refer to, in lookup order.
func (d Dialect) Exts() []string {
	switch d {
	case Sass:
		return []string{".sass", ".scss", ".css"}
	case SCSS:
		return []string{".scss", ".sass", ".css"}
	case SugarSS:
		return []string{".sss", ".css"}
	case PostCSS:
		return []string{".pcss", ".css"}
	case CSS:
		return []string{".css"}
	default:
		return nil
	}
}

var scriptExts = map[string]struct{}{
	".js": {}, ".jsx": {}, ".mjs": {}, ".cjs": {},
	".ts": {}, ".tsx": {}, ".mts": {}, ".cts": {},
	".json": {}, ".vue": {}, ".svelte": {},
}

// IsScript reports whether ext belongs to the script family handled by the
// bundler itself.
func IsScript(ext string) bool {
	_, ok := scriptExts[strings.ToLower(ext)]
	return ok
}
