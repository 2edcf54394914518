package stylesheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"github.com/vormadev/rebase/internal/dialect"
	"github.com/vormadev/rebase/internal/sourcemap"
)

type token struct {
	tt   css.TokenType
	data []byte
	pos  sourcemap.Position
}

// preserver rewrites one stylesheet without reformatting it. Only @import
// statements pointing at local files and url() tokens change.
type preserver struct {
	p         *Processor
	destDir   string
	w         *sourcemap.Writer
	active    map[string]bool
	onRewrite func(string)
}

func (p *Processor) preserve(src, dest string, d dialect.Dialect) (Result, error) {
	code, m, err := p.preserveText(src, dest, d, nil)
	if err != nil {
		return Result{}, err
	}
	if len(code) > 0 && code[len(code)-1] != '\n' {
		code = append(code, '\n')
	}
	code = append(code, mapComment(dest)...)

	mapJSON, err := json.Marshal(m)
	if err != nil {
		return Result{}, fmt.Errorf("encode source map: %w", err)
	}
	return Result{Code: code, Map: mapJSON}, nil
}

// preserveText runs the rewrite for output at dest. onRewrite, if set, sees
// every url written in rewritten form.
func (p *Processor) preserveText(src, dest string, d dialect.Dialect, onRewrite func(string)) ([]byte, *sourcemap.Map, error) {
	m := sourcemap.New(filepath.Base(dest))
	pr := &preserver{
		p:         p,
		destDir:   filepath.Dir(dest),
		w:         sourcemap.NewWriter(m),
		active:    make(map[string]bool),
		onRewrite: onRewrite,
	}
	if err := pr.file(src, d); err != nil {
		return nil, nil, err
	}
	return pr.w.Bytes(), m, nil
}

// isIndented reports the whitespace-sensitive dialects, where a newline ends
// a statement.
func isIndented(d dialect.Dialect) bool {
	return d == dialect.Sass || d == dialect.SugarSS
}

func (pr *preserver) file(src string, d dialect.Dialect) error {
	if pr.active[src] {
		return fmt.Errorf("import cycle through %s", src)
	}
	pr.active[src] = true
	defer delete(pr.active, src)

	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	name := filepath.ToSlash(src)
	if rel, err := filepath.Rel(pr.destDir, src); err == nil {
		name = filepath.ToSlash(rel)
	}
	srcIdx := pr.w.Map().AddSource(name, content)

	dir := filepath.Dir(src)
	indented := isIndented(d)
	lineComments := d == dialect.Sass || d == dialect.SCSS
	var slash, comment bool
	l := css.NewLexer(parse.NewInputBytes(content))
	var pos sourcemap.Position

	next := func() (token, bool, error) {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if l.Err() != nil && l.Err() != io.EOF {
				return token{}, false, fmt.Errorf("%s:%d:%d: %w", src, pos.Line+1, pos.Col+1, l.Err())
			}
			return token{}, false, nil
		}
		t := token{tt: tt, data: bytes.Clone(data), pos: pos}
		pos = pos.Advance(data)
		return t, true, nil
	}

	for {
		t, ok, err := next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		// "//" comments run to the end of the line and are copied untouched
		if comment {
			pr.w.Write(t.data, srcIdx, t.pos)
			if t.tt == css.WhitespaceToken && bytes.ContainsRune(t.data, '\n') {
				comment, slash = false, false
			}
			continue
		}
		isSlash := lineComments && t.tt == css.DelimToken && string(t.data) == "/"
		comment = isSlash && slash
		slash = isSlash

		switch {
		case t.tt == css.URLToken:
			out, err := pr.urlToken(t.data, dir)
			if err != nil {
				return fmt.Errorf("%s:%d:%d: %w", src, t.pos.Line+1, t.pos.Col+1, err)
			}
			pr.w.Write(out, srcIdx, t.pos)

		case t.tt == css.AtKeywordToken && strings.EqualFold(string(t.data), "@import"):
			stmt := []token{t}
			for {
				n, ok, err := next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				stmt = append(stmt, n)
				if n.tt == css.SemicolonToken || n.tt == css.LeftBraceToken || n.tt == css.RightBraceToken {
					break
				}
				if indented && n.tt == css.WhitespaceToken && bytes.ContainsRune(n.data, '\n') {
					break
				}
			}
			if err := pr.importStmt(stmt, dir, d, srcIdx); err != nil {
				return fmt.Errorf("%s:%d:%d: %w", src, t.pos.Line+1, t.pos.Col+1, err)
			}

		default:
			pr.w.Write(t.data, srcIdx, t.pos)
		}
	}
}

// importStmt inlines the statement's targets when all of them are local
// stylesheets, and otherwise writes it back with urls rewritten.
func (pr *preserver) importStmt(stmt []token, dir string, d dialect.Dialect, srcIdx int) error {
	body, tail := stmt[1:], []token(nil)
	if n := len(body); n > 0 {
		switch last := body[n-1]; last.tt {
		case css.SemicolonToken:
			body = body[:n-1]
		case css.WhitespaceToken, css.LeftBraceToken, css.RightBraceToken:
			body, tail = body[:n-1], body[n-1:]
		}
	}

	// indented Sass allows bare targets: @import partial, dir/other
	indented := isIndented(d)
	var targets []string
	var bare []byte
	flush := func() {
		if len(bare) > 0 {
			targets = append(targets, string(bare))
			bare = nil
		}
	}
	inlinable := true
	for _, t := range body {
		switch t.tt {
		case css.WhitespaceToken, css.CommaToken, css.CommentToken:
			flush()
		case css.StringToken:
			flush()
			targets = append(targets, unquote(t.data))
		case css.URLToken:
			flush()
			targets = append(targets, urlValue(t.data))
		case css.IdentToken, css.DelimToken, css.NumberToken, css.DimensionToken:
			if indented {
				bare = append(bare, t.data...)
				continue
			}
			inlinable = false
		default:
			// media queries and other modifiers keep the import as written
			inlinable = false
		}
	}
	flush()

	var resolved []string
	if inlinable && len(targets) > 0 {
		for _, target := range targets {
			abs, ok := resolveImport(dir, target, d)
			if !ok {
				inlinable = false
				break
			}
			resolved = append(resolved, abs)
		}
	}

	if !inlinable || len(resolved) == 0 {
		for _, t := range stmt {
			data := t.data
			if t.tt == css.URLToken {
				var err error
				if data, err = pr.urlToken(t.data, dir); err != nil {
					return err
				}
			}
			pr.w.Write(data, srcIdx, t.pos)
		}
		return nil
	}

	for _, abs := range resolved {
		if err := pr.file(abs, dialect.Of(filepath.Ext(abs))); err != nil {
			return err
		}
		if !bytes.HasSuffix(pr.w.Bytes(), []byte("\n")) && tail == nil {
			pr.w.WriteString("\n", srcIdx, stmt[0].pos)
		}
	}
	for _, t := range tail {
		pr.w.Write(t.data, srcIdx, t.pos)
	}
	return nil
}

func (pr *preserver) urlToken(data []byte, dir string) ([]byte, error) {
	raw := urlValue(data)
	rewritten, ok, err := pr.p.rewriteURL(raw, dir, pr.destDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return data, nil
	}
	if pr.onRewrite != nil {
		pr.onRewrite(rewritten)
	}
	quote := urlQuote(data)
	return []byte("url(" + quote + rewritten + quote + ")"), nil
}

// resolveImport finds the file an @import target refers to, following the
// Sass partial convention: name, name.<ext>, _name and _name.<ext>.
func resolveImport(dir, target string, d dialect.Dialect) (string, bool) {
	if !isLocalURL(target) {
		return "", false
	}
	target, _ = splitSuffix(target)
	base := filepath.Join(dir, filepath.FromSlash(target))
	partial := filepath.Join(filepath.Dir(base), "_"+filepath.Base(base))

	var candidates []string
	if dialect.Of(filepath.Ext(base)).IsStyle() {
		candidates = []string{base, partial}
	} else {
		for _, ext := range d.Exts() {
			candidates = append(candidates, base+ext, partial+ext)
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func unquote(data []byte) string {
	s := string(data)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// urlValue extracts the address from a url(...) token.
func urlValue(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ")")
	return unquote([]byte(strings.TrimSpace(s)))
}

func urlQuote(data []byte) string {
	s := string(data)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[i+1:])
	}
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		return s[:1]
	}
	return ""
}
