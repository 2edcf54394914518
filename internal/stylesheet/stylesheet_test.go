package stylesheet

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakePublisher places assets at <outDir>/<base name> without copying.
type fakePublisher struct {
	outDir string
	mu     sync.Mutex
	calls  []string
	err    error
}

func (f *fakePublisher) Publish(src string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, src)
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(f.outDir, "pub-"+filepath.Base(src)), nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

type sourceMap struct {
	Version  int      `json:"version"`
	Sources  []string `json:"sources"`
	Mappings string   `json:"mappings"`
}

func decodeMap(t *testing.T, data []byte) sourceMap {
	t.Helper()
	var m sourceMap
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid source map: %v\n%s", err, data)
	}
	if m.Version != 3 || m.Mappings == "" {
		t.Errorf("unexpected source map: %+v", m)
	}
	return m
}

func TestPreserveSCSS(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "static")
	writeFiles(t, dir, map[string]string{
		"src/main.scss":           "$c: red;\n@import \"./partial\";\n.a { color: $c; &:hover { background: url('./img/bg.png?v=2'); } }\n",
		"src/_partial.scss":       "// partial\n.icon { background: url(./icon.svg); }\n",
		"src/icon.svg":            "<svg/>",
		"src/img/bg.png":          "PNG",
		"src/untouched/readme.md": "",
	})

	pub := &fakePublisher{outDir: out}
	p := New(pub, nil)
	res, err := p.Process(filepath.Join(dir, "src", "main.scss"), filepath.Join(out, "main.scss"))
	if err != nil {
		t.Fatal(err)
	}

	code := string(res.Code)
	for _, want := range []string{
		"$c: red;",
		"// partial",
		".icon { background: url(pub-icon.svg); }",
		"&:hover { background: url('pub-bg.png?v=2'); }",
		"/*# sourceMappingURL=main.scss.map */",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("output missing %q:\n%s", want, code)
		}
	}
	if strings.Contains(code, "@import") {
		t.Errorf("local import should be inlined:\n%s", code)
	}

	m := decodeMap(t, res.Map)
	if len(m.Sources) != 2 {
		t.Errorf("sources = %v, want main and partial", m.Sources)
	}
	if len(pub.calls) != 2 {
		t.Errorf("published %v, want icon and bg", pub.calls)
	}
}

func TestPreserveSassIndented(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.sass":   "@import \"base\"\n.a\n  background: url(\"logo.png\")\n",
		"_base.sass":  ".b\n  color: blue\n",
		"logo.png":    "PNG",
		"nothing.txt": "",
	})

	p := New(&fakePublisher{outDir: filepath.Join(dir, "out")}, nil)
	res, err := p.Process(filepath.Join(dir, "main.sass"), filepath.Join(dir, "out", "main.sass"))
	if err != nil {
		t.Fatal(err)
	}

	code := string(res.Code)
	if !strings.HasPrefix(code, ".b\n  color: blue\n") {
		t.Errorf("partial should be inlined first:\n%s", code)
	}
	if !strings.Contains(code, "\n.a\n  background: url(\"pub-logo.png\")\n") {
		t.Errorf("indentation or url not preserved:\n%s", code)
	}
}

func TestPreserveSassBareImport(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.sass":     "@import partial\nbody\n  margin: 0\n",
		"_partial.sass": ".icon\n  background: url(./icon.svg)\n",
		"icon.svg":      "<svg/>",
	})

	pub := &fakePublisher{outDir: filepath.Join(dir, "out")}
	res, err := New(pub, nil).Process(filepath.Join(dir, "main.sass"), filepath.Join(dir, "out", "main.sass"))
	if err != nil {
		t.Fatal(err)
	}

	code := string(res.Code)
	if strings.Contains(code, "@import") {
		t.Errorf("unquoted import should be inlined:\n%s", code)
	}
	if !strings.Contains(code, "url(pub-icon.svg)") || !strings.Contains(code, "body\n  margin: 0") {
		t.Errorf("unexpected output:\n%s", code)
	}
	if len(pub.calls) != 1 || filepath.Base(pub.calls[0]) != "icon.svg" {
		t.Errorf("published %v, want icon.svg", pub.calls)
	}
}

func TestPreserveSkipsLineComments(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.scss": "// see url(./x.png)\n.a { color: red; background: url(./y.png); }\n.b { width: calc(10px / 2); }\n",
		"x.png":     "PNG",
		"y.png":     "PNG",
	})

	pub := &fakePublisher{outDir: filepath.Join(dir, "out")}
	res, err := New(pub, nil).Process(filepath.Join(dir, "main.scss"), filepath.Join(dir, "out", "main.scss"))
	if err != nil {
		t.Fatal(err)
	}

	code := string(res.Code)
	for _, want := range []string{"// see url(./x.png)\n", "url(pub-y.png)", "calc(10px / 2)"} {
		if !strings.Contains(code, want) {
			t.Errorf("output missing %q:\n%s", want, code)
		}
	}
	if len(pub.calls) != 1 || filepath.Base(pub.calls[0]) != "y.png" {
		t.Errorf("published %v, want only y.png", pub.calls)
	}
}

func TestPreserveKeepsRemoteAndMediaImports(t *testing.T) {
	dir := t.TempDir()
	src := "@import url(\"https://fonts.example/css\");\n@import \"print.scss\" print;\n.a { background: url(data:image/png;base64,AAAA); }\n.b { background: url(#{$dir}/x.png); }\n"
	writeFiles(t, dir, map[string]string{
		"main.scss":  src,
		"print.scss": ".p { color: black; }",
	})

	pub := &fakePublisher{outDir: filepath.Join(dir, "out")}
	res, err := New(pub, nil).Process(filepath.Join(dir, "main.scss"), filepath.Join(dir, "out", "main.scss"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(res.Code), src) {
		t.Errorf("source should be unchanged:\n%s", res.Code)
	}
	if len(pub.calls) != 0 {
		t.Errorf("nothing should be published, got %v", pub.calls)
	}
}

func TestPreserveImportCycle(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.scss": "@import \"b\";",
		"b.scss": "@import \"a\";",
	})

	_, err := New(&fakePublisher{}, nil).Process(filepath.Join(dir, "a.scss"), filepath.Join(dir, "out", "a.scss"))
	if err == nil || !strings.Contains(err.Error(), "import cycle") {
		t.Errorf("expected import cycle error, got %v", err)
	}
}

func TestBundleCSS(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	writeFiles(t, dir, map[string]string{
		"style.css":  "@import \"./base.css\";\n.a { background: url(\"./img/bg.png\"); }\n.r { background: url(https://cdn.example/x.png); }\n",
		"base.css":   ".b { background: url(./missing.png); }\n",
		"img/bg.png": "PNG",
	})

	pub := &fakePublisher{outDir: filepath.Join(out, "static")}
	res, err := New(pub, nil).Process(filepath.Join(dir, "style.css"), filepath.Join(out, "static", "style.css"))
	if err != nil {
		t.Fatal(err)
	}

	code := string(res.Code)
	for _, want := range []string{".b", "missing.png", "pub-bg.png", "https://cdn.example/x.png", "sourceMappingURL=style.css.map"} {
		if !strings.Contains(code, want) {
			t.Errorf("output missing %q:\n%s", want, code)
		}
	}
	if strings.Contains(code, "@import") {
		t.Errorf("import should be bundled:\n%s", code)
	}
	if strings.Contains(code, "/* ../") {
		t.Errorf("file headers should be relative to the stylesheet:\n%s", code)
	}
	decodeMap(t, res.Map)
}

func TestBundleSugarSS(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"style.sss": "a\n  background: url(./bg.png)\n",
		"bg.png":    "PNG",
	})

	res, err := New(&fakePublisher{outDir: filepath.Join(dir, "out")}, nil).
		Process(filepath.Join(dir, "style.sss"), filepath.Join(dir, "out", "style.css"))
	if err != nil {
		t.Fatal(err)
	}
	if code := string(res.Code); !strings.Contains(code, "pub-bg.png") || !strings.Contains(code, "{") {
		t.Errorf("unexpected output:\n%s", code)
	}
}

func TestBundleImportsScssPartial(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		src   string
	}{
		{"CSS", "style.css", "@import \"./partial.scss\";\n.a { color: red; }\n"},
		{"PostCSS", "style.pcss", "@import \"./partial.scss\";\n.a { color: red; }\n"},
		{"SugarSS", "style.sss", "@import \"./_indented.sass\"\n.a\n  color: red\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "out", "static")
			writeFiles(t, dir, map[string]string{
				tt.entry:         tt.src,
				"partial.scss":   ".icon { background: url(./icon.svg); }\n",
				"_indented.sass": ".icon\n  background: url(./icon.svg)\n",
				"icon.svg":       "<svg/>",
			})

			pub := &fakePublisher{outDir: out}
			res, err := New(pub, nil).Process(filepath.Join(dir, tt.entry), filepath.Join(out, "style.css"))
			if err != nil {
				t.Fatal(err)
			}

			code := string(res.Code)
			for _, want := range []string{".icon", "pub-icon.svg", ".a"} {
				if !strings.Contains(code, want) {
					t.Errorf("output missing %q:\n%s", want, code)
				}
			}
			if len(pub.calls) != 1 || filepath.Base(pub.calls[0]) != "icon.svg" {
				t.Errorf("published %v, want icon.svg once", pub.calls)
			}
		})
	}
}

func TestProcessErrors(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"bad.css":  ".a { background: url(./x.png); }",
		"x.png":    "PNG",
		"logo.png": "PNG",
	})

	if _, err := New(&fakePublisher{}, nil).Process(filepath.Join(dir, "logo.png"), "out.png"); !errors.Is(err, ErrNotStylesheet) {
		t.Errorf("expected ErrNotStylesheet, got %v", err)
	}
	if _, err := New(&fakePublisher{}, nil).Process(filepath.Join(dir, "missing.scss"), "out.scss"); err == nil {
		t.Error("expected error for missing file")
	}

	boom := errors.New("disk full")
	_, err := New(&fakePublisher{err: boom}, nil).Process(filepath.Join(dir, "bad.css"), filepath.Join(dir, "out", "bad.css"))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("publish failure should surface, got %v", err)
	}
}

func TestIsLocalURL(t *testing.T) {
	tests := map[string]bool{
		"./a.png":           true,
		"a.png":             true,
		"../fonts/x.woff2":  true,
		"":                  false,
		"#frag":             false,
		"/abs.png":          false,
		"data:image/png;x":  false,
		"DATA:image/png;x":  false,
		"https://a.b/c.png": false,
		"//cdn/x.png":       false,
	}
	for in, want := range tests {
		if got := isLocalURL(in); got != want {
			t.Errorf("isLocalURL(%q) = %v, want %v", in, got, want)
		}
	}
}
