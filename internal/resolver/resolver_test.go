package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/vormadev/rebase/internal/namer"
	"github.com/vormadev/rebase/internal/registry"
	"github.com/vormadev/rebase/kit/filter"
)

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

func newTestResolver(t *testing.T, opts Options) (*Resolver, *registry.State, string) {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"main.js":          "import logo from './logo.png'",
		"logo.png":         "PNGDATA",
		"sub/other.js":     "import logo from '../logo.png'",
		"style.sss":        "a\n  color: red\n",
		"vendor/lib.woff2": "FONT",
	})

	state := registry.New()
	r := New(state, opts)
	res, err := r.Resolve(Request{Path: filepath.Join(dir, "main.js")})
	if err != nil || res.Outcome != NotHandled {
		t.Fatalf("entry resolution = %v, %v", res, err)
	}
	return r, state, dir
}

func TestEntryPointSetsRoot(t *testing.T) {
	_, state, dir := newTestResolver(t, Options{})
	if state.Root() != dir {
		t.Errorf("Root() = %q, want %q", state.Root(), dir)
	}
}

func TestResolveAndLoad(t *testing.T) {
	r, state, dir := newTestResolver(t, Options{AssetFolder: "static"})
	importer := filepath.Join(dir, "main.js")

	res, err := r.Resolve(Request{Path: "./logo.png", Importer: importer})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Handled {
		t.Fatalf("Outcome = %v, want handled", res.Outcome)
	}

	wantName := namer.HashBytes([]byte("PNGDATA")) + ".png"
	wantVirtual := registry.NewVirtualID(dir, "static", wantName)
	if res.Redirect.Target() != wantVirtual {
		t.Errorf("Target() = %q, want %q", res.Redirect.Target(), wantVirtual)
	}

	rec, ok := state.Record(filepath.Join(dir, "logo.png"))
	if !ok || rec.Output != "static/"+wantName {
		t.Errorf("record = %+v, %v", rec, ok)
	}

	src, ok := r.Load(res.Redirect.String())
	if !ok {
		t.Fatal("Load() did not recognize redirect id")
	}
	if want := `export { default } from "` + string(wantVirtual) + `";`; strings.TrimSpace(src) != want {
		t.Errorf("Load() = %q, want %q", src, want)
	}

	if _, ok := r.Load(filepath.Join(dir, "main.js")); ok {
		t.Error("Load() must ignore ids it did not create")
	}
}

func TestIdempotentRegistration(t *testing.T) {
	r, state, dir := newTestResolver(t, Options{})

	a, err := r.Resolve(Request{Path: "./logo.png", Importer: filepath.Join(dir, "main.js")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(Request{Path: "../logo.png", Importer: filepath.Join(dir, "sub", "other.js")})
	if err != nil {
		t.Fatal(err)
	}

	if a.Redirect != b.Redirect {
		t.Errorf("same source got different redirects: %v vs %v", a.Redirect, b.Redirect)
	}
	if n := len(state.Records()); n != 1 {
		t.Errorf("len(Records()) = %d, want 1", n)
	}
}

func TestCycleBreaking(t *testing.T) {
	r, _, dir := newTestResolver(t, Options{AssetFolder: "static"})

	res, err := r.Resolve(Request{Path: "./logo.png", Importer: filepath.Join(dir, "main.js")})
	if err != nil {
		t.Fatal(err)
	}

	again, err := r.Resolve(Request{
		Path:     string(res.Redirect.Target()),
		Importer: res.Redirect.String(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if again.Outcome != Excluded {
		t.Fatalf("Outcome = %v, want excluded", again.Outcome)
	}
	if !strings.HasPrefix(again.External, "./static/") || !strings.HasSuffix(again.External, ".png") {
		t.Errorf("External = %q", again.External)
	}
}

func TestNotHandled(t *testing.T) {
	f, err := filter.New("/", nil, []string{"**/vendor/**"})
	if err != nil {
		t.Fatal(err)
	}
	r, state, dir := newTestResolver(t, Options{Filter: f})
	importer := filepath.Join(dir, "main.js")

	tests := []struct {
		name string
		path string
	}{
		{"Script", "./sub/other.js"},
		{"NoExtension", "./logo"},
		{"DottedPackageName", "jquery.min"},
		{"Missing", "./missing.png"},
		{"FilteredOut", "./vendor/lib.woff2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(Request{Path: tt.path, Importer: importer})
			if err != nil {
				t.Fatal(err)
			}
			if res.Outcome != NotHandled {
				t.Errorf("Outcome = %v, want not-handled", res.Outcome)
			}
		})
	}
	if n := len(state.Records()); n != 0 {
		t.Errorf("nothing should be registered, got %d records", n)
	}
}

func TestNamingPolicies(t *testing.T) {
	hash := namer.HashBytes([]byte("PNGDATA"))
	tests := []struct {
		name   string
		policy namer.Policy
		want   string
	}{
		{"HashOnly", namer.Policy{}, hash + ".png"},
		{"KeepName", namer.Policy{KeepName: true}, "logo~" + hash + ".png"},
		{"SkipHash", namer.Policy{SkipHash: true}, "logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, state, dir := newTestResolver(t, Options{Policy: tt.policy})
			if _, err := r.Resolve(Request{Path: "./logo.png", Importer: filepath.Join(dir, "main.js")}); err != nil {
				t.Fatal(err)
			}
			rec, _ := state.Record(filepath.Join(dir, "logo.png"))
			if rec.Output != tt.want {
				t.Errorf("Output = %q, want %q", rec.Output, tt.want)
			}
		})
	}
}

func TestSugarSSRemappedToCSS(t *testing.T) {
	r, state, dir := newTestResolver(t, Options{Policy: namer.Policy{SkipHash: true}})
	res, err := r.Resolve(Request{Path: "./style.sss", Importer: filepath.Join(dir, "main.js")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(res.Redirect.Target()), "/style.css") {
		t.Errorf("Target() = %q, want .css", res.Redirect.Target())
	}
	rec, _ := state.Record(filepath.Join(dir, "style.sss"))
	if rec.Output != "style.css" || rec.Ext() != ".sss" {
		t.Errorf("record = %+v", rec)
	}
}

func TestConcurrentFirstEncounter(t *testing.T) {
	r, state, dir := newTestResolver(t, Options{})
	importer := filepath.Join(dir, "main.js")

	var wg sync.WaitGroup
	ids := make([]registry.RedirectID, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(Request{Path: "./logo.png", Importer: importer})
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = res.Redirect
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if ids[i] != ids[0] {
			t.Fatalf("resolution %d = %v, want %v", i, ids[i], ids[0])
		}
	}
	if n := len(state.Records()); n != 1 {
		t.Errorf("len(Records()) = %d, want 1", n)
	}
}
