package stylesheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/vormadev/rebase/internal/dialect"
	"github.com/vormadev/rebase/kit/esbuildutil"
)

// bundle runs esbuild over CSS syntax. Imports are inlined by esbuild, url()
// tokens are routed through the url-rewrite plugin. Imported Sass and SCSS
// partials go through the syntax-preserving engine first.
func (p *Processor) bundle(contents []byte, src, dest string) (Result, error) {
	// urls the partial loader already rewrote, relative to dest
	var rewritten sync.Map

	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   string(contents),
			ResolveDir: filepath.Dir(src),
			Sourcefile: src,
			Loader:     esbuild.LoaderCSS,
		},
		AbsWorkingDir:     filepath.Dir(src),
		Bundle:            true,
		Write:             false,
		Outfile:           dest,
		Sourcemap:         esbuild.SourceMapLinked,
		LogLevel:          esbuild.LogLevelSilent,
		ResolveExtensions: []string{".css", ".pcss", ".sss"},
		Loader: map[string]esbuild.Loader{
			".pcss": esbuild.LoaderCSS,
		},
		Plugins: []esbuild.Plugin{
			p.urlRewritePlugin(filepath.Dir(dest), &rewritten),
			sugarLoaderPlugin(),
			p.partialLoaderPlugin(dest, &rewritten),
		},
	})
	if err := esbuildutil.CollectErrors(result); err != nil {
		return Result{}, err
	}

	var out Result
	for _, f := range result.OutputFiles {
		if strings.HasSuffix(f.Path, ".map") {
			out.Map = f.Contents
		} else {
			out.Code = f.Contents
		}
	}
	if out.Code == nil || out.Map == nil {
		return Result{}, fmt.Errorf("esbuild produced %d output files for %s, want code and map", len(result.OutputFiles), src)
	}
	return out, nil
}

func (p *Processor) urlRewritePlugin(destDir string, rewritten *sync.Map) esbuild.Plugin {
	return esbuild.Plugin{
		Name: "url-rewrite",
		Setup: func(build esbuild.PluginBuild) {
			build.OnResolve(esbuild.OnResolveOptions{Filter: ".*"},
				func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
					if args.Kind != esbuild.ResolveCSSURLToken {
						return esbuild.OnResolveResult{}, nil
					}
					if _, ok := rewritten.Load(args.Path); ok {
						return esbuild.OnResolveResult{Path: args.Path, External: true}, nil
					}

					rewritten, ok, err := p.rewriteURL(args.Path, args.ResolveDir, destDir)
					if err != nil {
						return esbuild.OnResolveResult{}, err
					}
					if !ok {
						rewritten = args.Path
					}
					return esbuild.OnResolveResult{
						Path:     rewritten,
						External: true,
					}, nil
				},
			)
		},
	}
}

// sugarLoaderPlugin lets CSS import SugarSS files.
func sugarLoaderPlugin() esbuild.Plugin {
	return esbuild.Plugin{
		Name: "sugarss-loader",
		Setup: func(build esbuild.PluginBuild) {
			build.OnLoad(esbuild.OnLoadOptions{Filter: `\.sss$`},
				func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
					data, err := os.ReadFile(args.Path)
					if err != nil {
						return esbuild.OnLoadResult{}, err
					}
					contents := string(dialect.SugarToCSS(data))
					return esbuild.OnLoadResult{
						Contents:   &contents,
						ResolveDir: filepath.Dir(args.Path),
						Loader:     esbuild.LoaderCSS,
					}, nil
				},
			)
		},
	}
}

// partialLoaderPlugin lets CSS import Sass and SCSS files. The partial is
// inlined and url-rewritten by the syntax-preserving engine, and indented Sass
// is then converted to braces like SugarSS.
func (p *Processor) partialLoaderPlugin(dest string, rewritten *sync.Map) esbuild.Plugin {
	return esbuild.Plugin{
		Name: "sass-partial-loader",
		Setup: func(build esbuild.PluginBuild) {
			build.OnLoad(esbuild.OnLoadOptions{Filter: `\.s[ac]ss$`},
				func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
					d := dialect.Of(filepath.Ext(args.Path))
					code, _, err := p.preserveText(args.Path, dest, d, func(u string) {
						rewritten.Store(u, struct{}{})
					})
					if err != nil {
						return esbuild.OnLoadResult{}, err
					}
					if d == dialect.Sass {
						code = dialect.SugarToCSS(code)
					}
					contents := string(code)
					return esbuild.OnLoadResult{
						Contents:   &contents,
						ResolveDir: filepath.Dir(args.Path),
						Loader:     esbuild.LoaderCSS,
					}, nil
				},
			)
		},
	}
}
