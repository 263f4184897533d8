// Package transpile turns module sources into browser ES modules and rewrites
// their import specifiers for the compiled and bundling layouts.
package transpile

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/engine"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/rs/zerolog/log"
)

// Resolver maps an import specifier found in importer to a module URL.
// ok is false for specifiers left to the runtime, such as unmapped bare names.
type Resolver func(importer, specifier string) (u string, ok bool)

// SourceLoader returns the source of a module. It lets ParseExportNames follow
// nested "export * from" directives.
type SourceLoader func(ctx context.Context, url string) (*bundler.Source, error)

// Option configures a Transpiler.
type Option func(*Transpiler)

// WithResolver replaces the default relative/absolute URL resolution.
func WithResolver(r Resolver) Option {
	return func(t *Transpiler) {
		t.resolve = r
	}
}

// WithSourceLoader enables recursive export name resolution.
func WithSourceLoader(l SourceLoader) Option {
	return func(t *Transpiler) {
		t.load = l
	}
}

// Transpiler implements bundler.Transpiler on top of esbuild's transform API.
type Transpiler struct {
	resolve Resolver
	load    SourceLoader
}

// New creates a transpiler.
func New(opts ...Option) *Transpiler {
	t := &Transpiler{resolve: naming.ResolveImport}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Import is a static or dynamic import found in a module.
type Import struct {
	Specifier string
	// URL is the resolved module URL, empty when the specifier is left as is.
	URL     string
	Dynamic bool
}

// SourceTypeOf infers the source type of a module from its URL extension.
func SourceTypeOf(u string) bundler.SourceType {
	p := u
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".mts":
		return bundler.SourceTS
	case ".tsx":
		return bundler.SourceTSX
	case ".jsx":
		return bundler.SourceJSX
	case ".json":
		return bundler.SourceJSON
	case ".css":
		return bundler.SourceCSS
	default:
		return bundler.SourceJS
	}
}

// Transform compiles code to an ES module and rewrites its imports.
//
// Outside bundle mode every resolvable specifier points at the importee's
// compiled file. In bundle mode internal imports point at the importee's
// bundling artifact followed by a "#<url>@000000" marker, imports of external
// modules read from the runtime pack table, and "export * from" an external
// module becomes a $$star_<n> placeholder listed in StarExports. Modules in
// opts.External are treated as external in both modes.
func (t *Transpiler) Transform(ctx context.Context, url string, code []byte, opts bundler.TransformOptions) (*bundler.TransformResult, error) {
	js, err := t.toESM(url, code, opts.SourceType, opts.Target)
	if err != nil {
		return nil, err
	}
	refs, err := scan(ctx, []byte(js))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}

	r := &rewriter{
		t:    t,
		url:  url,
		opts: opts,
	}
	if opts.BundleMode {
		r.self = naming.BundlingArtifactPath(opts.BuildDir, url, opts.BundleExternal.Scope())
	} else {
		r.self = naming.CompiledArtifactPath(opts.BuildDir, url)
	}
	for _, ref := range refs {
		r.rewrite(ref)
	}

	return &bundler.TransformResult{
		Code:        applyEdits(js, r.edits),
		StarExports: r.stars,
	}, nil
}

// Imports lists the imports of a module in source order, once per specifier.
func (t *Transpiler) Imports(ctx context.Context, url string, code []byte, sourceType bundler.SourceType) ([]Import, error) {
	js, err := t.toESM(url, code, sourceType, "esnext")
	if err != nil {
		return nil, err
	}
	refs, err := scan(ctx, []byte(js))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}

	seen := make(map[string]struct{}, len(refs))
	imports := make([]Import, 0, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref.specifier]; dup {
			continue
		}
		seen[ref.specifier] = struct{}{}
		imp := Import{Specifier: ref.specifier, Dynamic: ref.kind == refDynamic}
		if u, ok := t.resolve(url, ref.specifier); ok {
			imp.URL = u
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

// ParseExportNames lists the names a module exports, including "default".
func (t *Transpiler) ParseExportNames(ctx context.Context, url string, code []byte, sourceType bundler.SourceType) ([]string, error) {
	names, err := t.exportNames(ctx, url, code, sourceType, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (t *Transpiler) exportNames(ctx context.Context, url string, code []byte, sourceType bundler.SourceType, visited map[string]struct{}) ([]string, error) {
	visited[url] = struct{}{}

	js, err := t.toESM(url, code, sourceType, "esnext")
	if err != nil {
		return nil, err
	}
	ex, err := scanExports(ctx, []byte(js))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", url, err)
	}

	names := ex.names
	for _, spec := range ex.starFrom {
		target, ok := t.resolve(url, spec)
		if !ok || t.load == nil {
			log.Debug().Str("module", url).Str("from", spec).Msg("Skipping unresolvable star export")
			continue
		}
		if _, cyclic := visited[target]; cyclic {
			continue
		}
		src, err := t.load(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", target, err)
		}
		nested, err := t.exportNames(ctx, target, src.Code, src.Type, visited)
		if err != nil {
			return nil, err
		}
		for _, n := range nested {
			// "export *" never re-exports default
			if n != "default" {
				names = append(names, n)
			}
		}
	}
	return dedupe(names), nil
}

// Minify compresses a JavaScript program.
func (t *Transpiler) Minify(code, target string) (string, error) {
	result := api.Transform(code, api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            engine.Target(target),
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LogLevel:          api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("failed to minify: %s", engine.FormatMessages(result.Errors))
	}
	return string(result.Code), nil
}

func (t *Transpiler) toESM(url string, code []byte, sourceType bundler.SourceType, target string) (string, error) {
	if sourceType == "" {
		sourceType = SourceTypeOf(url)
	}
	if sourceType == bundler.SourceCSS {
		result := api.Transform(string(code), api.TransformOptions{
			Loader:           api.LoaderCSS,
			Sourcefile:       url,
			MinifyWhitespace: true,
			LogLevel:         api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			return "", fmt.Errorf("failed to transpile %s: %s", url, engine.FormatMessages(result.Errors))
		}
		return cssModule(url, strings.TrimSpace(string(result.Code))), nil
	}

	result := api.Transform(string(code), api.TransformOptions{
		Loader:     loaderFor(sourceType),
		Format:     api.FormatESModule,
		Target:     engine.Target(target),
		Sourcefile: url,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("failed to transpile %s: %s", url, engine.FormatMessages(result.Errors))
	}
	return string(result.Code), nil
}

func loaderFor(t bundler.SourceType) api.Loader {
	switch t {
	case bundler.SourceTS:
		return api.LoaderTS
	case bundler.SourceTSX:
		return api.LoaderTSX
	case bundler.SourceJSX:
		return api.LoaderJSX
	case bundler.SourceJSON:
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

// cssModule wraps a stylesheet in a module that injects it into the document.
func cssModule(url, css string) string {
	return fmt.Sprintf(`const css = %s;
if (typeof document !== "undefined") {
  const el = document.createElement("style");
  el.setAttribute("data-module-id", %s);
  el.textContent = css;
  document.head.appendChild(el);
}
export default css;
`, jsString(css), jsString(url))
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
