// Package modgraph loads application modules from disk and remote origins and
// serves them to the bundler as a dependency graph.
package modgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/transpile"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Transpiler is the part of the transpiler the graph relies on.
type Transpiler interface {
	Transform(ctx context.Context, url string, code []byte, opts bundler.TransformOptions) (*bundler.TransformResult, error)
	Imports(ctx context.Context, url string, code []byte, sourceType bundler.SourceType) ([]transpile.Import, error)
	Minify(code, target string) (string, error)
}

// Fetcher returns the content of a remote module.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures a Graph.
type Options struct {
	AppDir   string
	BuildDir string
	Target   string
	// Bootstrap is the module MainJS imports once the page loads.
	Bootstrap string
	// Pages are passed to the bootstrap module's default export.
	Pages []string
	// External modules are provided to the page by other means and are never
	// loaded or bundled.
	External    []string
	Concurrency int
}

// Graph implements bundler.ModuleGraph.
type Graph struct {
	tr       Transpiler
	fetcher  Fetcher
	opts     Options
	external map[string]struct{}

	mu      sync.RWMutex
	modules map[string]*bundler.Module
	sources map[string]*bundler.Source
}

// New creates an empty graph. fetcher may be nil when no remote module is used.
func New(tr Transpiler, fetcher Fetcher, opts Options) *Graph {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	external := make(map[string]struct{}, len(opts.External))
	for _, u := range opts.External {
		external[u] = struct{}{}
	}
	return &Graph{
		tr:       tr,
		fetcher:  fetcher,
		opts:     opts,
		external: external,
		modules:  make(map[string]*bundler.Module),
		sources:  make(map[string]*bundler.Source),
	}
}

type loadedModule struct {
	mod *bundler.Module
	src *bundler.Source
}

// Load walks the graph from roots and replaces the previously loaded graph.
// Each module's compiled file is written under the build directory.
func (g *Graph) Load(ctx context.Context, roots []string) error {
	modules := make(map[string]*bundler.Module)
	sources := make(map[string]*bundler.Source)

	queued := make(map[string]struct{})
	var level []string
	enqueue := func(u string) {
		if _, ok := queued[u]; ok {
			return
		}
		if _, ok := g.external[u]; ok {
			return
		}
		queued[u] = struct{}{}
		level = append(level, u)
	}
	for _, r := range roots {
		enqueue(r)
	}

	for len(level) > 0 {
		current := level
		level = nil

		results := make([]*loadedModule, len(current))
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(g.opts.Concurrency)
		for i, u := range current {
			eg.Go(func() error {
				l, err := g.loadModule(ectx, u)
				if err != nil {
					return err
				}
				results[i] = l
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		for _, l := range results {
			modules[l.mod.URL] = l.mod
			sources[l.mod.URL] = l.src
			for _, d := range l.mod.Deps {
				enqueue(d.URL)
			}
		}
	}

	for _, m := range modules {
		for i, d := range m.Deps {
			if dm, ok := modules[d.URL]; ok {
				m.Deps[i].Hash = dm.Hash
			}
		}
	}

	g.mu.Lock()
	g.modules = modules
	g.sources = sources
	g.mu.Unlock()

	log.Info().Int("modules", len(modules)).Int("roots", len(roots)).Msg("Module graph loaded")
	return nil
}

func (g *Graph) loadModule(ctx context.Context, u string) (*loadedModule, error) {
	code, err := g.readSource(ctx, u)
	if err != nil {
		return nil, err
	}
	st := transpile.SourceTypeOf(u)

	imports, err := g.tr.Imports(ctx, u, code, st)
	if err != nil {
		return nil, err
	}
	var deps []bundler.Dependency
	var provided []string
	for _, imp := range imports {
		if imp.URL == "" {
			log.Warn().Str("module", u).Str("specifier", imp.Specifier).Msg("Unresolved import left to the runtime")
			continue
		}
		_, ext := g.external[imp.URL]
		if ext {
			provided = append(provided, imp.URL)
		}
		deps = append(deps, bundler.Dependency{URL: imp.URL, External: ext})
	}

	res, err := g.tr.Transform(ctx, u, code, bundler.TransformOptions{
		Target:     g.opts.Target,
		SourceType: st,
		External:   bundler.NewExternalSet(provided...),
		BuildDir:   g.opts.BuildDir,
	})
	if err != nil {
		return nil, err
	}
	jsFile := naming.CompiledArtifactPath(g.opts.BuildDir, u)
	if err := writeIfChanged(jsFile, []byte(res.Code)); err != nil {
		return nil, err
	}

	log.Debug().Str("module", u).Int("deps", len(deps)).Msg("Loaded module")
	return &loadedModule{
		mod: &bundler.Module{
			URL:    u,
			JSFile: jsFile,
			Hash:   naming.ComputeHash(code),
			Kind:   st.Kind(),
			Deps:   deps,
		},
		src: &bundler.Source{Code: code, Type: st},
	}, nil
}

func (g *Graph) readSource(ctx context.Context, u string) ([]byte, error) {
	if naming.IsRemote(u) {
		if g.fetcher == nil {
			return nil, fmt.Errorf("%w: %s: no source cache configured", bundler.ErrModuleNotFound, u)
		}
		data, err := g.fetcher.Fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", bundler.ErrModuleNotFound, u, err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(g.opts.AppDir, filepath.FromSlash(u)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", bundler.ErrModuleNotFound, u)
		}
		return nil, fmt.Errorf("failed to read %s: %w", u, err)
	}
	return data, nil
}

// Module returns the loaded module registered under url.
func (g *Graph) Module(url string) (*bundler.Module, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.modules[url]
	return m, ok
}

// Modules returns every loaded module ordered by URL.
func (g *Graph) Modules() []*bundler.Module {
	g.mu.RLock()
	defer g.mu.RUnlock()
	mods := make([]*bundler.Module, 0, len(g.modules))
	for _, m := range g.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].URL < mods[j].URL })
	return mods
}

// ResolveModule returns the source of url, reading it when it is not part of
// the loaded graph.
func (g *Graph) ResolveModule(ctx context.Context, url string) (*bundler.Source, error) {
	g.mu.RLock()
	src, ok := g.sources[url]
	g.mu.RUnlock()
	if ok {
		return src, nil
	}

	code, err := g.readSource(ctx, url)
	if err != nil {
		return nil, err
	}
	return &bundler.Source{Code: code, Type: transpile.SourceTypeOf(url)}, nil
}

const mainTemplate = `%[1]s.import(%[2]s).then(function (mod) {
  if (mod && typeof mod.default === "function") {
    mod.default({ basePath: %[1]s.basePath, pages: %[3]s });
  }
}).catch(function (err) {
  console.error("[fluxpack] bootstrap failed:", err);
});
`

// MainJS returns the code that imports the bootstrap module and hands it the
// page list. It is empty when no bootstrap module is configured.
func (g *Graph) MainJS(ctx context.Context, minify bool) (string, error) {
	if g.opts.Bootstrap == "" {
		return "", nil
	}
	pages := g.opts.Pages
	if pages == nil {
		pages = []string{}
	}
	list, err := json.Marshal(pages)
	if err != nil {
		return "", err
	}
	bootstrap, err := json.Marshal(g.opts.Bootstrap)
	if err != nil {
		return "", err
	}

	code := fmt.Sprintf(mainTemplate, bundler.LoaderGlobal, bootstrap, list)
	if !minify {
		return code, nil
	}
	return g.tr.Minify(code, g.opts.Target)
}

func writeIfChanged(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
