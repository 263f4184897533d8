package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	mu      sync.Mutex
	modules map[string]*Module
	sources map[string]*Source
	mainJS  string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		modules: make(map[string]*Module),
		sources: make(map[string]*Source),
		mainJS:  "__ALEPH.import(\"/app.tsx\");\n",
	}
}

// add registers a module whose dependencies are deps, in order.
func (g *fakeGraph) add(url, code string, deps ...string) *Module {
	g.mu.Lock()
	defer g.mu.Unlock()

	mod := &Module{URL: url, Hash: naming.ComputeStringHash(code), Kind: KindScript}
	for _, d := range deps {
		mod.Deps = append(mod.Deps, Dependency{URL: d})
	}
	g.modules[url] = mod
	g.sources[url] = &Source{Code: []byte(code), Type: SourceTS}
	return mod
}

// refreshDepHashes copies each dependency's source hash onto its edges.
func (g *fakeGraph) refreshDepHashes() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.modules {
		for i, d := range m.Deps {
			if dm, ok := g.modules[d.URL]; ok {
				m.Deps[i].Hash = dm.Hash
			}
		}
	}
}

func (g *fakeGraph) Module(url string) (*Module, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.modules[url]
	return m, ok
}

func (g *fakeGraph) ResolveModule(ctx context.Context, url string) (*Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sources[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, url)
	}
	return s, nil
}

func (g *fakeGraph) MainJS(ctx context.Context, minify bool) (string, error) {
	return g.mainJS, nil
}

// fakeTranspiler emits one import marker per internal dependency, a pack
// lookup per external one, and star placeholders for the configured targets.
type fakeTranspiler struct {
	graph   *fakeGraph
	stars   map[string][]string
	exports map[string][]string

	mu         sync.Mutex
	transforms map[string]int
}

func newFakeTranspiler(g *fakeGraph) *fakeTranspiler {
	return &fakeTranspiler{
		graph:      g,
		stars:      make(map[string][]string),
		exports:    make(map[string][]string),
		transforms: make(map[string]int),
	}
}

func (f *fakeTranspiler) Transform(ctx context.Context, url string, code []byte, opts TransformOptions) (*TransformResult, error) {
	f.mu.Lock()
	f.transforms[url]++
	f.mu.Unlock()

	mod, ok := f.graph.Module(url)
	if !ok {
		return nil, fmt.Errorf("no module %s", url)
	}

	scope := opts.BundleExternal.Scope()
	self := naming.BundlingArtifactPath(opts.BuildDir, url, scope)

	var b strings.Builder
	for i, d := range mod.Deps {
		if d.External || opts.BundleExternal.Contains(d.URL) {
			fmt.Fprintf(&b, "const ext_%d = %s.pack[%q];\n", i, LoaderGlobal, d.URL)
			continue
		}
		dep := naming.BundlingArtifactPath(opts.BuildDir, d.URL, scope)
		fmt.Fprintf(&b, "import %q;\n", naming.RelativeImport(self, dep)+"#"+d.URL+"@"+EmptyMarkerHash)
	}
	for i, target := range f.stars[url] {
		fmt.Fprintf(&b, "export const %s%d = %s.pack[%q];\n", StarPlaceholderPrefix, i, LoaderGlobal, target)
	}
	b.Write(code)
	return &TransformResult{Code: b.String(), StarExports: f.stars[url]}, nil
}

func (f *fakeTranspiler) ParseExportNames(ctx context.Context, url string, code []byte, sourceType SourceType) ([]string, error) {
	names, ok := f.exports[url]
	if !ok {
		return nil, fmt.Errorf("cannot parse %s", url)
	}
	return names, nil
}

func (f *fakeTranspiler) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transforms[url]
}

func (f *fakeTranspiler) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.transforms {
		n += c
	}
	return n
}

// fakeEngine writes the entry code (or the entry URL) as the bundle.
type fakeEngine struct {
	mu     sync.Mutex
	builds []BuildRequest
	closed int
	fail   map[string]error
	delay  time.Duration
}

func (e *fakeEngine) Build(ctx context.Context, req BuildRequest) error {
	e.mu.Lock()
	e.builds = append(e.builds, req)
	err := e.fail[filepath.Base(req.EntryPoint)]
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	content := []byte("/* bundle of " + req.EntryPoint + " */\n")
	if data, rerr := os.ReadFile(req.EntryPoint); rerr == nil {
		content = append(content, data...)
	}
	return writeFile(req.Outfile, content)
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *fakeEngine) buildCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.builds)
}

// countingRecorder tallies recorder callbacks.
type countingRecorder struct {
	mu             sync.Mutex
	chunksBuilt    int
	chunksCached   int
	compiles       int
	compilesCached int
	staleRemoved   int
}

func (r *countingRecorder) RecordChunkBuild(chunk string, cached bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached {
		r.chunksCached++
	} else {
		r.chunksBuilt++
	}
}

func (r *countingRecorder) RecordModuleCompile(cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached {
		r.compilesCached++
	} else {
		r.compiles++
	}
}

func (r *countingRecorder) RecordStaleRemoved(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleRemoved += n
}

// writeCompiled stores a non-bundle compiled artifact for url and records it
// as the module's JSFile.
func writeCompiled(t *testing.T, buildDir string, mod *Module, code string) {
	t.Helper()
	path := naming.CompiledArtifactPath(buildDir, mod.URL)
	require.NoError(t, writeFile(path, []byte(code)))
	mod.JSFile = path
}

// hashedFiles lists every hashed bundle under dir, relative and slash separated.
func hashedFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && naming.IsHashedJS(d.Name()) {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}
