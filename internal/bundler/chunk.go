package bundler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/rs/zerolog/log"
)

// ChunkResult describes one bundle written or reused by a session.
type ChunkResult struct {
	Name     string        `json:"name"`
	File     string        `json:"file"`
	Cached   bool          `json:"cached"`
	Removed  int           `json:"removed"`
	Duration time.Duration `json:"duration"`
}

type chunkBuilder struct {
	graph    ModuleGraph
	compiler *Compiler
	engine   Engine
	registry *Registry
	recorder Recorder
	opts     Options
}

// build bundles the entries of a chunk, leaving externals to the runtime.
func (b *chunkBuilder) build(ctx context.Context, name string, entries []string, externals ExternalSet) (*ChunkResult, error) {
	entryFile := filepath.Join(b.opts.BuildDir, filepath.FromSlash(chunkStem(name))+".bundle.entry.js")
	code, err := b.entryCode(ctx, entryFile, entries, externals)
	if err != nil {
		return nil, err
	}

	hash := naming.ComputeStringHash(code, b.opts.environment())
	out := naming.ChunkPath(b.opts.BuildDir, name, hash)

	return b.emit(name, out, func() error {
		if err := writeFile(entryFile, []byte(code)); err != nil {
			return err
		}
		defer os.Remove(entryFile)

		return b.bundle(ctx, entryFile, out)
	})
}

// buildPolyfill bundles the polyfill module for the build target.
func (b *chunkBuilder) buildPolyfill(ctx context.Context) (*ChunkResult, error) {
	polyfill := b.opts.polyfillURL()
	hash := naming.ComputeStringHash(polyfill, b.opts.environment())
	out := naming.ChunkPath(b.opts.BuildDir, ChunkPolyfill, hash)

	return b.emit(ChunkPolyfill, out, func() error {
		return b.bundle(ctx, polyfill, out)
	})
}

// buildMain writes the loader with the manifest of every chunk built so far,
// followed by the framework bootstrap code.
func (b *chunkBuilder) buildMain(ctx context.Context) (*ChunkResult, error) {
	manifest, err := b.registry.Manifest()
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	mainJS, err := b.graph.MainJS(ctx, b.opts.Minify)
	if err != nil {
		return nil, fmt.Errorf("failed to get main js: %w", err)
	}

	content := RuntimeLoader(b.opts.BasePath, manifest) + mainJS
	out := naming.ChunkPath(b.opts.BuildDir, ChunkMain, naming.ComputeStringHash(content))

	return b.emit(ChunkMain, out, func() error {
		return writeFile(out, []byte(content))
	})
}

// emit skips produce when out already exists. Otherwise it removes stale
// bundles of the same name and produces out. Either way out is registered.
func (b *chunkBuilder) emit(name, out string, produce func() error) (*ChunkResult, error) {
	start := time.Now()
	res := &ChunkResult{Name: name, File: b.filename(out)}

	if _, err := os.Stat(out); err == nil {
		res.Cached = true
		res.Duration = time.Since(start)
		b.registry.Set(name, res.File)
		b.recorder.RecordChunkBuild(name, true, res.Duration)
		log.Debug().Str("chunk", name).Str("file", res.File).Msg("Bundle up to date")
		return res, nil
	}

	removed, err := Invalidate(out)
	if err != nil {
		return nil, err
	}
	res.Removed = removed
	if removed > 0 {
		b.recorder.RecordStaleRemoved(removed)
	}

	if err := produce(); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	b.registry.Set(name, res.File)
	b.recorder.RecordChunkBuild(name, false, res.Duration)
	log.Info().
		Str("chunk", name).
		Str("file", res.File).
		Int("stale_removed", removed).
		Dur("duration", res.Duration).
		Msg("Bundle written")
	return res, nil
}

func (b *chunkBuilder) bundle(ctx context.Context, entry, out string) error {
	err := b.engine.Build(ctx, BuildRequest{
		EntryPoint:   entry,
		Outfile:      out,
		Target:       b.opts.BuildTarget,
		Browserslist: b.opts.Browserslist,
		Minify:       b.opts.Minify,
	})
	if err != nil {
		if errors.Is(err, ErrBundlerFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBundlerFailed, err)
	}
	return nil
}

// entryCode imports every entry and stores its namespace into the loader pack.
func (b *chunkBuilder) entryCode(ctx context.Context, entryFile string, entries []string, externals ExternalSet) (string, error) {
	var sb strings.Builder
	sb.WriteString(packPrelude())

	tree := newTreeHasher(b.graph)
	for i, u := range entries {
		mod, ok := b.graph.Module(u)
		if !ok {
			return "", &UnsupportedModuleError{URL: u}
		}

		var target, hash string
		if len(externals) == 0 && mod.JSFile != "" && !reachesExternal(b.graph, u) {
			h, err := tree.hash(u)
			if err != nil {
				return "", err
			}
			target, hash = mod.JSFile, h
		} else {
			a, err := b.compiler.Compile(ctx, u, externals)
			if err != nil {
				return "", err
			}
			target, hash = a.Path, a.Hash
		}

		specifier := naming.RelativeImport(entryFile, target) + "#" + u + "@" + naming.MarkerHash(hash)
		fmt.Fprintf(&sb, "import * as $%d from %q;\n", i, specifier)
		fmt.Fprintf(&sb, "%s.pack[%q] = $%d;\n", LoaderGlobal, u, i)
	}
	return sb.String(), nil
}

// reachesExternal reports whether a module provided at runtime is imported
// anywhere in the tree of u. Such trees are compiled in bundle mode so star
// exports of the provided module are resolved.
func reachesExternal(graph ModuleGraph, u string) bool {
	seen := make(map[string]struct{})
	var walk func(string) bool
	walk = func(u string) bool {
		if _, ok := seen[u]; ok {
			return false
		}
		seen[u] = struct{}{}
		mod, ok := graph.Module(u)
		if !ok {
			return false
		}
		for _, dep := range mod.Deps {
			if dep.External || (bundlable(dep.URL) && walk(dep.URL)) {
				return true
			}
		}
		return false
	}
	return walk(u)
}

// filename returns the registry form of a bundle path: build dir relative,
// slash separated, with a leading slash.
func (b *chunkBuilder) filename(out string) string {
	rel, err := filepath.Rel(b.opts.BuildDir, out)
	if err != nil {
		rel = filepath.Base(out)
	}
	return "/" + filepath.ToSlash(rel)
}

// treeHasher digests a module together with everything it imports, so a
// chunk importing compiled modules directly changes name when any module of
// its tree changes.
type treeHasher struct {
	graph ModuleGraph
	memo  map[string]string
}

func newTreeHasher(graph ModuleGraph) *treeHasher {
	return &treeHasher{graph: graph, memo: make(map[string]string)}
}

func (t *treeHasher) hash(u string) (string, error) {
	return t.walk(u, make(map[string]struct{}))
}

func (t *treeHasher) walk(u string, visiting map[string]struct{}) (string, error) {
	if h, ok := t.memo[u]; ok {
		return h, nil
	}
	mod, ok := t.graph.Module(u)
	if !ok {
		return "", &UnsupportedModuleError{URL: u}
	}
	visiting[u] = struct{}{}
	defer delete(visiting, u)

	parts := []string{mod.URL, mod.Hash}
	for _, dep := range mod.Deps {
		if dep.External || !bundlable(dep.URL) {
			parts = append(parts, dep.URL)
			continue
		}
		if _, cyclic := visiting[dep.URL]; cyclic {
			parts = append(parts, dep.URL, dep.Hash)
			continue
		}
		h, err := t.walk(dep.URL, visiting)
		if err != nil {
			return "", err
		}
		parts = append(parts, h)
	}
	h := naming.ComputeStringHash(parts...)
	t.memo[u] = h
	return h, nil
}
