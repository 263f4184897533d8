package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/rs/zerolog/log"
)

// Dependencies with one of these prefixes are left to the runtime and never
// compiled into a bundling artifact.
var nonBundlablePrefixes = []string{"#", "data:", "blob:", "node:"}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Artifact is a compiled bundling artifact.
type Artifact struct {
	URL  string
	Path string
	// Hash is the digest of the artifact's code.
	Hash string
}

// artifactMeta is the sidecar written next to each artifact. An artifact on
// disk is reused only when every recorded input still matches.
type artifactMeta struct {
	URL        string            `json:"url"`
	SourceHash string            `json:"sourceHash"`
	Externals  string            `json:"externals"`
	Target     string            `json:"target"`
	Deps       map[string]string `json:"deps"`
	// Stars maps every "export * from" target to the hash of the source its
	// export names were read from.
	Stars map[string]string `json:"stars,omitempty"`
	Hash  string            `json:"hash"`
}

// Compiler produces bundle-mode artifacts for modules and their internal
// dependencies. Artifacts are cached per (module URL, external set).
type Compiler struct {
	graph      ModuleGraph
	transpiler Transpiler
	buildDir   string
	target     string
	recorder   Recorder

	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewCompiler creates a compiler writing artifacts under buildDir.
func NewCompiler(graph ModuleGraph, transpiler Transpiler, buildDir, target string, recorder Recorder) *Compiler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Compiler{
		graph:      graph,
		transpiler: transpiler,
		buildDir:   buildDir,
		target:     target,
		recorder:   recorder,
		cache:      make(map[string]*Artifact),
	}
}

// Compile returns the bundling artifact of url with every module in externals
// left to the runtime loader. Calls are serialized.
func (c *Compiler) Compile(ctx context.Context, url string, externals ExternalSet) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(ctx, url, externals, make(map[string]struct{}))
}

func (c *Compiler) compile(ctx context.Context, url string, externals ExternalSet, visiting map[string]struct{}) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := url + "|" + externals.Fingerprint()
	if a, ok := c.cache[key]; ok {
		c.recorder.RecordModuleCompile(true)
		return a, nil
	}

	mod, ok := c.graph.Module(url)
	if !ok {
		return nil, &UnsupportedModuleError{URL: url}
	}

	visiting[url] = struct{}{}
	defer delete(visiting, url)

	depHashes := make(map[string]string)
	for _, dep := range mod.Deps {
		if !c.inlined(dep, externals) {
			continue
		}
		if _, cyclic := visiting[dep.URL]; cyclic {
			// the dependency is still being compiled up the stack
			depHashes[dep.URL] = naming.MarkerHash(dep.Hash)
			continue
		}
		a, err := c.compile(ctx, dep.URL, externals, visiting)
		if err != nil {
			return nil, err
		}
		depHashes[dep.URL] = naming.MarkerHash(a.Hash)
	}

	path := naming.BundlingArtifactPath(c.buildDir, url, externals.Scope())
	if a := c.reuse(ctx, path, mod, externals, depHashes); a != nil {
		log.Debug().Str("module", url).Str("artifact", path).Msg("Reusing bundling artifact")
		c.cache[key] = a
		c.recorder.RecordModuleCompile(true)
		return a, nil
	}

	src, err := c.graph.ResolveModule(ctx, url)
	if err != nil {
		return nil, &UnsupportedModuleError{URL: url, Err: err}
	}

	result, err := c.transpiler.Transform(ctx, url, src.Code, TransformOptions{
		Target:         c.target,
		SourceType:     src.Type,
		BundleMode:     true,
		BundleExternal: externals,
		External:       providedExternals(mod),
		BuildDir:       c.buildDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transform %s: %w", url, err)
	}

	names, starHashes, err := c.resolveStarExports(ctx, result.StarExports)
	if err != nil {
		return nil, err
	}

	code, err := parseArtifact(result.Code).render(depHashes, names)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite %s: %w", url, err)
	}

	a := &Artifact{URL: url, Path: path, Hash: naming.ComputeStringHash(code)}
	if err := writeFile(path, []byte(code)); err != nil {
		return nil, err
	}

	meta := artifactMeta{
		URL:        url,
		SourceHash: mod.Hash,
		Externals:  externals.Fingerprint(),
		Target:     c.target,
		Deps:       depHashes,
		Stars:      starHashes,
		Hash:       a.Hash,
	}
	if err := writeMeta(path, meta); err != nil {
		log.Warn().Err(err).Str("module", url).Msg("Failed to write artifact metadata")
	}

	log.Debug().Str("module", url).Str("externals", externals.Fingerprint()).Msg("Compiled bundling artifact")
	c.cache[key] = a
	c.recorder.RecordModuleCompile(false)
	return a, nil
}

func (c *Compiler) inlined(dep Dependency, externals ExternalSet) bool {
	if dep.External || externals.Contains(dep.URL) {
		return false
	}
	return bundlable(dep.URL)
}

// providedExternals returns the dependencies of mod the graph marked as
// provided at runtime.
func providedExternals(mod *Module) ExternalSet {
	var urls []string
	for _, dep := range mod.Deps {
		if dep.External {
			urls = append(urls, dep.URL)
		}
	}
	return NewExternalSet(urls...)
}

func bundlable(url string) bool {
	for _, p := range nonBundlablePrefixes {
		if strings.HasPrefix(url, p) {
			return false
		}
	}
	return true
}

func (c *Compiler) reuse(ctx context.Context, path string, mod *Module, externals ExternalSet, deps map[string]string) *Artifact {
	if mod.Hash == "" {
		return nil
	}
	meta, err := readMeta(path)
	if err != nil {
		return nil
	}
	if meta.SourceHash != mod.Hash || meta.Externals != externals.Fingerprint() || meta.Target != c.target {
		return nil
	}
	if len(meta.Deps) != len(deps) {
		return nil
	}
	for u, h := range deps {
		if meta.Deps[u] != h {
			return nil
		}
	}
	// re-exported names come from the target's current source
	for target, h := range meta.Stars {
		src, err := c.graph.ResolveModule(ctx, target)
		if err != nil || naming.ComputeHash(src.Code) != h {
			return nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return &Artifact{URL: mod.URL, Path: path, Hash: meta.Hash}
}

// resolveStarExports returns, per placeholder index, the names exported by
// the placeholder's target, minus default, along with the source hash of
// every target.
func (c *Compiler) resolveStarExports(ctx context.Context, targets []string) (map[int][]string, map[string]string, error) {
	names := make(map[int][]string, len(targets))
	hashes := make(map[string]string, len(targets))
	for i, target := range targets {
		src, err := c.graph.ResolveModule(ctx, target)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrExportResolution, target, err)
		}
		exported, err := c.transpiler.ParseExportNames(ctx, target, src.Code, src.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrExportResolution, target, err)
		}
		hashes[target] = naming.ComputeHash(src.Code)
		seen := make(map[string]struct{}, len(exported))
		list := make([]string, 0, len(exported))
		for _, n := range exported {
			if n == "default" || !identifierPattern.MatchString(n) {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			list = append(list, n)
		}
		names[i] = list
	}
	return names, hashes, nil
}

func metaPath(artifact string) string {
	return artifact + ".meta.json"
}

func readMeta(artifact string) (*artifactMeta, error) {
	data, err := os.ReadFile(metaPath(artifact))
	if err != nil {
		return nil, err
	}
	var meta artifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func writeMeta(artifact string, meta artifactMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(metaPath(artifact), data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
