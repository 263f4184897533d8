// Package bundler turns a module graph into content-hashed browser bundles
// and the runtime loader that fetches them lazily by module URL.
package bundler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultPolyfillURL is expanded with the build version and ES target year.
const DefaultPolyfillURL = "https://deno.land/x/aleph@v{version}/bundler/polyfills/es{target}.js"

// Options configures a bundling session.
type Options struct {
	BuildDir     string
	BuildTarget  string
	Browserslist []string
	BasePath     string
	Minify       bool
	// Version is the build version salted into every chunk hash.
	Version string
	// ToolchainVersion identifies the external bundler.
	ToolchainVersion string
	PolyfillURL      string
	// Concurrency bounds parallel chunk builds within one plan layer.
	Concurrency int
}

func (o Options) polyfillURL() string {
	tmpl := o.PolyfillURL
	if tmpl == "" {
		tmpl = DefaultPolyfillURL
	}
	target := strings.TrimPrefix(strings.ToLower(o.BuildTarget), "es")
	return strings.NewReplacer("{version}", o.Version, "{target}", target).Replace(tmpl)
}

// environment digests every setting the engine output depends on besides the
// entry code. It salts each chunk hash.
func (o Options) environment() string {
	browsers := append([]string(nil), o.Browserslist...)
	sort.Strings(browsers)
	return naming.ComputeStringHash(
		"version:", o.Version,
		"\ntoolchain:", o.ToolchainVersion,
		"\ntarget:", strings.ToLower(o.BuildTarget),
		"\nbrowsers:", strings.Join(browsers, ","),
		"\nminify:", strconv.FormatBool(o.Minify),
	)
}

// Result summarises a bundling session.
type Result struct {
	SessionID string            `json:"session_id"`
	Files     map[string]string `json:"files"`
	Chunks    []*ChunkResult    `json:"chunks"`
	Duration  time.Duration     `json:"duration"`
}

// Bundler runs bundling sessions over a module graph.
type Bundler struct {
	graph      ModuleGraph
	transpiler Transpiler
	engine     Engine
	opts       Options
	recorder   Recorder
}

// Option configures a Bundler.
type Option func(*Bundler)

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(b *Bundler) {
		if r != nil {
			b.recorder = r
		}
	}
}

// New creates a bundler.
func New(graph ModuleGraph, transpiler Transpiler, engine Engine, opts Options, options ...Option) *Bundler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.BuildTarget == "" {
		opts.BuildTarget = "es2015"
	}
	b := &Bundler{
		graph:      graph,
		transpiler: transpiler,
		engine:     engine,
		opts:       opts,
		recorder:   nopRecorder{},
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Bundle runs one bundling session: the polyfill, deps, shared and per-entry
// chunks in plan order, then the main loader bundle. The engine is closed
// when the session ends.
func (b *Bundler) Bundle(ctx context.Context, entries []Entry) (res *Result, err error) {
	start := time.Now()
	sessionID := uuid.NewString()

	ctx, span := observability.StartBundleSpan(ctx, sessionID, len(entries))
	defer func() { observability.EndSpan(span, err) }()

	defer func() {
		if cerr := b.engine.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close bundler engine")
		}
	}()

	plan, err := NewPlan(entries)
	if err != nil {
		return nil, err
	}
	layers, err := plan.Layers()
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	cb := &chunkBuilder{
		graph:    b.graph,
		compiler: NewCompiler(b.graph, b.transpiler, b.opts.BuildDir, b.opts.BuildTarget, b.recorder),
		engine:   b.engine,
		registry: registry,
		recorder: b.recorder,
		opts:     b.opts,
	}

	log.Info().
		Str("session", sessionID).
		Int("entries", len(entries)).
		Int("chunks", len(plan.Chunks())).
		Msg("Bundling started")

	var mu sync.Mutex
	results := make(map[string]*ChunkResult, len(plan.Chunks())+1)

	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.opts.Concurrency)
		for _, spec := range layer {
			g.Go(func() error {
				r, err := b.buildChunk(gctx, cb, plan, spec)
				if err != nil {
					return &ChunkError{Chunk: spec.Name, Err: err}
				}
				mu.Lock()
				results[spec.Name] = r
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	mainRes, err := cb.buildMain(ctx)
	if err != nil {
		return nil, &ChunkError{Chunk: ChunkMain, Err: err}
	}

	res = &Result{
		SessionID: sessionID,
		Files:     registry.Snapshot(),
		Duration:  time.Since(start),
	}
	for _, spec := range plan.Chunks() {
		res.Chunks = append(res.Chunks, results[spec.Name])
	}
	res.Chunks = append(res.Chunks, mainRes)

	log.Info().
		Str("session", sessionID).
		Int("bundles", len(res.Files)).
		Dur("duration", res.Duration).
		Msg("Bundling finished")
	return res, nil
}

func (b *Bundler) buildChunk(ctx context.Context, cb *chunkBuilder, plan *Plan, spec *ChunkSpec) (res *ChunkResult, err error) {
	externals := plan.Externals(spec.Name)
	ctx, span := observability.StartChunkSpan(ctx, spec.Name, len(spec.Entries), len(externals))
	defer func() { observability.EndSpan(span, err) }()

	if spec.Polyfill {
		return cb.buildPolyfill(ctx)
	}
	return cb.build(ctx, spec.Name, spec.Entries, externals)
}

// Names returns the result's registered names in sorted order.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Files))
	for k := range r.Files {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	return fmt.Sprintf("session %s: %d bundles in %s", r.SessionID, len(r.Files), r.Duration)
}
