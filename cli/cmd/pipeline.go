package cmd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/cli/report"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/engine"
	"github.com/fluxbase-eu/fluxpack/internal/modgraph"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/sourcecache"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/fluxbase-eu/fluxpack/internal/transpile"
)

var errNoEntries = errors.New("nothing to bundle: configure build.entries, build.bootstrap or add pages")

// pipeline holds the long-lived components shared by every build of one
// process: the remote source cache, metrics and the tracer.
type pipeline struct {
	cfg     *config.Config
	cache   *sourcecache.Cache
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

func newPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	tracer, err := observability.NewTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := sourcecache.NewStore(&cfg.Cache)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize source cache: %w", err)
	}

	metrics := observability.NewMetrics()
	cache := sourcecache.New(store, sourcecache.Options{
		TTL:      cfg.Cache.TTL,
		Timeout:  cfg.Cache.FetchTimeout,
		Rate:     cfg.Cache.FetchRate,
		Recorder: metrics,
	})

	return &pipeline{
		cfg:     cfg,
		cache:   cache,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Close pushes metrics when a Pushgateway is configured, then releases the
// cache and flushes traces.
func (p *pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.cfg.Metrics.Enabled && p.cfg.Metrics.PushgatewayURL != "" {
		if err := p.metrics.Push(ctx, p.cfg.Metrics.PushgatewayURL, p.cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Msg("Failed to push metrics")
		}
	}
	if err := p.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close source cache: %w", err))
	}
	if err := p.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Build loads the module graph from the configured entries and pages, bundles
// it and records the result in the build directory.
func (p *pipeline) Build(ctx context.Context) (*bundler.Result, error) {
	start := time.Now()
	res, err := p.build(ctx)
	p.metrics.RecordBuild(time.Since(start), err)
	return res, err
}

func (p *pipeline) build(ctx context.Context) (*bundler.Result, error) {
	bc := p.cfg.Build

	pages, err := modgraph.DiscoverPages(bc.AppDir, bc.PagesDir)
	if err != nil {
		return nil, err
	}
	entries := collectEntries(&bc, pages)
	if len(entries) == 0 {
		return nil, errNoEntries
	}

	// the transpiler follows star exports through the graph it feeds
	var graph *modgraph.Graph
	importMap := modgraph.NewImportMap(bc.ImportMap)
	tr := transpile.New(
		transpile.WithResolver(importMap.Resolve),
		transpile.WithSourceLoader(func(ctx context.Context, url string) (*bundler.Source, error) {
			return graph.ResolveModule(ctx, url)
		}),
	)
	graph = modgraph.New(tr, p.cache, modgraph.Options{
		AppDir:      bc.AppDir,
		BuildDir:    bc.BuildDir,
		Target:      bc.Target,
		Bootstrap:   entryURL(bc.Bootstrap),
		Pages:       pages,
		External:    bc.External,
		Concurrency: bc.Concurrency,
	})

	roots := make([]string, len(entries))
	for i, e := range entries {
		roots[i] = e.URL
	}
	log.Debug().
		Int("entries", len(entries)).
		Int("pages", len(pages)).
		Int("import_map", importMap.Len()).
		Msg("Loading module graph")
	if err := graph.Load(ctx, roots); err != nil {
		return nil, fmt.Errorf("failed to load module graph: %w", err)
	}

	b := bundler.New(graph, tr, engine.New(p.cache), bundler.Options{
		BuildDir:         bc.BuildDir,
		BuildTarget:      bc.Target,
		Browserslist:     bc.Browserslist,
		BasePath:         bc.BasePath,
		Minify:           bc.Minify,
		Version:          Version,
		ToolchainVersion: engine.ToolchainVersion(),
		PolyfillURL:      bc.PolyfillURL,
		Concurrency:      bc.Concurrency,
	}, bundler.WithRecorder(p.metrics))

	res, err := b.Bundle(ctx, entries)
	if err != nil {
		return nil, err
	}
	if err := report.WriteManifest(bc.BuildDir, res); err != nil {
		return res, err
	}
	return res, nil
}

// Publish copies the bundles of res to the configured target.
func (p *pipeline) Publish(ctx context.Context, res *bundler.Result) (*bundler.PublishResult, error) {
	target, err := storage.NewTarget(&p.cfg.Publish, p.cfg.Build.OutputDir)
	if err != nil {
		return nil, err
	}
	out, err := bundler.Publish(ctx, res, p.cfg.Build.BuildDir, target, bundler.PublishOptions{Prune: p.cfg.Publish.Prune})
	if out != nil {
		p.metrics.RecordPublish(len(out.Uploaded), len(out.Skipped), len(out.Pruned))
	}
	return out, err
}

// collectEntries returns the configured entries followed by the bootstrap
// module and every page. A remote bootstrap goes to the shared deps chunk.
func collectEntries(bc *config.BuildConfig, pages []string) []bundler.Entry {
	seen := make(map[string]struct{})
	var entries []bundler.Entry
	add := func(e bundler.Entry) {
		if _, dup := seen[e.URL]; dup {
			return
		}
		seen[e.URL] = struct{}{}
		entries = append(entries, e)
	}

	for _, e := range bc.Entries {
		add(bundler.Entry{URL: entryURL(e.URL), Shared: e.Shared})
	}
	if bc.Bootstrap != "" {
		u := entryURL(bc.Bootstrap)
		add(bundler.Entry{URL: u, Shared: naming.IsRemote(u)})
	}
	for _, page := range pages {
		add(bundler.Entry{URL: page})
	}
	return entries
}

// entryURL makes local entries absolute to the app root.
func entryURL(u string) string {
	if u == "" || naming.IsRemote(u) {
		return u
	}
	return path.Clean("/" + u)
}
