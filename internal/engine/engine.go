// Package engine runs esbuild as the external bundler of a bundling session.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/rs/zerolog/log"
)

const esbuildModule = "github.com/evanw/esbuild"

// Fetcher returns the content of a remote module.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Engine implements bundler.Engine with esbuild build contexts.
type Engine struct {
	fetcher Fetcher

	mu     sync.Mutex
	nextID int
	live   map[int]api.BuildContext
}

// New creates an engine loading remote modules through fetcher.
func New(fetcher Fetcher) *Engine {
	return &Engine{
		fetcher: fetcher,
		live:    make(map[int]api.BuildContext),
	}
}

// Build bundles req.EntryPoint into req.Outfile as a minified browser IIFE.
func (e *Engine) Build(ctx context.Context, req bundler.BuildRequest) error {
	outfile, err := filepath.Abs(req.Outfile)
	if err != nil {
		return fmt.Errorf("failed to resolve outfile: %w", err)
	}
	entry := req.EntryPoint
	workDir := filepath.Dir(outfile)
	if !naming.IsRemote(entry) {
		if entry, err = filepath.Abs(entry); err != nil {
			return fmt.Errorf("failed to resolve entry point: %w", err)
		}
		workDir = filepath.Dir(entry)
	}
	if err := os.MkdirAll(filepath.Dir(outfile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	opts := api.BuildOptions{
		EntryPoints:       []string{entry},
		Outfile:           outfile,
		AbsWorkingDir:     workDir,
		Bundle:            true,
		Write:             true,
		Platform:          api.PlatformBrowser,
		Format:            api.FormatIIFE,
		Target:            Target(req.Target),
		Engines:           Engines(req.Browserslist),
		MinifyWhitespace:  req.Minify,
		MinifyIdentifiers: req.Minify,
		MinifySyntax:      req.Minify,
		TreeShaking:       api.TreeShakingTrue,
		Sourcemap:         api.SourceMapNone,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{urlPlugin(ctx, e.fetcher)},
	}

	bctx, cerr := api.Context(opts)
	if cerr != nil {
		return fmt.Errorf("%w: %s", bundler.ErrBundlerFailed, FormatMessages(cerr.Errors))
	}
	id := e.track(bctx)
	defer e.release(id)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			bctx.Cancel()
		case <-done:
		}
	}()

	result := bctx.Rebuild()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%w: %s", bundler.ErrBundlerFailed, FormatMessages(result.Errors))
	}
	for _, w := range result.Warnings {
		log.Debug().Str("entry", req.EntryPoint).Msg(formatMessage(w))
	}
	return nil
}

// Close disposes every build context still alive.
func (e *Engine) Close() error {
	e.mu.Lock()
	live := e.live
	e.live = make(map[int]api.BuildContext)
	e.mu.Unlock()

	for _, bctx := range live {
		bctx.Cancel()
		bctx.Dispose()
	}
	if len(live) > 0 {
		log.Debug().Int("contexts", len(live)).Msg("Disposed esbuild contexts")
	}
	return nil
}

func (e *Engine) track(bctx api.BuildContext) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.live[e.nextID] = bctx
	return e.nextID
}

func (e *Engine) release(id int) {
	e.mu.Lock()
	bctx, ok := e.live[id]
	delete(e.live, id)
	e.mu.Unlock()
	if ok {
		bctx.Dispose()
	}
}

// ToolchainVersion returns the esbuild version linked into the binary.
func ToolchainVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == esbuildModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return "unknown"
}

// FormatMessages renders esbuild diagnostics as "file:line:col: text" joined by "; ".
func FormatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, formatMessage(m))
	}
	return strings.Join(parts, "; ")
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}
