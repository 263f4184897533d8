package modgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/transpile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reactURL = "https://esm.sh/react@18.2.0"

type mapFetcher struct {
	sources map[string]string
	calls   int
}

func (f *mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	src, ok := f.sources[url]
	if !ok {
		return nil, errors.New("404")
	}
	return []byte(src), nil
}

func writeApp(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func newTestGraph(t *testing.T, appDir string, fetcher Fetcher, opts Options) *Graph {
	t.Helper()
	im := NewImportMap(map[string]string{"react": reactURL})
	opts.AppDir = appDir
	opts.BuildDir = filepath.Join(t.TempDir(), "build")
	if opts.Target == "" {
		opts.Target = "es2015"
	}
	return New(transpile.New(transpile.WithResolver(im.Resolve)), fetcher, opts)
}

var testApp = map[string]string{
	"app.ts":      `import React from "react"; import { util } from "./lib/util.ts"; export default function App() { return React.version + util; }`,
	"lib/util.ts": `import App from "../app.ts"; export const util = "u" + typeof App;`,
}

func TestGraph_Load(t *testing.T) {
	appDir := writeApp(t, testApp)
	fetcher := &mapFetcher{sources: map[string]string{reactURL: `export default { version: "18.2.0" };`}}
	g := newTestGraph(t, appDir, fetcher, Options{})

	require.NoError(t, g.Load(context.Background(), []string{"/app.ts"}))

	mods := g.Modules()
	require.Len(t, mods, 3)
	assert.Equal(t, "/app.ts", mods[0].URL)
	assert.Equal(t, "/lib/util.ts", mods[1].URL)
	assert.Equal(t, reactURL, mods[2].URL)

	app, ok := g.Module("/app.ts")
	require.True(t, ok)
	assert.Equal(t, bundler.KindScript, app.Kind)
	assert.Equal(t, naming.ComputeHash([]byte(testApp["app.ts"])), app.Hash)
	require.Len(t, app.Deps, 2)

	react, _ := g.Module(reactURL)
	util, _ := g.Module("/lib/util.ts")
	assert.Equal(t, bundler.Dependency{URL: reactURL, Hash: react.Hash}, app.Deps[0])
	assert.Equal(t, bundler.Dependency{URL: "/lib/util.ts", Hash: util.Hash}, app.Deps[1])
	assert.Equal(t, app.Hash, util.Deps[0].Hash)

	compiled, err := os.ReadFile(app.JSFile)
	require.NoError(t, err)
	assert.Contains(t, string(compiled), `"./lib/util.js"`)
	assert.Contains(t, string(compiled), `"./_remote/esm.sh/react@18.2.js"`)
	assert.FileExists(t, react.JSFile)
	assert.Equal(t, 1, fetcher.calls)
}

func TestGraph_LoadExternal(t *testing.T) {
	appDir := writeApp(t, testApp)
	fetcher := &mapFetcher{}
	g := newTestGraph(t, appDir, fetcher, Options{External: []string{reactURL}})

	require.NoError(t, g.Load(context.Background(), []string{"/app.ts"}))

	app, _ := g.Module("/app.ts")
	assert.True(t, app.Deps[0].External)
	_, ok := g.Module(reactURL)
	assert.False(t, ok)
	assert.Zero(t, fetcher.calls)

	compiled, err := os.ReadFile(app.JSFile)
	require.NoError(t, err)
	assert.Contains(t, string(compiled), `__ALEPH.pack["`+reactURL+`"].default`)
	assert.NotContains(t, string(compiled), "_remote/esm.sh")
}

func TestGraph_LoadMissingModule(t *testing.T) {
	appDir := writeApp(t, map[string]string{"app.ts": `import "./gone.ts";`})
	g := newTestGraph(t, appDir, nil, Options{})

	err := g.Load(context.Background(), []string{"/app.ts"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bundler.ErrModuleNotFound))
	assert.Contains(t, err.Error(), "/gone.ts")
}

func TestGraph_LoadRemoteWithoutFetcher(t *testing.T) {
	appDir := writeApp(t, testApp)
	g := newTestGraph(t, appDir, nil, Options{})

	err := g.Load(context.Background(), []string{"/app.ts"})
	assert.ErrorIs(t, err, bundler.ErrModuleNotFound)
}

func TestGraph_ResolveModule(t *testing.T) {
	appDir := writeApp(t, map[string]string{
		"app.ts":     `export const a = 1;`,
		"other.json": `{"x": 1}`,
	})
	g := newTestGraph(t, appDir, nil, Options{})
	require.NoError(t, g.Load(context.Background(), []string{"/app.ts"}))

	src, err := g.ResolveModule(context.Background(), "/app.ts")
	require.NoError(t, err)
	assert.Equal(t, bundler.SourceTS, src.Type)

	src, err = g.ResolveModule(context.Background(), "/other.json")
	require.NoError(t, err)
	assert.Equal(t, bundler.SourceJSON, src.Type)
	assert.Equal(t, `{"x": 1}`, string(src.Code))

	_, err = g.ResolveModule(context.Background(), "/nope.ts")
	assert.ErrorIs(t, err, bundler.ErrModuleNotFound)
}

func TestGraph_ReloadReplacesModules(t *testing.T) {
	appDir := writeApp(t, map[string]string{"a.ts": `export const a = 1;`, "b.ts": `export const b = 1;`})
	g := newTestGraph(t, appDir, nil, Options{})

	require.NoError(t, g.Load(context.Background(), []string{"/a.ts", "/b.ts"}))
	assert.Len(t, g.Modules(), 2)

	require.NoError(t, g.Load(context.Background(), []string{"/a.ts"}))
	assert.Len(t, g.Modules(), 1)
	_, ok := g.Module("/b.ts")
	assert.False(t, ok)
}

func TestGraph_MainJS(t *testing.T) {
	g := newTestGraph(t, t.TempDir(), nil, Options{
		Bootstrap: "/app.tsx",
		Pages:     []string{"/pages/about.tsx", "/pages/index.tsx"},
	})

	code, err := g.MainJS(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, code, `__ALEPH.import("/app.tsx")`)
	assert.Contains(t, code, `["/pages/about.tsx","/pages/index.tsx"]`)

	minified, err := g.MainJS(context.Background(), true)
	require.NoError(t, err)
	assert.Less(t, len(minified), len(code))
	assert.Contains(t, minified, `"/app.tsx"`)
}

func TestGraph_MainJSWithoutBootstrap(t *testing.T) {
	g := newTestGraph(t, t.TempDir(), nil, Options{})
	code, err := g.MainJS(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, code)
}
