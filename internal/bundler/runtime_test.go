package bundler

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeLoader_IsValidJavaScript(t *testing.T) {
	js := RuntimeLoader("/app/", []byte(`{"/pages/index":"/pages/index.bundle.0123abcd.js"}`))

	result := api.Transform(js, api.TransformOptions{
		Loader: api.LoaderJS,
		Target: api.ES2015,
	})
	require.Empty(t, result.Errors)
	assert.NotEmpty(t, result.Code)
}

// domStub is the minimal browser surface the loader touches. Injected
// scripts are collected instead of fetched.
const domStub = `
var window = this;
var scripts = [];
var results = {};
var document = {
  head: { appendChild: function (s) { scripts.push(s); } },
  createElement: function (tag) { return { tagName: tag }; }
};
`

func newLoaderVM(t *testing.T, basePath, manifest string) *goja.Runtime {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(domStub)
	require.NoError(t, err)
	_, err = vm.RunString(RuntimeLoader(basePath, []byte(manifest)))
	require.NoError(t, err)
	return vm
}

func run(t *testing.T, vm *goja.Runtime, code string) goja.Value {
	t.Helper()
	v, err := vm.RunString(code)
	require.NoError(t, err)
	return v
}

const testManifest = `{"/pages/index":"/pages/index.bundle.0123abcd.js","/lib/util.ts":"/lib/util.ts.bundle.89abcdef.js"}`

func TestRuntimeLoader_Behavior(t *testing.T) {
	t.Run("pack hit resolves without a script", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		run(t, vm, `
__ALEPH.pack["/pages/index.tsx"] = { answer: 42 };
__ALEPH.import("/pages/index.tsx").then(function (m) { results.answer = m.answer; });
`)
		assert.Equal(t, int64(42), run(t, vm, "results.answer").ToInteger())
		assert.Equal(t, int64(0), run(t, vm, "scripts.length").ToInteger())
	})

	t.Run("unknown url rejects", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		run(t, vm, `__ALEPH.import("/unknown.js").catch(function (e) { results.err = e.message; });`)
		assert.Equal(t, "invalid url: /unknown.js", run(t, vm, "results.err").String())
		assert.Equal(t, int64(0), run(t, vm, "scripts.length").ToInteger())
	})

	t.Run("lookup without extension", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		run(t, vm, `__ALEPH.import("/pages/index.tsx").then(function (m) { results.title = m.title; });`)
		require.Equal(t, int64(1), run(t, vm, "scripts.length").ToInteger())
		assert.Equal(t, "/app/_aleph/pages/index.bundle.0123abcd.js", run(t, vm, "scripts[0].src").String())

		run(t, vm, `__ALEPH.pack["/pages/index.tsx"] = { title: "home" }; scripts[0].onload();`)
		assert.Equal(t, "home", run(t, vm, "results.title").String())
	})

	t.Run("exact name wins", func(t *testing.T) {
		vm := newLoaderVM(t, "", testManifest)
		run(t, vm, `__ALEPH.import("/lib/util.ts");`)
		assert.Equal(t, "/_aleph/lib/util.ts.bundle.89abcdef.js", run(t, vm, "scripts[0].src").String())
	})

	t.Run("concurrent imports share one script", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		same := run(t, vm, `
var a = __ALEPH.import("/pages/index.tsx");
var b = __ALEPH.import("/pages/index.tsx");
a === b;
`)
		assert.True(t, same.ToBoolean())
		assert.Equal(t, int64(1), run(t, vm, "scripts.length").ToInteger())

		run(t, vm, `
__ALEPH.pack["/pages/index.tsx"] = { n: 1 };
results.resolved = 0;
a.then(function () { results.resolved++; });
b.then(function () { results.resolved++; });
scripts[0].onload();
`)
		assert.Equal(t, int64(2), run(t, vm, "results.resolved").ToInteger())
	})

	t.Run("failed load can be retried", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		run(t, vm, `
__ALEPH.import("/pages/index.tsx").catch(function (e) { results.err = e.message; });
scripts[0].onerror();
`)
		assert.Equal(t, "failed to load /app/_aleph/pages/index.bundle.0123abcd.js", run(t, vm, "results.err").String())

		run(t, vm, `__ALEPH.import("/pages/index.tsx");`)
		assert.Equal(t, int64(2), run(t, vm, "scripts.length").ToInteger())
	})

	t.Run("forced reload busts the cache", func(t *testing.T) {
		vm := newLoaderVM(t, "/app/", testManifest)
		run(t, vm, `__ALEPH.import("/pages/index.tsx", true);`)
		assert.Regexp(t, `^/app/_aleph/pages/index\.bundle\.0123abcd\.js\?t=\d+$`, run(t, vm, "scripts[0].src").String())
	})

	t.Run("chunks evaluated before the loader keep their pack", func(t *testing.T) {
		vm := goja.New()
		_, err := vm.RunString(domStub + packPrelude() + `__ALEPH.pack["https://esm.sh/react"] = { version: "18" };`)
		require.NoError(t, err)
		_, err = vm.RunString(RuntimeLoader("/", []byte(testManifest)))
		require.NoError(t, err)

		run(t, vm, `__ALEPH.import("https://esm.sh/react").then(function (m) { results.version = m.version; });`)
		assert.Equal(t, "18", run(t, vm, "results.version").String())
		assert.Equal(t, "/pages/index.bundle.0123abcd.js", run(t, vm, `__ALEPH.bundledFiles["/pages/index"]`).String())
	})
}

func TestRuntimeLoader_EmptyManifest(t *testing.T) {
	js := RuntimeLoader("", nil)

	assert.Contains(t, js, `g.basePath = "";`)
	assert.Contains(t, js, "Object.assign(g.bundledFiles || {}, {})")
}

func TestPackPrelude(t *testing.T) {
	result := api.Transform(packPrelude(), api.TransformOptions{Loader: api.LoaderJS})

	require.Empty(t, result.Errors)
	assert.Contains(t, packPrelude(), "window.__ALEPH = window.__ALEPH ||")
}
