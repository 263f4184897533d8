package engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

const remoteNamespace = "remote"

// urlPlugin keeps http(s) modules out of the filesystem resolver and strips
// the "#<url>@<hash>" fragments chunk entries use to tell imports apart.
func urlPlugin(ctx context.Context, fetcher Fetcher) api.Plugin {
	return api.Plugin{
		Name: "fluxpack-url",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^https?://`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				return api.OnResolveResult{Path: stripFragment(args.Path), Namespace: remoteNamespace}, nil
			})

			// imports inside a remote module resolve against its URL
			build.OnResolve(api.OnResolveOptions{Filter: `.*`, Namespace: remoteNamespace}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				u, ok := naming.ResolveImport(args.Importer, args.Path)
				if !ok {
					return api.OnResolveResult{}, fmt.Errorf("cannot resolve %q from %s", args.Path, args.Importer)
				}
				return api.OnResolveResult{Path: u, Namespace: remoteNamespace}, nil
			})

			build.OnResolve(api.OnResolveOptions{Filter: `^\.{0,2}/.*#`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				p := filepath.FromSlash(stripFragment(args.Path))
				if !filepath.IsAbs(p) {
					p = filepath.Join(args.ResolveDir, p)
				}
				return api.OnResolveResult{Path: p, Namespace: "file"}, nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: remoteNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				if fetcher == nil {
					return api.OnLoadResult{}, fmt.Errorf("no source cache configured for %s", args.Path)
				}
				data, err := fetcher.Fetch(ctx, args.Path)
				if err != nil {
					return api.OnLoadResult{}, err
				}
				contents := string(data)
				return api.OnLoadResult{Contents: &contents, Loader: loaderFor(args.Path)}, nil
			})
		},
	}
}

func stripFragment(p string) string {
	if i := strings.IndexByte(p, '#'); i >= 0 {
		return p[:i]
	}
	return p
}

// loaderFor picks the esbuild loader from a module URL's extension.
func loaderFor(u string) api.Loader {
	p := u
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".mts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	default:
		return api.LoaderJS
	}
}
