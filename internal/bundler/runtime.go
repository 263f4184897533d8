package bundler

import (
	"fmt"
	"strconv"
	"strings"
)

// LoaderGlobal is the window property holding the runtime loader.
const LoaderGlobal = "__ALEPH"

// PublicDir is the URL and output subpath bundles are served from.
const PublicDir = "_aleph"

const loaderTemplate = `(function () {
  var g = window.%[1]s = window.%[1]s || {};
  var pending = {};
  g.basePath = %[2]s;
  g.pack = g.pack || {};
  g.bundledFiles = Object.assign(g.bundledFiles || {}, %[3]s);
  g.import = function (u, F) {
    if (Object.prototype.hasOwnProperty.call(g.pack, u)) {
      return Promise.resolve(g.pack[u]);
    }
    var n = u.replace(/\.[a-zA-Z0-9]+$/, '');
    var filename = g.bundledFiles[u] || g.bundledFiles[n];
    if (!filename) {
      return Promise.reject(new Error('invalid url: ' + u));
    }
    if (pending[u]) {
      return pending[u];
    }
    var p = new Promise(function (resolve, reject) {
      var s = document.createElement('script');
      s.src = g.basePath + '/%[4]s' + filename + (F ? '?t=' + Date.now() : '');
      s.onload = function () {
        delete pending[u];
        resolve(g.pack[u]);
      };
      s.onerror = function () {
        delete pending[u];
        reject(new Error('failed to load ' + s.src));
      };
      document.head.appendChild(s);
    });
    pending[u] = p;
    return p;
  };
})();
`

// RuntimeLoader generates the bootstrap script defining the loader global.
// manifest is a JSON object mapping module or chunk names to bundle filenames.
func RuntimeLoader(basePath string, manifest []byte) string {
	if len(manifest) == 0 {
		manifest = []byte("{}")
	}
	base := strings.TrimSuffix(basePath, "/")
	return fmt.Sprintf(loaderTemplate, LoaderGlobal, strconv.Quote(base), manifest, PublicDir)
}

// packPrelude makes sure a chunk evaluated before the loader still has a
// pack table to register into.
func packPrelude() string {
	return fmt.Sprintf("window.%[1]s = window.%[1]s || { basePath: \"\", pack: {}, bundledFiles: {} };\n", LoaderGlobal)
}
