// Package naming implements the content-hash naming scheme shared by every
// bundling component: digests, short hashes, bundle filenames and the on-disk
// layout of intermediate artifacts.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// ShortHashLen is the number of hex characters of a digest used in filenames.
	ShortHashLen = 8

	// MarkerHashLen is the number of hex characters embedded in dependency markers.
	MarkerHashLen = 6

	bundleSegment = ".bundle."
	remoteDir     = "_remote"
)

var hashedJSPattern = regexp.MustCompile(`\.[0-9a-f]{8}\.js$`)

// ComputeHash returns the hex encoded sha256 digest of the concatenated parts.
func ComputeHash(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeStringHash is ComputeHash for string parts.
func ComputeStringHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ShortHash returns the filename prefix of a hex digest.
func ShortHash(hash string) string {
	return prefix(hash, ShortHashLen)
}

// MarkerHash returns the prefix of a hex digest embedded in dependency markers.
func MarkerHash(hash string) string {
	return prefix(hash, MarkerHashLen)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// BundleFileName returns "<name>.bundle.<shorthash>.js".
func BundleFileName(name, hash string) string {
	return name + bundleSegment + ShortHash(hash) + ".js"
}

// IsHashedJS reports whether filename carries an 8 hex character hash
// immediately before ".js".
func IsHashedJS(filename string) bool {
	return hashedJSPattern.MatchString(filename)
}

// LogicalName strips the trailing ".bundle.<hash>.js" from a bundle filename.
// Filenames without a bundle segment are returned without the hash and
// extension.
func LogicalName(filename string) string {
	base := strings.TrimSuffix(filename, ".js")
	if i := strings.LastIndex(base, bundleSegment); i >= 0 {
		return base[:i]
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// TrimModuleExt removes the extension of the last path element of a module URL.
func TrimModuleExt(u string) string {
	slash := strings.LastIndex(u, "/")
	dot := strings.LastIndex(u, ".")
	if dot > slash && dot > 0 {
		return u[:dot]
	}
	return u
}

// IsRemote reports whether u is an absolute http(s) module URL.
func IsRemote(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

// ModulePath maps a module URL to a slash separated path relative to the build
// directory, without extension. Remote modules live under "_remote/<host>".
func ModulePath(u string) string {
	if !IsRemote(u) {
		return strings.TrimPrefix(TrimModuleExt(path.Clean("/"+u)), "/")
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return path.Join(remoteDir, ShortHash(ComputeStringHash(u)))
	}
	host := strings.ReplaceAll(parsed.Host, ":", "_")
	p := TrimModuleExt(path.Clean("/" + parsed.Path))
	if p == "/" {
		p = "/index"
	}
	if parsed.RawQuery != "" {
		p += "." + ShortHash(ComputeStringHash(parsed.RawQuery))
	}
	return path.Join(remoteDir, host, p)
}

// BundlingArtifactPath is the bundle-mode artifact of a module:
// "<buildDir>/<modulePathWithoutExt>.bundling.js". A non-empty scope
// identifies the external set the artifact was compiled against and yields
// "<modulePathWithoutExt>.<scope>.bundling.js".
func BundlingArtifactPath(buildDir, u, scope string) string {
	p := filepath.FromSlash(ModulePath(u))
	if scope != "" {
		p += "." + scope
	}
	return filepath.Join(buildDir, p+".bundling.js")
}

// CompiledArtifactPath is the non-bundle compiled module: "<buildDir>/<modulePathWithoutExt>.js".
func CompiledArtifactPath(buildDir, u string) string {
	return filepath.Join(buildDir, filepath.FromSlash(ModulePath(u))+".js")
}

// ChunkPath is the on-disk location of a bundle file for a chunk name.
func ChunkPath(buildDir, name, hash string) string {
	return filepath.Join(buildDir, filepath.FromSlash(BundleFileName(strings.TrimPrefix(name, "/"), hash)))
}

// ResolveImport resolves an import specifier against the URL of the importing
// module. Relative and root-relative specifiers keep the importer's origin.
// Bare specifiers are returned unchanged with ok == false.
func ResolveImport(importer, specifier string) (string, bool) {
	if IsRemote(specifier) {
		return specifier, true
	}
	if !strings.HasPrefix(specifier, "./") && !strings.HasPrefix(specifier, "../") && !strings.HasPrefix(specifier, "/") {
		return specifier, false
	}
	if IsRemote(importer) {
		base, err := url.Parse(importer)
		if err != nil {
			return specifier, false
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return specifier, false
		}
		return base.ResolveReference(ref).String(), true
	}
	if strings.HasPrefix(specifier, "/") {
		return path.Clean(specifier), true
	}
	return path.Join(path.Dir("/"+strings.TrimPrefix(importer, "/")), specifier), true
}

// RelativeImport returns an ES module specifier that reaches file "to" from a
// module stored at "from". Both are filesystem paths.
func RelativeImport(from, to string) string {
	rel, err := filepath.Rel(filepath.Dir(from), to)
	if err != nil {
		return filepath.ToSlash(to)
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}
