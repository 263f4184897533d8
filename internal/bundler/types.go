package bundler

import (
	"context"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

// ModuleKind classifies a module by the kind of source it was compiled from.
type ModuleKind string

const (
	KindScript ModuleKind = "script"
	KindStyle  ModuleKind = "style"
	KindJSON   ModuleKind = "json"
	KindOther  ModuleKind = "other"
)

// SourceType is the syntax of a module's source code.
type SourceType string

const (
	SourceJS   SourceType = "js"
	SourceJSX  SourceType = "jsx"
	SourceTS   SourceType = "ts"
	SourceTSX  SourceType = "tsx"
	SourceJSON SourceType = "json"
	SourceCSS  SourceType = "css"
)

// Kind returns the module kind produced by compiling a source of this type.
func (t SourceType) Kind() ModuleKind {
	switch t {
	case SourceJS, SourceJSX, SourceTS, SourceTSX:
		return KindScript
	case SourceCSS:
		return KindStyle
	case SourceJSON:
		return KindJSON
	default:
		return KindOther
	}
}

// Dependency is an edge from a module to one of its static imports.
type Dependency struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
	// External is set when the dependency is provided at runtime and must never
	// be inlined into the dependent's chunk.
	External bool `json:"external,omitempty"`
}

// Module is a node of the module graph as seen by the bundler.
type Module struct {
	URL    string       `json:"url"`
	JSFile string       `json:"jsFile"`
	Hash   string       `json:"hash"`
	Kind   ModuleKind   `json:"kind"`
	Deps   []Dependency `json:"deps"`
}

// Source is the raw code of a module.
type Source struct {
	Code []byte
	Type SourceType
}

// Entry is an entry point of a bundling session.
type Entry struct {
	URL    string `json:"url" mapstructure:"url"`
	Shared bool   `json:"shared" mapstructure:"shared"`
}

// ModuleGraph supplies parsed modules, their dependency edges and source hashes.
type ModuleGraph interface {
	// Module returns the module registered under url.
	Module(url string) (*Module, bool)
	// ResolveModule returns the source code of url. It returns an error
	// wrapping ErrModuleNotFound when the graph has no source for it.
	ResolveModule(ctx context.Context, url string) (*Source, error)
	// MainJS returns the framework bootstrap code appended to the loader.
	MainJS(ctx context.Context, minify bool) (string, error)
}

// TransformOptions configures a single transpile call.
type TransformOptions struct {
	Target     string
	SourceType SourceType
	// BundleMode rewrites internal dependency imports into placeholder markers
	// and external ones into loader pack lookups.
	BundleMode     bool
	BundleExternal ExternalSet
	// External lists modules provided to the page by other means. Imports of
	// them read from the pack table in both modes.
	External ExternalSet
	BuildDir string
}

// TransformResult is the output of a transpile call.
type TransformResult struct {
	Code string
	// StarExports lists, by placeholder index, the target URL of every
	// "export * from" whose names must be resolved at bundle time.
	StarExports []string
}

// Transpiler turns module source into browser JavaScript.
type Transpiler interface {
	Transform(ctx context.Context, url string, code []byte, opts TransformOptions) (*TransformResult, error)
	ParseExportNames(ctx context.Context, url string, code []byte, sourceType SourceType) ([]string, error)
}

// BuildRequest describes one invocation of the external bundler.
type BuildRequest struct {
	EntryPoint   string
	Outfile      string
	Target       string
	Browserslist []string
	Minify       bool
}

// Engine bundles, minifies and tree-shakes an entry file into a single output.
type Engine interface {
	Build(ctx context.Context, req BuildRequest) error
	// Close releases resources held by the engine for the current session.
	Close() error
}

// ExternalSet is a sorted, de-duplicated set of module URLs provided by
// previously built chunks.
type ExternalSet []string

// NewExternalSet builds a set from urls.
func NewExternalSet(urls ...string) ExternalSet {
	seen := make(map[string]struct{}, len(urls))
	set := make(ExternalSet, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		set = append(set, u)
	}
	sort.Strings(set)
	return set
}

// Contains reports whether url is external.
func (s ExternalSet) Contains(url string) bool {
	i := sort.SearchStrings(s, url)
	return i < len(s) && s[i] == url
}

// Union returns a new set holding the members of both sets.
func (s ExternalSet) Union(other ExternalSet) ExternalSet {
	all := make([]string, 0, len(s)+len(other))
	all = append(all, s...)
	all = append(all, other...)
	return NewExternalSet(all...)
}

// Fingerprint is a stable digest of the set, used in compile cache keys.
func (s ExternalSet) Fingerprint() string {
	if len(s) == 0 {
		return "none"
	}
	return naming.ShortHash(naming.ComputeStringHash(strings.Join(s, "\n")))
}

// Scope names the artifact variant compiled against this set.
func (s ExternalSet) Scope() string {
	if len(s) == 0 {
		return ""
	}
	return s.Fingerprint()
}
