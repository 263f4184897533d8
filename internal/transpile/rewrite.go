package transpile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

type edit struct {
	start, end int
	text       string
}

type rewriter struct {
	t    *Transpiler
	url  string
	self string
	opts bundler.TransformOptions

	edits []edit
	stars []string
}

func (r *rewriter) rewrite(ref moduleRef) {
	dep, ok := r.t.resolve(r.url, ref.specifier)
	if !ok {
		return
	}

	provided := r.opts.External.Contains(dep)
	if !r.opts.BundleMode && !provided {
		to := naming.CompiledArtifactPath(r.opts.BuildDir, dep)
		r.replaceSpecifier(ref, naming.RelativeImport(r.self, to))
		return
	}

	if !provided && !r.opts.BundleExternal.Contains(dep) {
		to := naming.BundlingArtifactPath(r.opts.BuildDir, dep, r.opts.BundleExternal.Scope())
		r.replaceSpecifier(ref, naming.RelativeImport(r.self, to)+"#"+dep+"@"+bundler.EmptyMarkerHash)
		return
	}

	pack := fmt.Sprintf("%s.pack[%s]", bundler.LoaderGlobal, jsString(dep))
	switch ref.kind {
	case refDynamic:
		r.replaceStatement(ref, fmt.Sprintf("%s.import(%s)", bundler.LoaderGlobal, jsString(dep)))
	case refImport:
		r.replaceStatement(ref, importFromPack(ref, pack))
	case refExportNamespace:
		r.replaceStatement(ref, fmt.Sprintf("export const %s = %s;", ref.namespace, pack))
	case refExportNamed:
		r.replaceStatement(ref, exportFromPack(ref, pack))
	case refExportAll:
		n := len(r.stars)
		r.stars = append(r.stars, dep)
		r.replaceStatement(ref, fmt.Sprintf("export const %s%d = %s;", bundler.StarPlaceholderPrefix, n, pack))
	}
}

func (r *rewriter) replaceSpecifier(ref moduleRef, specifier string) {
	r.edits = append(r.edits, edit{start: ref.specStart, end: ref.specEnd, text: jsString(specifier)})
}

func (r *rewriter) replaceStatement(ref moduleRef, code string) {
	r.edits = append(r.edits, edit{start: ref.stmtStart, end: ref.stmtEnd, text: code})
}

// importFromPack binds the names of an import statement from a pack entry.
// A bare side-effect import of an external module is dropped.
func importFromPack(ref moduleRef, pack string) string {
	var stmts []string
	if ref.defaultName != "" {
		stmts = append(stmts, fmt.Sprintf("const %s = %s.default;", ref.defaultName, pack))
	}
	if ref.namespace != "" {
		stmts = append(stmts, fmt.Sprintf("const %s = %s;", ref.namespace, pack))
	}
	if len(ref.named) > 0 {
		stmts = append(stmts, fmt.Sprintf("const %s = %s;", destructure(ref.named), pack))
	}
	return strings.Join(stmts, " ")
}

func exportFromPack(ref moduleRef, pack string) string {
	var stmts []string
	var named []binding
	for _, b := range ref.named {
		if b.local() == "default" {
			stmts = append(stmts, fmt.Sprintf("export default %s[%s];", pack, jsString(b.name)))
			continue
		}
		named = append(named, b)
	}
	if len(named) > 0 {
		stmts = append([]string{fmt.Sprintf("export const %s = %s;", destructure(named), pack)}, stmts...)
	}
	return strings.Join(stmts, " ")
}

func destructure(bindings []binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		key := b.name
		if !isPlainKey(key) {
			key = jsString(key)
		}
		if b.alias == "" || b.alias == b.name {
			parts = append(parts, key)
			continue
		}
		parts = append(parts, key+": "+b.alias)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func isPlainKey(s string) bool {
	if s == "" || s == "default" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

func applyEdits(code string, edits []edit) string {
	if len(edits) == 0 {
		return code
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var b strings.Builder
	b.Grow(len(code))
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		b.WriteString(code[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(code[pos:])
	return b.String()
}
