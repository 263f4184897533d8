package modgraph

import (
	"path"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

// ImportMap maps bare specifiers to module URLs. Keys ending in "/" map every
// specifier with that prefix.
type ImportMap struct {
	imports  map[string]string
	prefixes []string
}

// NewImportMap creates an import map from "specifier: url" pairs. Local
// targets are relative to the app root.
func NewImportMap(imports map[string]string) *ImportMap {
	m := &ImportMap{imports: make(map[string]string, len(imports))}
	for k, v := range imports {
		m.imports[k] = v
		if strings.HasSuffix(k, "/") {
			m.prefixes = append(m.prefixes, k)
		}
	}
	// longest prefix wins
	sort.Slice(m.prefixes, func(i, j int) bool {
		if len(m.prefixes[i]) != len(m.prefixes[j]) {
			return len(m.prefixes[i]) > len(m.prefixes[j])
		}
		return m.prefixes[i] < m.prefixes[j]
	})
	return m
}

// Resolve maps specifier, imported from importer, to a module URL. Specifiers
// the map does not cover fall back to relative URL resolution.
func (m *ImportMap) Resolve(importer, specifier string) (string, bool) {
	if m != nil {
		if target, ok := m.imports[specifier]; ok {
			return normalizeTarget(target)
		}
		for _, p := range m.prefixes {
			if strings.HasPrefix(specifier, p) {
				return normalizeTarget(m.imports[p] + strings.TrimPrefix(specifier, p))
			}
		}
	}
	return naming.ResolveImport(importer, specifier)
}

// Len returns the number of mappings.
func (m *ImportMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.imports)
}

func normalizeTarget(target string) (string, bool) {
	switch {
	case naming.IsRemote(target):
		return target, true
	case strings.HasPrefix(target, "/"):
		return path.Clean(target), true
	case strings.HasPrefix(target, "./"), strings.HasPrefix(target, "../"):
		return path.Join("/", target), true
	default:
		return target, false
	}
}
