package transpile

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

type refKind int

const (
	refImport refKind = iota
	refExportNamed
	refExportAll
	refExportNamespace
	refDynamic
)

type binding struct {
	name  string
	alias string
}

// local is the name a binding introduces in the importing module.
func (b binding) local() string {
	if b.alias != "" {
		return b.alias
	}
	return b.name
}

// moduleRef is one import specifier occurrence plus the statement around it.
type moduleRef struct {
	kind      refKind
	specifier string
	// stmtStart and stmtEnd bound the whole statement, or the import() call
	// for dynamic imports.
	stmtStart, stmtEnd int
	// specStart and specEnd bound the string literal, quotes included.
	specStart, specEnd int

	defaultName string
	namespace   string
	named       []binding
}

func parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

// scan finds every import and re-export specifier of an ES module.
func scan(ctx context.Context, src []byte) ([]moduleRef, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	var refs []moduleRef
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "import_statement":
			if ref, ok := importRef(stmt, src); ok {
				refs = append(refs, ref)
			}
		case "export_statement":
			if ref, ok := exportRef(stmt, src); ok {
				refs = append(refs, ref)
			}
		}
	}
	refs = append(refs, dynamicImports(root, src)...)
	return refs, nil
}

func importRef(stmt *sitter.Node, src []byte) (moduleRef, bool) {
	source := stmt.ChildByFieldName("source")
	if source == nil {
		return moduleRef{}, false
	}
	ref := newRef(refImport, stmt, source, src)

	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		clause := stmt.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			switch c.Type() {
			case "identifier":
				ref.defaultName = c.Content(src)
			case "namespace_import":
				if id := firstNamed(c, "identifier"); id != nil {
					ref.namespace = id.Content(src)
				}
			case "named_imports":
				ref.named = specifiers(c, "import_specifier", src)
			}
		}
	}
	return ref, true
}

func exportRef(stmt *sitter.Node, src []byte) (moduleRef, bool) {
	source := stmt.ChildByFieldName("source")
	if source == nil {
		return moduleRef{}, false
	}
	ref := newRef(refExportAll, stmt, source, src)

	if ns := firstNamed(stmt, "namespace_export"); ns != nil {
		ref.kind = refExportNamespace
		if ns.NamedChildCount() > 0 {
			ref.namespace = exportName(ns.NamedChild(0), src)
		}
	} else if clause := firstNamed(stmt, "export_clause"); clause != nil {
		ref.kind = refExportNamed
		ref.named = specifiers(clause, "export_specifier", src)
	}
	return ref, true
}

func dynamicImports(root *sitter.Node, src []byte) []moduleRef {
	var refs []moduleRef
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Type() == "call_expression" {
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn != nil && fn.Type() == "import" && args != nil && args.NamedChildCount() == 1 {
				if arg := args.NamedChild(0); arg.Type() == "string" {
					refs = append(refs, newRef(refDynamic, n, arg, src))
				}
			}
		}
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.NamedChild(i))
		}
	}
	return refs
}

func newRef(kind refKind, stmt, source *sitter.Node, src []byte) moduleRef {
	return moduleRef{
		kind:      kind,
		specifier: stringValue(source, src),
		stmtStart: int(stmt.StartByte()),
		stmtEnd:   int(stmt.EndByte()),
		specStart: int(source.StartByte()),
		specEnd:   int(source.EndByte()),
	}
}

func specifiers(list *sitter.Node, typ string, src []byte) []binding {
	var out []binding
	for i := 0; i < int(list.NamedChildCount()); i++ {
		spec := list.NamedChild(i)
		if spec.Type() != typ {
			continue
		}
		b := binding{}
		if n := spec.ChildByFieldName("name"); n != nil {
			b.name = exportName(n, src)
		}
		if a := spec.ChildByFieldName("alias"); a != nil {
			b.alias = exportName(a, src)
		}
		out = append(out, b)
	}
	return out
}

func firstNamed(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

// exportName returns an identifier, or the value of a string module export name.
func exportName(n *sitter.Node, src []byte) string {
	if n.Type() == "string" {
		return stringValue(n, src)
	}
	return n.Content(src)
}

func stringValue(n *sitter.Node, src []byte) string {
	raw := n.Content(src)
	if len(raw) >= 2 {
		return raw[1 : len(raw)-1]
	}
	return strings.Trim(raw, `"'`)
}

type exportSet struct {
	names    []string
	starFrom []string
}

// scanExports lists the names an ES module exports and the specifiers of
// its "export * from" directives.
func scanExports(ctx context.Context, src []byte) (*exportSet, error) {
	tree, err := parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	ex := &exportSet{}
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "export_statement" {
			continue
		}

		if source := stmt.ChildByFieldName("source"); source != nil {
			ref, _ := exportRef(stmt, src)
			switch ref.kind {
			case refExportAll:
				ex.starFrom = append(ex.starFrom, ref.specifier)
			case refExportNamespace:
				ex.names = append(ex.names, ref.namespace)
			case refExportNamed:
				for _, b := range ref.named {
					ex.names = append(ex.names, b.local())
				}
			}
			continue
		}

		if firstChild(stmt, "default") {
			ex.names = append(ex.names, "default")
			continue
		}
		if decl := stmt.ChildByFieldName("declaration"); decl != nil {
			ex.names = append(ex.names, declaredNames(decl, src)...)
			continue
		}
		if clause := firstNamed(stmt, "export_clause"); clause != nil {
			for _, b := range specifiers(clause, "export_specifier", src) {
				ex.names = append(ex.names, b.local())
			}
		}
	}
	return ex, nil
}

func firstChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func declaredNames(decl *sitter.Node, src []byte) []string {
	switch decl.Type() {
	case "lexical_declaration", "variable_declaration":
		var names []string
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			d := decl.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil {
				names = append(names, patternNames(name, src)...)
			}
		}
		return names
	default:
		if name := decl.ChildByFieldName("name"); name != nil {
			return []string{name.Content(src)}
		}
	}
	return nil
}

// patternNames lists the identifiers bound by a declaration pattern.
func patternNames(n *sitter.Node, src []byte) []string {
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		return []string{n.Content(src)}
	case "pair_pattern":
		if v := n.ChildByFieldName("value"); v != nil {
			return patternNames(v, src)
		}
		return nil
	case "assignment_pattern":
		if l := n.ChildByFieldName("left"); l != nil {
			return patternNames(l, src)
		}
		return nil
	case "object_assignment_pattern":
		if l := n.ChildByFieldName("left"); l != nil {
			return patternNames(l, src)
		}
		return nil
	}
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		names = append(names, patternNames(n.NamedChild(i), src)...)
	}
	return names
}
