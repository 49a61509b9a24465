// Package parse addresses function and class definitions in a tree-sitter
// tree by dotted qualified name.
package parse

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docpatch/internal/lang"
	"github.com/phobologic/docpatch/internal/model"
)

// Definition is a function or class definition node and the qualified name
// derived from its lexical nesting.
type Definition struct {
	Qualname string
	Name     string
	Kind     model.SymbolKind
	Node     *sitter.Node
}

// Definitions returns every definition under root in pre-order: a definition
// is reported before anything nested inside it. Two sibling definitions with
// the same name produce the same qualified name; both are reported.
func Definitions(l *lang.Language, root *sitter.Node, source []byte) []Definition {
	var defs []Definition
	collect(l, root, source, nil, "", &defs)
	return defs
}

// collect descends into node. scope is the qualified path of the enclosing
// definitions and enclosing is the kind of the innermost one ("" at module
// level). scope is never appended to in place, so sibling subtrees cannot
// observe each other's names.
func collect(l *lang.Language, node *sitter.Node, source []byte, scope []string, enclosing model.SymbolKind, defs *[]Definition) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		kind, ok := l.DefinitionKinds[child.Type()]
		if !ok {
			collect(l, child, source, scope, enclosing, defs)
			continue
		}

		nameNode := child.ChildByFieldName("name")
		if nameNode == nil {
			collect(l, child, source, scope, enclosing, defs)
			continue
		}
		name := lang.NodeText(nameNode, source)

		if kind == model.Function && enclosing == model.Class {
			kind = model.Method
		}

		inner := make([]string, len(scope), len(scope)+1)
		copy(inner, scope)
		inner = append(inner, name)

		*defs = append(*defs, Definition{
			Qualname: strings.Join(inner, "."),
			Name:     name,
			Kind:     kind,
			Node:     child,
		})

		if kind == model.Method {
			kind = model.Function
		}
		collect(l, child, source, inner, kind, defs)
	}
}

// QualifiedNames returns the qualified names of defs in order.
func QualifiedNames(defs []Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Qualname
	}
	return names
}

// Duplicates returns the qualified names that occur more than once in names,
// in order of their second occurrence.
func Duplicates(names []string) []string {
	seen := make(map[string]int, len(names))
	var dups []string
	for _, n := range names {
		seen[n]++
		if seen[n] == 2 {
			dups = append(dups, n)
		}
	}
	return dups
}

// Objects describes defs for prompts and listings.
func Objects(l *lang.Language, defs []Definition, source []byte) []model.Object {
	objs := make([]model.Object, len(defs))
	for i, d := range defs {
		objs[i] = model.Object{
			Qualname:  d.Qualname,
			Kind:      d.Kind,
			Line:      int(d.Node.ChildByFieldName("name").StartPoint().Row) + 1,
			Signature: l.ExtractSignature(d.Node, d.Kind, source),
		}
	}
	return objs
}

// ExtractObjects parses source and returns its addressable objects.
// The parser must be created for l.
func ExtractObjects(ctx context.Context, l *lang.Language, parser *sitter.Parser, source []byte) ([]model.Object, error) {
	if len(source) == 0 {
		return nil, nil
	}

	tree, err := l.Parse(ctx, parser, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	defs := Definitions(l, tree.RootNode(), source)
	return Objects(l, defs, source), nil
}
