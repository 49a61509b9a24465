package patch

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docpatch/internal/parse"
)

// file carries the per-source state needed to lay out new docstrings.
type file struct {
	source  []byte
	defs    []parse.Definition
	newline string
	unit    string
}

// docstringSplices returns the rewrite that makes text the docstring of the
// definition node's body. A nil or blank text yields no rewrite.
func (f *file) docstringSplices(def *sitter.Node, text *string) []splice {
	if text == nil {
		return nil
	}
	clean := cleanDocstring(*text)
	if clean == "" {
		return nil
	}

	body := def.ChildByFieldName("body")
	colon := headerColon(def)
	if body == nil || colon == nil {
		return nil
	}
	first := firstStatement(body)
	if first == nil {
		return nil
	}

	// One-line body ("def f(): ..."): move the statements onto their own
	// line below the new docstring.
	if first.StartPoint().Row == colon.EndPoint().Row {
		indent := f.lineIndent(def.StartByte()) + f.indentUnit()
		lead := f.newline + indent
		doc := renderDocstring(clean, indent, f.newline)
		if isDocstring(first, f.source) {
			return []splice{{start: colon.EndByte(), end: first.EndByte(), text: lead + doc}}
		}
		return []splice{{start: colon.EndByte(), end: first.StartByte(), text: lead + doc + lead}}
	}

	indent, ok := f.indentAt(first.StartByte())
	if !ok {
		indent = f.lineIndent(def.StartByte()) + f.indentUnit()
	}
	doc := renderDocstring(clean, indent, f.newline)

	if isDocstring(first, f.source) {
		return []splice{{start: first.StartByte(), end: first.EndByte(), text: doc}}
	}

	at := f.lineEnd(colon.EndByte())
	return []splice{{start: at, end: at, text: f.newline + indent + doc}}
}

// headerColon returns the ":" token that ends a definition header.
func headerColon(def *sitter.Node) *sitter.Node {
	var colon *sitter.Node
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		if child.Type() == "block" {
			break
		}
		if child.Type() == ":" {
			colon = child
		}
	}
	return colon
}

// firstStatement returns the first non-comment statement of a block.
func firstStatement(block *sitter.Node) *sitter.Node {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() != "comment" {
			return child
		}
	}
	return nil
}

// isDocstring reports whether stmt is a bare string-literal expression.
// f-strings are expressions that run, so they never count.
func isDocstring(stmt *sitter.Node, source []byte) bool {
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() != 1 {
		return false
	}
	return isPlainString(stmt.NamedChild(0), source)
}

func isPlainString(n *sitter.Node, source []byte) bool {
	switch n.Type() {
	case "string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "interpolation" {
				return false
			}
		}
		text := source[n.StartByte():n.EndByte()]
		q := strings.IndexAny(string(text), `"'`)
		return q >= 0 && !strings.ContainsAny(string(text[:q]), "fF")
	case "concatenated_string":
		if n.NamedChildCount() == 0 {
			return false
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if !isPlainString(n.NamedChild(i), source) {
				return false
			}
		}
		return true
	}
	return false
}

func (f *file) lineStart(pos uint32) uint32 {
	for pos > 0 && f.source[pos-1] != '\n' {
		pos--
	}
	return pos
}

// lineEnd returns the offset of the line terminator at or after pos.
func (f *file) lineEnd(pos uint32) uint32 {
	for int(pos) < len(f.source) && f.source[pos] != '\n' {
		pos++
	}
	if pos > 0 && int(pos) <= len(f.source) && f.newline == "\r\n" && f.source[pos-1] == '\r' {
		pos--
	}
	return pos
}

// indentAt returns the text between the start of pos's line and pos when
// it is pure indentation.
func (f *file) indentAt(pos uint32) (string, bool) {
	prefix := string(f.source[f.lineStart(pos):pos])
	if strings.TrimLeft(prefix, " \t") != "" {
		return "", false
	}
	return prefix, true
}

// lineIndent returns the leading whitespace of the line containing pos.
func (f *file) lineIndent(pos uint32) string {
	line := f.source[f.lineStart(pos):]
	n := 0
	for n < len(line) && (line[n] == ' ' || line[n] == '\t') {
		n++
	}
	return string(line[:n])
}

// indentUnit returns the indentation step used by the file, taken from the
// first definition whose body starts on its own line.
func (f *file) indentUnit() string {
	if f.unit != "" {
		return f.unit
	}
	f.unit = defaultIndentUnit
	for _, d := range f.defs {
		body := d.Node.ChildByFieldName("body")
		colon := headerColon(d.Node)
		if body == nil || colon == nil {
			continue
		}
		first := firstStatement(body)
		if first == nil || first.StartPoint().Row == colon.EndPoint().Row {
			continue
		}
		inner, ok := f.indentAt(first.StartByte())
		outer := f.lineIndent(d.Node.StartByte())
		if ok && len(inner) > len(outer) && strings.HasPrefix(inner, outer) {
			f.unit = inner[len(outer):]
			break
		}
	}
	return f.unit
}
