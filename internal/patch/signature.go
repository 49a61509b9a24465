package patch

import (
	"context"
	"errors"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docpatch/internal/lang"
)

// header is the part of a function signature a signature edit replaces.
type header struct {
	params     string
	returnType string
}

var errNotAFunction = errors.New("not a function header")

// parseHeader parses a replacement signature in isolation. It accepts a full
// header ("def f(a: int) -> int:"), a bare name and parameter list
// ("f(a: int) -> int") or just the parameter list ("(a: int) -> int").
// Decorators on a full header are ignored. A placeholder body is appended so
// the header parses on its own.
func (p *Patcher) parseHeader(ctx context.Context, signature string) (header, error) {
	raw := strings.TrimSpace(signature)
	switch {
	case strings.HasPrefix(raw, "def "), strings.HasPrefix(raw, "async def "), strings.HasPrefix(raw, "@"):
	case strings.HasPrefix(raw, "("):
		raw = "def f" + raw
	default:
		raw = "def " + raw
	}
	if !strings.HasSuffix(raw, ":") {
		raw += ":"
	}
	stub := []byte(raw + " pass\n")

	tree, err := p.lang.Parse(ctx, p.parser, stub)
	if err != nil {
		return header{}, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.NamedChildCount() != 1 {
		return header{}, errNotAFunction
	}
	fn := root.NamedChild(0)
	if fn.Type() == "decorated_definition" {
		fn = fn.ChildByFieldName("definition")
	}
	if fn == nil || fn.Type() != "function_definition" {
		return header{}, errNotAFunction
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return header{}, errNotAFunction
	}

	h := header{params: lang.NodeText(params, stub)}
	if rt := fn.ChildByFieldName("return_type"); rt != nil {
		h.returnType = lang.NodeText(rt, stub)
	}
	return h, nil
}

// signatureSplice replaces the parameter list and return annotation of def
// with those of h. The name, decorators and body are left alone.
func signatureSplice(def *sitter.Node, h header) splice {
	params := def.ChildByFieldName("parameters")
	end := params.EndByte()
	if rt := def.ChildByFieldName("return_type"); rt != nil {
		end = rt.EndByte()
	}

	text := h.params
	if h.returnType != "" {
		text += " -> " + h.returnType
	}
	return splice{start: params.StartByte(), end: end, text: text}
}
