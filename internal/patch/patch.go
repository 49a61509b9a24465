// Package patch rewrites docstrings and signatures of Python definitions
// addressed by qualified name, leaving every other byte of the source intact.
//
// tree-sitter trees are read-only, so a patch is computed as a set of
// non-overlapping byte-range replacements over the original source. The
// output is rebuilt by copying the untouched ranges verbatim around the new
// text.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docpatch/internal/lang"
	"github.com/phobologic/docpatch/internal/model"
	"github.com/phobologic/docpatch/internal/parse"
)

const defaultIndentUnit = "    "

var (
	// ErrParse is returned when the source to patch is not valid Python.
	ErrParse = errors.New("source does not parse")

	// ErrUnparseableSignature is returned when a replacement signature is not
	// a valid function header.
	ErrUnparseableSignature = errors.New("unparseable signature")
)

// SignatureError reports the edit whose signature could not be parsed.
type SignatureError struct {
	Qualname  string
	Signature string
	Err       error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: %v: %q: %v", e.Qualname, ErrUnparseableSignature, e.Signature, e.Err)
}

func (e *SignatureError) Unwrap() []error {
	return []error{ErrUnparseableSignature, e.Err}
}

// Result describes a completed patch.
type Result struct {
	Source []byte
	// Applied lists the qualified names that were rewritten, in source order.
	Applied []string
	// Stale lists edit keys that matched no definition of their kind, sorted.
	Stale []string
	// Duplicates lists qualified names defined more than once; only the first
	// definition of each was eligible for patching.
	Duplicates []string
}

// Patcher applies edit sets to Python source. A Patcher owns a tree-sitter
// parser and must not be used from more than one goroutine at a time; use
// one Patcher per worker.
type Patcher struct {
	lang   *lang.Language
	parser *sitter.Parser
}

// New returns a Patcher for the Python grammar.
func New() *Patcher {
	py := lang.Python()
	return &Patcher{lang: py, parser: py.NewParser()}
}

// Close releases the underlying parser.
func (p *Patcher) Close() {
	p.parser.Close()
}

// Apply parses source and returns it with edits applied. It is a
// convenience wrapper that uses a throwaway Patcher.
func Apply(ctx context.Context, source []byte, edits model.EditSet) ([]byte, error) {
	p := New()
	defer p.Close()
	return p.Apply(ctx, source, edits)
}

// Apply parses source and returns it with edits applied.
func (p *Patcher) Apply(ctx context.Context, source []byte, edits model.EditSet) ([]byte, error) {
	res, err := p.Patch(ctx, source, edits)
	if err != nil {
		return nil, err
	}
	return res.Source, nil
}

// Objects returns the addressable objects of source using the Patcher's
// parser.
func (p *Patcher) Objects(ctx context.Context, source []byte) ([]model.Object, error) {
	objs, err := parse.ExtractObjects(ctx, p.lang, p.parser, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return objs, nil
}

// Patch parses source and applies edits, reporting what was done.
func (p *Patcher) Patch(ctx context.Context, source []byte, edits model.EditSet) (*Result, error) {
	if len(bytes.TrimSpace(source)) == 0 {
		return &Result{Source: bytes.Clone(source), Stale: staleKeys(edits, nil)}, nil
	}

	tree, err := p.lang.Parse(ctx, p.parser, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	defer tree.Close()

	return p.PatchTree(ctx, tree, source, edits)
}

// PatchTree applies edits to an already parsed tree of source. Either the
// whole edit set is applied or an error is returned and nothing is.
func (p *Patcher) PatchTree(ctx context.Context, tree *sitter.Tree, source []byte, edits model.EditSet) (*Result, error) {
	defs := parse.Definitions(p.lang, tree.RootNode(), source)
	res := &Result{Duplicates: parse.Duplicates(parse.QualifiedNames(defs))}

	f := &file{
		source:  source,
		defs:    defs,
		newline: detectNewline(source),
	}

	seen := make(map[string]bool, len(defs))
	matched := make(map[string]bool, len(edits))
	var splices []splice
	for _, d := range defs {
		if seen[d.Qualname] {
			continue
		}
		seen[d.Qualname] = true

		edit, ok := edits[d.Qualname]
		if !ok {
			continue
		}

		var (
			s   []splice
			err error
		)
		switch edit.Kind {
		case model.KindClass:
			if d.Kind == model.Class {
				matched[d.Qualname] = true
				s = f.docstringSplices(d.Node, edit.Class.Docstring)
			}
		case model.KindFunction:
			if d.Kind != model.Class {
				matched[d.Qualname] = true
				s, err = p.functionSplices(ctx, f, d, edit.Function)
			}
		}
		if err != nil {
			return nil, err
		}
		if len(s) > 0 {
			res.Applied = append(res.Applied, d.Qualname)
			splices = append(splices, s...)
		}
	}

	out, err := applySplices(source, splices)
	if err != nil {
		return nil, err
	}
	res.Source = out
	res.Stale = staleKeys(edits, matched)
	return res, nil
}

func (p *Patcher) functionSplices(ctx context.Context, f *file, d parse.Definition, fe *model.FunctionEdit) ([]splice, error) {
	splices := f.docstringSplices(d.Node, fe.Docstring)
	if fe.Signature == nil || strings.TrimSpace(*fe.Signature) == "" {
		return splices, nil
	}

	hdr, err := p.parseHeader(ctx, *fe.Signature)
	if err != nil {
		return nil, &SignatureError{Qualname: d.Qualname, Signature: *fe.Signature, Err: err}
	}
	return append(splices, signatureSplice(d.Node, hdr)), nil
}

func staleKeys(edits model.EditSet, seen map[string]bool) []string {
	var stale []string
	for name := range edits {
		if !seen[name] {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}

// splice replaces source[start:end] with text. start == end inserts.
type splice struct {
	start, end uint32
	text       string
}

func applySplices(source []byte, splices []splice) ([]byte, error) {
	sort.SliceStable(splices, func(i, j int) bool {
		return splices[i].start < splices[j].start
	})

	var b bytes.Buffer
	b.Grow(len(source))
	var pos uint32
	for _, s := range splices {
		if s.start < pos || s.end < s.start || int(s.end) > len(source) {
			return nil, fmt.Errorf("overlapping rewrite at byte %d", s.start)
		}
		b.Write(source[pos:s.start])
		b.WriteString(s.text)
		pos = s.end
	}
	b.Write(source[pos:])
	return b.Bytes(), nil
}

func detectNewline(source []byte) string {
	if i := bytes.IndexByte(source, '\n'); i > 0 && source[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
