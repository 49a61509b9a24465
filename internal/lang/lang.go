// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars.
package lang

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/docpatch/internal/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ErrSyntax is returned by Parse when the source contains syntax errors.
var ErrSyntax = errors.New("syntax error")

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// DefinitionKinds maps node types that introduce an addressable scope to
	// the kind of symbol they define.
	DefinitionKinds map[string]model.SymbolKind

	// ExtractSignature returns a signature string for a definition node.
	ExtractSignature func(node *sitter.Node, kind model.SymbolKind, source []byte) string
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Parse parses source with parser and rejects trees containing syntax errors.
// The caller must Close the returned tree.
func (l *Language) Parse(ctx context.Context, parser *sitter.Parser, source []byte) (*sitter.Tree, error) {
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", l.Name, err)
	}
	root := tree.RootNode()
	if root.HasError() {
		row := firstErrorRow(root)
		tree.Close()
		return nil, fmt.Errorf("%w near line %d", ErrSyntax, row+1)
	}
	return tree, nil
}

func firstErrorRow(node *sitter.Node) uint32 {
	if node.IsError() || node.IsMissing() {
		return node.StartPoint().Row
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			return firstErrorRow(child)
		}
	}
	return node.StartPoint().Row
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// Python returns the registered Python language.
func Python() *Language {
	return Languages["python"]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
