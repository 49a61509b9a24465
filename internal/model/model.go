// Package model defines core data structures for docpatch.
package model

// SymbolKind indicates the syntactic kind of an addressable definition.
type SymbolKind string

const (
	Class    SymbolKind = "class"
	Function SymbolKind = "function"
	Method   SymbolKind = "method"
)

// Object is a function or class definition addressable by qualified name.
type Object struct {
	Qualname  string
	Kind      SymbolKind
	Line      int
	Signature string
}

// SourceModule is one Python file: its path relative to the project root,
// its raw source text and the objects defined in it.
type SourceModule struct {
	Path    string
	Code    []byte
	Objects []Object
}

// ModuleObjects lists the addressable objects of one file.
type ModuleObjects struct {
	Path    string
	Objects []Object
}

// FileStatus is the outcome of processing one file.
type FileStatus string

const (
	StatusPatched   FileStatus = "patched"
	StatusUnchanged FileStatus = "unchanged"
	StatusSkipped   FileStatus = "skipped"
	StatusFailed    FileStatus = "failed"
)

// FileReport describes what an update did to one file.
type FileReport struct {
	Path       string
	Status     FileStatus
	Applied    []string
	Stale      []string
	Duplicates []string
	// Detail is the skip reason or failure message.
	Detail string
}
