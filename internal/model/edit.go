package model

// FunctionEdit is a requested change to one function or method.
// A nil Docstring or Signature leaves that part unchanged.
type FunctionEdit struct {
	Qualname  string  `json:"qualname" validate:"required,qualname"`
	Docstring *string `json:"docstring"`
	Signature *string `json:"signature"`
}

// ClassEdit is a requested change to one class. MethodEdits carry fully
// qualified names (e.g. "Outer.method").
type ClassEdit struct {
	Qualname    string         `json:"qualname" validate:"required,qualname"`
	Docstring   *string        `json:"docstring"`
	MethodEdits []FunctionEdit `json:"method_edits" validate:"dive"`
}

// ModuleEdit is the complete edit set for one source file, as returned by
// the model.
type ModuleEdit struct {
	FunctionEdits []FunctionEdit `json:"function_edits" validate:"dive"`
	ClassEdits    []ClassEdit    `json:"class_edits" validate:"dive"`
}

// EditKind discriminates the variants of Edit.
type EditKind int

const (
	KindFunction EditKind = iota + 1
	KindClass
)

func (k EditKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindClass:
		return "class"
	default:
		return "unknown"
	}
}

// Edit is a tagged union of FunctionEdit and ClassEdit. Exactly one of
// Function or Class is set, matching Kind.
type Edit struct {
	Kind     EditKind
	Function *FunctionEdit
	Class    *ClassEdit
}

// FunctionEditOf wraps a FunctionEdit in an Edit.
func FunctionEditOf(fe FunctionEdit) Edit {
	return Edit{Kind: KindFunction, Function: &fe}
}

// ClassEditOf wraps a ClassEdit in an Edit.
func ClassEditOf(ce ClassEdit) Edit {
	return Edit{Kind: KindClass, Class: &ce}
}

// Qualname returns the qualified name the edit targets.
func (e Edit) Qualname() string {
	switch e.Kind {
	case KindFunction:
		return e.Function.Qualname
	case KindClass:
		return e.Class.Qualname
	}
	return ""
}

// Docstring returns the requested docstring, or nil if unchanged.
func (e Edit) Docstring() *string {
	switch e.Kind {
	case KindFunction:
		return e.Function.Docstring
	case KindClass:
		return e.Class.Docstring
	}
	return nil
}

// EditSet maps qualified names to the edit requested for that definition.
type EditSet map[string]Edit
