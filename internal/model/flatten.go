package model

// Flatten builds the edit set the patcher consumes. Every function and class
// edit is stored under its own qualified name; each method edit of a class is
// stored a second time under its own (already dotted) qualified name so that
// lookups do not depend on nesting. Later entries overwrite earlier ones.
func Flatten(me ModuleEdit) EditSet {
	edits := make(EditSet, len(me.FunctionEdits)+len(me.ClassEdits))
	for _, fe := range me.FunctionEdits {
		edits[fe.Qualname] = FunctionEditOf(fe)
	}
	for _, ce := range me.ClassEdits {
		edits[ce.Qualname] = ClassEditOf(ce)
		for _, m := range ce.MethodEdits {
			edits[m.Qualname] = FunctionEditOf(m)
		}
	}
	return edits
}

// Len returns the number of edits in me, counting each method edit once.
func (me ModuleEdit) Len() int {
	n := len(me.FunctionEdits) + len(me.ClassEdits)
	for _, ce := range me.ClassEdits {
		n += len(ce.MethodEdits)
	}
	return n
}
