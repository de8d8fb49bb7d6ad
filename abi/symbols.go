package abi

import "reflect"

// Symbols is the metadata an artifact publishes: its logical module path,
// its interned type descriptors, and the functions it exports. Field and
// argument types point into Types.
type Symbols struct {
	Path      string
	Types     []*TypeInfo
	Functions []FunctionInfo
}

// TypeByName returns the named type descriptor.
func (s *Symbols) TypeByName(name string) (*TypeInfo, bool) {
	for _, t := range s.Types {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// FunctionByName returns the named exported function.
func (s *Symbols) FunctionByName(name string) (FunctionInfo, bool) {
	for _, f := range s.Functions {
		if f.Signature.Name == name {
			return f, true
		}
	}
	return FunctionInfo{}, false
}

// DispatchSlot is an unresolved call site inside an artifact: the slot the
// runtime writes a resolved entry point through, and the signature the
// artifact expects to find behind the name.
type DispatchSlot struct {
	Slot      *reflect.Value
	Signature *FunctionSignature
}

// Global is a root slot declared by an artifact. The slot holds a handle
// word; the collector treats it as part of the root set while the artifact
// is loaded.
type Global struct {
	Name string
	Slot *uint64
}

// AssemblyInfo is everything an artifact hands the runtime at load time.
type AssemblyInfo struct {
	Symbols  *Symbols
	Dispatch []DispatchSlot
	Globals  []Global
}

// Validate checks every published descriptor and the GUID identity rule:
// within one artifact a GUID maps to exactly one shape.
func (a *AssemblyInfo) Validate() error {
	seen := map[GUID]*TypeInfo{}
	for _, t := range a.Symbols.Types {
		if err := t.Validate(); err != nil {
			return err
		}
		if prev, ok := seen[t.GUID]; ok && !SameShape(prev, t) {
			return &ShapeConflictError{Name: t.Name, Other: prev.Name}
		}
		seen[t.GUID] = t
	}
	return nil
}

// ShapeConflictError reports two descriptors that share a GUID but
// disagree on shape.
type ShapeConflictError struct {
	Name, Other string
}

func (e *ShapeConflictError) Error() string {
	return "abi: types " + e.Name + " and " + e.Other + " share a GUID with different shapes"
}
