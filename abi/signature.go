package abi

import (
	"reflect"
	"strings"
)

// FunctionSignature describes a callable: its label, argument types and
// return type. A nil Return means unit. Equality of the type part is
// structural over GUIDs; names are compared separately by callers.
type FunctionSignature struct {
	Name   string
	Args   []*TypeInfo
	Return *TypeInfo
}

// EqualTypes reports whether two signatures agree on return type and on
// every argument type, pairwise by GUID. Names are not part of the
// comparison.
func (s *FunctionSignature) EqualTypes(other *FunctionSignature) bool {
	if (s.Return == nil) != (other.Return == nil) {
		return false
	}
	if s.Return != nil && s.Return.GUID != other.Return.GUID {
		return false
	}
	if len(s.Args) != len(other.Args) {
		return false
	}
	for i, a := range s.Args {
		if a.GUID != other.Args[i].GUID {
			return false
		}
	}
	return true
}

func (s *FunctionSignature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Name)
	}
	b.WriteString(") -> ")
	if s.Return == nil {
		b.WriteString("()")
	} else {
		b.WriteString(s.Return.Name)
	}
	return b.String()
}

// FunctionInfo pairs a signature with its entry point. The entry point is
// borrowed from the artifact that registered it and must be dropped from
// every table before that artifact is unloaded.
type FunctionInfo struct {
	Signature FunctionSignature
	Fn        reflect.Value
}

// SameEntry reports whether two function infos share one entry point.
// Dispatch table removal uses it to make remove-by-owner a no-op when the
// entry has already been replaced.
func (f FunctionInfo) SameEntry(other FunctionInfo) bool {
	if !f.Fn.IsValid() || !other.Fn.IsValid() {
		return false
	}
	return f.Fn.Pointer() == other.Fn.Pointer()
}
