package abi

import "fmt"

// Field describes one struct field: its label, the interned type of its
// value, and its position in the payload.
type Field struct {
	Name   string
	Type   *TypeInfo
	Offset uint16
	Size   uint16
}

// StructInfo carries the layout of a struct type.
type StructInfo struct {
	Name      string
	Fields    []Field
	Alignment uint16
	Memory    MemoryKind
}

// TypeInfo is the canonical in-memory descriptor of a type. Struct is nil
// unless Group is GroupStruct.
type TypeInfo struct {
	GUID   GUID
	Name   string
	Group  TypeGroup
	Struct *StructInfo
}

// Is reports whether t and other describe the same type. Identity is GUID
// equality; host-language type tokens are unreliable across compilation
// units and are never consulted.
func (t *TypeInfo) Is(other *TypeInfo) bool {
	return t != nil && other != nil && t.GUID == other.GUID
}

// Size returns the payload size of the type in bytes. For structs this is
// the end of the last field rounded up to the alignment; field offsets are
// authoritative, so padding between fields is included.
func (t *TypeInfo) Size() int {
	if t.Group == GroupFundamental {
		return fundamentalSize(t)
	}
	s := t.Struct
	if s == nil || len(s.Fields) == 0 {
		return 0
	}
	last := s.Fields[len(s.Fields)-1]
	end := int(last.Offset) + int(last.Size)
	if a := int(s.Alignment); a > 1 {
		end = (end + a - 1) / a * a
	}
	return end
}

// FieldByName returns the struct field with the given name.
func (t *TypeInfo) FieldByName(name string) (Field, bool) {
	if t.Struct == nil {
		return Field{}, false
	}
	for _, f := range t.Struct.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks the structural invariants of the descriptor: the struct
// payload matches the group, offsets strictly increase, every field lies
// within the struct size, and the size is a multiple of the alignment.
func (t *TypeInfo) Validate() error {
	if t.Group == GroupFundamental {
		if t.Struct != nil {
			return fmt.Errorf("abi: fundamental type %q carries struct info", t.Name)
		}
		return nil
	}
	s := t.Struct
	if s == nil {
		return fmt.Errorf("abi: struct type %q has no struct info", t.Name)
	}
	size := t.Size()
	prev := -1
	for _, f := range s.Fields {
		if f.Type == nil {
			return fmt.Errorf("abi: %s.%s has no type", s.Name, f.Name)
		}
		if int(f.Offset) <= prev {
			return fmt.Errorf("abi: %s field offsets not strictly increasing at %q", s.Name, f.Name)
		}
		prev = int(f.Offset)
		if int(f.Offset)+int(f.Size) > size {
			return fmt.Errorf("abi: %s.%s extends past struct size %d", s.Name, f.Name, size)
		}
	}
	if a := int(s.Alignment); a > 0 && size%a != 0 {
		return fmt.Errorf("abi: %s size %d not a multiple of alignment %d", s.Name, size, a)
	}
	return nil
}

// IsGCRef reports whether a field of type t occupies a reference slot in
// its containing payload.
func (t *TypeInfo) IsGCRef() bool {
	return t.Group == GroupStruct && t.Struct != nil && t.Struct.Memory == MemGC
}

// IsValueStruct reports whether a field of type t is inlined by layout.
func (t *TypeInfo) IsValueStruct() bool {
	return t.Group == GroupStruct && t.Struct != nil && t.Struct.Memory == MemValue
}

// Reflectable is implemented by host values that carry their descriptor
// across compilation-unit boundaries.
type Reflectable interface {
	TypeInfo() *TypeInfo
}

// Downcast converts a generic reflectable reference to a concrete type. It
// succeeds iff the GUIDs match; it never consults Go's own type identity
// beyond the final assertion of the already-verified value.
func Downcast[T Reflectable](v Reflectable) (T, bool) {
	var zero T
	if v == nil || !zero.TypeInfo().Is(v.TypeInfo()) {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// SameShape reports whether two descriptors with equal GUIDs also agree on
// group, field count, alignment, and the ordered (name, field type GUID)
// list. Loaders use it to reject artifacts that reuse a GUID for a
// different shape.
func SameShape(a, b *TypeInfo) bool {
	if a.GUID != b.GUID || a.Group != b.Group {
		return false
	}
	if a.Group == GroupFundamental {
		return true
	}
	as, bs := a.Struct, b.Struct
	if len(as.Fields) != len(bs.Fields) || as.Alignment != bs.Alignment {
		return false
	}
	for i := range as.Fields {
		af, bf := as.Fields[i], bs.Fields[i]
		if af.Name != bf.Name || af.Type.GUID != bf.Type.GUID {
			return false
		}
	}
	return true
}
