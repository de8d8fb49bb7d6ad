// Package memory computes the field-level mapping between two versions of
// a type schema and rewrites every live allocated object from its old
// layout to its new one. Types pair by GUID, fields pair by name; the
// rewrite is double-buffered and committed under a single safepoint.
package memory

import (
	"github.com/breadchris/mun/abi"
)

// OpKind is one field rewrite instruction.
type OpKind uint8

const (
	// OpCopy moves Size bytes unchanged.
	OpCopy OpKind = iota
	// OpConvert renumbers an int or float field across widths.
	OpConvert
	// OpRewrap moves a field between its heap and inline representations.
	OpRewrap
	// OpZero leaves the new slot zero-initialized (added or retyped field).
	OpZero
	// OpStruct deep field-pairs a kept value-struct field whose element
	// layout changed.
	OpStruct
)

// Op is one instruction of a StructMapping.
type Op struct {
	Kind      OpKind
	OldOffset int
	NewOffset int
	Size      int // OpCopy
	OldSize   int // OpConvert
	NewSize   int // OpConvert
	Float     bool
	Signed    bool           // signedness of the source integer
	ToValue   bool           // OpRewrap direction: heap -> inline
	Elem      *abi.TypeInfo  // OpRewrap: element type in the new schema
	Inner     *StructMapping // OpRewrap, OpStruct: element field mapping
}

// StructMapping is the field-level rewrite plan for one retained struct.
type StructMapping struct {
	Old *abi.TypeInfo
	New *abi.TypeInfo
	Ops []Op
	// Identity marks a mapping whose old and new layouts are bytewise
	// interchangeable, enabling a blit instead of per-field work.
	Identity bool
}

// Mapping is the full schema diff between two artifact versions.
type Mapping struct {
	// Retained mappings in topological order on value containment: an
	// inlined struct is rewritten before any struct embedding it.
	Retained []*StructMapping
	Removed  []*abi.TypeInfo
	Added    []*abi.TypeInfo

	retained map[abi.GUID]*StructMapping
	removed  map[abi.GUID]struct{}
}

// RetainedByGUID returns the mapping for a retained type.
func (m *Mapping) RetainedByGUID(g abi.GUID) (*StructMapping, bool) {
	sm, ok := m.retained[g]
	return sm, ok
}

// IsRemoved reports whether the type was dropped from the schema.
func (m *Mapping) IsRemoved(g abi.GUID) bool {
	_, ok := m.removed[g]
	return ok
}

// Diff pairs oldTypes and newTypes by GUID and produces the migration
// plan. Fundamental types never migrate. A value-containment cycle in the
// retained set is a schema error.
func Diff(oldTypes, newTypes []*abi.TypeInfo) (*Mapping, error) {
	oldByGUID := map[abi.GUID]*abi.TypeInfo{}
	for _, t := range oldTypes {
		if t.Group == abi.GroupStruct {
			oldByGUID[t.GUID] = t
		}
	}
	m := &Mapping{
		retained: map[abi.GUID]*StructMapping{},
		removed:  map[abi.GUID]struct{}{},
	}
	newByGUID := map[abi.GUID]*abi.TypeInfo{}
	for _, nt := range newTypes {
		if nt.Group != abi.GroupStruct {
			continue
		}
		newByGUID[nt.GUID] = nt
		if ot, ok := oldByGUID[nt.GUID]; ok {
			m.retained[nt.GUID] = &StructMapping{Old: ot, New: nt}
		} else {
			m.Added = append(m.Added, nt)
		}
	}
	for _, ot := range oldTypes {
		if ot.Group != abi.GroupStruct {
			continue
		}
		if _, ok := newByGUID[ot.GUID]; !ok {
			m.Removed = append(m.Removed, ot)
			m.removed[ot.GUID] = struct{}{}
		}
	}

	for _, sm := range m.retained {
		pairFields(m, sm)
	}
	seen := map[*StructMapping]bool{}
	for _, sm := range m.retained {
		sm.Identity = isIdentity(m, sm, seen)
	}
	ordered, err := topoOrder(m)
	if err != nil {
		return nil, err
	}
	m.Retained = ordered
	return m, nil
}

// pairFields matches fields of a retained struct by name and emits one Op
// per field of the new layout that has work to do.
func pairFields(m *Mapping, sm *StructMapping) {
	oldFields := map[string]abi.Field{}
	for _, f := range sm.Old.Struct.Fields {
		oldFields[f.Name] = f
	}
	for _, nf := range sm.New.Struct.Fields {
		of, kept := oldFields[nf.Name]
		if !kept {
			// Added field: the new payload is already zeroed.
			sm.Ops = append(sm.Ops, Op{Kind: OpZero, NewOffset: int(nf.Offset), Size: int(nf.Size)})
			continue
		}
		sm.Ops = append(sm.Ops, pairField(m, of, nf))
	}
	// Dropped fields need no instruction: their bytes die with the old
	// payload and any reference they held stops being traced.
}

func pairField(m *Mapping, of, nf abi.Field) Op {
	oldOff, newOff := int(of.Offset), int(nf.Offset)
	if of.Type.GUID == nf.Type.GUID {
		if of.Type.Group == abi.GroupFundamental {
			return Op{Kind: OpCopy, OldOffset: oldOff, NewOffset: newOff, Size: int(nf.Size)}
		}
		inner := m.retained[nf.Type.GUID]
		oldGC, newGC := of.Type.IsGCRef(), nf.Type.IsGCRef()
		switch {
		case oldGC && newGC:
			return Op{Kind: OpCopy, OldOffset: oldOff, NewOffset: newOff, Size: abi.HandleSize}
		case oldGC != newGC:
			return Op{Kind: OpRewrap, OldOffset: oldOff, NewOffset: newOff, ToValue: !newGC, Elem: nf.Type, Inner: inner}
		default: // both inline
			if inner == nil {
				// Element not part of either schema table; treat as opaque bytes.
				return Op{Kind: OpCopy, OldOffset: oldOff, NewOffset: newOff, Size: int(nf.Size)}
			}
			return Op{Kind: OpStruct, OldOffset: oldOff, NewOffset: newOff, Inner: inner}
		}
	}
	switch {
	case abi.IsInt(of.Type) && abi.IsInt(nf.Type):
		return Op{
			Kind: OpConvert, OldOffset: oldOff, NewOffset: newOff,
			OldSize: int(of.Size), NewSize: int(nf.Size),
			Signed: abi.IsSigned(of.Type),
		}
	case abi.IsFloat(of.Type) && abi.IsFloat(nf.Type):
		return Op{
			Kind: OpConvert, OldOffset: oldOff, NewOffset: newOff,
			OldSize: int(of.Size), NewSize: int(nf.Size),
			Float: true,
		}
	}
	// Incompatible retype (int<->float, bool<->numeric, different struct):
	// drop the old value, leave the new slot zeroed.
	return Op{Kind: OpZero, NewOffset: newOff, Size: int(nf.Size)}
}

// isIdentity reports whether a mapping is a pure blit: same size, every
// field kept at its old offset with an identical type, and every inlined
// element mapping an identity in turn. seen memoizes results and breaks
// containment cycles optimistically; real cycles fail topoOrder anyway.
func isIdentity(m *Mapping, sm *StructMapping, seen map[*StructMapping]bool) bool {
	if v, ok := seen[sm]; ok {
		return v
	}
	seen[sm] = true
	ok := identityShape(m, sm, seen)
	seen[sm] = ok
	return ok
}

func identityShape(m *Mapping, sm *StructMapping, seen map[*StructMapping]bool) bool {
	if sm.Old.Size() != sm.New.Size() {
		return false
	}
	if len(sm.Old.Struct.Fields) != len(sm.New.Struct.Fields) {
		return false
	}
	for i, nf := range sm.New.Struct.Fields {
		of := sm.Old.Struct.Fields[i]
		if of.Name != nf.Name || of.Offset != nf.Offset || of.Size != nf.Size || of.Type.GUID != nf.Type.GUID {
			return false
		}
		if of.Type.IsGCRef() != nf.Type.IsGCRef() {
			return false
		}
		if nf.Type.IsValueStruct() {
			if inner, found := m.retained[nf.Type.GUID]; found && !isIdentity(m, inner, seen) {
				return false
			}
		}
	}
	return true
}

// topoOrder sorts retained mappings so that value-contained elements come
// before their containers. A containment cycle cannot describe a finite
// layout and aborts the diff.
func topoOrder(m *Mapping) ([]*StructMapping, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[*StructMapping]int{}
	var out []*StructMapping
	var visit func(sm *StructMapping) error
	visit = func(sm *StructMapping) error {
		switch state[sm] {
		case done:
			return nil
		case visiting:
			return &MigrationError{Kind: MigrationSchemaCycle, Type: sm.New.Name}
		}
		state[sm] = visiting
		for _, op := range sm.Ops {
			if op.Inner != nil && (op.Kind == OpStruct || (op.Kind == OpRewrap && op.ToValue)) {
				if err := visit(op.Inner); err != nil {
					return err
				}
			}
		}
		state[sm] = done
		out = append(out, sm)
		return nil
	}
	for _, sm := range m.retained {
		if err := visit(sm); err != nil {
			return nil, err
		}
	}
	return out, nil
}
