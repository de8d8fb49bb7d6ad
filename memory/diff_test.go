package memory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/breadchris/mun/abi"
)

func guidOf(name string) abi.GUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("memory/"+name))
}

func structType(name string, memory abi.MemoryKind, align uint16, fields ...abi.Field) *abi.TypeInfo {
	return &abi.TypeInfo{
		GUID:  guidOf(name),
		Name:  name,
		Group: abi.GroupStruct,
		Struct: &abi.StructInfo{
			Name:      name,
			Fields:    fields,
			Alignment: align,
			Memory:    memory,
		},
	}
}

func TestDiffNoopIsIdentity(t *testing.T) {
	mk := func() *abi.TypeInfo {
		return structType("Pos", abi.MemGC, 4,
			abi.Field{Name: "x", Type: abi.F32, Offset: 0, Size: 4},
			abi.Field{Name: "y", Type: abi.F32, Offset: 4, Size: 4},
		)
	}
	m, err := Diff([]*abi.TypeInfo{mk()}, []*abi.TypeInfo{mk()})
	require.NoError(t, err)
	require.Len(t, m.Retained, 1)
	require.Empty(t, m.Added)
	require.Empty(t, m.Removed)
	require.True(t, m.Retained[0].Identity, "unchanged layout must map as identity")
}

func TestDiffPartition(t *testing.T) {
	pos := structType("Pos", abi.MemGC, 4,
		abi.Field{Name: "x", Type: abi.F32, Offset: 0, Size: 4},
	)
	vel := structType("Vel", abi.MemGC, 4,
		abi.Field{Name: "dx", Type: abi.F32, Offset: 0, Size: 4},
	)
	spr := structType("Sprite", abi.MemGC, 4,
		abi.Field{Name: "layer", Type: abi.I32, Offset: 0, Size: 4},
	)
	m, err := Diff([]*abi.TypeInfo{pos, vel}, []*abi.TypeInfo{pos, spr})
	require.NoError(t, err)
	require.Len(t, m.Retained, 1)
	require.Equal(t, []*abi.TypeInfo{vel}, m.Removed)
	require.Equal(t, []*abi.TypeInfo{spr}, m.Added)
	require.True(t, m.IsRemoved(vel.GUID))
	_, retained := m.RetainedByGUID(pos.GUID)
	require.True(t, retained)
}

func TestDiffAddedField(t *testing.T) {
	old := structType("Pos", abi.MemGC, 4,
		abi.Field{Name: "x", Type: abi.F32, Offset: 0, Size: 4},
		abi.Field{Name: "y", Type: abi.F32, Offset: 4, Size: 4},
	)
	new_ := structType("Pos", abi.MemGC, 4,
		abi.Field{Name: "x", Type: abi.F32, Offset: 0, Size: 4},
		abi.Field{Name: "y", Type: abi.F32, Offset: 4, Size: 4},
		abi.Field{Name: "z", Type: abi.F32, Offset: 8, Size: 4},
	)
	m, err := Diff([]*abi.TypeInfo{old}, []*abi.TypeInfo{new_})
	require.NoError(t, err)
	sm := m.Retained[0]
	require.False(t, sm.Identity)
	require.Len(t, sm.Ops, 3)
	require.Equal(t, OpCopy, sm.Ops[0].Kind)
	require.Equal(t, OpCopy, sm.Ops[1].Kind)
	require.Equal(t, OpZero, sm.Ops[2].Kind)
	require.Equal(t, 8, sm.Ops[2].NewOffset)
}

func TestDiffReorderedFields(t *testing.T) {
	old := structType("Pair", abi.MemGC, 4,
		abi.Field{Name: "a", Type: abi.F32, Offset: 0, Size: 4},
		abi.Field{Name: "b", Type: abi.I32, Offset: 4, Size: 4},
	)
	new_ := structType("Pair", abi.MemGC, 4,
		abi.Field{Name: "b", Type: abi.I32, Offset: 0, Size: 4},
		abi.Field{Name: "a", Type: abi.F32, Offset: 4, Size: 4},
	)
	m, err := Diff([]*abi.TypeInfo{old}, []*abi.TypeInfo{new_})
	require.NoError(t, err)
	sm := m.Retained[0]
	require.False(t, sm.Identity)
	// b: 4 -> 0, a: 0 -> 4, both plain copies.
	require.Equal(t, Op{Kind: OpCopy, OldOffset: 4, NewOffset: 0, Size: 4}, sm.Ops[0])
	require.Equal(t, Op{Kind: OpCopy, OldOffset: 0, NewOffset: 4, Size: 4}, sm.Ops[1])
}

func TestDiffNumericRetype(t *testing.T) {
	old := structType("Stats", abi.MemGC, 8,
		abi.Field{Name: "hits", Type: abi.I16, Offset: 0, Size: 2},
		abi.Field{Name: "rate", Type: abi.F32, Offset: 4, Size: 4},
		abi.Field{Name: "mode", Type: abi.I32, Offset: 8, Size: 4},
	)
	new_ := structType("Stats", abi.MemGC, 8,
		abi.Field{Name: "hits", Type: abi.I64, Offset: 0, Size: 8},
		abi.Field{Name: "rate", Type: abi.F64, Offset: 8, Size: 8},
		abi.Field{Name: "mode", Type: abi.F32, Offset: 16, Size: 4},
	)
	m, err := Diff([]*abi.TypeInfo{old}, []*abi.TypeInfo{new_})
	require.NoError(t, err)
	ops := m.Retained[0].Ops
	require.Equal(t, OpConvert, ops[0].Kind)
	require.True(t, ops[0].Signed)
	require.False(t, ops[0].Float)
	require.Equal(t, OpConvert, ops[1].Kind)
	require.True(t, ops[1].Float)
	// int -> float is incompatible: dropped and re-zeroed.
	require.Equal(t, OpZero, ops[2].Kind)
}

func TestDiffRewrap(t *testing.T) {
	elemOld := structType("Color", abi.MemGC, 4,
		abi.Field{Name: "r", Type: abi.F32, Offset: 0, Size: 4},
	)
	elemNew := structType("Color", abi.MemValue, 4,
		abi.Field{Name: "r", Type: abi.F32, Offset: 0, Size: 4},
	)
	oldOwner := structType("Sprite", abi.MemGC, 8,
		abi.Field{Name: "tint", Type: elemOld, Offset: 0, Size: abi.HandleSize},
	)
	newOwner := structType("Sprite", abi.MemGC, 4,
		abi.Field{Name: "tint", Type: elemNew, Offset: 0, Size: 4},
	)
	m, err := Diff([]*abi.TypeInfo{elemOld, oldOwner}, []*abi.TypeInfo{elemNew, newOwner})
	require.NoError(t, err)

	owner, ok := m.RetainedByGUID(oldOwner.GUID)
	require.True(t, ok)
	require.Len(t, owner.Ops, 1)
	op := owner.Ops[0]
	require.Equal(t, OpRewrap, op.Kind)
	require.True(t, op.ToValue)
	require.NotNil(t, op.Inner)

	// The element rewrites before the struct inlining it.
	elem, _ := m.RetainedByGUID(elemOld.GUID)
	require.Less(t, indexOf(m.Retained, elem), indexOf(m.Retained, owner))
}

func indexOf(list []*StructMapping, sm *StructMapping) int {
	for i, v := range list {
		if v == sm {
			return i
		}
	}
	return -1
}

func TestDiffValueContainmentOrder(t *testing.T) {
	mkInner := func(extra bool) *abi.TypeInfo {
		fields := []abi.Field{{Name: "v", Type: abi.F32, Offset: 0, Size: 4}}
		if extra {
			fields = append(fields, abi.Field{Name: "w", Type: abi.F32, Offset: 4, Size: 4})
		}
		return structType("Inner", abi.MemValue, 4, fields...)
	}
	innerOld, innerNew := mkInner(false), mkInner(true)
	outerOld := structType("Outer", abi.MemGC, 4,
		abi.Field{Name: "in", Type: innerOld, Offset: 0, Size: 4},
	)
	outerNew := structType("Outer", abi.MemGC, 4,
		abi.Field{Name: "in", Type: innerNew, Offset: 0, Size: 8},
	)
	m, err := Diff([]*abi.TypeInfo{innerOld, outerOld}, []*abi.TypeInfo{innerNew, outerNew})
	require.NoError(t, err)
	inner, _ := m.RetainedByGUID(innerOld.GUID)
	outer, _ := m.RetainedByGUID(outerOld.GUID)
	require.Less(t, indexOf(m.Retained, inner), indexOf(m.Retained, outer))

	// The kept value field deep field-pairs through the inner mapping.
	require.Equal(t, OpStruct, outer.Ops[0].Kind)
	require.Same(t, inner, outer.Ops[0].Inner)
}

func TestDiffSchemaCycle(t *testing.T) {
	// Two value structs embedding each other cannot describe a finite
	// layout; the artifact metadata is corrupt.
	a := structType("A", abi.MemValue, 4)
	b := structType("B", abi.MemValue, 4)
	a.Struct.Fields = []abi.Field{{Name: "b", Type: b, Offset: 0, Size: 4}}
	b.Struct.Fields = []abi.Field{{Name: "a", Type: a, Offset: 0, Size: 4}}

	// The new versions add a leading field, so neither mapping is an
	// identity; the cycle is still found through the kept value fields.
	a2 := structType("A", abi.MemValue, 4)
	b2 := structType("B", abi.MemValue, 4)
	a2.Struct.Fields = []abi.Field{{Name: "pad", Type: abi.I32, Offset: 0, Size: 4}, {Name: "b", Type: b2, Offset: 4, Size: 4}}
	b2.Struct.Fields = []abi.Field{{Name: "pad", Type: abi.I32, Offset: 0, Size: 4}, {Name: "a", Type: a2, Offset: 4, Size: 4}}

	_, err := Diff([]*abi.TypeInfo{a, b}, []*abi.TypeInfo{a2, b2})
	var me *MigrationError
	require.ErrorAs(t, err, &me)
	require.Equal(t, MigrationSchemaCycle, me.Kind)
}

func TestDiffFundamentalsNeverMigrate(t *testing.T) {
	m, err := Diff([]*abi.TypeInfo{abi.F32, abi.I32}, []*abi.TypeInfo{abi.F32})
	require.NoError(t, err)
	require.Empty(t, m.Retained)
	require.Empty(t, m.Removed)
	require.Empty(t, m.Added)
}
