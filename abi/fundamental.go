package abi

import "github.com/google/uuid"

// Fundamental types have GUIDs fixed per target bitness; they never
// migrate. The float and unit identities predate the rest and keep their
// original literals.
var (
	F32  = fundamental("fc4bacef-cd0e-4d58-8d4d-19504d58d87f", "f32", 4)
	F64  = fundamental("fe58c2ab-f8db-4dab-80b1-578d871bc769", "f64", 8)
	Unit = fundamental("3575c27d-fee0-4240-a658-d9c3edb73d0e", "()", 0)

	Bool = fundamental("25a34ecb-67ba-4b3b-b7da-c7746e1fd683", "bool", 1)
	I8   = fundamental("4f3f1f5d-60b2-45a9-8b8c-9a6d0f8c1a01", "i8", 1)
	I16  = fundamental("7c2f27a2-8f34-4c51-9b6e-0b9f6a0e1a02", "i16", 2)
	I32  = fundamental("9f7b14a6-4f54-4c7a-9c4e-6a2d7b0e1a03", "i32", 4)
	I64  = fundamental("c58e8f44-2d3a-46a1-bf45-3a9d7b0e1a04", "i64", 8)
	U8   = fundamental("d1a9f9e3-9c5a-4d2b-8a31-4b8d7b0e1a05", "u8", 1)
	U16  = fundamental("e3c4b6d1-1f6b-4e3c-9b22-5c7d7b0e1a06", "u16", 2)
	U32  = fundamental("f5d2a7c8-3e7c-4f4d-8c13-6d6d7b0e1a07", "u32", 4)
	U64  = fundamental("07e1b8d9-5d8d-4a5e-bd04-7e5d7b0e1a08", "u64", 8)
)

var fundamentals = map[GUID]*TypeInfo{}
var fundamentalSizes = map[GUID]int{}

func fundamental(id, name string, size int) *TypeInfo {
	t := &TypeInfo{GUID: uuid.MustParse(id), Name: name, Group: GroupFundamental}
	fundamentals[t.GUID] = t
	fundamentalSizes[t.GUID] = size
	return t
}

// FundamentalByGUID returns the runtime's descriptor for a fundamental
// type, so artifacts and the runtime agree on one interned pointer.
func FundamentalByGUID(g GUID) (*TypeInfo, bool) {
	t, ok := fundamentals[g]
	return t, ok
}

func fundamentalSize(t *TypeInfo) int {
	return fundamentalSizes[t.GUID]
}

// IsInt reports whether t is one of the integer fundamentals. Artifacts may
// carry their own descriptor instances, so classification goes through the
// GUID, never the pointer.
func IsInt(t *TypeInfo) bool {
	switch t.GUID {
	case I8.GUID, I16.GUID, I32.GUID, I64.GUID, U8.GUID, U16.GUID, U32.GUID, U64.GUID:
		return true
	}
	return false
}

// IsSigned reports whether an integer fundamental is signed.
func IsSigned(t *TypeInfo) bool {
	switch t.GUID {
	case I8.GUID, I16.GUID, I32.GUID, I64.GUID:
		return true
	}
	return false
}

// IsFloat reports whether t is a float fundamental.
func IsFloat(t *TypeInfo) bool {
	return t.GUID == F32.GUID || t.GUID == F64.GUID
}
