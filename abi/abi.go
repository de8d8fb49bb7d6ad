// Package abi defines the descriptor model shared between the runtime and
// compiled artifacts: type, field, function and module information, stable
// type identity via GUID, and the packed wire layout used when descriptors
// cross a compilation-unit boundary as raw bytes.
package abi

import "github.com/google/uuid"

// GUID uniquely and stably names a type across compilations and artifacts.
// Two descriptors represent the same type iff their GUIDs are equal; names
// are human-readable labels only.
type GUID = uuid.UUID

// TypeGroup discriminates the payload of a TypeInfo.
type TypeGroup uint8

const (
	GroupFundamental TypeGroup = iota
	GroupStruct
)

func (g TypeGroup) String() string {
	switch g {
	case GroupFundamental:
		return "fundamental"
	case GroupStruct:
		return "struct"
	}
	return "unknown"
}

// MemoryKind is the per-struct allocation policy.
type MemoryKind uint8

const (
	// MemGC structs live on the collected heap and are referenced by handle.
	MemGC MemoryKind = iota
	// MemValue structs are inlined by layout wherever they appear.
	MemValue
)

func (m MemoryKind) String() string {
	if m == MemValue {
		return "value"
	}
	return "gc"
}

// HandleSize is the width of a reference slot inside an object payload.
const HandleSize = 8
