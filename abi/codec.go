package abi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Packed descriptor wire layout, little-endian throughout:
//
//	guid [16]byte
//	name cstr (NUL terminated)
//	group u8            0=fundamental 1=struct
//
// followed, for structs, by the inlined layout info:
//
//	field_count u16
//	field_names [N]cstr
//	field_types [N][16]byte   field type GUIDs
//	field_offsets [N]u16
//	field_sizes [N]u16
//	alignment u16
//	memory_kind u8      0=gc 1=value
//
// The in-process load path hands descriptors over as pointers; this codec
// is the contract for artifacts that ship descriptor tables as bytes.

// EncodeTypeInfo renders t in the packed wire layout.
func EncodeTypeInfo(t *TypeInfo) []byte {
	var b bytes.Buffer
	b.Write(t.GUID[:])
	writeCstr(&b, t.Name)
	b.WriteByte(byte(t.Group))
	if t.Group != GroupStruct {
		return b.Bytes()
	}
	s := t.Struct
	writeU16(&b, uint16(len(s.Fields)))
	for _, f := range s.Fields {
		writeCstr(&b, f.Name)
	}
	for _, f := range s.Fields {
		b.Write(f.Type.GUID[:])
	}
	for _, f := range s.Fields {
		writeU16(&b, f.Offset)
	}
	for _, f := range s.Fields {
		writeU16(&b, f.Size)
	}
	writeU16(&b, s.Alignment)
	b.WriteByte(byte(s.Memory))
	return b.Bytes()
}

// DecodeTypeInfo parses one packed descriptor. Field type GUIDs resolve
// against table first, then against the fundamentals; an unresolvable GUID
// or a truncated buffer is an error. The decoded descriptor is validated
// before it is returned.
func DecodeTypeInfo(data []byte, table map[GUID]*TypeInfo) (*TypeInfo, error) {
	r := &reader{data: data}
	t := &TypeInfo{}
	guid, err := r.guid()
	if err != nil {
		return nil, err
	}
	t.GUID = guid
	if t.Name, err = r.cstr(); err != nil {
		return nil, err
	}
	group, err := r.u8()
	if err != nil {
		return nil, err
	}
	t.Group = TypeGroup(group)
	if t.Group == GroupFundamental {
		return t, t.Validate()
	}
	if t.Group != GroupStruct {
		return nil, fmt.Errorf("abi: unknown type group %d for %q", group, t.Name)
	}
	s := &StructInfo{Name: t.Name}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	s.Fields = make([]Field, n)
	for i := range s.Fields {
		if s.Fields[i].Name, err = r.cstr(); err != nil {
			return nil, err
		}
	}
	for i := range s.Fields {
		fg, err := r.guid()
		if err != nil {
			return nil, err
		}
		ft, ok := table[fg]
		if !ok {
			ft, ok = FundamentalByGUID(fg)
		}
		if !ok {
			return nil, fmt.Errorf("abi: %s.%s references unknown type %s", t.Name, s.Fields[i].Name, fg)
		}
		s.Fields[i].Type = ft
	}
	for i := range s.Fields {
		if s.Fields[i].Offset, err = r.u16(); err != nil {
			return nil, err
		}
	}
	for i := range s.Fields {
		if s.Fields[i].Size, err = r.u16(); err != nil {
			return nil, err
		}
	}
	if s.Alignment, err = r.u16(); err != nil {
		return nil, err
	}
	mk, err := r.u8()
	if err != nil {
		return nil, err
	}
	s.Memory = MemoryKind(mk)
	t.Struct = s
	return t, t.Validate()
}

func writeCstr(b *bytes.Buffer, s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

func writeU16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.data) {
		return fmt.Errorf("abi: truncated descriptor at offset %d", r.off)
	}
	return nil
}

func (r *reader) guid() (GUID, error) {
	var g GUID
	if err := r.need(16); err != nil {
		return g, err
	}
	copy(g[:], r.data[r.off:])
	r.off += 16
	return g, nil
}

func (r *reader) cstr() (string, error) {
	i := bytes.IndexByte(r.data[r.off:], 0)
	if i < 0 {
		return "", fmt.Errorf("abi: unterminated string at offset %d", r.off)
	}
	s := string(r.data[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}
