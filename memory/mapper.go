package memory

import (
	"encoding/binary"
	"math"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
)

// Apply rewrites every live object covered by the mapping. It runs in two
// phases: prepare builds a fresh payload per object with no visible
// effect, then commit retargets every handle under one safepoint. Errors
// during prepare leave the heap untouched; a MigrationError that reports
// Fatal() happened after the commit and the caller must abort.
func Apply(c *gc.Collector, m *Mapping) error {
	c.Pause()
	defer c.Resume()

	type target struct {
		h       gc.Handle
		typ     *abi.TypeInfo
		payload []byte
	}
	var commits []target
	var invalidate []gc.Handle
	var pins []gc.Handle
	releasePins := func() {
		for _, h := range pins {
			c.Release(h)
		}
	}

	for _, h := range c.Live() {
		t := c.TypeOf(h)
		if sm, ok := m.RetainedByGUID(t.GUID); ok {
			fresh := make([]byte, sm.New.Size())
			if err := rewrite(c, sm, c.Payload(h), 0, fresh, 0, &pins); err != nil {
				releasePins()
				return err
			}
			commits = append(commits, target{h: h, typ: sm.New, payload: fresh})
		} else if m.IsRemoved(t.GUID) {
			invalidate = append(invalidate, h)
		}
	}

	// Commit: flip every prepared handle, then drop removed-type objects.
	// From here on failure is fatal.
	for _, tgt := range commits {
		c.Replace(tgt.h, tgt.typ, tgt.payload)
	}
	removed := make(map[gc.Handle]*abi.TypeInfo, len(invalidate))
	for _, h := range invalidate {
		removed[h] = c.TypeOf(h)
		c.Invalidate(h)
	}
	releasePins()

	// Any reference to an invalidated object surviving in a kept field is
	// a hole in the diff; fail stop rather than let it dangle.
	var dangling *MigrationError
	for _, h := range c.Live() {
		c.WalkRefs(h, func(ref gc.Handle) {
			if t, gone := removed[ref]; gone && dangling == nil {
				dangling = &MigrationError{Kind: MigrationDangling, Type: t.Name, Handle: uint64(ref)}
			}
		})
		if dangling != nil {
			return dangling
		}
	}
	return nil
}

// rewrite applies a struct mapping from the old payload region at oldBase
// to the new region at newBase. Allocations made for value-to-heap rewraps
// are pinned and recorded in pins until the commit.
func rewrite(c *gc.Collector, sm *StructMapping, old []byte, oldBase int, fresh []byte, newBase int, pins *[]gc.Handle) error {
	if sm.Identity {
		copy(fresh[newBase:newBase+sm.New.Size()], old[oldBase:oldBase+sm.Old.Size()])
		return nil
	}
	for _, op := range sm.Ops {
		switch op.Kind {
		case OpCopy:
			copy(fresh[newBase+op.NewOffset:newBase+op.NewOffset+op.Size], old[oldBase+op.OldOffset:])
		case OpZero:
			// The fresh payload starts zeroed.
		case OpConvert:
			convert(op, old, oldBase, fresh, newBase)
		case OpStruct:
			if err := rewrite(c, op.Inner, old, oldBase+op.OldOffset, fresh, newBase+op.NewOffset, pins); err != nil {
				return err
			}
		case OpRewrap:
			if err := rewrap(c, op, old, oldBase, fresh, newBase, pins); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewrap moves a field between its heap and inline representations.
func rewrap(c *gc.Collector, op Op, old []byte, oldBase int, fresh []byte, newBase int, pins *[]gc.Handle) error {
	if op.ToValue {
		// Heap -> inline: pull the referent's old payload through the
		// element mapping into the slot. A nil reference inlines as zeros.
		ref := gc.GetHandle(old, oldBase+op.OldOffset)
		if ref == gc.NilHandle {
			return nil
		}
		src := c.Payload(ref)
		if src == nil {
			return nil
		}
		return rewrite(c, op.Inner, src, 0, fresh, newBase+op.NewOffset, pins)
	}
	// Inline -> heap: allocate an object of the new element type and fill
	// it from the inline bytes. The pin keeps it alive until commit makes
	// the field reference visible to the collector.
	h := c.Alloc(op.Elem)
	*pins = append(*pins, h)
	if err := rewrite(c, op.Inner, old, oldBase+op.OldOffset, c.Payload(h), 0, pins); err != nil {
		return err
	}
	gc.PutHandle(fresh, newBase+op.NewOffset, h)
	return nil
}

// convert renumbers an int or float field. Integers sign- or zero-extend
// on widening (by the signedness of the source) and truncate two's
// complement on narrowing; same-width sign flips reinterpret. Floats
// convert by IEEE-754 rules, round-to-nearest-even on narrowing.
func convert(op Op, old []byte, oldBase int, fresh []byte, newBase int) {
	src := old[oldBase+op.OldOffset:]
	dst := fresh[newBase+op.NewOffset:]
	if op.Float {
		var v float64
		if op.OldSize == 4 {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
		} else {
			v = math.Float64frombits(binary.LittleEndian.Uint64(src))
		}
		if op.NewSize == 4 {
			binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		} else {
			binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
		}
		return
	}
	raw := readUint(src, op.OldSize)
	if op.Signed {
		raw = signExtend(raw, op.OldSize)
	}
	writeUint(dst, op.NewSize, raw)
}

func readUint(b []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func writeUint(b []byte, size int, v uint64) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func signExtend(v uint64, size int) uint64 {
	bits := uint(size * 8)
	if bits >= 64 {
		return v
	}
	if v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return v
}
