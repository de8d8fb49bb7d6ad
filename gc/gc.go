// Package gc implements the runtime's object memory: a stop-the-world
// mark-and-sweep collector over handle-indexed allocations. Handles are the
// only stable reference to an object; they survive collection and survive
// type migration, during which the pointed-to type and payload may both be
// replaced.
package gc

import (
	"encoding/binary"

	"github.com/breadchris/mun/abi"
)

// Handle is a collector-issued stable reference to an allocated object.
// The zero handle is the nil reference.
type Handle uint64

// NilHandle is the null object reference.
const NilHandle Handle = 0

type color uint8

const (
	white color = iota // not yet visited, collectable
	grey               // on the worklist
	black              // visited, live
)

type object struct {
	typ     *abi.TypeInfo
	payload []byte
	color   color
}

// Collector owns every language-visible heap allocation. It is
// single-threaded with respect to mutators; collection and migration run
// only at safepoints, when no raw payload pointer is held.
type Collector struct {
	objects map[Handle]*object
	pins    map[Handle]int       // host-held root pin counts
	globals map[*uint64]struct{} // assembly-declared root slots
	next    Handle
	trigger int // bytes allocated between automatic cycles
	since   int // bytes allocated since the last cycle
	paused  bool
}

// DefaultTrigger is the allocation volume between automatic collections.
const DefaultTrigger = 1 << 20

// New returns an empty collector. A triggerBytes of zero selects
// DefaultTrigger; a negative value disables automatic collection.
func New(triggerBytes int) *Collector {
	if triggerBytes == 0 {
		triggerBytes = DefaultTrigger
	}
	return &Collector{
		objects: map[Handle]*object{},
		pins:    map[Handle]int{},
		globals: map[*uint64]struct{}{},
		trigger: triggerBytes,
	}
}

// Alloc allocates a zero-initialized object of type t and returns a handle
// pinned on behalf of the caller. Release drops the pin once the object is
// reachable some other way (or no longer needed). Alloc is a safepoint: it
// may run a collection first.
func (c *Collector) Alloc(t *abi.TypeInfo) Handle {
	if c.trigger > 0 && c.since >= c.trigger {
		c.Collect()
	}
	size := t.Size()
	c.next++
	h := c.next
	c.objects[h] = &object{typ: t, payload: make([]byte, size)}
	c.pins[h] = 1
	c.since += size
	return h
}

// Root adds a host pin to h. Pins are counted.
func (c *Collector) Root(h Handle) {
	if _, ok := c.objects[h]; ok {
		c.pins[h]++
	}
}

// Release drops one host pin from h.
func (c *Collector) Release(h Handle) {
	if n, ok := c.pins[h]; ok {
		if n <= 1 {
			delete(c.pins, h)
		} else {
			c.pins[h] = n - 1
		}
	}
}

// Valid reports whether h refers to a live object.
func (c *Collector) Valid(h Handle) bool {
	_, ok := c.objects[h]
	return ok
}

// TypeOf returns the current type of the object behind h, or nil.
func (c *Collector) TypeOf(h Handle) *abi.TypeInfo {
	if o, ok := c.objects[h]; ok {
		return o.typ
	}
	return nil
}

// Payload returns the object's raw payload, or nil for an invalid handle.
// The slice must not be held across a safepoint: migration may replace the
// backing storage.
func (c *Collector) Payload(h Handle) []byte {
	if o, ok := c.objects[h]; ok {
		return o.payload
	}
	return nil
}

// AddGlobalRoot registers an assembly-declared root slot. The slot holds a
// handle word and is traced on every cycle until removed.
func (c *Collector) AddGlobalRoot(slot *uint64) {
	c.globals[slot] = struct{}{}
}

// RemoveGlobalRoot unregisters a root slot.
func (c *Collector) RemoveGlobalRoot(slot *uint64) {
	delete(c.globals, slot)
}

// Pause suspends automatic collection; the migrator holds the collector
// paused for the whole rewrite so the live set cannot shift under it.
func (c *Collector) Pause() { c.paused = true }

// Resume re-enables automatic collection.
func (c *Collector) Resume() { c.paused = false }

// Collect runs one full mark-and-sweep cycle and returns the number of
// objects freed. Roots are the host pins and the registered global slots.
// Interior references are discovered by walking each object's descriptor:
// a GC-struct field is an 8-byte handle word, a value-struct field is
// traversed recursively in place.
func (c *Collector) Collect() int {
	if c.paused {
		return 0
	}
	for _, o := range c.objects {
		o.color = white
	}

	var work []Handle
	shade := func(h Handle) {
		if o, ok := c.objects[h]; ok && o.color == white {
			o.color = grey
			work = append(work, h)
		}
	}
	for h := range c.pins {
		shade(h)
	}
	for slot := range c.globals {
		shade(Handle(*slot))
	}

	for len(work) > 0 {
		h := work[len(work)-1]
		work = work[:len(work)-1]
		o := c.objects[h]
		o.color = black
		c.walkRefs(o.typ, o.payload, 0, func(ref Handle) {
			shade(ref)
		})
	}

	freed := 0
	for h, o := range c.objects {
		if o.color == white {
			delete(c.objects, h)
			freed++
		}
	}
	c.since = 0
	return freed
}

// walkRefs visits every reference slot of a payload region typed as t,
// starting at base.
func (c *Collector) walkRefs(t *abi.TypeInfo, payload []byte, base int, visit func(Handle)) {
	if t.Struct == nil {
		return
	}
	for _, f := range t.Struct.Fields {
		switch {
		case f.Type.IsGCRef():
			if h := GetHandle(payload, base+int(f.Offset)); h != NilHandle {
				visit(h)
			}
		case f.Type.IsValueStruct():
			c.walkRefs(f.Type, payload, base+int(f.Offset), visit)
		}
	}
}

// WalkRefs visits every reference slot in the payload of h, recursing
// through value-struct fields but not through referenced objects. The
// migrator uses it for its post-rewrite consistency check.
func (c *Collector) WalkRefs(h Handle, visit func(Handle)) {
	if o, ok := c.objects[h]; ok {
		c.walkRefs(o.typ, o.payload, 0, visit)
	}
}

// Live returns a snapshot of every live handle. The migrator iterates this
// under Pause.
func (c *Collector) Live() []Handle {
	out := make([]Handle, 0, len(c.objects))
	for h := range c.objects {
		out = append(out, h)
	}
	return out
}

// Replace retargets a handle at a new type and payload under a single
// safepoint. Collection never moves payloads; only migration replaces them.
func (c *Collector) Replace(h Handle, t *abi.TypeInfo, payload []byte) {
	if o, ok := c.objects[h]; ok {
		o.typ = t
		o.payload = payload
	}
}

// Invalidate drops the object behind h; the handle becomes permanently
// invalid. Used for live instances of removed types.
func (c *Collector) Invalidate(h Handle) {
	delete(c.objects, h)
	delete(c.pins, h)
}

// Stats describe the collector's current footprint.
type Stats struct {
	Objects       int
	BytesSinceGC  int
	PinnedHandles int
	GlobalRoots   int
}

// Stat returns current collector statistics.
func (c *Collector) Stat() Stats {
	return Stats{
		Objects:       len(c.objects),
		BytesSinceGC:  c.since,
		PinnedHandles: len(c.pins),
		GlobalRoots:   len(c.globals),
	}
}

// GetHandle reads the handle word at off.
func GetHandle(payload []byte, off int) Handle {
	return Handle(binary.LittleEndian.Uint64(payload[off:]))
}

// PutHandle stores a handle word at off.
func PutHandle(payload []byte, off int, h Handle) {
	binary.LittleEndian.PutUint64(payload[off:], uint64(h))
}
