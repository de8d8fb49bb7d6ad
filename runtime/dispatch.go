package runtime

import (
	"reflect"

	"github.com/breadchris/mun/abi"
)

type depSlot struct {
	sig  *abi.FunctionSignature
	slot *reflect.Value
}

// DispatchTable is the process-wide mapping from function name to entry
// point, plus the unresolved call slots registered per assembly. Entry
// points are borrowed from the assembly that registered them; they must be
// removed before that assembly is dropped.
type DispatchTable struct {
	byName map[string]abi.FunctionInfo
	deps   map[string]map[string]depSlot // assembly path -> fn name -> slot
}

// NewDispatchTable returns an empty table.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		byName: map[string]abi.FunctionInfo{},
		deps:   map[string]map[string]depSlot{},
	}
}

// InsertFn registers a function. An existing entry under the same name is
// replaced; slots pointing at the old entry are re-patched by the next
// link. Collisions across assemblies are resolved last-writer-wins within
// one coordinated reload step; the runtime rejects conflicting signatures
// before inserting.
func (t *DispatchTable) InsertFn(name string, fn abi.FunctionInfo) {
	t.byName[name] = fn
}

// RemoveFn erases the entry under name, but only when the current entry is
// still the owner's. A later writer's entry is left alone.
func (t *DispatchTable) RemoveFn(name string, owner abi.FunctionInfo) {
	if cur, ok := t.byName[name]; ok && cur.SameEntry(owner) {
		delete(t.byName, name)
	}
}

// GetFn returns the entry registered under name.
func (t *DispatchTable) GetFn(name string) (abi.FunctionInfo, bool) {
	fn, ok := t.byName[name]
	return fn, ok
}

// RegisterDependency records that the assembly at path has an unresolved
// call slot expecting sig behind name. Registering a path again replaces
// its previous slot set member-wise.
func (t *DispatchTable) RegisterDependency(path, name string, sig *abi.FunctionSignature, slot *reflect.Value) {
	m, ok := t.deps[path]
	if !ok {
		m = map[string]depSlot{}
		t.deps[path] = m
	}
	m[name] = depSlot{sig: sig, slot: slot}
}

// ClearDependencies drops every slot registered for path.
func (t *DispatchTable) ClearDependencies(path string) {
	delete(t.deps, path)
}

// EnsureLinkable verifies that every dependency of the assembly at path is
// satisfied by the table or by the assembly's own exports: the name
// resolves and the signatures agree structurally.
func (t *DispatchTable) EnsureLinkable(path string, provided *abi.Symbols) error {
	for name, dep := range t.deps[path] {
		found, ok := t.byName[name]
		if !ok && provided != nil {
			found, ok = provided.FunctionByName(name)
		}
		if !ok {
			return &UnresolvedSymbol{Assembly: path, Name: name}
		}
		if !dep.sig.EqualTypes(&found.Signature) {
			return &SignatureMismatch{Name: name, Expected: dep.sig.String(), Found: found.Signature.String()}
		}
	}
	return nil
}

// CheckStep simulates one coordinated reload step: the named functions are
// removed, the added signatures overlaid, and every registered dependency
// of every assembly re-verified against the result. A failure means the
// step must not commit.
func (t *DispatchTable) CheckStep(remove map[string]struct{}, add map[string]*abi.FunctionSignature) error {
	effective := func(name string) (*abi.FunctionSignature, bool) {
		if sig, ok := add[name]; ok {
			return sig, true
		}
		if _, gone := remove[name]; gone {
			return nil, false
		}
		if fn, ok := t.byName[name]; ok {
			return &fn.Signature, true
		}
		return nil, false
	}
	for path, slots := range t.deps {
		for name, dep := range slots {
			sig, ok := effective(name)
			if !ok {
				return &UnresolvedSymbol{Assembly: path, Name: name}
			}
			if !dep.sig.EqualTypes(sig) {
				return &SignatureMismatch{Name: name, Expected: dep.sig.String(), Found: sig.String()}
			}
		}
	}
	return nil
}

// PatchSlots rewrites every registered dependency slot from the current
// entries, so assemblies that did not change in a reload step call the
// replacement provider.
func (t *DispatchTable) PatchSlots() {
	for _, slots := range t.deps {
		for name, dep := range slots {
			if fn, ok := t.byName[name]; ok {
				*dep.slot = fn.Fn
			}
		}
	}
}

// Dependencies returns the unresolved slots registered for path.
func (t *DispatchTable) Dependencies(path string) map[string]*abi.FunctionSignature {
	out := map[string]*abi.FunctionSignature{}
	for name, dep := range t.deps[path] {
		out[name] = dep.sig
	}
	return out
}

// Len returns the number of registered functions.
func (t *DispatchTable) Len() int { return len(t.byName) }
