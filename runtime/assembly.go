package runtime

import (
	"go.uber.org/zap"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
	"github.com/breadchris/mun/memory"
)

// AssemblyState tracks the linking lifecycle. Calls are legal only in
// StateLinked.
type AssemblyState uint8

const (
	StateLoaded AssemblyState = iota
	StateLinked
	StateSwapping
	StateAborted
)

func (s AssemblyState) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateLinked:
		return "linked"
	case StateSwapping:
		return "swapping"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Assembly is one hot-reloadable compilation unit: its temp-copied shared
// library, its published metadata, and the shared allocator every artifact
// allocates through.
type Assembly struct {
	libraryPath string
	lib         *TempLibrary
	info        *abi.AssemblyInfo
	alloc       *gc.Collector
	state       AssemblyState

	opener  Opener
	scratch string
	log     *zap.Logger
}

// LoadAssembly copies and opens the artifact at libraryPath, retrieves its
// metadata, hands over the allocator, registers its call slots and global
// roots, and verifies it is linkable against the dispatch table. The
// returned assembly is in StateLoaded.
func LoadAssembly(libraryPath string, alloc *gc.Collector, table *DispatchTable, opener Opener, scratch string, log *zap.Logger) (*Assembly, error) {
	tl, err := OpenTemp(libraryPath, opener, scratch)
	if err != nil {
		return nil, err
	}
	info, err := tl.Library().Info()
	if err != nil {
		tl.Close()
		return nil, &LoadError{Path: libraryPath, Err: err}
	}
	if err := info.Validate(); err != nil {
		tl.Close()
		return nil, &LoadError{Path: libraryPath, Err: err}
	}
	if err := tl.Library().SetAllocator(alloc); err != nil {
		tl.Close()
		return nil, &LoadError{Path: libraryPath, Err: err}
	}

	a := &Assembly{
		libraryPath: libraryPath,
		lib:         tl,
		info:        info,
		alloc:       alloc,
		state:       StateLoaded,
		opener:      opener,
		scratch:     scratch,
		log:         log,
	}
	a.registerDependencies(table)
	a.registerGlobals()

	if err := table.EnsureLinkable(a.Path(), info.Symbols); err != nil {
		a.unregisterGlobals()
		table.ClearDependencies(a.Path())
		tl.Close()
		return nil, err
	}
	log.Info("assembly loaded",
		zap.String("path", a.Path()),
		zap.Int("types", len(info.Symbols.Types)),
		zap.Int("functions", len(info.Symbols.Functions)))
	return a, nil
}

// Path returns the assembly's logical module path.
func (a *Assembly) Path() string { return a.info.Symbols.Path }

// LibraryPath returns the on-disk artifact path the assembly was loaded
// from.
func (a *Assembly) LibraryPath() string { return a.libraryPath }

// Info returns the assembly's published metadata.
func (a *Assembly) Info() *abi.AssemblyInfo { return a.info }

// State returns the current lifecycle state.
func (a *Assembly) State() AssemblyState { return a.state }

func (a *Assembly) registerDependencies(table *DispatchTable) {
	table.ClearDependencies(a.Path())
	for _, slot := range a.info.Dispatch {
		table.RegisterDependency(a.Path(), slot.Signature.Name, slot.Signature, slot.Slot)
	}
}

func (a *Assembly) registerGlobals() {
	for _, g := range a.info.Globals {
		a.alloc.AddGlobalRoot(g.Slot)
	}
}

func (a *Assembly) unregisterGlobals() {
	for _, g := range a.info.Globals {
		a.alloc.RemoveGlobalRoot(g.Slot)
	}
}

// Link publishes the assembly's functions into the dispatch table and
// writes a resolved entry point through every unresolved call slot.
// EnsureLinkable ran at load, so resolution cannot fail with a mismatch.
func (a *Assembly) Link(table *DispatchTable) {
	for _, fn := range a.info.Symbols.Functions {
		table.InsertFn(fn.Signature.Name, fn)
	}
	for _, slot := range a.info.Dispatch {
		fn, ok := table.GetFn(slot.Signature.Name)
		if !ok {
			// EnsureLinkable admitted it, so it must be self-provided.
			fn, _ = a.info.Symbols.FunctionByName(slot.Signature.Name)
		}
		*slot.Slot = fn.Fn
	}
	a.state = StateLinked
}

// unlink removes the assembly's functions from the table. Entry points are
// borrowed from the mapped library, so this must happen before the library
// is dropped.
func (a *Assembly) unlink(table *DispatchTable) {
	for _, fn := range a.info.Symbols.Functions {
		table.RemoveFn(fn.Signature.Name, fn)
	}
}

// Swap replaces the assembly with the artifact at newPath: load, verify
// the table still satisfies every registered dependency afterwards,
// migrate all live objects, then relink. On failure before the rewrite
// commits the old assembly stays linked and the error is returned; a
// failure after the commit is fatal.
func (a *Assembly) Swap(newPath string, table *DispatchTable) error {
	next, err := LoadAssembly(newPath, a.alloc, table, a.opener, a.scratch, a.log)
	if err != nil {
		a.restore(table)
		return err
	}
	remove, add := stepDelta([]*Assembly{a}, []*Assembly{next})
	if err := table.CheckStep(remove, add); err != nil {
		next.discard(table)
		a.restore(table)
		return err
	}
	return a.commitSwap(next, table)
}

// commitSwap migrates live objects from a's schema to next's and flips the
// assembly. Callers have already validated the step.
func (a *Assembly) commitSwap(next *Assembly, table *DispatchTable) error {
	a.state = StateSwapping
	mapping, err := memory.Diff(a.info.Symbols.Types, next.info.Symbols.Types)
	if err != nil {
		next.discard(table)
		a.restore(table)
		a.state = StateLinked
		return err
	}
	if err := memory.Apply(a.alloc, mapping); err != nil {
		err = wrapMigration(err)
		if _, fatal := err.(*FatalError); fatal {
			a.state = StateAborted
			return err
		}
		next.discard(table)
		a.restore(table)
		a.state = StateLinked
		return err
	}

	// The rewrite committed: no live object's descriptor points into the
	// old library anymore. Drop its table entries before the library goes.
	a.unlink(table)
	a.unregisterGlobals()
	next.Link(table)
	table.PatchSlots()
	oldLib := a.lib
	a.log.Info("assembly swapped",
		zap.String("path", a.Path()),
		zap.String("library", next.libraryPath),
		zap.Int("migrated_types", len(mapping.Retained)),
		zap.Int("removed_types", len(mapping.Removed)))

	a.libraryPath = next.libraryPath
	a.lib = next.lib
	a.info = next.info
	a.state = StateLinked
	return oldLib.Close()
}

// discard unloads a staged assembly that will not be linked.
func (a *Assembly) discard(table *DispatchTable) {
	a.unregisterGlobals()
	table.ClearDependencies(a.Path())
	a.lib.Close()
}

// restore re-registers the assembly's slots and roots after a staged
// replacement clobbered them.
func (a *Assembly) restore(table *DispatchTable) {
	a.registerDependencies(table)
	a.registerGlobals()
}

// close unlinks and unloads the assembly.
func (a *Assembly) close(table *DispatchTable) error {
	a.unlink(table)
	a.unregisterGlobals()
	table.ClearDependencies(a.Path())
	return a.lib.Close()
}

// stepDelta computes the function removals and additions of one
// coordinated reload step.
func stepDelta(old, next []*Assembly) (map[string]struct{}, map[string]*abi.FunctionSignature) {
	remove := map[string]struct{}{}
	for _, a := range old {
		for _, fn := range a.info.Symbols.Functions {
			remove[fn.Signature.Name] = struct{}{}
		}
	}
	add := map[string]*abi.FunctionSignature{}
	for _, a := range next {
		for _, fn := range a.info.Symbols.Functions {
			fn := fn
			add[fn.Signature.Name] = &fn.Signature
		}
	}
	return remove, add
}
