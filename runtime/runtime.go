// Package runtime is the assembly manager of the language runtime: it
// loads compiled artifacts as shared objects, links their call sites
// through a shared dispatch table, watches the artifacts for changes, and
// hot-swaps them while migrating every live object to the new type schema.
package runtime

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
	"github.com/breadchris/mun/project"
)

// Options configure a Runtime. The zero value is usable.
type Options struct {
	// PollInterval is the cadence of mtime polling in Update. Defaults to
	// 10ms.
	PollInterval time.Duration

	// Logger receives lifecycle events. Defaults to a nop logger.
	Logger *zap.Logger

	// Opener loads artifact files. Defaults to the native PluginOpener.
	Opener Opener

	// TempDir is the scratch directory for temp library copies. Defaults
	// to MUN_TEMP_DIR, then the platform temp directory.
	TempDir string

	// GCTriggerBytes is the allocation volume between automatic
	// collections. Zero selects the collector default.
	GCTriggerBytes int

	// NoWatch disables fsnotify; Update then relies on mtime polling
	// alone. Also settable with MUN_NO_WATCH.
	NoWatch bool
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// Runtime owns the set of loaded assemblies, the dispatch table and the
// collector, drives the reload loop, and dispatches host-initiated
// invocations. All operations serialize behind one mutex: no invocation
// runs during a swap.
type Runtime struct {
	opt   Options
	log   *zap.Logger
	alloc *gc.Collector
	table *DispatchTable

	mu         sync.Mutex
	assemblies map[string]*Assembly // keyed by artifact path
	manifests  map[string]string    // manifest path -> artifact path
	stamps     map[string]fileStamp
	watcher    *fsnotify.Watcher
	pending    map[string]bool // artifact paths reported changed by the watcher
}

// New returns a runtime with no assemblies loaded.
func New(opts Options) (*Runtime, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Opener == nil {
		opts.Opener = PluginOpener{}
	}
	if opts.TempDir == "" {
		opts.TempDir = os.Getenv("MUN_TEMP_DIR")
	}
	if noWatch, _ := strconv.ParseBool(os.Getenv("MUN_NO_WATCH")); noWatch {
		opts.NoWatch = true
	}

	r := &Runtime{
		opt:        opts,
		log:        opts.Logger,
		alloc:      gc.New(opts.GCTriggerBytes),
		table:      NewDispatchTable(),
		assemblies: map[string]*Assembly{},
		manifests:  map[string]string{},
		stamps:     map[string]fileStamp{},
		pending:    map[string]bool{},
	}
	if !opts.NoWatch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			r.log.Warn("file watcher unavailable, falling back to polling", zap.Error(err))
		} else {
			r.watcher = w
		}
	}
	return r, nil
}

// Collector returns the runtime's allocator.
func (r *Runtime) Collector() *gc.Collector { return r.alloc }

// PollInterval returns the configured update cadence, for driver loops.
func (r *Runtime) PollInterval() time.Duration { return r.opt.PollInterval }

// AddManifest resolves the compiled artifact for the given project
// manifest, loads it, links it, and starts watching it for changes.
func (r *Runtime) AddManifest(manifestPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, err := project.Resolve(manifestPath)
	if err != nil {
		return err
	}
	a, err := LoadAssembly(artifact, r.alloc, r.table, r.opt.Opener, r.opt.TempDir, r.log)
	if err != nil {
		return err
	}
	if err := r.checkTypeIdentity(a); err != nil {
		a.discard(r.table)
		return err
	}
	if err := r.rejectCycles(a); err != nil {
		a.discard(r.table)
		return err
	}
	a.Link(r.table)
	r.assemblies[artifact] = a
	r.manifests[manifestPath] = artifact
	r.stamp(artifact)
	if r.watcher != nil {
		if err := r.watcher.Add(filepath.Dir(artifact)); err != nil {
			r.log.Warn("cannot watch artifact directory", zap.String("dir", filepath.Dir(artifact)), zap.Error(err))
		}
	}
	return nil
}

// checkTypeIdentity enforces GUID identity across artifacts: a GUID seen
// in two loaded assemblies must describe the same shape.
func (r *Runtime) checkTypeIdentity(candidate *Assembly) error {
	for _, a := range r.assemblies {
		for _, t := range a.info.Symbols.Types {
			for _, ct := range candidate.info.Symbols.Types {
				if t.GUID == ct.GUID && !abi.SameShape(t, ct) {
					return &LoadError{
						Path: candidate.libraryPath,
						Err:  &abi.ShapeConflictError{Name: ct.Name, Other: t.Name},
					}
				}
			}
		}
	}
	return nil
}

// rejectCycles verifies the assembly dependency graph stays acyclic after
// adding candidate. An edge runs from each assembly to the providers of the
// functions it depends on.
func (r *Runtime) rejectCycles(candidate *Assembly) error {
	all := make([]*Assembly, 0, len(r.assemblies)+1)
	for _, a := range r.assemblies {
		all = append(all, a)
	}
	all = append(all, candidate)

	providers := map[string]*Assembly{}
	for _, a := range all {
		for _, fn := range a.info.Symbols.Functions {
			providers[fn.Signature.Name] = a
		}
	}
	// adjacency: assembly -> assemblies it depends on
	adj := map[*Assembly][]*Assembly{}
	for _, a := range all {
		for name := range r.table.Dependencies(a.Path()) {
			if p, ok := providers[name]; ok && p != a {
				adj[a] = append(adj[a], p)
			}
		}
	}
	const (
		visiting = 1
		done     = 2
	)
	state := map[*Assembly]int{}
	var visit func(a *Assembly) bool
	visit = func(a *Assembly) bool {
		switch state[a] {
		case done:
			return true
		case visiting:
			return false
		}
		state[a] = visiting
		for _, p := range adj[a] {
			if !visit(p) {
				return false
			}
		}
		state[a] = done
		return true
	}
	for _, a := range all {
		if !visit(a) {
			return &LoadError{Path: candidate.libraryPath, Err: errCycle}
		}
	}
	return nil
}

// Update polls watched artifacts and performs one coordinated reload step
// over every artifact that changed since the last observation. Swaps are
// serialized; providers swap before their dependents. It reports whether
// any assembly was swapped.
func (r *Runtime) Update() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := r.detectChanges()
	if len(changed) == 0 {
		return false, nil
	}
	ordered := r.orderByDependency(changed)

	// Stage every new artifact before touching anything, so a step that
	// cannot link leaves every assembly as it was.
	staged := make([]*Assembly, 0, len(ordered))
	discardStaged := func(upto int) {
		for i := 0; i < upto; i++ {
			staged[i].discard(r.table)
		}
		for _, a := range ordered {
			a.restore(r.table)
		}
	}
	for i, a := range ordered {
		next, err := LoadAssembly(a.libraryPath, r.alloc, r.table, r.opt.Opener, r.opt.TempDir, r.log)
		if err != nil {
			discardStaged(i)
			return false, err
		}
		staged = append(staged, next)
	}

	// One reload step is atomic with respect to linking: conflicting
	// exports or a broken dependency reject the whole step.
	if err := r.validateStep(ordered, staged); err != nil {
		discardStaged(len(staged))
		return false, err
	}

	for i, a := range ordered {
		if err := a.commitSwap(staged[i], r.table); err != nil {
			if _, fatal := err.(*FatalError); fatal {
				return false, err
			}
			// Pre-rewrite failure: this assembly kept its old version.
			// Later assemblies in the step have not been touched.
			for j := i + 1; j < len(staged); j++ {
				staged[j].discard(r.table)
				ordered[j].restore(r.table)
			}
			return i > 0, err
		}
		r.stamp(a.libraryPath)
	}
	return true, nil
}

// validateStep rejects a coordinated reload step whose combined insertions
// conflict with each other or break any loaded assembly's dependencies.
func (r *Runtime) validateStep(old, staged []*Assembly) error {
	seen := map[string]*abi.FunctionSignature{}
	for _, next := range staged {
		for _, fn := range next.info.Symbols.Functions {
			fn := fn
			if prev, ok := seen[fn.Signature.Name]; ok && !prev.EqualTypes(&fn.Signature) {
				return &SignatureMismatch{
					Name:     fn.Signature.Name,
					Expected: prev.String(),
					Found:    fn.Signature.String(),
				}
			}
			seen[fn.Signature.Name] = &fn.Signature
		}
	}
	remove, add := stepDelta(old, staged)
	return r.table.CheckStep(remove, add)
}

// detectChanges drains watcher events and compares stamps, returning the
// artifact paths whose files changed since the last observation.
func (r *Runtime) detectChanges() []string {
	if r.watcher != nil {
	drain:
		for {
			select {
			case ev, ok := <-r.watcher.Events:
				if !ok {
					break drain
				}
				if _, watched := r.assemblies[ev.Name]; watched && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					r.pending[ev.Name] = true
				}
			case err, ok := <-r.watcher.Errors:
				if ok && err != nil {
					r.log.Warn("watch error", zap.Error(err))
				}
				if !ok {
					break drain
				}
			default:
				break drain
			}
		}
	}
	var changed []string
	for path := range r.assemblies {
		if r.pending[path] || r.stampChanged(path) {
			delete(r.pending, path)
			changed = append(changed, path)
		}
	}
	return changed
}

func (r *Runtime) stamp(path string) {
	if fi, err := os.Stat(path); err == nil {
		r.stamps[path] = fileStamp{modTime: fi.ModTime(), size: fi.Size()}
	}
}

func (r *Runtime) stampChanged(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	prev, ok := r.stamps[path]
	return !ok || !fi.ModTime().Equal(prev.modTime) || fi.Size() != prev.size
}

// orderByDependency sorts the changed assemblies so a provider swaps
// before any changed assembly that depends on it.
func (r *Runtime) orderByDependency(paths []string) []*Assembly {
	changed := map[*Assembly]bool{}
	var set []*Assembly
	for _, p := range paths {
		if a, ok := r.assemblies[p]; ok {
			changed[a] = true
			set = append(set, a)
		}
	}
	providers := map[string]*Assembly{}
	for _, a := range set {
		for _, fn := range a.info.Symbols.Functions {
			providers[fn.Signature.Name] = a
		}
	}
	var ordered []*Assembly
	state := map[*Assembly]int{}
	var visit func(a *Assembly)
	visit = func(a *Assembly) {
		if state[a] != 0 {
			return
		}
		state[a] = 1
		for name := range r.table.Dependencies(a.Path()) {
			if p, ok := providers[name]; ok && p != a && changed[p] {
				visit(p)
			}
		}
		ordered = append(ordered, a)
	}
	for _, a := range set {
		visit(a)
	}
	return ordered
}

// Invoke calls the named function of the assembly loaded for path (a
// manifest path or an artifact path), marshaling args against the
// function's signature.
func (r *Runtime) Invoke(path, fnName string, args ...any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.lookup(path)
	if err != nil {
		return nil, err
	}
	if a.State() != StateLinked {
		return nil, &InvokeError{Fn: fnName, Kind: InvokeTypeMismatch, Detail: "assembly is " + a.State().String() + ", not linked"}
	}
	fn, ok := a.info.Symbols.FunctionByName(fnName)
	if !ok {
		return nil, &UnresolvedSymbol{Assembly: a.Path(), Name: fnName}
	}
	sig := fn.Signature
	if len(args) != len(sig.Args) {
		return nil, &InvokeError{
			Fn:   fnName,
			Kind: InvokeArityMismatch,
			Detail: "expected " + strconv.Itoa(len(sig.Args)) + " argument(s), got " +
				strconv.Itoa(len(args)),
		}
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		v, err := marshalArg(r.alloc, arg, sig.Args[i])
		if err != nil {
			return nil, &InvokeError{Fn: fnName, Kind: InvokeTypeMismatch, Detail: err.Error()}
		}
		in[i] = v
	}
	out := fn.Fn.Call(in)
	if sig.Return == nil || len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// InvokeAs invokes and asserts the result type.
func InvokeAs[R any](r *Runtime, path, fnName string, args ...any) (R, error) {
	var zero R
	out, err := r.Invoke(path, fnName, args...)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	res, ok := out.(R)
	if !ok {
		return zero, &InvokeError{
			Fn:     fnName,
			Kind:   InvokeTypeMismatch,
			Detail: "result type " + reflect.TypeOf(out).String() + " does not match request",
		}
	}
	return res, nil
}

func (r *Runtime) lookup(path string) (*Assembly, error) {
	if artifact, ok := r.manifests[path]; ok {
		path = artifact
	}
	if a, ok := r.assemblies[path]; ok {
		return a, nil
	}
	return nil, &NotLoadedError{Path: path}
}

// Assemblies returns the loaded assemblies keyed by artifact path.
func (r *Runtime) Assemblies() map[string]*Assembly {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Assembly, len(r.assemblies))
	for k, v := range r.assemblies {
		out[k] = v
	}
	return out
}

// Close unlinks and unloads every assembly and stops the watcher.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for path, a := range r.assemblies {
		if err := a.close(r.table); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.assemblies, path)
	}
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
