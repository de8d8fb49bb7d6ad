package runtime

import (
	"errors"
	"fmt"

	"github.com/breadchris/mun/memory"
)

// errCycle marks a rejected cyclic assembly dependency graph.
var errCycle = errors.New("assembly dependency cycle")

// LoadError: the artifact could not be opened as a shared object, or its
// published metadata is unusable.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("runtime: failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IoError: a filesystem operation around artifact handling failed.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("runtime: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// SymbolMissing: a required export is absent from the artifact.
type SymbolMissing struct {
	Name string
}

func (e *SymbolMissing) Error() string {
	return fmt.Sprintf("runtime: artifact does not export %q", e.Name)
}

// UnresolvedSymbol: a call slot names a function the dispatch table does
// not provide.
type UnresolvedSymbol struct {
	Assembly string
	Name     string
}

func (e *UnresolvedSymbol) Error() string {
	if e.Assembly == "" {
		return fmt.Sprintf("runtime: failed to link: function %q is missing", e.Name)
	}
	return fmt.Sprintf("runtime: failed to link %s: function %q is missing", e.Assembly, e.Name)
}

// SignatureMismatch: a function with the right name exists, but its
// signature does not match the dependency. The message reports both sides.
type SignatureMismatch struct {
	Name     string
	Expected string
	Found    string
}

func (e *SignatureMismatch) Error() string {
	return fmt.Sprintf("runtime: failed to link: signatures for %q do not match (expected: %s, found: %s)",
		e.Name, e.Expected, e.Found)
}

// InvokeErrorKind classifies invocation failures.
type InvokeErrorKind uint8

const (
	InvokeArityMismatch InvokeErrorKind = iota
	InvokeTypeMismatch
)

// InvokeError: a host-initiated invocation could not be marshaled.
type InvokeError struct {
	Fn     string
	Kind   InvokeErrorKind
	Detail string
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("runtime: invoke %s: %s", e.Fn, e.Detail)
}

// NotLoadedError: no assembly is loaded for the given path.
type NotLoadedError struct {
	Path string
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("runtime: no assembly loaded for %s", e.Path)
}

// FatalError wraps a failure that happened after a type rewrite committed.
// Object memory is inconsistent; the host must abort the process.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("runtime: fatal, object memory inconsistent: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// wrapMigration classifies a mapper failure: post-commit failures are
// fatal, everything else keeps the old assembly live.
func wrapMigration(err error) error {
	if me, ok := err.(*memory.MigrationError); ok && me.Fatal() {
		return &FatalError{Err: err}
	}
	return err
}
