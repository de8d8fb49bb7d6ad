package memory

import "fmt"

// MigrationErrorKind classifies schema rewrite failures.
type MigrationErrorKind uint8

const (
	// MigrationSchemaCycle: the retained types form a value-containment
	// cycle, which cannot describe a finite layout. Detected before any
	// object is touched.
	MigrationSchemaCycle MigrationErrorKind = iota
	// MigrationDangling: after the rewrite committed, a live object still
	// references an instance of a removed type. The heap is inconsistent;
	// callers must treat this as fatal.
	MigrationDangling
)

// MigrationError is a schema rewrite failure.
type MigrationError struct {
	Kind   MigrationErrorKind
	Type   string
	Handle uint64
}

func (e *MigrationError) Error() string {
	switch e.Kind {
	case MigrationSchemaCycle:
		return fmt.Sprintf("memory: value-containment cycle through type %s", e.Type)
	case MigrationDangling:
		return fmt.Sprintf("memory: object %d still references removed type %s after migration", e.Handle, e.Type)
	}
	return "memory: migration error"
}

// Fatal reports whether the failure happened after the rewrite committed,
// leaving object memory in an inconsistent state.
func (e *MigrationError) Fatal() bool {
	return e.Kind == MigrationDangling
}
