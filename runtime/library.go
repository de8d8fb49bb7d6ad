package runtime

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
)

// Library is an opened artifact: the two required exports of the artifact
// ABI plus a close hook. The native opener backs it with the OS dynamic
// loader; tests and embedders may supply in-process implementations.
type Library interface {
	// Info returns the artifact's published metadata.
	Info() (*abi.AssemblyInfo, error)
	// SetAllocator hands the artifact the allocator handle its generated
	// allocation intrinsics call back into.
	SetAllocator(*gc.Collector) error
	// Close releases the mapping.
	Close() error
}

// Opener opens an artifact file as a Library.
type Opener interface {
	Open(path string) (Library, error)
}

// tempCounter numbers temp copies monotonically across the process.
var tempCounter uint64

// TempLibrary owns a private copy of an artifact. The original file stays
// free to be overwritten by the build tool while the copy is mapped; the
// copy is deleted when the library is closed.
type TempLibrary struct {
	originalPath string
	tempPath     string
	lib          Library
}

// OpenTemp copies the artifact at path into scratchDir under a unique name
// and opens the copy. An empty scratchDir selects the platform temp
// directory.
func OpenTemp(path string, opener Opener, scratchDir string) (*TempLibrary, error) {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	n := atomic.AddUint64(&tempCounter, 1)
	tempPath := filepath.Join(scratchDir, tempName(n, filepath.Base(path)))
	if err := copyFile(path, tempPath); err != nil {
		return nil, &IoError{Op: "copy", Path: path, Err: err}
	}
	lib, err := opener.Open(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}
	return &TempLibrary{originalPath: path, tempPath: tempPath, lib: lib}, nil
}

// Library returns the opened library.
func (t *TempLibrary) Library() Library { return t.lib }

// Path returns the original artifact path.
func (t *TempLibrary) Path() string { return t.originalPath }

// TempPath returns the location of the private copy.
func (t *TempLibrary) TempPath() string { return t.tempPath }

// Close unmaps the library and deletes the private copy.
func (t *TempLibrary) Close() error {
	err := t.lib.Close()
	if rmErr := os.Remove(t.tempPath); err == nil {
		err = rmErr
	}
	return err
}

func tempName(n uint64, base string) string {
	return "mun_" + strconv.FormatUint(n, 10) + "_" + base
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "create scratch dir")
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return errors.Wrap(err, "create copy")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrap(err, "copy contents")
	}
	return out.Close()
}
