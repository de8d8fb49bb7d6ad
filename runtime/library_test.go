package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/breadchris/mun/abi"
)

func TestOpenTempCopiesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()
	artifact := filepath.Join(dir, "game.so")
	writeArtifact(t, artifact, "v1")

	opener := &fakeOpener{artifacts: map[string]*fakeArtifact{
		"v1": {info: assemblyInfo("game", nil, nil)},
	}}
	tl, err := OpenTemp(artifact, opener, scratch)
	require.NoError(t, err)
	require.Equal(t, artifact, tl.Path())
	require.Equal(t, scratch, filepath.Dir(tl.TempPath()))
	require.True(t, strings.HasPrefix(filepath.Base(tl.TempPath()), "mun_"))
	require.True(t, strings.HasSuffix(tl.TempPath(), "_game.so"))

	// The build tool can overwrite the original while the copy is open.
	writeArtifact(t, artifact, "v2")
	info, err := tl.Library().Info()
	require.NoError(t, err)
	require.Equal(t, "game", info.Symbols.Path)

	require.NoError(t, tl.Close())
	_, err = os.Stat(tl.TempPath())
	require.True(t, os.IsNotExist(err), "the temp copy is deleted on close")
	_, err = os.Stat(artifact)
	require.NoError(t, err, "the original stays put")
}

func TestOpenTempUniqueNames(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()
	artifact := filepath.Join(dir, "game.so")
	writeArtifact(t, artifact, "v1")
	opener := &fakeOpener{artifacts: map[string]*fakeArtifact{
		"v1": {info: assemblyInfo("game", nil, nil)},
	}}

	a, err := OpenTemp(artifact, opener, scratch)
	require.NoError(t, err)
	b, err := OpenTemp(artifact, opener, scratch)
	require.NoError(t, err)
	require.NotEqual(t, a.TempPath(), b.TempPath(), "copies are numbered monotonically")
	a.Close()
	b.Close()
}

func TestOpenTempMissingFile(t *testing.T) {
	opener := &fakeOpener{artifacts: map[string]*fakeArtifact{}}
	_, err := OpenTemp(filepath.Join(t.TempDir(), "absent.so"), opener, t.TempDir())
	var io *IoError
	require.ErrorAs(t, err, &io)
	require.Equal(t, "copy", io.Op)
}

func TestOpenTempLoadErrorCleansUp(t *testing.T) {
	dir := t.TempDir()
	scratch := t.TempDir()
	artifact := filepath.Join(dir, "bad.so")
	writeArtifact(t, artifact, "garbage")
	opener := &fakeOpener{artifacts: map[string]*fakeArtifact{}}

	_, err := OpenTemp(artifact, opener, scratch)
	var le *LoadError
	require.ErrorAs(t, err, &le)

	entries, readErr := os.ReadDir(scratch)
	require.NoError(t, readErr)
	require.Empty(t, entries, "a failed open must not leak its temp copy")
}

func TestOpenTempDefaultScratchDir(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "game.so")
	writeArtifact(t, artifact, "v1")
	opener := &fakeOpener{artifacts: map[string]*fakeArtifact{
		"v1": {info: &abi.AssemblyInfo{Symbols: &abi.Symbols{Path: "game"}}},
	}}
	tl, err := OpenTemp(artifact, opener, "")
	require.NoError(t, err)
	defer tl.Close()
	require.Equal(t, filepath.Clean(os.TempDir()), filepath.Clean(filepath.Dir(tl.TempPath())))
}
