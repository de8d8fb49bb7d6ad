package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := write(t, t.TempDir(), "mun.yaml", "name: game\nversion: 0.1.0\n")
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "game", m.Name)
	require.Equal(t, "0.1.0", m.Version)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)

	noName := write(t, dir, "noname.yaml", "version: 0.1.0\n")
	_, err = Load(noName)
	require.ErrorContains(t, err, "no name")

	badVersion := write(t, dir, "badver.yaml", "name: game\nversion: not.a.version\n")
	_, err = Load(badVersion)
	require.ErrorContains(t, err, "invalid version")

	garbage := write(t, dir, "garbage.yaml", "{{{")
	_, err = Load(garbage)
	require.ErrorContains(t, err, "parse manifest")
}

func TestResolveArtifactPath(t *testing.T) {
	dir := t.TempDir()
	manifest := write(t, dir, "mun.yaml", "name: game\nversion: 0.1.0\n")
	got, err := Resolve(manifest)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "target", "game.so"), got)
}

func TestResolveEntryOverride(t *testing.T) {
	dir := t.TempDir()
	manifest := write(t, dir, "mun.yaml", "name: game\nversion: 0.1.0\nentry: game_debug.so\n")
	got, err := Resolve(manifest)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "target", "game_debug.so"), got)
}
