// Package project resolves a project manifest to its compiled artifact.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Manifest describes one project: the name of its compiled artifact and
// its version. Entry overrides the artifact filename.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Entry   string `yaml:"entry,omitempty"`
}

// artifactExt is the filename extension of compiled artifacts.
const artifactExt = ".so"

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("project: manifest %s has no name", path)
	}
	if m.Version != "" && !semver.IsValid("v"+m.Version) {
		return nil, fmt.Errorf("project: manifest %s has invalid version %q", path, m.Version)
	}
	return &m, nil
}

// Resolve returns the compiled artifact path for the manifest at path:
// <dir>/target/<name>.so unless the manifest names an entry.
func Resolve(path string) (string, error) {
	m, err := Load(path)
	if err != nil {
		return "", err
	}
	entry := m.Entry
	if entry == "" {
		entry = m.Name + artifactExt
	}
	return filepath.Join(filepath.Dir(path), "target", entry), nil
}
