//go:build linux || darwin || freebsd

package runtime

import (
	"plugin"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
)

// PluginOpener opens native artifacts with the OS dynamic loader through
// the plugin package. An artifact must export GetInfo and
// SetAllocatorHandle with the signatures below.
type PluginOpener struct{}

const (
	symGetInfo      = "GetInfo"
	symSetAllocator = "SetAllocatorHandle"
)

func (PluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	getInfo, err := p.Lookup(symGetInfo)
	if err != nil {
		return nil, &SymbolMissing{Name: symGetInfo}
	}
	infoFn, ok := getInfo.(func() *abi.AssemblyInfo)
	if !ok {
		return nil, &LoadError{Path: path, Err: &SymbolMissing{Name: symGetInfo}}
	}
	setAlloc, err := p.Lookup(symSetAllocator)
	if err != nil {
		return nil, &SymbolMissing{Name: symSetAllocator}
	}
	allocFn, ok := setAlloc.(func(*gc.Collector))
	if !ok {
		return nil, &LoadError{Path: path, Err: &SymbolMissing{Name: symSetAllocator}}
	}
	return &pluginLibrary{info: infoFn, setAlloc: allocFn}, nil
}

type pluginLibrary struct {
	info     func() *abi.AssemblyInfo
	setAlloc func(*gc.Collector)
}

func (l *pluginLibrary) Info() (*abi.AssemblyInfo, error) {
	return l.info(), nil
}

func (l *pluginLibrary) SetAllocator(c *gc.Collector) error {
	l.setAlloc(c)
	return nil
}

// Close is a no-op: mapped plugins cannot be unloaded by the OS loader.
// The temp copy is still deleted by the owning TempLibrary, so dropping an
// assembly only leaks the mapping, never the file.
func (l *pluginLibrary) Close() error { return nil }
