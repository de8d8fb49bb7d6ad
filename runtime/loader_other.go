//go:build !linux && !darwin && !freebsd

package runtime

import "github.com/pkg/errors"

// PluginOpener is unavailable on platforms without dynamic plugin loading;
// embedders supply their own Opener there.
type PluginOpener struct{}

func (PluginOpener) Open(path string) (Library, error) {
	return nil, &LoadError{Path: path, Err: errors.New("native artifact loading is not supported on this platform")}
}
