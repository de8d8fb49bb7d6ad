package runtime

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
)

// fakeArtifact stands in for a compiled shared object. The on-disk file
// holds a token; the opener reads the token from whatever copy the loader
// made, so the temp-copy path is exercised for real.
type fakeArtifact struct {
	info          *abi.AssemblyInfo
	missingInfo   bool // simulate a missing GetInfo export
	opened        int
	closed        int
	allocObserved *gc.Collector
}

type fakeOpener struct {
	artifacts map[string]*fakeArtifact // token -> artifact
}

func (o *fakeOpener) Open(path string) (Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	art, ok := o.artifacts[strings.TrimSpace(string(data))]
	if !ok {
		return nil, &LoadError{Path: path, Err: errors.New("not a valid shared object")}
	}
	if art.missingInfo {
		return nil, &SymbolMissing{Name: symGetInfo}
	}
	art.opened++
	return &fakeLibrary{art: art}, nil
}

type fakeLibrary struct {
	art *fakeArtifact
}

func (l *fakeLibrary) Info() (*abi.AssemblyInfo, error) { return l.art.info, nil }

func (l *fakeLibrary) SetAllocator(c *gc.Collector) error {
	l.art.allocObserved = c
	return nil
}

func (l *fakeLibrary) Close() error {
	l.art.closed++
	return nil
}

func writeArtifact(t *testing.T, path, token string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func testGUID(name string) abi.GUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("runtime/"+name))
}

func testStruct(name string, memory abi.MemoryKind, align uint16, fields ...abi.Field) *abi.TypeInfo {
	return &abi.TypeInfo{
		GUID:  testGUID(name),
		Name:  name,
		Group: abi.GroupStruct,
		Struct: &abi.StructInfo{
			Name:      name,
			Fields:    fields,
			Alignment: align,
			Memory:    memory,
		},
	}
}

func fn(name string, impl any, args []*abi.TypeInfo, ret *abi.TypeInfo) abi.FunctionInfo {
	return abi.FunctionInfo{
		Signature: abi.FunctionSignature{Name: name, Args: args, Return: ret},
		Fn:        reflect.ValueOf(impl),
	}
}

func slot(name string, args []*abi.TypeInfo, ret *abi.TypeInfo) abi.DispatchSlot {
	return abi.DispatchSlot{
		Slot:      new(reflect.Value),
		Signature: &abi.FunctionSignature{Name: name, Args: args, Return: ret},
	}
}

func assemblyInfo(path string, types []*abi.TypeInfo, fns []abi.FunctionInfo, slots ...abi.DispatchSlot) *abi.AssemblyInfo {
	return &abi.AssemblyInfo{
		Symbols:  &abi.Symbols{Path: path, Types: types, Functions: fns},
		Dispatch: slots,
	}
}
