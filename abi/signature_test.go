package abi

import (
	"reflect"
	"testing"
)

func TestSignatureEquality(t *testing.T) {
	add := &FunctionSignature{Name: "add", Args: []*TypeInfo{F32, F32}, Return: F32}
	same := &FunctionSignature{Name: "sum", Args: []*TypeInfo{F32, F32}, Return: F32}
	if !add.EqualTypes(same) {
		t.Error("names are not part of structural equality")
	}
	wider := &FunctionSignature{Name: "add", Args: []*TypeInfo{F64, F32}, Return: F32}
	if add.EqualTypes(wider) {
		t.Error("argument types must match pairwise")
	}
	unary := &FunctionSignature{Name: "add", Args: []*TypeInfo{F32}, Return: F32}
	if add.EqualTypes(unary) {
		t.Error("arity must match")
	}
	unit := &FunctionSignature{Name: "add", Args: []*TypeInfo{F32, F32}}
	if add.EqualTypes(unit) || !unit.EqualTypes(&FunctionSignature{Args: []*TypeInfo{F32, F32}}) {
		t.Error("unit returns only equal unit returns")
	}
}

func TestSignatureString(t *testing.T) {
	greet := &FunctionSignature{Name: "greet", Args: []*TypeInfo{I32}}
	if got := greet.String(); got != "greet(i32) -> ()" {
		t.Errorf("String() = %q", got)
	}
	add := &FunctionSignature{Name: "add", Args: []*TypeInfo{F32, F32}, Return: F32}
	if got := add.String(); got != "add(f32, f32) -> f32" {
		t.Errorf("String() = %q", got)
	}
}

func TestSameEntry(t *testing.T) {
	f := func(a float32) float32 { return a }
	g := func(a float32) float32 { return -a }
	fi := FunctionInfo{Fn: reflect.ValueOf(f)}
	fi2 := FunctionInfo{Fn: reflect.ValueOf(f)}
	gi := FunctionInfo{Fn: reflect.ValueOf(g)}
	if !fi.SameEntry(fi2) {
		t.Error("same function must share an entry point")
	}
	if fi.SameEntry(gi) {
		t.Error("distinct functions must not share an entry point")
	}
	if fi.SameEntry(FunctionInfo{}) {
		t.Error("invalid entries never match")
	}
}
