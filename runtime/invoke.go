package runtime

import (
	"fmt"
	"reflect"

	"github.com/breadchris/mun/abi"
	"github.com/breadchris/mun/gc"
)

// marshalArg converts one host argument to the reflect value matching the
// parameter descriptor. Fundamentals map onto the Go type of the same
// width; GC struct parameters take a handle whose dynamic type matches by
// GUID; value struct parameters take the raw payload bytes.
func marshalArg(alloc *gc.Collector, arg any, want *abi.TypeInfo) (reflect.Value, error) {
	if want.Group == abi.GroupFundamental {
		return marshalFundamental(arg, want)
	}
	switch {
	case want.IsGCRef():
		h, ok := arg.(gc.Handle)
		if !ok {
			return reflect.Value{}, fmt.Errorf("parameter %s takes an object handle, got %T", want.Name, arg)
		}
		if h != gc.NilHandle {
			t := alloc.TypeOf(h)
			if t == nil {
				return reflect.Value{}, fmt.Errorf("handle %d is not a live object", h)
			}
			if !t.Is(want) {
				return reflect.Value{}, fmt.Errorf("handle is a %s, parameter takes %s", t.Name, want.Name)
			}
		}
		return reflect.ValueOf(h), nil
	default:
		payload, ok := arg.([]byte)
		if !ok {
			return reflect.Value{}, fmt.Errorf("value parameter %s takes a payload, got %T", want.Name, arg)
		}
		if len(payload) != want.Size() {
			return reflect.Value{}, fmt.Errorf("value parameter %s takes %d bytes, got %d", want.Name, want.Size(), len(payload))
		}
		return reflect.ValueOf(payload), nil
	}
}

func marshalFundamental(arg any, want *abi.TypeInfo) (reflect.Value, error) {
	ok := false
	switch want.GUID {
	case abi.F32.GUID:
		_, ok = arg.(float32)
	case abi.F64.GUID:
		_, ok = arg.(float64)
	case abi.Bool.GUID:
		_, ok = arg.(bool)
	case abi.I8.GUID:
		_, ok = arg.(int8)
	case abi.I16.GUID:
		_, ok = arg.(int16)
	case abi.I32.GUID:
		_, ok = arg.(int32)
	case abi.I64.GUID:
		_, ok = arg.(int64)
	case abi.U8.GUID:
		_, ok = arg.(uint8)
	case abi.U16.GUID:
		_, ok = arg.(uint16)
	case abi.U32.GUID:
		_, ok = arg.(uint32)
	case abi.U64.GUID:
		_, ok = arg.(uint64)
	default:
		return reflect.Value{}, fmt.Errorf("unsupported parameter type %s", want.Name)
	}
	if !ok {
		return reflect.Value{}, fmt.Errorf("parameter takes %s, got %T", want.Name, arg)
	}
	return reflect.ValueOf(arg), nil
}
