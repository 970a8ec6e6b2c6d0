// Package marshal serializes script values so they can cross interpreter
// boundaries. Numbers, strings, booleans, null, arrays, plain objects and
// script functions round-trip; runtime handles travel by reference and are
// re-fetched in the target interpreter through a Resolver. Everything else
// is rejected as non-transferable.
package marshal

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dop251/goja"
)

// Error definitions
var (
	// ErrNontransferable is returned when a value cannot cross interpreters.
	ErrNontransferable = errors.New("marshal: value is not transferable")
	// ErrCyclic is returned when the value graph contains a cycle.
	ErrCyclic = errors.New("marshal: cyclic value")
	// ErrNoResolver is returned when a handle record is decoded without a Resolver.
	ErrNoResolver = errors.New("marshal: no handle resolver")
)

// Handle is implemented by host objects that cross interpreters by
// reference rather than by value.
type Handle interface {
	HandleKind() string
	HandleID() uint64
}

// Resolver rebuilds the script-visible object for a handle record inside
// the target interpreter.
type Resolver interface {
	ResolveHandle(vm *goja.Runtime, kind string, id uint64) (goja.Value, error)
}

// handleProp is the hidden property under which binding modules attach the
// Handle of a script-visible object.
const handleProp = "__handle"

// node type tags
const (
	tagNil    = "nil"
	tagBool   = "bool"
	tagNum    = "num"
	tagStr    = "str"
	tagArr    = "arr"
	tagObj    = "obj"
	tagFunc   = "fn"
	tagHandle = "ref"
)

type node struct {
	Type string           `json:"t"`
	Bool bool             `json:"b,omitempty"`
	Num  float64          `json:"n,omitempty"`
	Str  string           `json:"s,omitempty"`
	Arr  []*node          `json:"a,omitempty"`
	Obj  map[string]*node `json:"o,omitempty"`
	Src  string           `json:"src,omitempty"`
	Kind string           `json:"k,omitempty"`
	ID   uint64           `json:"id,omitempty"`
}

// Encode serializes v, which must belong to vm.
func Encode(vm *goja.Runtime, v goja.Value) ([]byte, error) {
	seen := make(map[*goja.Object]bool)
	n, err := encodeValue(vm, v, seen)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// EncodeString serializes a bare string without an interpreter; used by
// host-side producers such as transport bridges.
func EncodeString(s string) []byte {
	data, _ := json.Marshal(&node{Type: tagStr, Str: s})
	return data
}

func encodeValue(vm *goja.Runtime, v goja.Value, seen map[*goja.Object]bool) (*node, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &node{Type: tagNil}, nil
	}

	// Symbols export as their description string; reject them before the
	// string case below can encode them.
	if _, isSym := v.(*goja.Symbol); isSym {
		return nil, fmt.Errorf("%w: symbol", ErrNontransferable)
	}

	if et := v.ExportType(); et != nil {
		switch et.Kind() {
		case reflect.Bool:
			return &node{Type: tagBool, Bool: v.ToBoolean()}, nil
		case reflect.String:
			if _, isObj := v.(*goja.Object); !isObj {
				return &node{Type: tagStr, Str: v.String()}, nil
			}
		case reflect.Int64, reflect.Float64:
			if _, isObj := v.(*goja.Object); !isObj {
				return &node{Type: tagNum, Num: v.ToFloat()}, nil
			}
		}
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNontransferable, v.ExportType())
	}

	// Handles travel by reference.
	if h := exportHandle(obj); h != nil {
		return &node{Type: tagHandle, Kind: h.HandleKind(), ID: h.HandleID()}, nil
	}

	if seen[obj] {
		return nil, ErrCyclic
	}
	seen[obj] = true
	defer delete(seen, obj)

	switch obj.ClassName() {
	case "Function":
		src := obj.String()
		if strings.Contains(src, "[native code]") {
			return nil, fmt.Errorf("%w: native function", ErrNontransferable)
		}
		return &node{Type: tagFunc, Src: src}, nil
	case "Array":
		length := int(obj.Get("length").ToInteger())
		arr := make([]*node, 0, length)
		for i := 0; i < length; i++ {
			child, err := encodeValue(vm, obj.Get(fmt.Sprintf("%d", i)), seen)
			if err != nil {
				return nil, err
			}
			arr = append(arr, child)
		}
		return &node{Type: tagArr, Arr: arr}, nil
	case "Object":
		fields := make(map[string]*node)
		for _, key := range obj.Keys() {
			child, err := encodeValue(vm, obj.Get(key), seen)
			if err != nil {
				return nil, err
			}
			fields[key] = child
		}
		return &node{Type: tagObj, Obj: fields}, nil
	default:
		return nil, fmt.Errorf("%w: %s object", ErrNontransferable, obj.ClassName())
	}
}

// HandleOf returns the Handle attached to obj, nil when obj is not a
// handle object.
func HandleOf(obj *goja.Object) Handle {
	return exportHandle(obj)
}

func exportHandle(obj *goja.Object) Handle {
	hv := obj.Get(handleProp)
	if hv == nil {
		return nil
	}
	h, _ := hv.Export().(Handle)
	return h
}

// SetHandle attaches h to obj under the hidden handle property so Encode
// recognizes the object as a by-reference handle.
func SetHandle(vm *goja.Runtime, obj *goja.Object, h Handle) error {
	return obj.DefineDataProperty(handleProp, vm.ToValue(h), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

// DecodeString extracts a bare string payload without an interpreter.
// The second return is false when the payload is not a string node.
func DecodeString(data []byte) (string, bool) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return "", false
	}
	if n.Type != tagStr {
		return "", false
	}
	return n.Str, true
}

// Decode deserializes data into vm. resolver may be nil when the payload is
// known to contain no handles.
func Decode(vm *goja.Runtime, resolver Resolver, data []byte) (goja.Value, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("marshal: corrupt payload: %w", err)
	}
	return decodeNode(vm, resolver, &n)
}

func decodeNode(vm *goja.Runtime, resolver Resolver, n *node) (goja.Value, error) {
	switch n.Type {
	case tagNil:
		return goja.Null(), nil
	case tagBool:
		return vm.ToValue(n.Bool), nil
	case tagNum:
		return vm.ToValue(n.Num), nil
	case tagStr:
		return vm.ToValue(n.Str), nil
	case tagArr:
		values := make([]interface{}, len(n.Arr))
		arr := vm.NewArray(values...)
		for i, child := range n.Arr {
			v, err := decodeNode(vm, resolver, child)
			if err != nil {
				return nil, err
			}
			if err := arr.Set(fmt.Sprintf("%d", i), v); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case tagObj:
		obj := vm.NewObject()
		for key, child := range n.Obj {
			v, err := decodeNode(vm, resolver, child)
			if err != nil {
				return nil, err
			}
			if err := obj.Set(key, v); err != nil {
				return nil, err
			}
		}
		return obj, nil
	case tagFunc:
		v, err := vm.RunString("(" + n.Src + ")")
		if err != nil {
			return nil, fmt.Errorf("marshal: function did not re-evaluate: %w", err)
		}
		if _, ok := goja.AssertFunction(v); !ok {
			return nil, fmt.Errorf("marshal: source did not evaluate to a function")
		}
		return v, nil
	case tagHandle:
		if resolver == nil {
			return nil, ErrNoResolver
		}
		return resolver.ResolveHandle(vm, n.Kind, n.ID)
	default:
		return nil, fmt.Errorf("marshal: unknown node type %q", n.Type)
	}
}
