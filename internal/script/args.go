package script

import (
	"reflect"

	"github.com/dop251/goja"

	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// throw raises err as a script exception.
func throw(vm *goja.Runtime, err error) {
	panic(vm.NewGoError(err))
}

// asCallable reports whether v is a script function.
func asCallable(v goja.Value) (goja.Callable, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	return goja.AssertFunction(v)
}

// isNumber reports whether v is a plain number.
func isNumber(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	if _, isObj := v.(*goja.Object); isObj {
		return false
	}
	et := v.ExportType()
	if et == nil {
		return false
	}
	k := et.Kind()
	return k == reflect.Int64 || k == reflect.Float64
}

// argCount parses an optional non-negative count argument, returning
// def when absent.
func argCount(vm *goja.Runtime, call goja.FunctionCall, idx, def int) int {
	if idx >= len(call.Arguments) {
		return def
	}
	v := call.Argument(idx)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return def
	}
	n := int(v.ToInteger())
	if n < 0 {
		panic(vm.NewTypeError("argument must be positive or zero"))
	}
	return n
}

// handleArg extracts the attached Handle from an argument object, nil
// when the argument is not a handle.
func handleArg(v goja.Value) marshal.Handle {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return marshal.HandleOf(obj)
}

// taskArg resolves a process handle argument.
func (e *Engine) taskArg(vm *goja.Runtime, v goja.Value) *sched.Task {
	h := handleArg(v)
	if h == nil || h.HandleKind() != kindProcess {
		panic(vm.NewTypeError("Process expected"))
	}
	t := e.rt.GetTask(h.HandleID())
	if t == nil {
		panic(vm.NewTypeError("Process is dead"))
	}
	return t
}

// poolArg resolves a pool handle argument.
func (e *Engine) poolArg(vm *goja.Runtime, v goja.Value) *sched.Pool {
	h := handleArg(v)
	if h == nil || h.HandleKind() != kindPool {
		panic(vm.NewTypeError("Pool expected"))
	}
	p := e.rt.GetPool(h.HandleID())
	if p == nil {
		panic(vm.NewTypeError("Pool is dead"))
	}
	return p
}

// channelArg resolves a channel handle argument.
func (e *Engine) channelArg(vm *goja.Runtime, v goja.Value) *sched.Channel {
	h := handleArg(v)
	if h == nil || h.HandleKind() != kindChannel {
		panic(vm.NewTypeError("Channel expected"))
	}
	c := e.rt.GetChannel(h.HandleID())
	if c == nil {
		panic(vm.NewTypeError("Channel is dead"))
	}
	return c
}
