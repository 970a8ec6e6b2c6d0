package script

import (
	"github.com/dop251/goja"

	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// populatePool fills in the coproc/pool module exports.
func (e *Engine) populatePool(vm *goja.Runtime, exports *goja.Object) {
	// new creates a pool with the given number of worker threads.
	_ = exports.Set("new", func(call goja.FunctionCall) goja.Value {
		size := int(call.Argument(0).ToInteger())
		p, err := e.rt.NewPool(size)
		if err != nil {
			throw(vm, err)
		}
		return e.poolObject(vm, p)
	})

	// get rebuilds a pool handle from its stable id.
	_ = exports.Set("get", func(call goja.FunctionCall) goja.Value {
		id := uint64(call.Argument(0).ToInteger())
		p := e.rt.GetPool(id)
		if p == nil {
			return goja.Null()
		}
		return e.poolObject(vm, p)
	})
}

// poolObject builds (or returns the interned) script handle for p.
func (e *Engine) poolObject(vm *goja.Runtime, p *sched.Pool) *goja.Object {
	if obj, ok := e.cached(vm, p); ok {
		return obj
	}

	obj := vm.NewObject()
	if err := marshal.SetHandle(vm, obj, p); err != nil {
		throw(vm, err)
	}

	_ = obj.Set("id", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.ID())
	})
	_ = obj.Set("size", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.Size())
	})
	_ = obj.Set("add", func(call goja.FunctionCall) goja.Value {
		if err := p.Add(argCount(vm, call, 0, 1)); err != nil {
			throw(vm, err)
		}
		return obj
	})
	_ = obj.Set("kill", func(goja.FunctionCall) goja.Value {
		p.Kill()
		return goja.Undefined()
	})
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(p.String())
	})

	e.intern(vm, p, obj)
	return obj
}
