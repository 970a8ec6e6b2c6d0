package script

import (
	"github.com/dop251/goja"

	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// populateProcess fills in the coproc/process module exports.
func (e *Engine) populateProcess(vm *goja.Runtime, exports *goja.Object) {
	// new creates a process. Without arguments it creates an empty
	// process whose environment is set later with wrap. Otherwise the
	// first argument is the environment function, an optional second
	// function is the error handler, and an optional trailing number is
	// the instance count (default 1). Spawned from inside an instance,
	// the new process records the caller's task as its parent.
	_ = exports.Set("new", func(call goja.FunctionCall) goja.Value {
		var parent *sched.Task
		if inst := e.owner(vm); inst != nil {
			parent = inst.Task()
		}

		if len(call.Arguments) == 0 {
			t, err := e.rt.NewTask(nil, 0, parent, nil)
			if err != nil {
				throw(vm, err)
			}
			return e.taskObject(vm, t)
		}

		env, n := e.encodeEnvArgs(vm, call)
		t, err := e.rt.NewTask(env, n, parent, nil)
		if err != nil {
			throw(vm, err)
		}
		return e.taskObject(vm, t)
	})

	// get rebuilds a process handle from its stable id.
	_ = exports.Set("get", func(call goja.FunctionCall) goja.Value {
		id := uint64(call.Argument(0).ToInteger())
		t := e.rt.GetTask(id)
		if t == nil {
			return goja.Null()
		}
		return e.taskObject(vm, t)
	})

	// destroy releases a process; its instances die lazily.
	_ = exports.Set("destroy", func(call goja.FunctionCall) goja.Value {
		t := e.taskArg(vm, call.Argument(0))
		t.Destroy()
		return goja.Undefined()
	})

	// isprocess tests whether the value is a process handle.
	_ = exports.Set("isprocess", func(call goja.FunctionCall) goja.Value {
		h := handleArg(call.Argument(0))
		return vm.ToValue(h != nil && h.HandleKind() == kindProcess)
	})
}

// encodeEnvArgs serializes the (f, e?, n?) argument pattern into env
// bytes and an instance count.
func (e *Engine) encodeEnvArgs(vm *goja.Runtime, call goja.FunctionCall) ([]byte, int) {
	f := call.Argument(0)
	if _, ok := asCallable(f); !ok {
		panic(vm.NewTypeError("function expected"))
	}

	envObj := vm.NewObject()
	if err := envObj.Set("f", f); err != nil {
		throw(vm, err)
	}

	n := 1
	if len(call.Arguments) >= 2 {
		second := call.Argument(1)
		if _, ok := asCallable(second); ok {
			if err := envObj.Set("e", second); err != nil {
				throw(vm, err)
			}
			n = argCount(vm, call, 2, 1)
		} else if isNumber(second) {
			n = argCount(vm, call, 1, 1)
		}
	}

	env, err := marshal.Encode(vm, envObj)
	if err != nil {
		throw(vm, err)
	}
	return env, n
}

// taskObject builds (or returns the interned) script handle for t.
func (e *Engine) taskObject(vm *goja.Runtime, t *sched.Task) *goja.Object {
	if obj, ok := e.cached(vm, t); ok {
		return obj
	}

	obj := vm.NewObject()
	if err := marshal.SetHandle(vm, obj, t); err != nil {
		throw(vm, err)
	}

	_ = obj.Set("id", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(t.ID())
	})
	_ = obj.Set("size", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(t.Size())
	})
	_ = obj.Set("env", func(goja.FunctionCall) goja.Value {
		env := t.EnvBytes()
		if env == nil {
			return goja.Null()
		}
		val, err := marshal.Decode(vm, e, env)
		if err != nil {
			throw(vm, err)
		}
		if envObj, ok := val.(*goja.Object); ok {
			return envObj.Get("f")
		}
		return goja.Null()
	})
	_ = obj.Set("wrap", func(call goja.FunctionCall) goja.Value {
		env, n := e.encodeEnvArgs(vm, call)
		if err := t.Wrap(env, n); err != nil {
			throw(vm, err)
		}
		return obj
	})
	_ = obj.Set("input", func(goja.FunctionCall) goja.Value {
		return e.channelObject(vm, t.Input())
	})
	_ = obj.Set("setinput", func(call goja.FunctionCall) goja.Value {
		t.SetInput(e.channelArg(vm, call.Argument(0)))
		return obj
	})
	_ = obj.Set("spawn", func(call goja.FunctionCall) goja.Value {
		if err := t.Spawn(argCount(vm, call, 0, 1)); err != nil {
			throw(vm, err)
		}
		return obj
	})
	_ = obj.Set("remove", func(call goja.FunctionCall) goja.Value {
		if err := t.Remove(argCount(vm, call, 0, 0)); err != nil {
			throw(vm, err)
		}
		return obj
	})
	_ = obj.Set("parent", func(goja.FunctionCall) goja.Value {
		p := t.Parent()
		if p == nil {
			return goja.Null()
		}
		return e.taskObject(vm, p)
	})
	_ = obj.Set("pool", func(goja.FunctionCall) goja.Value {
		p := t.Pool()
		if p == nil {
			return goja.Null()
		}
		return e.poolObject(vm, p)
	})
	_ = obj.Set("setpool", func(call goja.FunctionCall) goja.Value {
		t.SetPool(e.poolArg(vm, call.Argument(0)))
		return obj
	})
	// send puts a value on the process's input channel; it is the
	// call-style shorthand of the original binding.
	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		data, err := marshal.Encode(vm, call.Argument(0))
		if err != nil {
			throw(vm, err)
		}
		if err := t.Input().Put(data); err != nil {
			throw(vm, err)
		}
		return obj
	})
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(t.String())
	})

	e.intern(vm, t, obj)
	return obj
}
