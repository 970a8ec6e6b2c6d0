// Package script binds the scheduler to embedded goja interpreters: it
// installs the coproc binding modules into each instance's runtime,
// decodes task environments and messages, and interns handle objects so
// the same underlying task, pool or channel is always the same script
// object within one interpreter.
package script

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// Handle kinds as they appear in marshalled records.
const (
	kindProcess = "process"
	kindPool    = "pool"
	kindChannel = "channel"
)

// Engine implements sched.Binder and marshal.Resolver.
type Engine struct {
	rt       *sched.Runtime
	registry *require.Registry

	mu  sync.RWMutex
	vms map[*goja.Runtime]*vmState
}

// vmState is the per-interpreter binding state. The handle cache makes
// rebuilt handles identical (===) to the originals within one
// interpreter.
type vmState struct {
	owner   *sched.Instance
	handles map[interface{}]*goja.Object
}

// New creates the binding engine and installs it on rt.
func New(rt *sched.Runtime) *Engine {
	e := &Engine{
		rt:  rt,
		vms: make(map[*goja.Runtime]*vmState),
	}
	e.registry = require.NewRegistry()
	e.registry.RegisterNativeModule("coproc/process", func(vm *goja.Runtime, module *goja.Object) {
		e.populateProcess(vm, module.Get("exports").(*goja.Object))
	})
	e.registry.RegisterNativeModule("coproc/pool", func(vm *goja.Runtime, module *goja.Object) {
		e.populatePool(vm, module.Get("exports").(*goja.Object))
	})
	e.registry.RegisterNativeModule("coproc/channel", func(vm *goja.Runtime, module *goja.Object) {
		e.populateChannel(vm, module.Get("exports").(*goja.Object))
	})
	rt.SetBinder(e)
	return e
}

// Setup implements sched.Binder: it prepares a fresh interpreter. inst
// is nil for host interpreters.
func (e *Engine) Setup(vm *goja.Runtime, inst *sched.Instance) error {
	e.registry.Enable(vm)
	console.Enable(vm)

	st := &vmState{
		owner:   inst,
		handles: make(map[interface{}]*goja.Object),
	}
	e.mu.Lock()
	e.vms[vm] = st
	e.mu.Unlock()

	ns := vm.NewObject()

	proc := vm.NewObject()
	e.populateProcess(vm, proc)
	if err := ns.Set("process", proc); err != nil {
		return err
	}

	pool := vm.NewObject()
	e.populatePool(vm, pool)
	if err := ns.Set("pool", pool); err != nil {
		return err
	}

	channel := vm.NewObject()
	e.populateChannel(vm, channel)
	if err := ns.Set("channel", channel); err != nil {
		return err
	}

	// The owning process handle, so scripted code can discover itself.
	if inst != nil {
		if err := ns.Set("self", e.taskObject(vm, inst.Task())); err != nil {
			return err
		}
	}

	return vm.Set("coproc", ns)
}

// Teardown implements sched.Binder.
func (e *Engine) Teardown(vm *goja.Runtime) {
	e.mu.Lock()
	delete(e.vms, vm)
	e.mu.Unlock()
}

// DecodeEnv implements sched.Binder: it rebuilds the {f, e} environment
// record inside vm.
func (e *Engine) DecodeEnv(vm *goja.Runtime, env []byte) (goja.Callable, goja.Callable, error) {
	val, err := marshal.Decode(vm, e, env)
	if err != nil {
		return nil, nil, err
	}
	obj, ok := val.(*goja.Object)
	if !ok {
		return nil, nil, fmt.Errorf("script: environment is not a record")
	}
	handler, ok := goja.AssertFunction(obj.Get("f"))
	if !ok {
		return nil, nil, fmt.Errorf("script: environment has no handler function")
	}
	var errHandler goja.Callable
	if ev := obj.Get("e"); ev != nil && !goja.IsUndefined(ev) && !goja.IsNull(ev) {
		if errHandler, ok = goja.AssertFunction(ev); !ok {
			return nil, nil, fmt.Errorf("script: error handler is not a function")
		}
	}
	return handler, errHandler, nil
}

// DecodeMessage implements sched.Binder.
func (e *Engine) DecodeMessage(vm *goja.Runtime, data []byte) (goja.Value, error) {
	return marshal.Decode(vm, e, data)
}

// ResolveHandle implements marshal.Resolver: a handle record decoded in
// vm resolves back through the registry to the interned script object.
func (e *Engine) ResolveHandle(vm *goja.Runtime, kind string, id uint64) (goja.Value, error) {
	switch kind {
	case kindProcess:
		if t := e.rt.GetTask(id); t != nil {
			return e.taskObject(vm, t), nil
		}
		return nil, fmt.Errorf("script: process %d not found", id)
	case kindPool:
		if p := e.rt.GetPool(id); p != nil {
			return e.poolObject(vm, p), nil
		}
		return nil, fmt.Errorf("script: pool %d not found", id)
	case kindChannel:
		if c := e.rt.GetChannel(id); c != nil {
			return e.channelObject(vm, c), nil
		}
		return nil, fmt.Errorf("script: channel %d not found", id)
	default:
		return nil, fmt.Errorf("script: unknown handle kind %q", kind)
	}
}

// NewHostVM builds an interpreter for embedding code that is not owned
// by any instance, such as the boot script.
func (e *Engine) NewHostVM() (*goja.Runtime, error) {
	vm := goja.New()
	if err := e.Setup(vm, nil); err != nil {
		return nil, err
	}
	return vm, nil
}

// ChannelValue returns the script handle for c inside vm; used by the
// embedder to hand host-created channels to boot scripts.
func (e *Engine) ChannelValue(vm *goja.Runtime, c *sched.Channel) goja.Value {
	return e.channelObject(vm, c)
}

// state returns the binding state of vm.
func (e *Engine) state(vm *goja.Runtime) *vmState {
	e.mu.RLock()
	st := e.vms[vm]
	e.mu.RUnlock()
	return st
}

// owner returns the instance owning vm, nil for host interpreters.
func (e *Engine) owner(vm *goja.Runtime) *sched.Instance {
	if st := e.state(vm); st != nil {
		return st.owner
	}
	return nil
}

// cached returns the interned handle object for key within vm.
func (e *Engine) cached(vm *goja.Runtime, key interface{}) (*goja.Object, bool) {
	st := e.state(vm)
	if st == nil {
		return nil, false
	}
	obj, ok := st.handles[key]
	return obj, ok
}

// intern stores the handle object for key within vm.
func (e *Engine) intern(vm *goja.Runtime, key interface{}, obj *goja.Object) {
	if st := e.state(vm); st != nil {
		st.handles[key] = obj
	}
}
