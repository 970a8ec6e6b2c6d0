package script

import (
	"github.com/dop251/goja"

	"github.com/coproc-io/coproc/internal/sched"
	"github.com/coproc-io/coproc/pkg/marshal"
)

// populateChannel fills in the coproc/channel module exports.
func (e *Engine) populateChannel(vm *goja.Runtime, exports *goja.Object) {
	// new creates an unbounded channel.
	_ = exports.Set("new", func(goja.FunctionCall) goja.Value {
		c, err := e.rt.NewChannel()
		if err != nil {
			throw(vm, err)
		}
		return e.channelObject(vm, c)
	})

	// get rebuilds a channel handle from its stable id.
	_ = exports.Set("get", func(call goja.FunctionCall) goja.Value {
		id := uint64(call.Argument(0).ToInteger())
		c := e.rt.GetChannel(id)
		if c == nil {
			return goja.Null()
		}
		return e.channelObject(vm, c)
	})
}

// channelObject builds (or returns the interned) script handle for c.
func (e *Engine) channelObject(vm *goja.Runtime, c *sched.Channel) *goja.Object {
	if obj, ok := e.cached(vm, c); ok {
		return obj
	}

	obj := vm.NewObject()
	if err := marshal.SetHandle(vm, obj, c); err != nil {
		throw(vm, err)
	}

	_ = obj.Set("id", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.ID())
	})
	_ = obj.Set("put", func(call goja.FunctionCall) goja.Value {
		data, err := marshal.Encode(vm, call.Argument(0))
		if err != nil {
			throw(vm, err)
		}
		if err := c.Put(data); err != nil {
			throw(vm, err)
		}
		return vm.ToValue(true)
	})
	// get receives the next message, parking the calling worker until
	// one arrives. The task input channel is normally consumed by the
	// driver loop; this is for channels received as values.
	_ = obj.Set("get", func(goja.FunctionCall) goja.Value {
		msg, err := c.GetBlocking()
		if err != nil {
			throw(vm, err)
		}
		val, err := e.DecodeMessage(vm, msg.Data)
		if err != nil {
			throw(vm, err)
		}
		return val
	})
	_ = obj.Set("size", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.Len())
	})
	_ = obj.Set("setcapacity", func(call goja.FunctionCall) goja.Value {
		c.SetCapacity(int(call.Argument(0).ToInteger()))
		return obj
	})
	_ = obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(c.String())
	})

	e.intern(vm, c, obj)
	return obj
}
