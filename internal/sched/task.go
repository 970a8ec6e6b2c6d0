package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is a logical unit of work: serialized environment, error handler,
// a shared input channel, and a set of running instances. All instances
// spawned from one task receive from the same input channel.
type Task struct {
	id uint64
	rt *Runtime

	// mu guards env, desired and destroyed.
	mu        sync.Mutex
	env       []byte
	desired   int64
	destroyed bool

	// live counts non-DEAD instances; it lags desired while removal is
	// pending and converges at the next dispatch of each excess instance.
	live atomic.Int64

	input  atomic.Pointer[Channel]
	pool   atomic.Pointer[Pool]
	parent *Task
}

// newTask allocates a task. The input channel is always allocated here,
// even for an environment-less task that will be wrapped later. env may
// be nil; parent and pool may be nil (pool defaults to the runtime's
// default pool).
func newTask(rt *Runtime, env []byte, parent *Task, pool *Pool) (*Task, error) {
	if pool == nil {
		var err error
		pool, err = rt.DefaultPool()
		if err != nil {
			return nil, err
		}
	}
	t := &Task{
		id:     rt.reg.newID(),
		rt:     rt,
		env:    env,
		parent: parent,
	}
	t.input.Store(newChannel(rt))
	t.pool.Store(pool)
	rt.reg.putTask(t)
	return t, nil
}

// ID returns the stable identity of the task, usable as a lookup key.
func (t *Task) ID() uint64 { return t.id }

// HandleKind implements marshal.Handle.
func (t *Task) HandleKind() string { return "process" }

// HandleID implements marshal.Handle.
func (t *Task) HandleID() uint64 { return t.id }

func (t *Task) String() string {
	return fmt.Sprintf("Process (0x%x)", t.id)
}

// EnvBytes returns the serialized environment, nil when unset.
func (t *Task) EnvBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.env
}

// Wrap installs the environment on a task created without one. A task
// can be wrapped only once. n instances are spawned afterwards.
func (t *Task) Wrap(env []byte, n int) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrTaskDestroyed
	}
	if t.env != nil {
		t.mu.Unlock()
		return ErrAlreadyWrapped
	}
	t.env = env
	t.mu.Unlock()
	return t.Spawn(n)
}

// Spawn creates n new instances and hands each to the pool's ready
// queue. The instances counter is incremented before any instance is
// visible to a worker.
func (t *Task) Spawn(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	if n == 0 {
		return nil
	}

	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrTaskDestroyed
	}
	if t.env == nil {
		t.mu.Unlock()
		return ErrNoEnvironment
	}
	pool := t.pool.Load()
	if pool == nil {
		t.mu.Unlock()
		return ErrNoPool
	}
	t.desired += int64(n)
	instances := make([]*Instance, n)
	for i := range instances {
		instances[i] = newInstance(t)
		t.live.Add(1)
	}
	t.mu.Unlock()

	for _, inst := range instances {
		pool.enqueue(inst)
	}
	return nil
}

// Remove schedules the destruction of n instances. The counter drops
// immediately, clamped at zero; each excess instance dies the next time
// a worker would run it.
func (t *Task) Remove(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	if n == 0 {
		return nil
	}
	t.mu.Lock()
	t.desired -= int64(n)
	if t.desired < 0 {
		t.desired = 0
	}
	t.mu.Unlock()
	return nil
}

// Size returns the number of instances the task is meant to have.
func (t *Task) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.desired)
}

// Live returns the number of non-DEAD instances.
func (t *Task) Live() int {
	return int(t.live.Load())
}

// hasExcessLive reports whether removal is pending: more instances are
// alive than the task wants.
func (t *Task) hasExcessLive() bool {
	t.mu.Lock()
	desired := t.desired
	destroyed := t.destroyed
	t.mu.Unlock()
	return destroyed || t.live.Load() > desired
}

// instanceDied settles accounting after an instance is destroyed. A
// death from a scripted error also drops the instances counter; a
// removal death does not, since Remove or Destroy already took it. The
// last death of a destroyed task releases the task from the registry.
func (t *Task) instanceDied(excess bool) {
	remaining := t.live.Add(-1)
	t.mu.Lock()
	if !excess && t.desired > 0 {
		t.desired--
	}
	destroyed := t.destroyed
	t.mu.Unlock()
	if destroyed && remaining == 0 {
		t.rt.reg.dropTask(t.id)
	}
}

// Input returns the task's shared input channel.
func (t *Task) Input() *Channel {
	return t.input.Load()
}

// SetInput replaces the input channel. Only future receives observe the
// new channel; instances blocked on the old one stay there.
func (t *Task) SetInput(c *Channel) {
	t.input.Store(c)
}

// Pool returns the pool new instances are handed to.
func (t *Task) Pool() *Pool {
	return t.pool.Load()
}

// SetPool retargets future instances at p.
func (t *Task) SetPool(p *Pool) {
	t.pool.Store(p)
}

// Parent returns the task whose instance spawned this one, or nil.
func (t *Task) Parent() *Task {
	return t.parent
}

// Destroy marks the task destroyed: the desired count drops to zero,
// parked instances are expelled from the input channel's waiter list so
// they die promptly, and the registry entry is released once the last
// instance is gone.
func (t *Task) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	t.desired = 0
	t.mu.Unlock()

	if input := t.input.Load(); input != nil {
		input.expel(t)
	}
	if t.live.Load() == 0 {
		t.rt.reg.dropTask(t.id)
	}
}

// Destroyed reports whether Destroy has been called.
func (t *Task) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destroyed
}
