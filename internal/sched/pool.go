package sched

import (
	"fmt"
	goruntime "runtime"
	"runtime/debug"
	"sync"

	"github.com/coproc-io/coproc/internal/ports"
	"github.com/coproc-io/coproc/pkg/lfqueue"
)

// Pool is a dynamic set of worker threads fed by an unbounded ready
// queue of instances. Workers grow by spawning and shrink by consuming
// a tombstone (nil entry) on their next dequeue.
type Pool struct {
	id    uint64
	rt    *Runtime
	ready *lfqueue.Queue[*Instance]

	// mu serializes size adjustments; the ready queue itself is lock-free.
	mu   sync.Mutex
	size int

	// running tracks instances currently claimed by this pool's workers
	// so close can interrupt their interpreters.
	running sync.Map

	wg sync.WaitGroup
}

func newPool(rt *Runtime, size int) (*Pool, error) {
	if size < 0 {
		return nil, ErrNegativeSize
	}
	p := &Pool{
		id:    rt.reg.newID(),
		rt:    rt,
		ready: lfqueue.New[*Instance](),
	}
	rt.reg.putPool(p)
	if err := p.Add(size); err != nil {
		return nil, err
	}
	return p, nil
}

// ID returns the stable identity of the pool, usable as a lookup key.
func (p *Pool) ID() uint64 { return p.id }

// HandleKind implements marshal.Handle.
func (p *Pool) HandleKind() string { return "pool" }

// HandleID implements marshal.Handle.
func (p *Pool) HandleID() uint64 { return p.id }

func (p *Pool) String() string {
	return fmt.Sprintf("Pool (0x%x)", p.id)
}

// Add spawns n worker threads.
func (p *Pool) Add(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.size += n
	return nil
}

// Kill schedules the destruction of a single worker: the next worker to
// dequeue the tombstone exits.
func (p *Pool) Kill() {
	_ = p.ready.Push(nil)
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// ReadyLen returns the ready queue depth.
func (p *Pool) ReadyLen() int {
	return p.ready.Len()
}

// enqueue hands an instance to the workers.
func (p *Pool) enqueue(i *Instance) {
	_ = p.ready.Push(i)
}

// close shuts the ready queue and interrupts in-flight interpreters;
// parked workers drain the queue and exit.
func (p *Pool) close() {
	p.ready.Close()
	p.running.Range(func(key, _ interface{}) bool {
		key.(*Instance).Interrupt("runtime shutdown")
		return true
	})
	p.mu.Lock()
	p.size = 0
	p.mu.Unlock()
}

// worker is the dispatch loop body each worker thread executes.
func (p *Pool) worker() {
	defer p.wg.Done()
	if p.rt.lockOSThread {
		goruntime.LockOSThread()
	}
	p.rt.metrics.ActiveWorkers.Add(1)
	defer p.rt.metrics.ActiveWorkers.Add(-1)

	for {
		inst, err := p.ready.PopBlocking()
		if err != nil {
			// Queue closed: runtime shutdown.
			return
		}
		if inst == nil {
			// Tombstone: this worker exits.
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return
		}
		p.dispatch(inst)
	}
}

// dispatch runs one cooperative step of inst. Workers never terminate
// on script errors; everything is recovered here and the instance alone
// pays for its failures.
func (p *Pool) dispatch(inst *Instance) {
	defer func() {
		if r := recover(); r != nil {
			p.rt.log.Error("dispatch recovered from panic",
				ports.Field{Key: "pool", Value: p.String()},
				ports.Field{Key: "panic", Value: r},
				ports.Field{Key: "stack", Value: string(debug.Stack())},
			)
		}
	}()

	claimed, created := inst.claim()
	if !claimed {
		// Duplicate or stale ready-queue entry.
		return
	}
	p.running.Store(inst, struct{}{})
	defer p.running.Delete(inst)

	if created {
		if err := inst.init(); err != nil {
			p.rt.log.Error("instance init failed",
				ports.Field{Key: "process", Value: inst.task.String()},
				ports.Field{Key: "instance", Value: inst.ID()},
				ports.Field{Key: "error", Value: err},
			)
			inst.state.Store(int32(StateDead))
			inst.destroy()
			return
		}
	}

	if inst.task.hasExcessLive() {
		// Lazy removal: die instead of running.
		inst.excessDeath = true
		inst.state.Store(int32(StateDead))
		inst.destroy()
		return
	}

	switch inst.step() {
	case stepBlocked:
		// The channel owns the wake.
	case stepYielded:
		p.enqueue(inst)
	case stepDied:
		p.rt.log.Debug("instance died",
			ports.Field{Key: "process", Value: inst.task.String()},
			ports.Field{Key: "instance", Value: inst.ID()},
		)
		inst.destroy()
	}
}
