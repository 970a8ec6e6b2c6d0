package sched

import (
	"context"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/coproc-io/coproc/internal/domain"
	"github.com/coproc-io/coproc/internal/logger"
	"github.com/coproc-io/coproc/internal/ports"
)

// Binder prepares fresh interpreters for instances. The script binding
// layer implements it; keeping it behind an interface lets the core
// stay ignorant of module wiring.
type Binder interface {
	// Setup installs the binding modules into a fresh interpreter owned
	// by inst.
	Setup(vm *goja.Runtime, inst *Instance) error
	// Teardown releases per-interpreter binding state.
	Teardown(vm *goja.Runtime)
	// DecodeEnv deserializes a task environment into vm and returns the
	// handler and the (possibly nil) error handler.
	DecodeEnv(vm *goja.Runtime, env []byte) (handler, errHandler goja.Callable, err error)
	// DecodeMessage deserializes one message payload into vm.
	DecodeMessage(vm *goja.Runtime, data []byte) (goja.Value, error)
}

// Options configures a Runtime.
type Options struct {
	// Logger receives dispatch-loop and lifecycle logging. Defaults to a
	// no-op logger.
	Logger ports.Logger
	// DefaultPoolSize is the worker count of the lazily created default
	// pool. Defaults to the CPU count.
	DefaultPoolSize int
	// StepBudget bounds the messages one cooperative step may process
	// before the instance yields back to the ready queue. Zero selects
	// the default; negative disables the budget (a step then runs until
	// its input drains).
	StepBudget int
	// LockOSThread pins each worker goroutine to an OS thread.
	LockOSThread bool
}

// DefaultStepBudget is the per-step message budget when none is set.
const DefaultStepBudget = 64

// Runtime owns the process-wide pieces: the handle registry, the
// default pool, metrics and the script binder. All tasks, pools and
// channels are created through it.
type Runtime struct {
	log     ports.Logger
	metrics *domain.Metrics
	reg     *registry
	binder  Binder

	stepBudget      int
	lockOSThread    bool
	defaultPoolSize int

	poolsMu sync.Mutex
	pools   []*Pool

	defaultOnce sync.Once
	defaultPool *Pool
	defaultErr  error

	closed atomic.Bool
}

// NewRuntime creates a runtime. No pool exists until the first task is
// created or NewPool is called.
func NewRuntime(opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	poolSize := opts.DefaultPoolSize
	if poolSize <= 0 {
		poolSize = goruntime.NumCPU()
	}
	budget := opts.StepBudget
	if budget == 0 {
		budget = DefaultStepBudget
	}
	return &Runtime{
		log:             log,
		metrics:         domain.NewMetrics(),
		reg:             newRegistry(),
		stepBudget:      budget,
		lockOSThread:    opts.LockOSThread,
		defaultPoolSize: poolSize,
	}
}

// SetBinder installs the script binding layer. Must be called before
// any instance initializes.
func (rt *Runtime) SetBinder(b Binder) {
	rt.binder = b
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() ports.Logger { return rt.log }

// Metrics returns the runtime's counters.
func (rt *Runtime) Metrics() *domain.Metrics { return rt.metrics }

// DefaultPool returns the process-wide default pool, creating it on
// first use. The one-shot guard serializes the lazy init.
func (rt *Runtime) DefaultPool() (*Pool, error) {
	rt.defaultOnce.Do(func() {
		rt.defaultPool, rt.defaultErr = rt.NewPool(rt.defaultPoolSize)
	})
	return rt.defaultPool, rt.defaultErr
}

// NewPool creates a pool with size initial workers. size < 0 is an
// error; size == 0 is legal (tasks pointed at it starve until Add).
func (rt *Runtime) NewPool(size int) (*Pool, error) {
	if rt.closed.Load() {
		return nil, ErrShutdown
	}
	p, err := newPool(rt, size)
	if err != nil {
		return nil, err
	}
	rt.poolsMu.Lock()
	rt.pools = append(rt.pools, p)
	rt.poolsMu.Unlock()
	return p, nil
}

// NewChannel creates an unbounded channel.
func (rt *Runtime) NewChannel() (*Channel, error) {
	if rt.closed.Load() {
		return nil, ErrShutdown
	}
	return newChannel(rt), nil
}

// NewTask creates a task. env may be nil for an empty task to be
// wrapped later; parent may be nil; pool nil selects the default pool.
// When env is set, n instances are spawned (n == 0 is legal).
func (rt *Runtime) NewTask(env []byte, n int, parent *Task, pool *Pool) (*Task, error) {
	if rt.closed.Load() {
		return nil, ErrShutdown
	}
	if n < 0 {
		return nil, ErrNegativeSize
	}
	t, err := newTask(rt, env, parent, pool)
	if err != nil {
		return nil, err
	}
	if env != nil {
		if err := t.Spawn(n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// GetTask rebuilds a task handle from its stable id, nil when dead.
func (rt *Runtime) GetTask(id uint64) *Task { return rt.reg.task(id) }

// GetPool rebuilds a pool handle from its stable id, nil when dead.
func (rt *Runtime) GetPool(id uint64) *Pool { return rt.reg.pool(id) }

// GetChannel rebuilds a channel handle from its stable id, nil when dead.
func (rt *Runtime) GetChannel(id uint64) *Channel { return rt.reg.channel(id) }

// ReadyDepth returns the aggregate ready-queue depth across pools.
func (rt *Runtime) ReadyDepth() int {
	rt.poolsMu.Lock()
	defer rt.poolsMu.Unlock()
	total := 0
	for _, p := range rt.pools {
		total += p.ReadyLen()
	}
	return total
}

// Shutdown tears the runtime down: every pool's ready queue closes,
// every channel closes (releasing workers parked in nested receives),
// and workers are awaited until ctx expires.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}

	rt.poolsMu.Lock()
	pools := make([]*Pool, len(rt.pools))
	copy(pools, rt.pools)
	rt.poolsMu.Unlock()

	for _, p := range pools {
		p.close()
	}

	// Release workers parked inside nested channel receives.
	rt.reg.mu.RLock()
	channels := make([]*Channel, 0, len(rt.reg.channels))
	for _, wp := range rt.reg.channels {
		if c := wp.Value(); c != nil {
			channels = append(channels, c)
		}
	}
	rt.reg.mu.RUnlock()
	for _, c := range channels {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		for _, p := range pools {
			p.wg.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		rt.log.Info("runtime shutdown complete")
		return nil
	case <-ctx.Done():
		rt.log.Warn("runtime shutdown timed out", ports.Field{Key: "error", Value: ctx.Err()})
		return ctx.Err()
	}
}
