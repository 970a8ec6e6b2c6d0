package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/coproc-io/coproc/internal/domain"
	"github.com/coproc-io/coproc/internal/ports"
)

// State is the lifecycle state of an Instance.
type State int32

// Instance lifecycle states
const (
	// StateCreated means the instance exists but its interpreter has not
	// been initialized yet; init happens on first dispatch.
	StateCreated State = iota
	// StateReady means the instance is eligible to run and sits on (or is
	// headed for) its pool's ready queue.
	StateReady
	// StateRunning means exactly one worker has claimed the instance.
	StateRunning
	// StateBlocked means the instance is parked on a channel's waiter list.
	StateBlocked
	// StateDead means the instance is finished and about to be destroyed.
	StateDead
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Instance is one live scripted coroutine: an isolated interpreter plus
// its execution state. An instance's interpreter is only ever touched by
// the worker that holds the RUNNING claim.
type Instance struct {
	id   string
	task *Task
	vm   *goja.Runtime

	state   atomic.Int32
	pending atomic.Pointer[Channel]

	handler    goja.Callable
	errHandler goja.Callable

	// excessDeath marks a death caused by lazy removal, whose desired
	// count was already decremented by Remove or Destroy.
	excessDeath bool

	// wake is a single-shot event used by teardown to interrupt a
	// running interpreter at most once.
	wakeOnce sync.Once
	wake     chan struct{}
}

func newInstance(t *Task) *Instance {
	i := &Instance{
		id:   uuid.NewString(),
		task: t,
		wake: make(chan struct{}),
	}
	i.state.Store(int32(StateCreated))
	t.rt.metrics.InstancesSpawned.Add(1)
	return i
}

// ID returns the instance's unique identifier.
func (i *Instance) ID() string { return i.id }

// Task returns the owning task.
func (i *Instance) Task() *Task { return i.task }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	return State(i.state.Load())
}

func (i *Instance) setPending(c *Channel) {
	i.pending.Store(c)
}

func (i *Instance) clearPending() {
	i.pending.Store(nil)
}

// claim atomically takes ownership of the instance for one step. Only
// CREATED and READY instances can be claimed; anything else is a stale
// or duplicate ready-queue entry and must be dropped by the caller.
func (i *Instance) claim() (claimed, created bool) {
	for {
		s := State(i.state.Load())
		switch s {
		case StateCreated:
			if i.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
				return true, true
			}
		case StateReady:
			if i.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
				return true, false
			}
		default:
			return false, false
		}
	}
}

// init builds the isolated interpreter: binding modules, the task's
// decoded environment and its error handler. Called by the dispatch
// loop on first claim.
func (i *Instance) init() error {
	binder := i.task.rt.binder
	if binder == nil {
		return ErrNoBinder
	}

	vm := goja.New()
	i.vm = vm

	if err := binder.Setup(vm, i); err != nil {
		return fmt.Errorf("binding setup: %w", err)
	}

	env := i.task.EnvBytes()
	if env == nil {
		return ErrNoEnvironment
	}
	handler, errHandler, err := binder.DecodeEnv(vm, env)
	if err != nil {
		return fmt.Errorf("environment decode: %w", err)
	}
	i.handler = handler
	i.errHandler = errHandler
	return nil
}

// stepResult tells the dispatch loop how a step ended. The worker must
// act on this verdict, not on a re-read of the state: the moment a step
// ends BLOCKED, a concurrent sender may wake and re-claim the instance
// on another worker.
type stepResult int

const (
	// stepBlocked: the input receive found nothing; the instance is
	// parked on the channel and the channel owns the wake.
	stepBlocked stepResult = iota
	// stepYielded: the message budget ran out (the input may or may not
	// be empty); the instance is READY and the worker requeues it.
	stepYielded
	// stepDied: the instance is DEAD and must be destroyed.
	stepDied
)

// step drives the instance's loop: receive from the task's input
// channel, call the handler, repeat. It returns when the receive would
// block, when the per-step message budget is exhausted, or when the
// instance dies. The caller holds the RUNNING claim throughout.
func (i *Instance) step() stepResult {
	start := time.Now()
	defer func() {
		i.task.rt.metrics.StepsExecuted.Add(1)
		i.task.rt.metrics.StepTimeNs.Add(uint64(time.Since(start).Nanoseconds()))
	}()

	budget := i.task.rt.stepBudget
	processed := 0
	for {
		if i.task.hasExcessLive() {
			i.excessDeath = true
			i.state.Store(int32(StateDead))
			return stepDied
		}

		input := i.task.Input()
		msg, res := input.receive(i)
		switch res {
		case recvBlocked:
			// receive stored BLOCKED and registered the waiter.
			return stepBlocked
		case recvDead:
			i.excessDeath = true
			i.state.Store(int32(StateDead))
			return stepDied
		}
		i.task.rt.metrics.MessagesDelivered.Add(1)

		if err := i.invoke(msg); err != nil {
			i.handleScriptError(err)
			i.state.Store(int32(StateDead))
			return stepDied
		}

		processed++
		if budget > 0 && processed >= budget {
			i.state.Store(int32(StateReady))
			return stepYielded
		}
	}
}

// invoke decodes one message into this interpreter and calls the
// handler. Host-side panics surface as errors so a worker never dies on
// script input.
func (i *Instance) invoke(msg *domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	val, err := i.task.rt.binder.DecodeMessage(i.vm, msg.Data)
	if err != nil {
		return err
	}
	_, err = i.handler(goja.Undefined(), val)
	return err
}

// handleScriptError routes a scripted error through the task's error
// handler. A failing handler is fatal to this instance only; the
// failure itself is logged at error level.
func (i *Instance) handleScriptError(scriptErr error) {
	rt := i.task.rt
	rt.metrics.ScriptErrors.Add(1)

	var reason goja.Value
	if ex, ok := scriptErr.(*goja.Exception); ok {
		reason = ex.Value()
	} else {
		reason = i.vm.ToValue(scriptErr.Error())
	}

	if i.errHandler == nil {
		rt.log.Error("script error with no error handler",
			ports.Field{Key: "process", Value: i.task.String()},
			ports.Field{Key: "instance", Value: i.id},
			ports.Field{Key: "error", Value: scriptErr},
		)
		return
	}

	if _, err := i.errHandler(goja.Undefined(), reason); err != nil {
		rt.metrics.HandlerErrors.Add(1)
		rt.log.Error("error handler failed",
			ports.Field{Key: "process", Value: i.task.String()},
			ports.Field{Key: "instance", Value: i.id},
			ports.Field{Key: "error", Value: err},
		)
	}
}

// Interrupt delivers a single-shot interrupt to the interpreter. Safe to
// call from any goroutine; used by teardown to break a running script.
func (i *Instance) Interrupt(reason string) {
	i.wakeOnce.Do(func() {
		close(i.wake)
		if i.vm != nil {
			i.vm.Interrupt(reason)
		}
	})
}

// destroy closes the interpreter and settles the task's accounting.
// Called exactly once, by the worker that observed the DEAD state.
func (i *Instance) destroy() {
	if i.vm != nil {
		if binder := i.task.rt.binder; binder != nil {
			binder.Teardown(i.vm)
		}
		i.vm = nil
	}
	i.handler = nil
	i.errHandler = nil
	i.task.instanceDied(i.excessDeath)
	i.task.rt.metrics.InstancesDied.Add(1)
}
