package sched

import "errors"

// Error definitions
var (
	// ErrChannelFull is returned by Put on a bounded channel at capacity.
	ErrChannelFull = errors.New("sched: channel is full")
	// ErrChannelClosed is returned when sending to or receiving from a
	// channel whose runtime has shut down.
	ErrChannelClosed = errors.New("sched: channel is closed")
	// ErrNegativeSize rejects negative pool sizes and spawn/remove counts.
	ErrNegativeSize = errors.New("sched: argument must be positive or zero")
	// ErrNoEnvironment is returned by Spawn on a task that was never wrapped.
	ErrNoEnvironment = errors.New("sched: process must have an environment")
	// ErrNoPool is returned by Spawn on a task without a pool.
	ErrNoPool = errors.New("sched: process must be associated to a pool")
	// ErrAlreadyWrapped is returned by Wrap on a task that has an environment.
	ErrAlreadyWrapped = errors.New("sched: process already has an environment")
	// ErrTaskDestroyed is returned by operations on a destroyed task.
	ErrTaskDestroyed = errors.New("sched: process is destroyed")
	// ErrNoBinder is returned when an instance initializes before a script
	// binder was installed on the runtime.
	ErrNoBinder = errors.New("sched: no script binder installed")
	// ErrShutdown is returned by operations on a runtime that has shut down.
	ErrShutdown = errors.New("sched: runtime is shut down")
)
