package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coproc-io/coproc/internal/domain"
	"github.com/coproc-io/coproc/pkg/lfqueue"
)

// Channel is a named rendezvous point: a lock-free message queue plus a
// FIFO list of instances blocked on an empty receive. The queue itself
// is lock-free; the channel lock guards the waiter list and is acquired
// on an empty receive and on every send, which always checks that list
// for a waiter to wake, whether or not one is registered.
type Channel struct {
	id uint64
	rt *Runtime
	q  *lfqueue.Queue[*domain.Message]

	mu      sync.Mutex
	waiters []*Instance
}

func newChannel(rt *Runtime) *Channel {
	c := &Channel{
		id: rt.reg.newID(),
		rt: rt,
		q:  lfqueue.New[*domain.Message](),
	}
	rt.reg.putChannel(c)
	return c
}

// ID returns the stable identity of the channel, usable as a lookup key.
func (c *Channel) ID() uint64 { return c.id }

// HandleKind implements marshal.Handle.
func (c *Channel) HandleKind() string { return "channel" }

// HandleID implements marshal.Handle.
func (c *Channel) HandleID() uint64 { return c.id }

func (c *Channel) String() string {
	return fmt.Sprintf("Channel (0x%x)", c.id)
}

// SetCapacity bounds the channel at capacity messages; negative means
// unbounded. Messages already queued are never dropped.
func (c *Channel) SetCapacity(capacity int) {
	c.q.SetCapacity(capacity)
}

// Len returns the number of queued messages.
func (c *Channel) Len() int { return c.q.Len() }

// Put enqueues a marshalled payload and wakes at most one blocked
// instance. It fails with ErrChannelFull only when the channel is
// bounded and at capacity.
func (c *Channel) Put(data []byte) error {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := c.q.Push(msg); err != nil {
		switch err {
		case lfqueue.ErrFull:
			return ErrChannelFull
		case lfqueue.ErrClosed:
			return ErrChannelClosed
		}
		return err
	}
	c.rt.metrics.MessagesPut.Add(1)
	c.wakeOne()
	return nil
}

// wakeOne moves the first still-blocked waiter to READY and hands it to
// its pool. Waker and receiver serialize on the channel lock, so a
// waiter popped here has already stored BLOCKED; the CAS is defensive
// against instances torn down while parked.
func (c *Channel) wakeOne() {
	c.mu.Lock()
	var woken *Instance
	for len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		if w.state.CompareAndSwap(int32(StateBlocked), int32(StateReady)) {
			woken = w
			break
		}
	}
	c.mu.Unlock()

	if woken != nil {
		woken.clearPending()
		if p := woken.task.Pool(); p != nil {
			p.enqueue(woken)
		}
	}
}

// receiveResult is the outcome of a driver-side receive.
type receiveResult int

const (
	recvGot receiveResult = iota
	recvBlocked
	recvDead
)

// receive is the driver-side non-blocking receive. When the queue is
// empty the instance transitions RUNNING → BLOCKED and registers as a
// waiter, both under the channel lock; the re-check under the same lock
// closes the race with a concurrent Put that found no waiters yet. The
// removal re-check closes the symmetric race with Destroy's expel
// sweep, which cannot see a waiter that has not registered yet.
func (c *Channel) receive(i *Instance) (*domain.Message, receiveResult) {
	if msg, ok := c.q.TryPop(); ok {
		return msg, recvGot
	}

	c.mu.Lock()
	if msg, ok := c.q.TryPop(); ok {
		c.mu.Unlock()
		return msg, recvGot
	}
	if i.task.hasExcessLive() {
		c.mu.Unlock()
		return nil, recvDead
	}
	i.state.Store(int32(StateBlocked))
	i.setPending(c)
	c.waiters = append(c.waiters, i)
	c.mu.Unlock()
	return nil, recvBlocked
}

// GetBlocking receives a message, parking the calling goroutine until
// one arrives. Scripted code reaching a channel other than its task's
// input suspends here; the worker goroutine blocks, which the Go
// runtime absorbs, while the instance stays RUNNING.
func (c *Channel) GetBlocking() (*domain.Message, error) {
	msg, err := c.q.PopBlocking()
	if err != nil {
		return nil, ErrChannelClosed
	}
	c.rt.metrics.MessagesDelivered.Add(1)
	return msg, nil
}

// expel wakes every parked waiter belonging to t so the dispatch loop
// can observe the task's fate; used on task destruction so blocked
// instances do not linger forever.
func (c *Channel) expel(t *Task) {
	c.mu.Lock()
	var woken []*Instance
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.task == t && w.state.CompareAndSwap(int32(StateBlocked), int32(StateReady)) {
			woken = append(woken, w)
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
	c.mu.Unlock()

	for _, w := range woken {
		w.clearPending()
		if p := w.task.Pool(); p != nil {
			p.enqueue(w)
		}
	}
}

// close releases queue resources at runtime shutdown.
func (c *Channel) close() {
	c.q.Close()
}
