package sched

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
)

// testBinder drives instances with Go handlers instead of script code,
// keyed by the task's env bytes. It exercises the full state machine
// without evaluating JavaScript.
type testBinder struct {
	mu          sync.Mutex
	handlers    map[string]func(inst *Instance, payload string) error
	errHandlers map[string]func(reason string)
	vms         map[*goja.Runtime]*Instance
}

func newTestBinder() *testBinder {
	return &testBinder{
		handlers:    make(map[string]func(*Instance, string) error),
		errHandlers: make(map[string]func(string)),
		vms:         make(map[*goja.Runtime]*Instance),
	}
}

func (b *testBinder) register(key string, h func(*Instance, string) error) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key] = h
	return []byte(key)
}

func (b *testBinder) registerErrHandler(key string, h func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errHandlers[key] = h
}

func (b *testBinder) Setup(vm *goja.Runtime, inst *Instance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vms[vm] = inst
	return nil
}

func (b *testBinder) Teardown(vm *goja.Runtime) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vms, vm)
}

func (b *testBinder) DecodeEnv(vm *goja.Runtime, env []byte) (goja.Callable, goja.Callable, error) {
	b.mu.Lock()
	h := b.handlers[string(env)]
	eh := b.errHandlers[string(env)]
	inst := b.vms[vm]
	b.mu.Unlock()
	if h == nil {
		return nil, nil, fmt.Errorf("no handler registered for %q", env)
	}

	handler := func(_ goja.Value, args ...goja.Value) (goja.Value, error) {
		payload := ""
		if len(args) > 0 {
			payload = args[0].String()
		}
		return goja.Undefined(), h(inst, payload)
	}
	var errHandler goja.Callable
	if eh != nil {
		errHandler = func(_ goja.Value, args ...goja.Value) (goja.Value, error) {
			reason := ""
			if len(args) > 0 {
				reason = args[0].String()
			}
			eh(reason)
			return goja.Undefined(), nil
		}
	}
	return handler, errHandler, nil
}

func (b *testBinder) DecodeMessage(vm *goja.Runtime, data []byte) (goja.Value, error) {
	return vm.ToValue(string(data)), nil
}

func newTestRuntime(t *testing.T, poolSize int) (*Runtime, *testBinder) {
	t.Helper()
	rt := NewRuntime(Options{DefaultPoolSize: poolSize})
	b := newTestBinder()
	rt.SetBinder(b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt, b
}

func eventually(t *testing.T, d time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("eventually failed: %s", msg)
}

// Scenario 1: a single instance observes messages in send order.
func TestTask_OrderPreservedPerChannel(t *testing.T) {
	rt, b := newTestRuntime(t, 2)

	var mu sync.Mutex
	var got []string
	env := b.register("ordered", func(_ *Instance, payload string) error {
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
		return nil
	})

	task, err := rt.NewTask(env, 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 100; i++ {
		if err := task.Input().Put([]byte(fmt.Sprintf("%03d", i))); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, "expected 100 handler invocations")

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if want := fmt.Sprintf("%03d", i+1); v != want {
			t.Fatalf("order violated at %d: got %s want %s", i, v, want)
		}
	}
}

// Scenario 2: four instances on a four-worker pool run in parallel.
func TestTask_InstancesRunInParallel(t *testing.T) {
	rt, b := newTestRuntime(t, 4)

	var done sync.WaitGroup
	done.Add(8)
	env := b.register("sleepy", func(_ *Instance, _ string) error {
		defer done.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	task, err := rt.NewTask(env, 4, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 8; i++ {
		if err := task.Input().Put([]byte("work")); err != nil {
			t.Fatal(err)
		}
	}
	done.Wait()
	elapsed := time.Since(start)

	// Serial execution would take ~80ms; four-way parallelism ~20ms.
	if elapsed > 60*time.Millisecond {
		t.Fatalf("messages were not processed in parallel: took %v", elapsed)
	}
}

// Scenario 3: a scripted error kills one instance; the rest keep
// serving and the instances counter drops by one.
func TestTask_ErrorKillsOneInstance(t *testing.T) {
	rt, b := newTestRuntime(t, 2)

	var mu sync.Mutex
	var served []string
	var handled []string
	env := b.register("flaky", func(_ *Instance, payload string) error {
		if payload == "bad" {
			return fmt.Errorf("refusing %q", payload)
		}
		mu.Lock()
		served = append(served, payload)
		mu.Unlock()
		return nil
	})
	b.registerErrHandler("flaky", func(reason string) {
		mu.Lock()
		handled = append(handled, reason)
		mu.Unlock()
	})

	task, err := rt.NewTask(env, 2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if task.Size() != 2 {
		t.Fatalf("expected size 2, got %d", task.Size())
	}

	for _, payload := range []string{"ok", "bad", "ok"} {
		if err := task.Input().Put([]byte(payload)); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(served) == 2 && len(handled) == 1
	}, "expected 2 served and 1 error handled")

	eventually(t, 5*time.Second, func() bool {
		return task.Size() == 1 && task.Live() == 1
	}, "expected instance count to drop to 1")
}

// Scenario 5: two tasks share one channel; each message is delivered to
// exactly one of them.
func TestTasks_SharedChannelDeliversOnce(t *testing.T) {
	rt, b := newTestRuntime(t, 4)

	var mu sync.Mutex
	counts := map[string]int{}
	record := func(owner string) func(*Instance, string) error {
		return func(_ *Instance, payload string) error {
			mu.Lock()
			counts[owner]++
			counts["total"]++
			mu.Unlock()
			return nil
		}
	}
	envA := b.register("shared-a", record("a"))
	envB := b.register("shared-b", record("b"))

	shared, err := rt.NewChannel()
	if err != nil {
		t.Fatal(err)
	}

	a, err := rt.NewTask(envA, 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	bTask, err := rt.NewTask(envB, 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	a.SetInput(shared)
	bTask.SetInput(shared)
	if err := a.Spawn(1); err != nil {
		t.Fatal(err)
	}
	if err := bTask.Spawn(1); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := shared.Put([]byte("m")); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["total"] == 10
	}, "expected all 10 messages delivered")

	mu.Lock()
	defer mu.Unlock()
	if counts["a"]+counts["b"] != 10 {
		t.Fatalf("delivery mismatch: %v", counts)
	}
}

// Scenario 6: a task spawned with a parent reference reports it.
func TestTask_ParentTracking(t *testing.T) {
	rt, b := newTestRuntime(t, 2)

	type childResult struct {
		mu     sync.Mutex
		parent *Task
	}
	var res childResult

	childEnv := b.register("child", func(_ *Instance, _ string) error { return nil })
	parentEnv := b.register("parent", func(inst *Instance, _ string) error {
		child, err := rt.NewTask(childEnv, 1, inst.Task(), nil)
		if err != nil {
			return err
		}
		res.mu.Lock()
		res.parent = child.Parent()
		res.mu.Unlock()
		return nil
	})

	outer, err := rt.NewTask(parentEnv, 1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outer.Parent() != nil {
		t.Fatal("top-level task must have no parent")
	}

	if err := outer.Input().Put([]byte("go")); err != nil {
		t.Fatal(err)
	}

	eventually(t, 5*time.Second, func() bool {
		res.mu.Lock()
		defer res.mu.Unlock()
		return res.parent != nil
	}, "child never spawned")

	res.mu.Lock()
	defer res.mu.Unlock()
	if res.parent != outer {
		t.Fatalf("parent mismatch: got %v want %v", res.parent, outer)
	}
}

// Invariant 1: no instance is ever run by two workers at once, even
// under duplicate wake races.
func TestInstance_NeverRunsTwiceConcurrently(t *testing.T) {
	rt, b := newTestRuntime(t, 8)

	var inflight sync.Map // *Instance -> *int32 via atomic add
	var violations int32
	var mu sync.Mutex
	seen := 0

	env := b.register("exclusive", func(inst *Instance, _ string) error {
		v, _ := inflight.LoadOrStore(inst, new(sync.Mutex))
		m := v.(*sync.Mutex)
		if !m.TryLock() {
			mu.Lock()
			violations++
			mu.Unlock()
		} else {
			time.Sleep(time.Microsecond)
			m.Unlock()
		}
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	task, err := rt.NewTask(env, 4, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	const total = 2000
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/4; i++ {
				_ = task.Input().Put([]byte("x"))
			}
		}()
	}
	wg.Wait()

	eventually(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == total
	}, "not all messages processed")

	mu.Lock()
	defer mu.Unlock()
	if violations != 0 {
		t.Fatalf("instance ran on two workers %d times", violations)
	}
}

// Invariant 4: the multiset received equals the multiset sent.
func TestChannel_NoLossNoDuplication(t *testing.T) {
	rt, b := newTestRuntime(t, 4)

	var mu sync.Mutex
	received := map[string]int{}
	env := b.register("collector", func(_ *Instance, payload string) error {
		mu.Lock()
		received[payload]++
		mu.Unlock()
		return nil
	})

	task, err := rt.NewTask(env, 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	const producers, perProd = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				_ = task.Input().Put([]byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	eventually(t, 10*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == producers*perProd
	}, "not all distinct messages received")

	mu.Lock()
	defer mu.Unlock()
	for k, n := range received {
		if n != 1 {
			t.Fatalf("message %s delivered %d times", k, n)
		}
	}
}
