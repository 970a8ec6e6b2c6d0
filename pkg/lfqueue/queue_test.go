package lfqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPop_Basic(t *testing.T) {
	q := New[string]()

	require.NoError(t, q.Push("first"))
	require.NoError(t, q.Push("second"))

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = q.TryPop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestQueueFIFO_SingleProducer(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		require.NoError(t, q.Push(i))
	}
	for i := 0; i < 1000; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestQueueCapacity(t *testing.T) {
	q := NewBounded[int](2)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	assert.ErrorIs(t, q.Push(3), ErrFull)

	// Draining frees a slot.
	_, ok := q.TryPop()
	require.True(t, ok)
	require.NoError(t, q.Push(3))
}

func TestQueueSetCapacity_NeverDropsItems(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}

	// Shrinking below the current length must not drop anything.
	q.SetCapacity(4)
	assert.ErrorIs(t, q.Push(99), ErrFull)
	assert.Equal(t, 10, q.Len())

	for i := 0; i < 10; i++ {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	// Negative capacity restores unbounded behaviour.
	q.SetCapacity(-1)
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}
}

func TestQueuePopBlocking_WakesOnPush(t *testing.T) {
	q := New[int]()

	got := make(chan int, 1)
	go func() {
		v, err := q.PopBlocking()
		if err == nil {
			got <- v
		}
	}()

	// Give the consumer time to park.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(42))

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("blocked pop never woke up")
	}
}

func TestQueueClose_ReleasesBlockedAndDrains(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(7))

	q.Close()

	// Pending items drain first.
	v, err := q.PopBlocking()
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = q.PopBlocking()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Push(1), ErrClosed)
}

func TestQueueClose_UnblocksParkedConsumer(t *testing.T) {
	q := New[int]()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.PopBlocking()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not release the parked consumer")
	}
}

func TestQueueConcurrent_NoLostNoDuplicated(t *testing.T) {
	const (
		producers = 8
		consumers = 8
		perProd   = 2000
	)
	q := New[int]()

	var wg sync.WaitGroup
	results := make(chan int, producers*perProd)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.PopBlocking()
				if err != nil {
					return
				}
				results <- v
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(base int) {
			defer pwg.Done()
			for i := 0; i < perProd; i++ {
				if err := q.Push(base + i); err != nil {
					t.Error(err)
					return
				}
			}
		}(p * perProd)
	}

	pwg.Wait()
	// Wait for the queue to drain, then release consumers.
	deadline := time.Now().Add(5 * time.Second)
	for !q.IsEmpty() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	q.Close()
	wg.Wait()
	close(results)

	seen := make(map[int]bool, producers*perProd)
	for v := range results {
		require.False(t, seen[v], "value %d delivered twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProd)
}

func TestQueueFIFO_PerProducerUnderConcurrency(t *testing.T) {
	// Two producers tagged by parity; each producer's items must be
	// observed in its publish order.
	q := New[int]()

	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(parity int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = q.Push(i*2 + parity)
			}
		}(p)
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1}
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		parity := v % 2
		require.Greater(t, v, last[parity], "per-producer order violated")
		last[parity] = v
	}
}

func TestQueueTryPopBatchAndDrain(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Push(i))
	}

	batch := make([]int, 4)
	n := q.TryPopBatch(batch)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int{0, 1, 2, 3}, batch)

	var drained []int
	count := q.Drain(func(v int) { drained = append(drained, v) })
	assert.Equal(t, 6, count)
	assert.Equal(t, []int{4, 5, 6, 7, 8, 9}, drained)
}
