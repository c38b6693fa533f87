package util

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, q *Queue[T]) *T {
	t.Helper()
	select {
	case v := <-q.Recv():
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for item")
		return nil
	}
}

func TestQueueBasic(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		i := i
		require.True(t, q.Push(&i))
	}
	require.False(t, q.Push(nil))

	for i := 0; i < 10; i++ {
		require.Equal(t, i, *recv(t, q))
	}

	select {
	case v := <-q.Recv():
		t.Fatalf("queue should be empty, got %v", *v)
	case <-time.After(10 * time.Millisecond):
	}
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base + i
				if !q.Push(&v) {
					t.Errorf("push %d failed", v)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p * perProducer)
	}

	seen := make(map[int]bool, producers*perProducer)
	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for len(seen) < producers*perProducer {
		v := *recv(t, q)
		require.False(t, seen[v], "duplicate item %d", v)
		seen[v] = true

		// per producer order is preserved
		p, i := v/perProducer, v%perProducer
		require.Greater(t, i, last[p])
		last[p] = i
	}
	wg.Wait()
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		i := i
		q.Push(&i)
	}
	q.Close()
	require.True(t, q.IsClosed())

	v := 100
	require.False(t, q.Push(&v))

	for i := 0; i < 5; i++ {
		require.Equal(t, i, *recv(t, q))
	}
	_, ok := <-q.Recv()
	require.False(t, ok, "channel should be closed")
}

// TestQueueNoLostWakeup pushes single items while the consumer is idle, the
// situation in which an unsynchronized signal is lost
func TestQueueNoLostWakeup(t *testing.T) {
	q := NewQueue[int]()
	defer q.Close()

	for i := 0; i < 2000; i++ {
		i := i
		require.True(t, q.Push(&i))
		require.Equal(t, i, *recv(t, q))
	}
}

func TestQueueSelect(t *testing.T) {
	q := NewQueue[string]()
	defer q.Close()

	other := make(chan int, 1)
	other <- 1
	select {
	case v := <-q.Recv():
		t.Fatalf("empty queue delivered %v", *v)
	case <-other:
	}

	s := "item"
	q.Push(&s)
	require.Equal(t, "item", *recv(t, q))
}

func BenchmarkQueueSingleProducer(b *testing.B) {
	q := NewQueue[int]()
	defer q.Close()
	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		i := i
		q.Push(&i)
	}
}

func BenchmarkQueueMultiProducer(b *testing.B) {
	q := NewQueue[int]()
	defer q.Close()
	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(&i)
			i++
		}
	})
}
