package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueue_FIFOPerProducer(t *testing.T) {
	q := NewBoundedQueue(4)
	var order []int
	for i := 0; i < 4; i++ {
		i := i
		require.NoError(t, q.push(context.Background(), func() { order = append(order, i) }))
	}
	for i := 0; i < 4; i++ {
		q.pop()()
	}
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestBoundedQueue_PushBlocksAtCapacity(t *testing.T) {
	q := NewBoundedQueue(1)
	require.NoError(t, q.push(context.Background(), func() {}))

	pushed := make(chan struct{})
	go func() {
		_ = q.push(context.Background(), func() {})
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should have blocked at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	q.pop()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push should have unblocked after a pop")
	}
}

func TestBoundedQueue_PopBlocksWhileEmpty(t *testing.T) {
	q := NewBoundedQueue(1)
	popped := make(chan Task)
	go func() { popped <- q.pop() }()

	select {
	case <-popped:
		t.Fatal("pop should have blocked on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.push(context.Background(), func() {}))

	select {
	case <-popped:
	case <-time.After(time.Second):
		t.Fatal("pop should have unblocked after a push")
	}
}

func TestBoundedQueue_SetCapacity_BeforeFirstPush(t *testing.T) {
	q := NewBoundedQueue(1)
	require.NoError(t, q.SetCapacity(5))
}

func TestBoundedQueue_SetCapacity_RejectsAfterPush(t *testing.T) {
	q := NewBoundedQueue(4)
	require.NoError(t, q.push(context.Background(), func() {}))

	err := q.SetCapacity(8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestBoundedQueue_PushCanceledByContext(t *testing.T) {
	q := NewBoundedQueue(1)
	require.NoError(t, q.push(context.Background(), func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.push(ctx, func() {}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled push never returned")
	}
}

func TestBoundedQueue_ConcurrentProducersAllDelivered(t *testing.T) {
	q := NewBoundedQueue(3)
	const n = 200

	var mu sync.Mutex
	seen := make(map[int]bool, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			_ = q.push(context.Background(), func() {
				mu.Lock()
				seen[i] = true
				mu.Unlock()
			})
		}()
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			q.pop()()
		}
		close(done)
	}()

	wg.Wait()
	<-done

	assert.Len(t, seen, n)
}

func TestUnboundedQueue_PushNeverBlocks(t *testing.T) {
	q := NewUnboundedQueue()
	for i := 0; i < 1000; i++ {
		q.Push(func() {})
	}
	assert.False(t, q.Empty())
}

func TestUnboundedQueue_FIFO(t *testing.T) {
	q := NewUnboundedQueue()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.Push(func() { order = append(order, i) })
	}
	for i := 0; i < 5; i++ {
		q.Pop()()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
