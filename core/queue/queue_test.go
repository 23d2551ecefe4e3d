package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

func msg(s string) protocol.Message { return protocol.NewMessage([]byte(s)) }

func body(m protocol.Message) string { return string(m.Frames[0].Data) }

func TestQueue_FIFO(t *testing.T) {
	q := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(msg(fmt.Sprint(i)), 0))
	}
	for i := 0; i < 100; i++ {
		m, err := q.Dequeue(0)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), body(m))
	}
	_, err := q.Dequeue(0)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
}

func TestQueue_BlockUntilDequeue(t *testing.T) {
	q := New(Config{HWM: 2, Policy: api.Block})
	require.NoError(t, q.Enqueue(msg("a"), api.Infinite))
	require.NoError(t, q.Enqueue(msg("b"), api.Infinite))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(msg("c"), api.Infinite) }()

	select {
	case <-done:
		t.Fatal("enqueue past HWM must block")
	case <-time.After(50 * time.Millisecond):
	}

	m, err := q.Dequeue(0)
	require.NoError(t, err)
	assert.Equal(t, "a", body(m))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue not released by dequeue")
	}
	assert.Equal(t, 2, q.Len())
}

func TestQueue_BlockNonBlockingAndTimeout(t *testing.T) {
	q := New(Config{HWM: 1})
	require.NoError(t, q.Enqueue(msg("a"), 0))
	assert.ErrorIs(t, q.Enqueue(msg("b"), 0), api.ErrWouldBlock)

	start := time.Now()
	err := q.Enqueue(msg("b"), 20*time.Millisecond)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_FailPolicy(t *testing.T) {
	q := New(Config{HWM: 1, Policy: api.Fail})
	require.NoError(t, q.Enqueue(msg("a"), api.Infinite))
	err := q.Enqueue(msg("b"), api.Infinite)
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.Equal(t, api.KindQueueFull, api.KindOf(err))
}

func TestQueue_DropPolicies(t *testing.T) {
	q := New(Config{HWM: 2, Policy: api.DropNewest})
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(msg(s), 0))
	}
	assert.Equal(t, uint64(1), q.Stats().Dropped)
	m, _ := q.Dequeue(0)
	assert.Equal(t, "a", body(m))

	q = New(Config{HWM: 2, Policy: api.DropOldest})
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(msg(s), 0))
	}
	m, _ = q.Dequeue(0)
	assert.Equal(t, "b", body(m))
	m, _ = q.Dequeue(0)
	assert.Equal(t, "c", body(m))
}

func TestQueue_DropReleasesTracker(t *testing.T) {
	q := New(Config{HWM: 1, Policy: api.DropNewest})
	require.NoError(t, q.Enqueue(msg("a"), 0))
	m := msg("b")
	m.Tracker = protocol.NewTracker()
	require.NoError(t, q.Enqueue(m, 0))
	assert.True(t, m.Tracker.Completed())
}

func TestQueue_ByteAccounting(t *testing.T) {
	q := New(Config{HWM: 10, Accounting: CountBytes, Policy: api.Fail})
	require.NoError(t, q.Enqueue(msg("12345"), 0))
	require.NoError(t, q.Enqueue(msg("12345"), 0))
	assert.ErrorIs(t, q.Enqueue(msg("1"), 0), api.ErrQueueFull)
	assert.Equal(t, 10, q.Bytes())

	// An oversize message is still admitted into an empty queue.
	q2 := New(Config{HWM: 4, Accounting: CountBytes, Policy: api.Fail})
	require.NoError(t, q2.Enqueue(msg("much too long"), 0))
}

func TestQueue_CloseReleasesWaiters(t *testing.T) {
	q := New(Config{HWM: 1})
	require.NoError(t, q.Enqueue(msg("a"), 0))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- q.Enqueue(msg("b"), api.Infinite)
	}()
	empty := New(Config{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := empty.Dequeue(api.Infinite)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	empty.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, api.ErrContextTerminated)
	}

	// Queued data survives Close for linger flushing.
	m, err := q.Dequeue(0)
	require.NoError(t, err)
	assert.Equal(t, "a", body(m))
	_, err = q.Dequeue(0)
	assert.ErrorIs(t, err, api.ErrContextTerminated)
}

func TestQueue_WatchAndStats(t *testing.T) {
	q := New(Config{HWM: 3})
	var mu sync.Mutex
	calls := 0
	cancel := q.Watch(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, q.Enqueue(msg("a"), 0))
	_, ok := q.TryDequeue()
	require.True(t, ok)
	cancel()
	require.NoError(t, q.Enqueue(msg("b"), 0))

	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	st := q.Stats()
	assert.Equal(t, uint64(2), st.Enqueued)
	assert.Equal(t, uint64(1), st.Dequeued)
	assert.Equal(t, 1, st.Len)
	assert.True(t, q.Writable())
	assert.True(t, q.Readable())
	assert.Equal(t, 1, q.Discard())
}

func TestQueue_ConcurrentProducerKeepsOrder(t *testing.T) {
	q := New(Config{HWM: 8})
	const n = 2000
	go func() {
		for i := 0; i < n; i++ {
			_ = q.Enqueue(msg(fmt.Sprint(i)), api.Infinite)
		}
	}()
	for i := 0; i < n; i++ {
		m, err := q.Dequeue(time.Second)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(i), body(m))
	}
}
