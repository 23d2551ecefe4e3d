// File: core/queue/queue.go
// Package queue implements the bounded, thread-safe message FIFO shared
// between application goroutines and a reactor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Queue enforces a high-water mark counted in messages or payload bytes.
// Once the mark is reached an enqueue blocks, drops, evicts or fails,
// depending on the configured policy. Waiting is channel based so every
// blocking call honours a timeout and is released by Close.

package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// Accounting selects the unit the HWM is expressed in.
type Accounting int

const (
	CountMessages Accounting = iota
	CountBytes
)

// Config configures a queue. HWM <= 0 means unbounded.
type Config struct {
	HWM        int
	Accounting Accounting
	Policy     api.HWMPolicy
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Len      int
	Bytes    int
	HWM      int
	Enqueued uint64
	Dequeued uint64
	Dropped  uint64
}

// Queue is a FIFO of whole messages.
type Queue struct {
	mu       sync.Mutex
	items    *queue.Queue
	bytes    int
	cfg      Config
	closed   bool
	notEmpty chan struct{}
	notFull  chan struct{}

	watchMu  sync.Mutex
	watchers map[int]func()
	nextID   int

	enqueued atomic.Uint64
	dequeued atomic.Uint64
	dropped  atomic.Uint64
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	return &Queue{
		items:    queue.New(),
		cfg:      cfg,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
		watchers: make(map[int]func()),
	}
}

// SetConfig changes HWM and policy; waiters re-evaluate immediately.
func (q *Queue) SetConfig(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg
	q.signalFullLocked()
	q.mu.Unlock()
}

// Config returns the current configuration.
func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Watch registers fn to be called after every enqueue or dequeue.
// fn runs on the caller's goroutine and must not block.
func (q *Queue) Watch(fn func()) (cancel func()) {
	q.watchMu.Lock()
	id := q.nextID
	q.nextID++
	q.watchers[id] = fn
	q.watchMu.Unlock()
	return func() {
		q.watchMu.Lock()
		delete(q.watchers, id)
		q.watchMu.Unlock()
	}
}

func (q *Queue) notify() {
	q.watchMu.Lock()
	if len(q.watchers) == 0 {
		q.watchMu.Unlock()
		return
	}
	fns := make([]func(), 0, len(q.watchers))
	for _, fn := range q.watchers {
		fns = append(fns, fn)
	}
	q.watchMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// fitsLocked reports whether m can be added without passing the HWM.
// Byte accounting always admits a message into an empty queue.
func (q *Queue) fitsLocked(m protocol.Message) bool {
	if q.cfg.HWM <= 0 {
		return true
	}
	if q.cfg.Accounting == CountBytes {
		return q.items.Length() == 0 || q.bytes+m.Size() <= q.cfg.HWM
	}
	return q.items.Length() < q.cfg.HWM
}

func (q *Queue) pushLocked(m protocol.Message) {
	q.items.Add(m)
	q.bytes += m.Size()
	q.enqueued.Add(1)
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
}

func (q *Queue) popLocked() protocol.Message {
	m := q.items.Remove().(protocol.Message)
	q.bytes -= m.Size()
	q.dequeued.Add(1)
	q.signalFullLocked()
	return m
}

func (q *Queue) signalFullLocked() {
	close(q.notFull)
	q.notFull = make(chan struct{})
}

func (q *Queue) drop(m protocol.Message) {
	q.dropped.Add(1)
	m.Tracker.Release()
}

// Enqueue adds m using the configured policy.
func (q *Queue) Enqueue(m protocol.Message, timeout time.Duration) error {
	return q.EnqueuePolicy(m, q.Config().Policy, timeout)
}

// EnqueuePolicy adds m using policy. With Block, timeout 0 polls and
// api.Infinite waits until space appears or the queue closes.
func (q *Queue) EnqueuePolicy(m protocol.Message, policy api.HWMPolicy, timeout time.Duration) error {
	var deadline <-chan time.Time
	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return api.NewError(api.KindContextTerminated, "enqueue", "queue closed")
		}
		if q.fitsLocked(m) {
			q.pushLocked(m)
			q.mu.Unlock()
			q.notify()
			return nil
		}
		switch policy {
		case api.Fail:
			q.mu.Unlock()
			return api.Errorf(api.KindQueueFull, "enqueue", "high-water mark %d reached", q.cfg.HWM)
		case api.DropNewest:
			q.mu.Unlock()
			q.drop(m)
			return nil
		case api.DropOldest:
			var evicted []protocol.Message
			for q.items.Length() > 0 && !q.fitsLocked(m) {
				evicted = append(evicted, q.popLocked())
			}
			q.pushLocked(m)
			q.mu.Unlock()
			for _, old := range evicted {
				q.drop(old)
			}
			q.notify()
			return nil
		}
		if timeout == 0 {
			q.mu.Unlock()
			return api.NewError(api.KindWouldBlock, "enqueue", "queue at high-water mark")
		}
		wait := q.notFull
		q.mu.Unlock()
		if deadline == nil && timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-wait:
		case <-deadline:
			return api.NewError(api.KindWouldBlock, "enqueue", "timed out at high-water mark")
		}
		q.mu.Lock()
	}
}

// Dequeue removes the head message, waiting up to timeout.
// Timeout 0 polls; api.Infinite waits forever. A closed, empty queue
// reports api.ErrContextTerminated.
func (q *Queue) Dequeue(timeout time.Duration) (protocol.Message, error) {
	var deadline <-chan time.Time
	q.mu.Lock()
	for {
		if q.items.Length() > 0 {
			m := q.popLocked()
			q.mu.Unlock()
			q.notify()
			return m, nil
		}
		if q.closed {
			q.mu.Unlock()
			return protocol.Message{}, api.NewError(api.KindContextTerminated, "dequeue", "queue closed")
		}
		if timeout == 0 {
			q.mu.Unlock()
			return protocol.Message{}, api.NewError(api.KindWouldBlock, "dequeue", "queue empty")
		}
		wait := q.notEmpty
		q.mu.Unlock()
		if deadline == nil && timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-wait:
		case <-deadline:
			return protocol.Message{}, api.NewError(api.KindWouldBlock, "dequeue", "timed out")
		}
		q.mu.Lock()
	}
}

// TryDequeue is the non-blocking dequeue used by reactors.
func (q *Queue) TryDequeue() (protocol.Message, bool) {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		return protocol.Message{}, false
	}
	m := q.popLocked()
	q.mu.Unlock()
	q.notify()
	return m, true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		return protocol.Message{}, false
	}
	return q.items.Peek().(protocol.Message), true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Bytes returns the queued payload size.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Readable reports whether a dequeue would succeed immediately.
func (q *Queue) Readable() bool { return q.Len() > 0 }

// Writable reports whether a one-byte message would be admitted immediately.
func (q *Queue) Writable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed && q.fitsLocked(protocol.Message{})
}

// Close rejects further enqueues and releases every waiter.
// Messages already queued stay available to Dequeue and Drain.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.notEmpty)
	q.notEmpty = make(chan struct{})
	q.signalFullLocked()
	q.mu.Unlock()
	q.notify()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain removes and returns every queued message.
func (q *Queue) Drain() []protocol.Message {
	q.mu.Lock()
	out := make([]protocol.Message, 0, q.items.Length())
	for q.items.Length() > 0 {
		out = append(out, q.popLocked())
	}
	q.mu.Unlock()
	if len(out) > 0 {
		q.notify()
	}
	return out
}

// Discard drops every queued message, releasing their trackers.
func (q *Queue) Discard() int {
	msgs := q.Drain()
	for _, m := range msgs {
		q.drop(m)
	}
	return len(msgs)
}

// Stats returns counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.items.Length(),
		Bytes:    q.bytes,
		HWM:      q.cfg.HWM,
		Enqueued: q.enqueued.Load(),
		Dequeued: q.dequeued.Load(),
		Dropped:  q.dropped.Load(),
	}
}
