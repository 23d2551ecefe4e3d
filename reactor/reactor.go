// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral event reactor: readiness dispatch for registered file
// descriptors, a posted-task queue for cross-goroutine hand-off and
// timers. All registered handlers and posted tasks of one Reactor run on
// the same goroutine, so state they touch needs no locking.

package reactor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mq/affinity"
	"github.com/momentics/hioload-mq/api"
)

// Events is a readiness bitmask.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
)

// Handler receives readiness notifications for one descriptor.
type Handler func(ev Events)

// poller is the OS readiness backend.
type poller interface {
	add(fd int, ev Events) error
	mod(fd int, ev Events) error
	del(fd int) error
	// wait blocks up to timeoutMs (-1 = forever) and reports ready fds.
	wait(timeoutMs int, fn func(fd int, ev Events)) error
	wake() error
	close() error
}

// Stats exposes loop counters.
type Stats struct {
	ID         int
	Iterations uint64
	Events     uint64
	Tasks      uint64
	Panics     uint64
	Handlers   int
}

// Reactor is one event loop goroutine.
type Reactor struct {
	id     int
	cpu    int
	p      poller
	logger *slog.Logger

	handlers map[int]Handler
	nhandler atomic.Int64

	mu      sync.Mutex
	tasks   []func()
	spare   []func()
	woken   atomic.Bool
	stopped bool

	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool

	iterations atomic.Uint64
	events     atomic.Uint64
	executed   atomic.Uint64
	panics     atomic.Uint64
}

// New creates a reactor. cpu >= 0 pins the loop goroutine's thread to that CPU.
func New(id, cpu int, logger *slog.Logger) (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor %d: %w", id, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reactor{
		id:       id,
		cpu:      cpu,
		p:        p,
		logger:   logger.With("component", "reactor", "reactor", id),
		handlers: make(map[int]Handler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// ID returns the reactor index inside its pool.
func (r *Reactor) ID() int { return r.id }

// Register adds fd with the given interest. Reactor goroutine only.
func (r *Reactor) Register(fd int, interest Events, h Handler) error {
	if err := r.p.add(fd, interest); err != nil {
		return err
	}
	r.handlers[fd] = h
	r.nhandler.Store(int64(len(r.handlers)))
	return nil
}

// Modify replaces the interest set of fd. Reactor goroutine only.
func (r *Reactor) Modify(fd int, interest Events) error {
	return r.p.mod(fd, interest)
}

// Unregister removes fd. Reactor goroutine only.
func (r *Reactor) Unregister(fd int) error {
	delete(r.handlers, fd)
	r.nhandler.Store(int64(len(r.handlers)))
	return r.p.del(fd)
}

// Post schedules fn on the reactor goroutine. It returns false once the
// reactor stopped; fn is then never run.
func (r *Reactor) Post(fn func()) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.tasks = append(r.tasks, fn)
	// The wakeup happens under mu so Stop cannot close the poller in between.
	var err error
	if r.woken.CompareAndSwap(false, true) {
		err = r.p.wake()
	}
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("wakeup failed", "err", err)
	}
	return true
}

// AfterFunc runs fn on the reactor goroutine after d.
func (r *Reactor) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { r.Post(fn) })
}

// Start runs the loop on a new goroutine.
func (r *Reactor) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	go r.run()
}

// Stop terminates the loop after already posted tasks ran, then releases
// the poller. It waits for the loop goroutine to exit.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.doneCh
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stopCh)
	_ = r.p.wake()
	if r.running.Load() {
		<-r.doneCh
	} else {
		close(r.doneCh)
	}
	_ = r.p.close()
}

// Done is closed after the loop goroutine exited.
func (r *Reactor) Done() <-chan struct{} { return r.doneCh }

// Stats returns a counter snapshot.
func (r *Reactor) Stats() Stats {
	return Stats{
		ID:         r.id,
		Iterations: r.iterations.Load(),
		Events:     r.events.Load(),
		Tasks:      r.executed.Load(),
		Panics:     r.panics.Load(),
		Handlers:   int(r.nhandler.Load()),
	}
}

func (r *Reactor) run() {
	defer close(r.doneCh)
	if r.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := affinity.SetAffinity(r.cpu); err != nil {
			r.logger.Warn("cpu pinning failed", "cpu", r.cpu, "err", err)
		}
	}
	r.logger.Debug("reactor started")
	for {
		select {
		case <-r.stopCh:
			r.runTasks()
			r.logger.Debug("reactor stopped")
			return
		default:
		}
		timeout := -1
		r.mu.Lock()
		if len(r.tasks) > 0 {
			timeout = 0
		}
		r.mu.Unlock()

		if err := r.p.wait(timeout, r.dispatch); err != nil {
			r.logger.Error("poll failed", "err", err)
			time.Sleep(time.Millisecond)
		}
		r.iterations.Add(1)
		r.runTasks()
	}
}

// dispatch isolates handler panics so one connection cannot stop the loop.
func (r *Reactor) dispatch(fd int, ev Events) {
	h, ok := r.handlers[fd]
	if !ok {
		return
	}
	r.events.Add(1)
	r.safeCall(func() { h(ev) })
}

func (r *Reactor) runTasks() {
	r.woken.Store(false)
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = r.spare[:0]
	r.mu.Unlock()
	for i, fn := range tasks {
		r.safeCall(fn)
		tasks[i] = nil
	}
	r.executed.Add(uint64(len(tasks)))
	r.mu.Lock()
	r.spare = tasks[:0]
	r.mu.Unlock()
}

func (r *Reactor) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("handler panic recovered", "panic", rec)
		}
	}()
	fn()
}

// ErrNotSupported is returned by pollers that cannot watch descriptors.
var ErrNotSupported = api.NewError(api.KindNotSupported, "reactor", "descriptor polling is not supported on this platform")
