// File: mq/poll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness polling across sockets, driven by queue watchers.

package mq

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/pool"
)

// PollItem is one socket of a Poll call.
type PollItem struct {
	Socket  *Socket
	Events  api.PollEvents
	REvents api.PollEvents
}

type waiter struct {
	wake chan struct{}
}

func (w *waiter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

var waiters = pool.NewSyncPool(
	func() *waiter { return &waiter{wake: make(chan struct{}, 1)} },
	func(w *waiter) *waiter {
		select {
		case <-w.wake:
		default:
		}
		return w
	},
)

// Events reports the socket's current readiness. PollIn means RecvMessage
// would not block, PollOut that Send would not block.
func (s *Socket) Events() api.PollEvents {
	if s.closed.Load() {
		return 0
	}
	var ev api.PollEvents
	if s.typ.CanRecv() && s.gate.CheckRecv() == nil && (len(s.rcvFrames) > 0 || s.inQ.Readable()) {
		ev |= api.PollIn
	}
	if s.typ.CanSend() && s.gate.CheckSend() == nil && s.outQ.Writable() {
		ev |= api.PollOut
	}
	return ev
}

// watch subscribes w to both queues of s.
func (s *Socket) watch(w *waiter) func() {
	c1 := s.inQ.Watch(w.signal)
	c2 := s.outQ.Watch(w.signal)
	return func() { c1(); c2() }
}

// Poll waits until at least one item is ready for its requested events
// and returns the number of ready items. Timeout 0 checks once;
// api.Infinite waits without limit. Poll fails with
// api.ErrContextTerminated when a socket's context shuts down.
func Poll(items []PollItem, timeout time.Duration) (int, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	n, err := pollContext(ctx, items, timeout == 0)
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, nil
	}
	return n, err
}

func pollContext(ctx context.Context, items []PollItem, once bool) (int, error) {
	w := waiters.Get()
	defer waiters.Put(w)
	var done <-chan struct{}
	var seen []*Context
	for i := range items {
		defer items[i].Socket.watch(w)()
		sc := items[i].Socket.ctx
		if slices.Contains(seen, sc) {
			continue
		}
		if seen = append(seen, sc); done == nil {
			done = sc.Done()
		} else {
			defer wakeOnDone(sc.Done(), w.signal)()
		}
	}
	for {
		n := 0
		for i := range items {
			it := &items[i]
			if err := it.Socket.usable("poll"); err != nil {
				return 0, err
			}
			it.REvents = it.Socket.Events() & it.Events
			if it.REvents != 0 {
				n++
			}
		}
		if n > 0 || once {
			return n, nil
		}
		for _, sc := range seen {
			if sc.Terminated() || sc.shutdown.Load() {
				return 0, api.NewError(api.KindContextTerminated, "poll", "context terminated")
			}
		}
		select {
		case <-w.wake:
		case <-done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// wakeOnDone calls wake once done closes, until stop is called.
func wakeOnDone(done <-chan struct{}, wake func()) (stop func()) {
	quit := make(chan struct{})
	go func() {
		select {
		case <-done:
			wake()
		case <-quit:
		}
	}()
	return func() { close(quit) }
}

// Poller is a reusable Poll set.
type Poller struct {
	items []PollItem
}

// NewPoller returns an empty poller.
func NewPoller() *Poller { return &Poller{} }

// Add registers s for events, replacing an earlier registration.
func (p *Poller) Add(s *Socket, events api.PollEvents) {
	for i := range p.items {
		if p.items[i].Socket == s {
			p.items[i].Events = events
			return
		}
	}
	p.items = append(p.items, PollItem{Socket: s, Events: events})
}

// Remove unregisters s.
func (p *Poller) Remove(s *Socket) {
	for i := range p.items {
		if p.items[i].Socket == s {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered sockets.
func (p *Poller) Len() int { return len(p.items) }

// Poll waits like the package-level Poll and returns the ready items.
func (p *Poller) Poll(timeout time.Duration) ([]PollItem, error) {
	if _, err := Poll(p.items, timeout); err != nil {
		return nil, err
	}
	return p.ready(), nil
}

// PollContext waits until an item is ready or ctx ends.
func (p *Poller) PollContext(ctx context.Context) ([]PollItem, error) {
	if _, err := pollContext(ctx, p.items, false); err != nil {
		return nil, err
	}
	return p.ready(), nil
}

func (p *Poller) ready() []PollItem {
	var out []PollItem
	for _, it := range p.items {
		if it.REvents != 0 {
			out = append(out, it)
		}
	}
	return out
}

// waitReady blocks until s reports any of events or ctx ends.
func waitReady(ctx context.Context, s *Socket, events api.PollEvents) error {
	_, err := pollContext(ctx, []PollItem{{Socket: s, Events: events}}, false)
	return err
}
