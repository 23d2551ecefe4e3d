// File: mq/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket lifecycle and the reactor side of the messaging core: endpoint
// management, the outbound pump and the session callbacks.

package mq

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/core/protocol"
	"github.com/momentics/hioload-mq/core/queue"
	"github.com/momentics/hioload-mq/internal/pattern"
	"github.com/momentics/hioload-mq/internal/session"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

// drainPoll is how often a lingering close re-checks pending output.
const drainPoll = 5 * time.Millisecond

// endpoint is a bound acceptor or a connecting dialer.
type endpoint interface {
	Endpoint() string
	Drained() bool
	Close()
}

// Stats is a point-in-time view of a socket.
type Stats struct {
	ID        uint64
	Type      string
	Endpoints []string
	Peers     int
	OutQueued int
	InQueued  int
	Sent      uint64
	Received  uint64
	Dropped   uint64
}

// Socket is one messaging endpoint of a Context. See the package
// documentation for its threading contract.
type Socket struct {
	id     uint64
	typ    api.SocketType
	ctx    *Context
	r      *reactor.Reactor
	logger *slog.Logger
	policy pattern.Policy
	gate   pattern.Gate
	flags  pattern.Flags
	outQ   *queue.Queue
	inQ    *queue.Queue
	opts   *options

	// Reactor goroutine only.
	endpoints map[string][]endpoint
	sessions  map[uint64]*session.Session
	stalled   map[uint64]*session.Session
	held      *protocol.Message

	// Application goroutine only.
	partial   []protocol.Frame
	rcvFrames [][]byte
	rcvMore   bool

	pumpPending   atomic.Bool
	resumePending atomic.Bool
	inStalled     atomic.Bool
	closed        atomic.Bool
	peers         atomic.Int32
	sent          atomic.Uint64
	received      atomic.Uint64
	monitor       atomic.Pointer[monitor]
	monitorMu     sync.Mutex
	unwatch       []func()

	mSent, mReceived, mDropped, mConns *atomic.Int64
}

func newSocket(c *Context, id uint64, t api.SocketType, r *reactor.Reactor, cfg control.Config) *Socket {
	s := &Socket{
		id:        id,
		typ:       t,
		ctx:       c,
		r:         r,
		logger:    c.logger.With("component", "socket", "socket", id, "type", t.String()),
		opts:      newOptions(cfg),
		endpoints: make(map[string][]endpoint),
		sessions:  make(map[uint64]*session.Session),
		stalled:   make(map[uint64]*session.Session),
		mSent:     c.metrics.Counter(control.MetricMessagesSent),
		mReceived: c.metrics.Counter(control.MetricMessagesReceived),
		mDropped:  c.metrics.Counter(control.MetricMessagesDropped),
		mConns:    c.metrics.Counter(control.MetricConnections),
	}
	s.policy, s.gate = pattern.New(t, &s.flags, s.logger)
	s.outQ = queue.New(s.opts.sendQueueConfig())
	s.inQ = queue.New(s.opts.recvQueueConfig())
	s.unwatch = append(s.unwatch, s.outQ.Watch(s.schedulePump), s.inQ.Watch(s.scheduleResume))
	return s
}

// ID is unique within the context.
func (s *Socket) ID() uint64 { return s.id }

// Type returns the socket's pattern.
func (s *Socket) Type() api.SocketType { return s.typ }

// Context returns the owning context.
func (s *Socket) Context() *Context { return s.ctx }

func (s *Socket) probeName() string { return fmt.Sprintf("socket.%d", s.id) }

// usable reports why the socket cannot be used, if it cannot.
func (s *Socket) usable(op string) error {
	if s.closed.Load() {
		if s.ctx.Terminated() {
			return api.NewError(api.KindContextTerminated, op, "context terminated")
		}
		return api.NewError(api.KindInvalidState, op, "socket closed")
	}
	if s.ctx.shutdown.Load() {
		return api.NewError(api.KindContextTerminated, op, "context shut down")
	}
	return nil
}

// exec runs fn on the socket's reactor and waits for it. It must not be
// called from a reactor goroutine.
func (s *Socket) exec(fn func()) error {
	done := make(chan struct{})
	if !s.r.Post(func() {
		defer close(done)
		fn()
	}) {
		return api.NewError(api.KindContextTerminated, "socket", "reactor stopped")
	}
	<-done
	return nil
}

func (s *Socket) sessionConfig() session.Config {
	o := s.opts.snapshot()
	return session.Config{
		SocketType: s.typ,
		Identity:   o.identity,
		MaxMsgSize: o.maxMsgSize,
		SndHWM:     o.sndHWM,
		Pool:       s.ctx.bufs,
		Logger:     s.logger,
		Events:     s,
	}
}

// Bind listens on endpoint. The listener is bound before Bind returns,
// so address errors are reported here; tcp port 0 picks a free port that
// LastEndpoint then reports.
func (s *Socket) Bind(ep string) error {
	if err := s.usable("bind"); err != nil {
		return err
	}
	addr, err := transport.Parse(ep)
	if err != nil {
		return err
	}
	l, err := transport.Listen(addr, s.ctx.inproc)
	if err != nil {
		s.Emit(api.MonitorEvent{Event: api.EventBindFailed, Value: uint32(api.KindOf(err)), Endpoint: ep})
		return err
	}
	var startErr error
	if err := s.exec(func() {
		a := session.NewAcceptor(s.r, l, s.sessionConfig(), s)
		if startErr = a.Start(); startErr != nil {
			_ = l.Close()
			return
		}
		key := a.Endpoint()
		s.endpoints[key] = append(s.endpoints[key], a)
	}); err != nil {
		_ = l.Close()
		return err
	}
	if startErr != nil {
		s.Emit(api.MonitorEvent{Event: api.EventBindFailed, Value: uint32(api.KindOf(startErr)), Endpoint: ep})
		return startErr
	}
	bound := l.Addr().String()
	s.opts.setLastEndpoint(bound)
	s.logger.Debug("bound", "endpoint", bound)
	s.Emit(api.MonitorEvent{Event: api.EventListening, Endpoint: bound})
	return nil
}

// BindRandomPort binds tcp://host on the first free port in [min, max]
// and returns it.
func (s *Socket) BindRandomPort(host string, min, max int) (int, error) {
	if min <= 0 || max < min || max > 65535 {
		return 0, api.Errorf(api.KindInvalidArgument, "bind", "bad port range %d-%d", min, max)
	}
	var last error
	for port := min; port <= max; port++ {
		err := s.Bind(fmt.Sprintf("tcp://%s:%d", host, port))
		if err == nil {
			return port, nil
		}
		if k := api.KindOf(err); k == api.KindInvalidState || k == api.KindContextTerminated {
			return 0, err
		}
		last = err
	}
	return 0, api.Wrap(api.KindConnectionFailed, "bind", last)
}

// Connect starts connecting to endpoint. The connection is established
// (and re-established) in the background; messages sent meanwhile wait
// in the socket's queue.
func (s *Socket) Connect(ep string) error {
	if err := s.usable("connect"); err != nil {
		return err
	}
	addr, err := transport.Parse(ep)
	if err != nil {
		return err
	}
	o := s.opts.snapshot()
	if err := s.exec(func() {
		d := session.NewDialer(s.r, addr, s.ctx.inproc, s.sessionConfig(), s,
			session.NewBackoff(o.reconnectIvl, o.reconnectIvlMax))
		key := d.Endpoint()
		s.endpoints[key] = append(s.endpoints[key], d)
		d.Start()
	}); err != nil {
		return err
	}
	s.opts.setLastEndpoint(addr.String())
	s.logger.Debug("connecting", "endpoint", addr.String())
	return nil
}

// Unbind closes the listener bound on endpoint.
func (s *Socket) Unbind(ep string) error {
	return s.dropEndpoint("unbind", ep, func(e endpoint) bool {
		_, ok := e.(*session.Acceptor)
		return ok
	})
}

// Disconnect stops the connection made to endpoint.
func (s *Socket) Disconnect(ep string) error {
	return s.dropEndpoint("disconnect", ep, func(e endpoint) bool {
		_, ok := e.(*session.Dialer)
		return ok
	})
}

func (s *Socket) dropEndpoint(op, ep string, match func(endpoint) bool) error {
	if err := s.usable(op); err != nil {
		return err
	}
	addr, err := transport.Parse(ep)
	if err != nil {
		return err
	}
	key := addr.String()
	found := false
	if err := s.exec(func() {
		list := s.endpoints[key]
		kept := list[:0]
		for _, e := range list {
			if !found && match(e) {
				found = true
				e.Close()
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.endpoints, key)
		} else {
			s.endpoints[key] = kept
		}
	}); err != nil {
		return err
	}
	if !found {
		return api.Errorf(api.KindInvalidArgument, op, "endpoint %s not in use", key)
	}
	return nil
}

// Attach implements session.Owner.
func (s *Socket) Attach(ss *session.Session) error {
	if err := s.policy.Attach(ss); err != nil {
		s.logger.Warn("peer rejected", "endpoint", ss.Endpoint(), "err", err)
		return err
	}
	s.sessions[ss.ID()] = ss
	s.peers.Add(1)
	s.mConns.Add(1)
	s.pump()
	return nil
}

// Detach implements session.Owner.
func (s *Socket) Detach(ss *session.Session, err error) {
	s.policy.Detach(ss)
	if _, ok := s.sessions[ss.ID()]; ok {
		delete(s.sessions, ss.ID())
		s.peers.Add(-1)
		s.mConns.Add(-1)
	}
	delete(s.stalled, ss.ID())
	s.logger.Debug("peer detached", "endpoint", ss.Endpoint(), "err", err)
}

// Receive implements session.Owner. A full inbound queue stalls the
// session instead of dropping unless the receive policy says otherwise.
func (s *Socket) Receive(ss *session.Session, m protocol.Message) bool {
	m, ok := s.policy.Deliver(ss, m)
	if !ok {
		return true
	}
	err := s.inQ.EnqueuePolicy(m, s.opts.rcvPolicy(), 0)
	switch {
	case err == nil:
		return true
	case api.KindOf(err) == api.KindWouldBlock:
		s.stalled[ss.ID()] = ss
		s.inStalled.Store(true)
		// The reader may have emptied the queue before the flag was set.
		s.scheduleResume()
		return false
	default:
		s.mDropped.Add(1)
		s.logger.Debug("inbound message dropped", "err", err)
		return true
	}
}

// Ready implements session.Owner.
func (s *Socket) Ready(*session.Session) { s.pump() }

func (s *Socket) schedulePump() {
	if s.pumpPending.CompareAndSwap(false, true) {
		if !s.r.Post(s.pump) {
			s.pumpPending.Store(false)
		}
	}
}

// pump routes queued messages until the queue empties or the pattern has
// no pipe for the next one, which is then held until a pipe attaches or
// drains. Reactor goroutine only.
func (s *Socket) pump() {
	s.pumpPending.Store(false)
	for {
		var m protocol.Message
		if s.held != nil {
			m = *s.held
		} else {
			next, ok := s.outQ.TryDequeue()
			if !ok {
				return
			}
			m = next
		}
		err := s.policy.Route(m)
		if api.KindOf(err) == api.KindWouldBlock {
			s.held = &m
			return
		}
		s.held = nil
		if err != nil {
			s.mDropped.Add(1)
			s.logger.Warn("outbound message dropped", "err", err)
		} else {
			s.sent.Add(1)
			s.mSent.Add(1)
		}
		m.Tracker.Release()
	}
}

func (s *Socket) scheduleResume() {
	if !s.inStalled.Load() || !s.inQ.Writable() {
		return
	}
	if s.resumePending.CompareAndSwap(false, true) {
		if !s.r.Post(s.resumeStalled) {
			s.resumePending.Store(false)
		}
	}
}

func (s *Socket) resumeStalled() {
	s.resumePending.Store(false)
	list := make([]*session.Session, 0, len(s.stalled))
	for id, ss := range s.stalled {
		list = append(list, ss)
		delete(s.stalled, id)
	}
	s.inStalled.Store(false)
	for _, ss := range list {
		ss.Resume()
	}
	if len(s.stalled) > 0 {
		s.inStalled.Store(true)
	}
}

// drained reports whether nothing is left to flush. Reactor goroutine only.
func (s *Socket) drained() bool {
	if s.held != nil || s.outQ.Len() > 0 {
		return false
	}
	for _, list := range s.endpoints {
		for _, e := range list {
			if !e.Drained() {
				return false
			}
		}
	}
	return true
}

// Close closes the socket using its Linger option.
func (s *Socket) Close() error {
	return s.CloseLinger(s.opts.snapshot().linger)
}

// CloseLinger closes the socket, waiting up to linger for queued output
// to reach the peers. Linger 0 discards it at once; api.Infinite waits
// until everything was written.
func (s *Socket) CloseLinger(linger time.Duration) error {
	if !s.shut(linger) {
		return nil
	}
	s.partial = nil
	s.rcvFrames = nil
	return nil
}

// shut closes the socket and reports whether this call did so. It leaves
// the application-side send and receive state alone, so Term may run it
// while an application goroutine is inside Send or RecvFrame.
func (s *Socket) shut(linger time.Duration) bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.outQ.Close()
	s.inQ.Close()
	if linger != 0 {
		s.waitDrained(linger)
	}
	_ = s.exec(func() {
		if s.held != nil {
			s.held.Tracker.Release()
			s.held = nil
		}
		if n := s.outQ.Discard(); n > 0 {
			s.logger.Debug("discarded unsent messages", "count", n)
		}
		for key, list := range s.endpoints {
			for _, e := range list {
				e.Close()
			}
			delete(s.endpoints, key)
		}
	})
	for _, cancel := range s.unwatch {
		cancel()
	}
	s.inQ.Discard()
	s.stopMonitor()
	s.ctx.forget(s)
	s.logger.Debug("socket closed")
	return true
}

func (s *Socket) waitDrained(linger time.Duration) {
	var deadline time.Time
	if linger > 0 {
		deadline = time.Now().Add(linger)
	}
	for {
		done := true
		if err := s.exec(func() { done = s.drained() }); err != nil {
			return
		}
		if done {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			s.logger.Debug("linger expired with pending output")
			return
		}
		time.Sleep(drainPoll)
	}
}

// abort releases blocked callers without closing the socket.
func (s *Socket) abort() {
	s.outQ.Close()
	s.inQ.Close()
}

// Stats returns a snapshot. It must not be called from a reactor goroutine.
func (s *Socket) Stats() Stats {
	st := Stats{
		ID:        s.id,
		Type:      s.typ.String(),
		Peers:     int(s.peers.Load()),
		OutQueued: s.outQ.Len(),
		InQueued:  s.inQ.Len(),
		Sent:      s.sent.Load(),
		Received:  s.received.Load(),
		Dropped:   s.policy.Dropped() + s.outQ.Stats().Dropped + s.inQ.Stats().Dropped,
	}
	_ = s.exec(func() {
		if s.held != nil {
			st.OutQueued++
		}
		for key := range s.endpoints {
			st.Endpoints = append(st.Endpoints, key)
		}
	})
	return st
}
