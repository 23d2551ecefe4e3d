// File: transport/inproc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-process transport: a pair of bounded in-memory byte pipes. Readiness
// is delivered by posting to the owning reactor, emulating level-triggered
// polling so the session code is identical for every transport.

package transport

import (
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
)

// DefaultPipeCapacity bounds the bytes buffered in one pipe direction.
const DefaultPipeCapacity = 256 * 1024

// halfPipe is one direction of an in-process connection.
type halfPipe struct {
	mu           sync.Mutex
	buf          []byte
	off          int
	capacity     int
	writerClosed bool
	readerClosed bool
}

func (h *halfPipe) buffered() int { return len(h.buf) - h.off }

// pipeEnd is one side of an in-process connection.
type pipeEnd struct {
	rx, tx *halfPipe
	peer   *pipeEnd

	mu       sync.Mutex
	r        *reactor.Reactor
	handler  reactor.Handler
	interest reactor.Events
	closed   bool

	pending atomic.Uint32
	local   string
	remote  string
}

// NewPipe returns two connected in-process streams. capacity <= 0 uses
// DefaultPipeCapacity.
func NewPipe(capacity int, nameA, nameB string) (Stream, Stream) {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}
	ab := &halfPipe{capacity: capacity}
	ba := &halfPipe{capacity: capacity}
	a := &pipeEnd{rx: ba, tx: ab, local: nameA, remote: nameB}
	b := &pipeEnd{rx: ab, tx: ba, local: nameB, remote: nameA}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Read(buf []byte) (int, error) {
	h := p.rx
	h.mu.Lock()
	if h.buffered() == 0 {
		eof := h.writerClosed
		h.mu.Unlock()
		if eof {
			return 0, io.EOF
		}
		return 0, errWouldBlockInproc
	}
	wasFull := h.buffered() >= h.capacity
	n := copy(buf, h.buf[h.off:])
	h.off += n
	if h.off == len(h.buf) {
		h.buf = h.buf[:0]
		h.off = 0
	}
	h.mu.Unlock()
	if wasFull || n > 0 {
		p.peer.notify(reactor.EventWrite)
	}
	return n, nil
}

func (p *pipeEnd) Write(buf []byte) (int, error) {
	h := p.tx
	h.mu.Lock()
	if h.readerClosed || h.writerClosed {
		h.mu.Unlock()
		return 0, api.NewError(api.KindConnectionReset, "inproc write", "peer closed")
	}
	space := h.capacity - h.buffered()
	if space <= 0 {
		h.mu.Unlock()
		return 0, errWouldBlockInproc
	}
	n := len(buf)
	if n > space {
		n = space
	}
	if h.off > 0 && len(h.buf)+n > cap(h.buf) {
		k := copy(h.buf, h.buf[h.off:])
		h.buf = h.buf[:k]
		h.off = 0
	}
	h.buf = append(h.buf, buf[:n]...)
	h.mu.Unlock()
	p.peer.notify(reactor.EventRead)
	return n, nil
}

// notify posts a readiness callback to the owning reactor, coalescing
// repeated notifications until the callback ran.
func (p *pipeEnd) notify(ev reactor.Events) {
	p.mu.Lock()
	r := p.r
	want := p.interest | reactor.EventError
	closed := p.closed
	p.mu.Unlock()
	if r == nil || closed || ev&want == 0 {
		return
	}
	for {
		old := p.pending.Load()
		if p.pending.CompareAndSwap(old, old|uint32(ev)) {
			if old != 0 {
				return
			}
			break
		}
	}
	r.Post(p.fire)
}

func (p *pipeEnd) fire() {
	ev := reactor.Events(p.pending.Swap(0))
	p.mu.Lock()
	h := p.handler
	interest := p.interest
	closed := p.closed
	p.mu.Unlock()
	if closed || h == nil {
		return
	}
	if ev = ev & (interest | reactor.EventError); ev != 0 {
		h(ev)
	}
	p.rearm()
}

// rearm re-delivers readiness that is still true, like a level-triggered poller.
func (p *pipeEnd) rearm() {
	p.mu.Lock()
	interest := p.interest
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	if interest&reactor.EventRead != 0 {
		p.rx.mu.Lock()
		ready := p.rx.buffered() > 0 || p.rx.writerClosed
		p.rx.mu.Unlock()
		if ready {
			p.notify(reactor.EventRead)
		}
	}
	if interest&reactor.EventWrite != 0 {
		p.tx.mu.Lock()
		ready := p.tx.buffered() < p.tx.capacity || p.tx.readerClosed
		p.tx.mu.Unlock()
		if ready {
			p.notify(reactor.EventWrite)
		}
	}
}

func (p *pipeEnd) Attach(r *reactor.Reactor, interest reactor.Events, h reactor.Handler) error {
	p.mu.Lock()
	p.r = r
	p.handler = h
	p.interest = interest
	p.mu.Unlock()
	p.rearm()
	return nil
}

func (p *pipeEnd) SetInterest(ev reactor.Events) error {
	p.mu.Lock()
	changed := ev != p.interest
	p.interest = ev
	p.mu.Unlock()
	if changed {
		p.rearm()
	}
	return nil
}

func (p *pipeEnd) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handler = nil
	p.mu.Unlock()

	p.tx.mu.Lock()
	p.tx.writerClosed = true
	p.tx.mu.Unlock()
	p.rx.mu.Lock()
	p.rx.readerClosed = true
	p.rx.buf = nil
	p.rx.off = 0
	p.rx.mu.Unlock()
	p.peer.notify(reactor.EventRead | reactor.EventError)
	return nil
}

func (p *pipeEnd) LocalAddr() string  { return p.local }
func (p *pipeEnd) RemoteAddr() string { return p.remote }

var errWouldBlockInproc = api.NewError(api.KindWouldBlock, "inproc", "pipe not ready")

// InprocRegistry maps inproc names to bound listeners. One registry
// belongs to one messaging context; names do not leak across contexts.
type InprocRegistry struct {
	mu        sync.Mutex
	listeners map[string]*inprocListener
	seq       atomic.Uint64
	capacity  int
}

// NewInprocRegistry creates an empty registry.
func NewInprocRegistry(pipeCapacity int) *InprocRegistry {
	return &InprocRegistry{listeners: make(map[string]*inprocListener), capacity: pipeCapacity}
}

// Listen claims name.
func (reg *InprocRegistry) Listen(addr Address) (Listener, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, taken := reg.listeners[addr.Path]; taken {
		return nil, api.Errorf(api.KindInvalidArgument, "bind", "address in use: %s", addr)
	}
	l := &inprocListener{reg: reg, addr: addr}
	reg.listeners[addr.Path] = l
	return l, nil
}

// Bound reports whether name has a listener.
func (reg *InprocRegistry) Bound(name string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.listeners[name]
	return ok
}

// Dial connects to a bound name, handing the server side to its listener.
func (reg *InprocRegistry) Dial(addr Address) (Stream, error) {
	reg.mu.Lock()
	l, ok := reg.listeners[addr.Path]
	reg.mu.Unlock()
	if !ok {
		return nil, api.Errorf(api.KindConnectionFailed, "dial", "no listener on %s", addr)
	}
	n := reg.seq.Add(1)
	client, server := NewPipe(reg.capacity, addr.String()+"#c"+strconv.FormatUint(n, 10), addr.String())
	if !l.deliver(server) {
		return nil, api.Errorf(api.KindConnectionFailed, "dial", "listener on %s is closing", addr)
	}
	return client, nil
}

func (reg *InprocRegistry) remove(l *inprocListener) {
	reg.mu.Lock()
	if reg.listeners[l.addr.Path] == l {
		delete(reg.listeners, l.addr.Path)
	}
	reg.mu.Unlock()
}

// inprocListener hands accepted pipes to its reactor.
type inprocListener struct {
	reg      *InprocRegistry
	addr     Address
	mu       sync.Mutex
	r        *reactor.Reactor
	onAccept func(Stream)
	backlog  []Stream
	closed   bool
}

func (l *inprocListener) Addr() Address { return l.addr }

func (l *inprocListener) Attach(r *reactor.Reactor, onAccept func(Stream), _ func(error)) error {
	l.mu.Lock()
	l.r = r
	l.onAccept = onAccept
	backlog := l.backlog
	l.backlog = nil
	l.mu.Unlock()
	for _, s := range backlog {
		onAccept(s)
	}
	return nil
}

func (l *inprocListener) deliver(s Stream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if l.r == nil {
		l.backlog = append(l.backlog, s)
		return true
	}
	accept := l.onAccept
	return l.r.Post(func() {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			_ = s.Close()
			return
		}
		accept(s)
	})
}

func (l *inprocListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	backlog := l.backlog
	l.backlog = nil
	l.mu.Unlock()
	for _, s := range backlog {
		_ = s.Close()
	}
	l.reg.remove(l)
	return nil
}
