// File: internal/pattern/reqrep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// REQ/REP: strict request-reply alternation over an envelope that ends
// with an empty delimiter frame.

package pattern

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// reqPolicy sends each request to one peer round-robin and accepts the
// reply only from that peer. A request sent in relaxed mode carries a
// request id ahead of the delimiter; only a reply echoing that id is
// accepted.
type reqPolicy struct {
	base
	lb      loadBalancer
	current uint64
	waiting bool
	expect  []byte
}

func (p *reqPolicy) Attach(pipe Pipe) error { p.lb.add(pipe); return nil }

func (p *reqPolicy) Detach(pipe Pipe) {
	p.lb.remove(pipe)
	if p.current == pipe.ID() {
		p.waiting = false
	}
}

func (p *reqPolicy) Route(m protocol.Message) error {
	pipe, err := p.lb.send(m)
	if err != nil {
		return err
	}
	p.current = pipe.ID()
	p.waiting = true
	p.expect = nil
	if m.Len() > 1 && len(m.Frames[0].Data) > 0 {
		p.expect = m.Frames[0].Data
	}
	return nil
}

func (p *reqPolicy) Deliver(pipe Pipe, m protocol.Message) (protocol.Message, bool) {
	if !p.waiting || pipe.ID() != p.current {
		p.drop("reply from unexpected peer", m)
		return m, false
	}
	delim := 0
	if p.expect != nil {
		if m.Len() < 3 || !bytes.Equal(m.Frames[0].Data, p.expect) {
			p.drop("reply to an abandoned request", m)
			return m, false
		}
		delim = 1
	}
	if m.Len() < delim+2 || len(m.Frames[delim].Data) != 0 {
		p.drop("reply without delimiter", m)
		return m, false
	}
	p.waiting = false
	return m, true
}

// reqGate enforces send, recv, send, recv...
//
// In relaxed mode each request is prefixed with a 4-byte request id. A
// reply whose id is not the one of the last request sent is stale.
type reqGate struct {
	flags    *Flags
	mu       sync.Mutex
	awaiting bool
	nextID   uint32
	staged   []byte
	pending  []byte
}

func (g *reqGate) CheckSend() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkSendLocked()
}

func (g *reqGate) checkSendLocked() error {
	if g.awaiting && !g.flags.ReqRelaxed.Load() {
		return api.NewError(api.KindInvalidState, "send", "REQ socket is awaiting a reply")
	}
	return nil
}

func (g *reqGate) PrepareSend(m protocol.Message) (protocol.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSendLocked(); err != nil {
		return m, err
	}
	m = m.PushFront([]byte{})
	g.staged = nil
	if g.flags.ReqRelaxed.Load() {
		g.nextID++
		id := make([]byte, 4)
		binary.BigEndian.PutUint32(id, g.nextID)
		g.staged = id
		m = m.PushFront(id)
	}
	return m, nil
}

func (g *reqGate) CommitSend() {
	g.mu.Lock()
	g.awaiting = true
	g.pending = g.staged
	g.staged = nil
	g.mu.Unlock()
}

func (g *reqGate) CheckRecv() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.awaiting {
		return api.NewError(api.KindInvalidState, "recv", "REQ socket has no request outstanding")
	}
	return nil
}

func (g *reqGate) FinishRecv(m protocol.Message) (protocol.Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		if m.Len() < 2 || !bytes.Equal(m.Frames[0].Data, g.pending) {
			return m, false
		}
		_, m = m.PopFront()
	} else if m.Len() > 0 && len(m.Frames[0].Data) != 0 {
		return m, false
	}
	g.awaiting = false
	g.pending = nil
	_, m = m.PopFront()
	return m, true
}

func (g *reqGate) Outstanding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.awaiting
}

// repPolicy tags each request with its origin pipe and routes the reply
// back to exactly that pipe.
type repPolicy struct {
	base
	pipes map[uint64]Pipe
}

func (p *repPolicy) Attach(pipe Pipe) error { p.pipes[pipe.ID()] = pipe; return nil }
func (p *repPolicy) Detach(pipe Pipe)       { delete(p.pipes, pipe.ID()) }

func (p *repPolicy) Route(m protocol.Message) error {
	pipe, ok := p.pipes[m.Pipe]
	if !ok {
		p.drop("requester went away", m)
		return nil
	}
	if pipe.Full() {
		p.drop("requester at high-water mark", m)
		return nil
	}
	pipe.Write(m)
	return nil
}

func (p *repPolicy) Deliver(pipe Pipe, m protocol.Message) (protocol.Message, bool) {
	if _, _, ok := m.SplitEnvelope(); !ok {
		p.dropped.Add(1)
		p.logger.Warn("request without envelope delimiter dropped", "pipe", pipe.ID())
		return m, false
	}
	m.Pipe = pipe.ID()
	return m, true
}

// repGate stores the envelope of the request being served.
type repGate struct {
	mu       sync.Mutex
	pending  bool
	envelope []protocol.Frame
	pipe     uint64
}

func (g *repGate) CheckSend() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending {
		return api.NewError(api.KindInvalidState, "send", "REP socket has no request to reply to")
	}
	return nil
}

func (g *repGate) PrepareSend(m protocol.Message) (protocol.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending {
		return m, api.NewError(api.KindInvalidState, "send", "REP socket has no request to reply to")
	}
	m = m.WithEnvelope(g.envelope)
	m.Pipe = g.pipe
	return m, nil
}

func (g *repGate) CommitSend() {
	g.mu.Lock()
	g.pending = false
	g.envelope = nil
	g.pipe = 0
	g.mu.Unlock()
}

func (g *repGate) CheckRecv() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending {
		return api.NewError(api.KindInvalidState, "recv", "REP socket owes a reply")
	}
	return nil
}

func (g *repGate) FinishRecv(m protocol.Message) (protocol.Message, bool) {
	envelope, body, _ := m.SplitEnvelope()
	g.mu.Lock()
	g.pending = true
	g.envelope = envelope
	g.pipe = m.Pipe
	g.mu.Unlock()
	return body, true
}

func (g *repGate) Outstanding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}
