// File: internal/pattern/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PUSH/PULL pipelines and the exclusive PAIR.

package pattern

import (
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// pushPolicy round-robins; a full peer is skipped, all peers full blocks.
type pushPolicy struct {
	base
	lb loadBalancer
}

func (p *pushPolicy) Attach(pipe Pipe) error { p.lb.add(pipe); return nil }
func (p *pushPolicy) Detach(pipe Pipe)       { p.lb.remove(pipe) }

func (p *pushPolicy) Route(m protocol.Message) error {
	_, err := p.lb.send(m)
	return err
}

func (p *pushPolicy) Deliver(_ Pipe, m protocol.Message) (protocol.Message, bool) {
	p.drop("PUSH has no inbound path", m)
	return m, false
}

// pullPolicy fair-queues in arrival order.
type pullPolicy struct {
	base
}

func (p *pullPolicy) Attach(Pipe) error { return nil }
func (p *pullPolicy) Detach(Pipe)       {}

func (p *pullPolicy) Route(protocol.Message) error {
	return api.NewError(api.KindInvalidState, "route", "PULL sockets cannot send")
}

func (p *pullPolicy) Deliver(_ Pipe, m protocol.Message) (protocol.Message, bool) {
	return m, true
}

// pairPolicy talks to exactly one peer.
type pairPolicy struct {
	base
	peer Pipe
}

func (p *pairPolicy) Attach(pipe Pipe) error {
	if p.peer != nil {
		return api.NewError(api.KindInvalidState, "attach", "PAIR socket already has a peer")
	}
	p.peer = pipe
	return nil
}

func (p *pairPolicy) Detach(pipe Pipe) {
	if p.peer != nil && p.peer.ID() == pipe.ID() {
		p.peer = nil
	}
}

func (p *pairPolicy) Route(m protocol.Message) error {
	if p.peer == nil || p.peer.Full() {
		return errNoPeer
	}
	p.peer.Write(m)
	return nil
}

func (p *pairPolicy) Deliver(_ Pipe, m protocol.Message) (protocol.Message, bool) {
	return m, true
}
