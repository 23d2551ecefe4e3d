// File: internal/pattern/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DEALER and ROUTER: asynchronous request routing. ROUTER prefixes every
// inbound message with the origin identity and consumes the leading
// identity frame of every outbound message.

package pattern

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

type dealerPolicy struct {
	base
	lb loadBalancer
}

func (p *dealerPolicy) Attach(pipe Pipe) error { p.lb.add(pipe); return nil }
func (p *dealerPolicy) Detach(pipe Pipe)       { p.lb.remove(pipe) }

func (p *dealerPolicy) Route(m protocol.Message) error {
	_, err := p.lb.send(m)
	return err
}

func (p *dealerPolicy) Deliver(_ Pipe, m protocol.Message) (protocol.Message, bool) {
	return m, true
}

// GenerateIdentity returns a routing id for a peer that announced none.
// The leading zero byte keeps generated ids apart from user-chosen ones.
func GenerateIdentity() []byte {
	id := uuid.New()
	return append([]byte{0}, id[:]...)
}

// routerPolicy maps identities to pipes. The identity table is read by
// the application-side gate, so it is guarded.
type routerPolicy struct {
	base
	flags *Flags

	mu   sync.RWMutex
	byID map[string]Pipe
	ids  map[uint64][]byte
}

func newRouterPolicy(flags *Flags, logger *slog.Logger) *routerPolicy {
	return &routerPolicy{
		base:  base{logger: logger},
		flags: flags,
		byID:  make(map[string]Pipe),
		ids:   make(map[uint64][]byte),
	}
}

func (p *routerPolicy) Attach(pipe Pipe) error {
	id := pipe.Identity()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(id) == 0 || id[0] == 0 {
		id = GenerateIdentity()
	} else if _, taken := p.byID[string(id)]; taken {
		p.logger.Warn("duplicate peer identity, assigning a generated one", "identity", string(id))
		id = GenerateIdentity()
	}
	p.byID[string(id)] = pipe
	p.ids[pipe.ID()] = id
	return nil
}

func (p *routerPolicy) Detach(pipe Pipe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[pipe.ID()]; ok {
		delete(p.byID, string(id))
		delete(p.ids, pipe.ID())
	}
}

// HasPeer reports whether identity names an attached peer.
func (p *routerPolicy) HasPeer(identity []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[string(identity)]
	return ok
}

// Identities lists attached peer identities.
func (p *routerPolicy) Identities() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]byte, 0, len(p.ids))
	for _, id := range p.ids {
		out = append(out, id)
	}
	return out
}

func (p *routerPolicy) Route(m protocol.Message) error {
	id, rest := m.PopFront()
	p.mu.RLock()
	pipe, ok := p.byID[string(id)]
	p.mu.RUnlock()
	mandatory := p.flags.RouterMandatory.Load()
	if !ok {
		if mandatory {
			p.dropped.Add(1)
			return api.Errorf(api.KindHostUnreachable, "route", "no peer with identity %q", id)
		}
		p.drop("unknown identity", m)
		return nil
	}
	if pipe.Full() {
		if mandatory {
			return errNoPeer
		}
		p.drop("peer at high-water mark", m)
		return nil
	}
	pipe.Write(rest)
	return nil
}

func (p *routerPolicy) Deliver(pipe Pipe, m protocol.Message) (protocol.Message, bool) {
	p.mu.RLock()
	id, ok := p.ids[pipe.ID()]
	p.mu.RUnlock()
	if !ok {
		return m, false
	}
	m = m.PushFront(id)
	m.RoutingID = id
	return m, true
}

// routerGate validates the addressing of outbound messages.
type routerGate struct {
	noGate
	flags  *Flags
	router *routerPolicy
}

func (g *routerGate) PrepareSend(m protocol.Message) (protocol.Message, error) {
	if m.Len() < 2 || len(m.Frames[0].Data) == 0 {
		return m, api.NewError(api.KindProtocol, "send", "ROUTER message must start with a destination identity frame")
	}
	if g.flags.RouterMandatory.Load() && !g.router.HasPeer(m.Frames[0].Data) {
		return m, api.Errorf(api.KindHostUnreachable, "send", "no peer with identity %q", m.Frames[0].Data)
	}
	return m, nil
}
