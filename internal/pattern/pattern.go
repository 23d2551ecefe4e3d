// File: internal/pattern/pattern.go
// Package pattern implements the per-socket-type routing disciplines.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A pattern is split in two halves. The Policy runs on the socket's
// reactor goroutine: it picks outbound pipes and filters inbound
// messages. The Gate runs on the application goroutine that calls
// Send/Recv and enforces call-order rules such as REQ alternation, so
// those violations surface synchronously to the offending call.

package pattern

import (
	"log/slog"
	"sync/atomic"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// Pipe is one attached peer connection.
type Pipe interface {
	ID() uint64
	// Identity is the identity the peer announced, possibly empty.
	Identity() []byte
	// Write queues m on the connection.
	Write(m protocol.Message) bool
	// Full reports whether the per-connection HWM is reached.
	Full() bool
}

// Policy is the reactor-side half of a pattern.
type Policy interface {
	// Attach admits a peer after its handshake. An error rejects it.
	Attach(p Pipe) error
	Detach(p Pipe)
	// Route hands m to its destination pipes. A KindWouldBlock error
	// means no pipe can take it now; the caller keeps it queued and
	// retries once a pipe attaches or drains. Other errors drop m.
	Route(m protocol.Message) error
	// Deliver filters an inbound message. ok false drops it.
	Deliver(p Pipe, m protocol.Message) (out protocol.Message, ok bool)
	// Dropped counts messages the policy discarded.
	Dropped() uint64
}

// Subscriber is implemented by policies that manage subscriptions.
type Subscriber interface {
	Subscribe(topic []byte)
	Unsubscribe(topic []byte)
}

// Gate is the application-side half of a pattern.
type Gate interface {
	CheckSend() error
	// PrepareSend validates and rewrites a complete outbound message.
	PrepareSend(m protocol.Message) (protocol.Message, error)
	// CommitSend records that the prepared message was queued.
	CommitSend()
	CheckRecv() error
	// FinishRecv strips pattern framing from a received message. ok
	// false means the message is stale and must be skipped.
	FinishRecv(m protocol.Message) (out protocol.Message, ok bool)
	// Outstanding reports a request (REQ) or reply (REP) in progress.
	Outstanding() bool
}

// Flags are the pattern options shared by both halves.
type Flags struct {
	RouterMandatory atomic.Bool
	ReqRelaxed      atomic.Bool
}

var errNoPeer = api.NewError(api.KindWouldBlock, "route", "no peer can take the message")

// New builds both halves for a socket type.
func New(t api.SocketType, flags *Flags, logger *slog.Logger) (Policy, Gate) {
	if flags == nil {
		flags = &Flags{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pattern", "type", t.String())
	switch t {
	case api.REQ:
		return &reqPolicy{base: base{logger: logger}}, &reqGate{flags: flags}
	case api.REP:
		return &repPolicy{base: base{logger: logger}, pipes: map[uint64]Pipe{}}, &repGate{}
	case api.DEALER:
		return &dealerPolicy{base: base{logger: logger}}, noGate{}
	case api.ROUTER:
		rp := newRouterPolicy(flags, logger)
		return rp, &routerGate{flags: flags, router: rp}
	case api.PUB:
		return &pubPolicy{base: base{logger: logger}, subs: map[uint64]*subscriber{}}, noGate{}
	case api.SUB:
		return &subPolicy{base: base{logger: logger}, local: NewTrie()}, noGate{}
	case api.PUSH:
		return &pushPolicy{base: base{logger: logger}}, noGate{}
	case api.PULL:
		return &pullPolicy{base: base{logger: logger}}, noGate{}
	default:
		return &pairPolicy{base: base{logger: logger}}, noGate{}
	}
}

// base carries what every policy shares.
type base struct {
	logger  *slog.Logger
	dropped atomic.Uint64
}

func (b *base) Dropped() uint64 { return b.dropped.Load() }

func (b *base) drop(reason string, m protocol.Message) {
	b.dropped.Add(1)
	b.logger.Debug("message dropped", "reason", reason, "frames", m.Len())
}

// noGate imposes no call order.
type noGate struct{}

func (noGate) CheckSend() error                                         { return nil }
func (noGate) PrepareSend(m protocol.Message) (protocol.Message, error) { return m, nil }
func (noGate) CommitSend()                                              {}
func (noGate) CheckRecv() error                                         { return nil }
func (noGate) FinishRecv(m protocol.Message) (protocol.Message, bool)   { return m, true }
func (noGate) Outstanding() bool                                        { return false }

// loadBalancer round-robins over attached pipes, skipping full ones.
type loadBalancer struct {
	pipes []Pipe
	next  int
}

func (lb *loadBalancer) add(p Pipe) { lb.pipes = append(lb.pipes, p) }

func (lb *loadBalancer) remove(p Pipe) {
	for i, q := range lb.pipes {
		if q.ID() == p.ID() {
			lb.pipes = append(lb.pipes[:i], lb.pipes[i+1:]...)
			if lb.next > i {
				lb.next--
			}
			break
		}
	}
	if lb.next >= len(lb.pipes) {
		lb.next = 0
	}
}

func (lb *loadBalancer) pick() Pipe {
	n := len(lb.pipes)
	for i := 0; i < n; i++ {
		idx := (lb.next + i) % n
		p := lb.pipes[idx]
		if !p.Full() {
			lb.next = (idx + 1) % n
			return p
		}
	}
	return nil
}

// send routes m to the next free pipe.
func (lb *loadBalancer) send(m protocol.Message) (Pipe, error) {
	p := lb.pick()
	if p == nil {
		return nil, errNoPeer
	}
	p.Write(m)
	return p, nil
}
