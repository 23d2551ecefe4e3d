// File: internal/pattern/pubsub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PUB/SUB: topic-prefix fan-out. Filtering happens at the publisher per
// subscriber connection and again locally at the subscriber. A publisher
// never waits: copies for a subscriber at its high-water mark are dropped.

package pattern

import (
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

type subscriber struct {
	pipe   Pipe
	topics *Trie
}

type pubPolicy struct {
	base
	subs  map[uint64]*subscriber
	order []uint64
}

func (p *pubPolicy) Attach(pipe Pipe) error {
	p.subs[pipe.ID()] = &subscriber{pipe: pipe, topics: NewTrie()}
	p.order = append(p.order, pipe.ID())
	return nil
}

func (p *pubPolicy) Detach(pipe Pipe) {
	delete(p.subs, pipe.ID())
	for i, id := range p.order {
		if id == pipe.ID() {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *pubPolicy) Route(m protocol.Message) error {
	var topic []byte
	if m.Len() > 0 {
		topic = m.Frames[0].Data
	}
	for _, id := range p.order {
		s := p.subs[id]
		if !s.topics.Match(topic) {
			continue
		}
		if s.pipe.Full() {
			p.drop("subscriber at high-water mark", m)
			continue
		}
		s.pipe.Write(m)
	}
	return nil
}

// Deliver applies subscription requests; publishers accept no data.
func (p *pubPolicy) Deliver(pipe Pipe, m protocol.Message) (protocol.Message, bool) {
	s, ok := p.subs[pipe.ID()]
	if !ok {
		return m, false
	}
	topic, subscribe, ok := protocol.ParseSubscription(m)
	if !ok {
		p.drop("not a subscription", m)
		return m, false
	}
	if subscribe {
		s.topics.Add(topic)
	} else {
		s.topics.Remove(topic)
	}
	return m, false
}

// Subscriptions returns the prefixes a peer subscribed to.
func (p *pubPolicy) Subscriptions(pipe uint64) [][]byte {
	if s, ok := p.subs[pipe]; ok {
		return s.topics.Prefixes()
	}
	return nil
}

// subPolicy keeps the local subscription set, forwards changes to every
// publisher and replays it to publishers that connect later.
type subPolicy struct {
	base
	pipes []Pipe
	local *Trie
}

func (p *subPolicy) Attach(pipe Pipe) error {
	p.pipes = append(p.pipes, pipe)
	for _, topic := range p.local.Prefixes() {
		pipe.Write(protocol.SubscriptionMessage(topic, true))
	}
	return nil
}

func (p *subPolicy) Detach(pipe Pipe) {
	for i, q := range p.pipes {
		if q.ID() == pipe.ID() {
			p.pipes = append(p.pipes[:i], p.pipes[i+1:]...)
			return
		}
	}
}

func (p *subPolicy) broadcast(m protocol.Message) {
	for _, pipe := range p.pipes {
		pipe.Write(m)
	}
}

func (p *subPolicy) Subscribe(topic []byte) {
	if p.local.Add(topic) {
		p.broadcast(protocol.SubscriptionMessage(topic, true))
	}
}

func (p *subPolicy) Unsubscribe(topic []byte) {
	if p.local.Remove(topic) {
		p.broadcast(protocol.SubscriptionMessage(topic, false))
	}
}

func (p *subPolicy) Route(protocol.Message) error {
	return api.NewError(api.KindInvalidState, "route", "SUB sockets cannot send")
}

func (p *subPolicy) Deliver(_ Pipe, m protocol.Message) (protocol.Message, bool) {
	var topic []byte
	if m.Len() > 0 {
		topic = m.Frames[0].Data
	}
	if !p.local.Match(topic) {
		p.drop("no matching subscription", m)
		return m, false
	}
	return m, true
}
