// File: core/protocol/handshake.go
// Package protocol implements the connection handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Both peers send a fixed 64-byte greeting, then a READY command whose
// properties carry the socket type and the optional identity. The
// handshake is symmetric, so the same routines serve bind and connect sides.

package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/momentics/hioload-mq/api"
)

// Greeting returns the 64-byte greeting for the NULL mechanism.
func Greeting(asServer bool) []byte {
	g := make([]byte, GreetingSize)
	g[0] = signatureHeader
	g[8] = 0x01
	g[9] = signatureFooter
	g[10] = VersionMajor
	g[11] = VersionMinor
	copy(g[mechanismOffset:mechanismOffset+mechanismSize], MechanismNull)
	if asServer {
		g[asServerOffset] = 1
	}
	return g
}

// PeerGreeting is the parsed greeting of the remote side.
type PeerGreeting struct {
	Major, Minor byte
	Mechanism    string
	AsServer     bool
}

// ParseGreeting validates a 64-byte greeting.
func ParseGreeting(g []byte) (PeerGreeting, error) {
	if len(g) != GreetingSize {
		return PeerGreeting{}, api.Errorf(api.KindProtocol, "greeting", "short greeting: %d bytes", len(g))
	}
	if g[0] != signatureHeader || g[9] != signatureFooter {
		return PeerGreeting{}, api.NewError(api.KindProtocol, "greeting", "bad signature")
	}
	if g[10] < VersionMajor {
		return PeerGreeting{}, api.Errorf(api.KindProtocol, "greeting", "unsupported version %d.%d", g[10], g[11])
	}
	mech := string(bytes.TrimRight(g[mechanismOffset:mechanismOffset+mechanismSize], "\x00"))
	if mech != MechanismNull {
		return PeerGreeting{}, api.Errorf(api.KindProtocol, "greeting", "unsupported mechanism %q", mech)
	}
	return PeerGreeting{
		Major:     g[10],
		Minor:     g[11],
		Mechanism: mech,
		AsServer:  g[asServerOffset] == 1,
	}, nil
}

// Metadata holds READY properties.
type Metadata map[string][]byte

// Get looks a property up case-insensitively.
func (md Metadata) Get(name string) ([]byte, bool) {
	for k, v := range md {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// ReadyCommand builds the READY command body.
func ReadyCommand(st api.SocketType, identity []byte) []byte {
	body := []byte{byte(len(CommandReady))}
	body = append(body, CommandReady...)
	body = appendProperty(body, PropSocketType, []byte(st.String()))
	if len(identity) > 0 {
		body = appendProperty(body, PropIdentity, identity)
	}
	return body
}

func appendProperty(dst []byte, name string, value []byte) []byte {
	dst = append(dst, byte(len(name)))
	dst = append(dst, name...)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(value)))
	dst = append(dst, n[:]...)
	return append(dst, value...)
}

// ParseCommand splits a command body into its name and payload.
func ParseCommand(body []byte) (name string, data []byte, err error) {
	if len(body) < 1 || int(body[0]) > len(body)-1 {
		return "", nil, api.NewError(api.KindProtocol, "command", "malformed command name")
	}
	n := int(body[0])
	return string(body[1 : 1+n]), body[1+n:], nil
}

// ParseReady decodes READY properties.
func ParseReady(data []byte) (Metadata, error) {
	md := Metadata{}
	for len(data) > 0 {
		nameLen := int(data[0])
		if len(data) < 1+nameLen+4 {
			return nil, api.NewError(api.KindProtocol, "ready", "truncated property name")
		}
		name := string(data[1 : 1+nameLen])
		data = data[1+nameLen:]
		valLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(valLen) {
			return nil, api.Errorf(api.KindProtocol, "ready", "truncated value of %q", name)
		}
		md[name] = append([]byte(nil), data[:valLen]...)
		data = data[valLen:]
	}
	return md, nil
}

// PeerSocketType extracts and validates the peer socket type against local.
func PeerSocketType(md Metadata, local api.SocketType) (api.SocketType, error) {
	raw, ok := md.Get(PropSocketType)
	if !ok {
		return 0, api.NewError(api.KindProtocol, "ready", "missing Socket-Type")
	}
	peer, err := api.ParseSocketType(string(raw))
	if err != nil {
		return 0, api.Wrap(api.KindProtocol, "ready", err)
	}
	if !local.Compatible(peer) {
		return 0, api.Errorf(api.KindProtocol, "ready", "%s cannot talk to %s", local, peer)
	}
	return peer, nil
}

// SubscriptionMessage encodes a subscribe (or cancel) request for topic.
func SubscriptionMessage(topic []byte, subscribe bool) Message {
	marker := byte(unsubscribeMarker)
	if subscribe {
		marker = subscribeMarker
	}
	body := make([]byte, 0, len(topic)+1)
	body = append(body, marker)
	body = append(body, topic...)
	return NewMessage(body)
}

// ParseSubscription decodes a subscription message received by a publisher.
// ok is false for anything that is not a single-frame subscription.
func ParseSubscription(m Message) (topic []byte, subscribe bool, ok bool) {
	if len(m.Frames) != 1 || len(m.Frames[0].Data) == 0 {
		return nil, false, false
	}
	body := m.Frames[0].Data
	switch body[0] {
	case subscribeMarker:
		return body[1:], true, true
	case unsubscribeMarker:
		return body[1:], false, true
	}
	return nil, false, false
}
