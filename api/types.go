// File: api/types.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket types, send/receive flags and timeout conventions.

package api

import (
	"strings"
	"time"
)

// SocketType selects the messaging pattern of a socket.
type SocketType int

const (
	PAIR SocketType = iota
	PUB
	SUB
	REQ
	REP
	DEALER
	ROUTER
	PULL
	PUSH
)

var socketTypeNames = map[SocketType]string{
	PAIR:   "PAIR",
	PUB:    "PUB",
	SUB:    "SUB",
	REQ:    "REQ",
	REP:    "REP",
	DEALER: "DEALER",
	ROUTER: "ROUTER",
	PULL:   "PULL",
	PUSH:   "PUSH",
}

// String returns the wire name of the socket type.
func (t SocketType) String() string {
	if s, ok := socketTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseSocketType maps a wire name (case-insensitive) to a SocketType.
func ParseSocketType(name string) (SocketType, error) {
	name = strings.ToUpper(name)
	for t, s := range socketTypeNames {
		if s == name {
			return t, nil
		}
	}
	return 0, Errorf(KindInvalidArgument, "socket type", "unknown socket type %q", name)
}

// Compatible reports whether a socket of type t may talk to a peer of type peer.
func (t SocketType) Compatible(peer SocketType) bool {
	switch t {
	case PAIR:
		return peer == PAIR
	case PUB:
		return peer == SUB
	case SUB:
		return peer == PUB
	case REQ:
		return peer == REP || peer == ROUTER
	case REP:
		return peer == REQ || peer == DEALER
	case DEALER:
		return peer == REP || peer == DEALER || peer == ROUTER
	case ROUTER:
		return peer == REQ || peer == DEALER || peer == ROUTER
	case PUSH:
		return peer == PULL
	case PULL:
		return peer == PUSH
	}
	return false
}

// CanSend reports whether the pattern has an outbound path.
func (t SocketType) CanSend() bool {
	return t != SUB && t != PULL
}

// CanRecv reports whether the pattern has an inbound path.
func (t SocketType) CanRecv() bool {
	return t != PUB && t != PUSH
}

// Flag modifies a single send or receive call.
type Flag int

const (
	// DontWait turns a blocking call into a poll: ErrWouldBlock instead of waiting.
	DontWait Flag = 1 << iota
	// SndMore marks the frame as not the last of its message.
	SndMore
)

// Infinite is the timeout value meaning "wait forever".
const Infinite time.Duration = -1

// PollEvents is a readiness bitmask returned by Poll.
type PollEvents int

const (
	PollIn PollEvents = 1 << iota
	PollOut
)
