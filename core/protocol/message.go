// File: core/protocol/message.go
// Package protocol implements frames, messages and the wire codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Frame is the atomic unit of wire transfer. A Message is one or more
// frames that are queued and delivered as a whole; the application never
// sees a partial message.

package protocol

import (
	"github.com/momentics/hioload-mq/api"
)

// Frame is a byte buffer plus its continuation flag.
// Once handed to a socket the Data slice must not be modified; several
// in-flight copies of a message share it read-only.
type Frame struct {
	Data    []byte
	More    bool
	Command bool
}

// Message is an ordered sequence of frames. All but the last frame carry More.
type Message struct {
	Frames []Frame

	// RoutingID is the origin identity of a message received on a ROUTER
	// socket (also present as the leading frame).
	RoutingID []byte

	// Pipe identifies the connection a message arrived on or must leave
	// through. Zero means "let the pattern choose". Set by pattern policies.
	Pipe uint64

	// Tracker, when non-nil, completes once the transport released every
	// copy of this message.
	Tracker *Tracker
}

// NewMessage builds a message from parts, setting More on all but the last.
func NewMessage(parts ...[]byte) Message {
	m := Message{Frames: make([]Frame, len(parts))}
	for i, p := range parts {
		m.Frames[i] = Frame{Data: p, More: i < len(parts)-1}
	}
	return m
}

// Validate rejects messages the wire cannot represent.
func (m Message) Validate() error {
	if len(m.Frames) == 0 {
		return api.NewError(api.KindProtocol, "message", "message has no frames")
	}
	return nil
}

// Len returns the number of frames.
func (m Message) Len() int { return len(m.Frames) }

// Size returns the sum of frame payload sizes in bytes.
func (m Message) Size() int {
	n := 0
	for _, f := range m.Frames {
		n += len(f.Data)
	}
	return n
}

// Parts returns the frame payloads.
func (m Message) Parts() [][]byte {
	out := make([][]byte, len(m.Frames))
	for i, f := range m.Frames {
		out[i] = f.Data
	}
	return out
}

// Normalize fixes the More flags so the message is well formed.
func (m Message) Normalize() Message {
	for i := range m.Frames {
		m.Frames[i].More = i < len(m.Frames)-1
	}
	return m
}

// PushFront prepends a frame.
func (m Message) PushFront(data []byte) Message {
	frames := make([]Frame, 0, len(m.Frames)+1)
	frames = append(frames, Frame{Data: data, More: true})
	frames = append(frames, m.Frames...)
	m.Frames = frames
	return m.Normalize()
}

// PopFront removes and returns the first frame payload.
func (m Message) PopFront() ([]byte, Message) {
	if len(m.Frames) == 0 {
		return nil, m
	}
	head := m.Frames[0].Data
	m.Frames = m.Frames[1:]
	return head, m
}

// Clone returns a message sharing payloads but not the frame slice.
func (m Message) Clone() Message {
	c := m
	c.Frames = append([]Frame(nil), m.Frames...)
	return c
}

// SplitEnvelope separates the routing envelope (frames up to and including
// the first empty delimiter) from the body. ok is false when no delimiter exists.
func (m Message) SplitEnvelope() (envelope []Frame, body Message, ok bool) {
	for i, f := range m.Frames {
		if len(f.Data) == 0 {
			envelope = append([]Frame(nil), m.Frames[:i+1]...)
			body = m
			body.Frames = m.Frames[i+1:]
			return envelope, body, true
		}
	}
	return nil, m, false
}

// WithEnvelope prepends a previously split envelope.
func (m Message) WithEnvelope(envelope []Frame) Message {
	frames := make([]Frame, 0, len(envelope)+len(m.Frames))
	frames = append(frames, envelope...)
	frames = append(frames, m.Frames...)
	m.Frames = frames
	return m.Normalize()
}
