// File: core/protocol/frame_codec.go
// Package protocol implements the length-prefixed frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire layout of one frame:
//
//	flags (1 byte) | size (1 byte, or 8 bytes big-endian when LONG) | body
//
// The encoder keeps a write cursor so that a partially accepted write
// resumes exactly where the transport stopped. The decoder is incremental:
// feeding fewer bytes than a frame needs is not an error.

package protocol

import (
	"encoding/binary"

	"github.com/momentics/hioload-mq/api"
)

// Frame flag bits.
const (
	FlagMore    byte = 0x01
	FlagLong    byte = 0x02
	FlagCommand byte = 0x04

	flagReserved = ^(FlagMore | FlagLong | FlagCommand)
)

// DefaultMaxFrameSize bounds a single frame body when no MaxMsgSize is set.
const DefaultMaxFrameSize int64 = 1 << 30

// frameHeaderLen returns the header length for a body of n bytes.
func frameHeaderLen(n int) int {
	if n > 0xFF {
		return 9
	}
	return 2
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	var flags byte
	if f.More {
		flags |= FlagMore
	}
	if f.Command {
		flags |= FlagCommand
	}
	n := len(f.Data)
	if n > 0xFF {
		flags |= FlagLong
		var hdr [9]byte
		hdr[0] = flags
		binary.BigEndian.PutUint64(hdr[1:], uint64(n))
		dst = append(dst, hdr[:]...)
	} else {
		dst = append(dst, flags, byte(n))
	}
	return append(dst, f.Data...)
}

// Encode serializes the frames of a message. The More flags are derived
// from frame position, so callers cannot produce a truncated message.
func Encode(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, api.NewError(api.KindProtocol, "encode", "message has no frames")
	}
	size := 0
	for _, f := range frames {
		size += frameHeaderLen(len(f.Data)) + len(f.Data)
	}
	out := make([]byte, 0, size)
	for i, f := range frames {
		f.More = i < len(frames)-1
		out = AppendFrame(out, f)
	}
	return out, nil
}

// trackMark records where a tracked message ends inside the encoder buffer.
type trackMark struct {
	end     int
	tracker *Tracker
}

// Encoder accumulates encoded bytes and a write cursor.
// It is owned by a single reactor goroutine.
type Encoder struct {
	buf   []byte
	off   int
	marks []trackMark
}

// AppendRaw queues raw bytes (greeting) ahead of framed traffic.
func (e *Encoder) AppendRaw(p []byte) {
	e.buf = append(e.buf, p...)
}

// AppendCommand queues a command frame.
func (e *Encoder) AppendCommand(body []byte) {
	e.buf = AppendFrame(e.buf, Frame{Data: body, Command: true})
}

// AppendMessage queues every frame of m.
func (e *Encoder) AppendMessage(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	for i, f := range m.Frames {
		f.More = i < len(m.Frames)-1
		f.Command = false
		e.buf = AppendFrame(e.buf, f)
	}
	if m.Tracker != nil {
		e.marks = append(e.marks, trackMark{end: len(e.buf), tracker: m.Tracker})
	}
	return nil
}

// Pending returns the bytes not yet accepted by the transport.
func (e *Encoder) Pending() []byte { return e.buf[e.off:] }

// Len returns the number of pending bytes.
func (e *Encoder) Len() int { return len(e.buf) - e.off }

// Advance moves the cursor past n accepted bytes and completes trackers of
// messages that are now entirely written.
func (e *Encoder) Advance(n int) {
	e.off += n
	if e.off > len(e.buf) {
		e.off = len(e.buf)
	}
	i := 0
	for ; i < len(e.marks) && e.marks[i].end <= e.off; i++ {
		e.marks[i].tracker.Release()
	}
	e.marks = e.marks[i:]
	if e.off == len(e.buf) {
		e.buf = e.buf[:0]
		e.off = 0
	}
}

// Reset drops pending bytes, releasing trackers of unsent messages.
func (e *Encoder) Reset() {
	for _, m := range e.marks {
		m.tracker.Release()
	}
	e.marks = nil
	e.buf = e.buf[:0]
	e.off = 0
}

// Decoder parses frames out of a byte stream fed in arbitrary chunks.
type Decoder struct {
	buf     []byte
	off     int
	maxSize int64
}

// NewDecoder creates a decoder rejecting frames larger than maxSize
// (maxSize <= 0 selects DefaultMaxFrameSize).
func NewDecoder(maxSize int64) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{maxSize: maxSize}
}

// SetMaxSize changes the frame size limit.
func (d *Decoder) SetMaxSize(n int64) {
	if n <= 0 {
		n = DefaultMaxFrameSize
	}
	d.maxSize = n
}

// Feed appends received bytes.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > 4096 && d.off > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (d *Decoder) Buffered() int { return len(d.buf) - d.off }

// Take consumes exactly n raw bytes (greeting) if available.
func (d *Decoder) Take(n int) ([]byte, bool) {
	if d.Buffered() < n {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+n])
	d.off += n
	return out, true
}

// Next parses one frame. ok is false when more input is required.
func (d *Decoder) Next() (f Frame, ok bool, err error) {
	raw := d.buf[d.off:]
	if len(raw) < 2 {
		return Frame{}, false, nil
	}
	flags := raw[0]
	if flags&flagReserved != 0 {
		return Frame{}, false, api.Errorf(api.KindProtocol, "decode", "reserved flag bits set: %#x", flags)
	}
	var size uint64
	hdr := 2
	if flags&FlagLong != 0 {
		if len(raw) < 9 {
			return Frame{}, false, nil
		}
		size = binary.BigEndian.Uint64(raw[1:9])
		hdr = 9
	} else {
		size = uint64(raw[1])
	}
	if size > uint64(d.maxSize) {
		return Frame{}, false, api.Errorf(api.KindProtocol, "decode", "frame of %d bytes exceeds limit %d", size, d.maxSize)
	}
	if uint64(len(raw)-hdr) < size {
		return Frame{}, false, nil
	}
	body := make([]byte, size)
	copy(body, raw[hdr:hdr+int(size)])
	d.off += hdr + int(size)
	return Frame{
		Data:    body,
		More:    flags&FlagMore != 0,
		Command: flags&FlagCommand != 0,
	}, true, nil
}

// Reset discards buffered input, e.g. after a connection failure.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// Assembler groups decoded frames into whole messages.
type Assembler struct {
	frames []Frame
}

// Add appends a data frame and returns the completed message, if any.
func (a *Assembler) Add(f Frame) (Message, bool) {
	a.frames = append(a.frames, f)
	if f.More {
		return Message{}, false
	}
	m := Message{Frames: a.frames}
	a.frames = nil
	return m, true
}

// Partial reports whether a message is half assembled.
func (a *Assembler) Partial() bool { return len(a.frames) > 0 }

// Discard drops a half assembled message.
func (a *Assembler) Discard() { a.frames = nil }
