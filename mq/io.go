// File: mq/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application-side send and receive paths.

package mq

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

func (s *Socket) sendTimeout(flags api.Flag) time.Duration {
	if flags&api.DontWait != 0 {
		return 0
	}
	return s.opts.snapshot().sndTimeout
}

func (s *Socket) recvTimeout(flags api.Flag) time.Duration {
	if flags&api.DontWait != 0 {
		return 0
	}
	return s.opts.snapshot().rcvTimeout
}

func (s *Socket) checkSend(op string) error {
	if err := s.usable(op); err != nil {
		return err
	}
	if !s.typ.CanSend() {
		return api.Errorf(api.KindInvalidState, op, "%s sockets cannot send", s.typ)
	}
	return s.gate.CheckSend()
}

func (s *Socket) checkRecv(op string) error {
	if err := s.usable(op); err != nil {
		return err
	}
	if !s.typ.CanRecv() {
		return api.Errorf(api.KindInvalidState, op, "%s sockets cannot receive", s.typ)
	}
	return nil
}

// Send sends parts as frames of one message. With api.SndMore the parts
// are buffered and the message is only queued by the first call without
// it, so peers never observe a partial message.
func (s *Socket) Send(parts [][]byte, flags api.Flag) error {
	if err := s.checkSend("send"); err != nil {
		return err
	}
	for _, p := range parts {
		s.partial = append(s.partial, protocol.Frame{Data: p})
	}
	if flags&api.SndMore != 0 {
		return nil
	}
	m := protocol.Message{Frames: s.partial}
	s.partial = nil
	return s.enqueue(m, flags)
}

// SendString sends str as one frame, honouring api.SndMore.
func (s *Socket) SendString(str string, flags api.Flag) error {
	return s.Send([][]byte{[]byte(str)}, flags)
}

// SendMessage queues a complete message. Frames buffered by earlier
// SndMore calls are prepended.
func (s *Socket) SendMessage(m protocol.Message, flags api.Flag) error {
	if err := s.checkSend("send"); err != nil {
		return err
	}
	if len(s.partial) > 0 {
		m.Frames = append(s.partial, m.Frames...)
		s.partial = nil
	}
	return s.enqueue(m, flags)
}

// SendTracked queues parts as one message and returns a tracker that
// completes once the transport wrote (or discarded) every copy, after
// which the caller may reuse the part buffers.
func (s *Socket) SendTracked(parts [][]byte, flags api.Flag) (*protocol.Tracker, error) {
	if err := s.checkSend("send"); err != nil {
		return nil, err
	}
	m := protocol.NewMessage(parts...)
	m.Tracker = protocol.NewTracker()
	if err := s.enqueue(m, flags&^api.SndMore); err != nil {
		return nil, err
	}
	return m.Tracker, nil
}

// SendValue encodes v with msgpack and sends it as one frame.
func (s *Socket) SendValue(v any, flags api.Flag) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return api.Wrap(api.KindInvalidArgument, "send value", err)
	}
	return s.Send([][]byte{data}, flags)
}

func (s *Socket) enqueue(m protocol.Message, flags api.Flag) error {
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return err
	}
	if s.typ == api.REQ && s.gate.Outstanding() {
		// A relaxed REQ abandons the earlier request. Replies already
		// queued go now; later ones fail the request id check.
		s.inQ.Discard()
		s.rcvFrames = nil
	}
	m, err := s.gate.PrepareSend(m)
	if err != nil {
		return err
	}
	if err := s.outQ.Enqueue(m, s.sendTimeout(flags)); err != nil {
		return s.mapQueueErr("send", err)
	}
	s.gate.CommitSend()
	return nil
}

// mapQueueErr reports a closed queue as termination or closure.
func (s *Socket) mapQueueErr(op string, err error) error {
	if api.KindOf(err) != api.KindContextTerminated {
		return err
	}
	if uerr := s.usable(op); uerr != nil {
		return uerr
	}
	return err
}

// RecvMessage returns the next whole message. Frames left over by an
// interrupted RecvFrame sequence are returned first.
func (s *Socket) RecvMessage(flags api.Flag) (protocol.Message, error) {
	if err := s.checkRecv("recv"); err != nil {
		return protocol.Message{}, err
	}
	if len(s.rcvFrames) > 0 {
		m := protocol.NewMessage(s.rcvFrames...)
		s.rcvFrames = nil
		s.rcvMore = false
		return m, nil
	}
	if err := s.gate.CheckRecv(); err != nil {
		return protocol.Message{}, err
	}
	var m protocol.Message
	for {
		raw, err := s.inQ.Dequeue(s.recvTimeout(flags))
		if err != nil {
			return protocol.Message{}, s.mapQueueErr("recv", err)
		}
		var ok bool
		if m, ok = s.gate.FinishRecv(raw); ok {
			break
		}
		s.logger.Debug("stale reply discarded", "frames", raw.Len())
	}
	s.rcvMore = false
	s.received.Add(1)
	s.mReceived.Add(1)
	return m, nil
}

// Recv returns the frame payloads of the next message.
func (s *Socket) Recv(flags api.Flag) ([][]byte, error) {
	m, err := s.RecvMessage(flags)
	if err != nil {
		return nil, err
	}
	return m.Parts(), nil
}

// RecvFrame returns one frame at a time. OptRcvMore (or RcvMore) reports
// whether further frames of the same message follow.
func (s *Socket) RecvFrame(flags api.Flag) ([]byte, error) {
	if len(s.rcvFrames) == 0 {
		m, err := s.RecvMessage(flags)
		if err != nil {
			return nil, err
		}
		s.rcvFrames = m.Parts()
		if len(s.rcvFrames) == 0 {
			s.rcvMore = false
			return []byte{}, nil
		}
	}
	f := s.rcvFrames[0]
	s.rcvFrames = s.rcvFrames[1:]
	s.rcvMore = len(s.rcvFrames) > 0
	if !s.rcvMore {
		s.rcvFrames = nil
	}
	return f, nil
}

// RcvMore reports whether the last RecvFrame left frames behind.
func (s *Socket) RcvMore() bool { return s.rcvMore }

// RecvString returns the next frame as a string.
func (s *Socket) RecvString(flags api.Flag) (string, error) {
	f, err := s.RecvFrame(flags)
	if err != nil {
		return "", err
	}
	return string(f), nil
}

// RecvValue decodes the next frame into v with msgpack.
func (s *Socket) RecvValue(v any, flags api.Flag) error {
	f, err := s.RecvFrame(flags)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(f, v); err != nil {
		return api.Wrap(api.KindProtocol, "recv value", err)
	}
	return nil
}
