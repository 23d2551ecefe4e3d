// File: mq/monitor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket monitoring. Events are published on a PAIR socket bound to an
// inproc endpoint as two-frame messages: a 6-byte header (uint16 event,
// uint32 value, little-endian) followed by the endpoint string.

package mq

import (
	"encoding/binary"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// monitorLinger bounds how long a stopping monitor flushes its events.
const monitorLinger = time.Second

type monitor struct {
	sock *Socket
	mask api.Event
}

// Monitor publishes the socket's events selected by mask on a new PAIR
// socket bound to the inproc endpoint ep. Connect a PAIR socket to ep and
// decode messages with ParseMonitorMessage. An empty ep stops monitoring.
func (s *Socket) Monitor(ep string, mask api.Event) error {
	if err := s.usable("monitor"); err != nil {
		return err
	}
	if ep == "" {
		s.stopMonitor()
		return nil
	}
	if len(ep) < len("inproc://") || ep[:len("inproc://")] != "inproc://" {
		return api.Errorf(api.KindInvalidArgument, "monitor", "monitor endpoint must be inproc, got %q", ep)
	}
	ms, err := s.ctx.Socket(api.PAIR)
	if err != nil {
		return err
	}
	if err := ms.SetDuration(api.OptLinger, monitorLinger); err != nil {
		_ = ms.CloseLinger(0)
		return err
	}
	if err := ms.Bind(ep); err != nil {
		_ = ms.CloseLinger(0)
		return err
	}
	s.monitorMu.Lock()
	old := s.monitor.Swap(&monitor{sock: ms, mask: mask})
	s.monitorMu.Unlock()
	if old != nil {
		old.stop()
	}
	return nil
}

func (s *Socket) stopMonitor() {
	s.monitorMu.Lock()
	old := s.monitor.Swap(nil)
	s.monitorMu.Unlock()
	if old != nil {
		old.stop()
	}
}

func (m *monitor) stop() {
	m.publish(api.MonitorEvent{Event: api.EventMonitorStopped})
	_ = m.sock.Close()
}

// Emit implements api.EventSink. It never blocks: events that do not fit
// the monitor's queue are dropped.
func (s *Socket) Emit(ev api.MonitorEvent) {
	s.logger.Debug("socket event", "event", ev.Event.String(), "value", ev.Value, "endpoint", ev.Endpoint)
	m := s.monitor.Load()
	if m == nil || m.mask&ev.Event == 0 {
		return
	}
	m.publish(ev)
}

func (m *monitor) publish(ev api.MonitorEvent) {
	head := make([]byte, 6)
	binary.LittleEndian.PutUint16(head[0:2], uint16(ev.Event))
	binary.LittleEndian.PutUint32(head[2:6], ev.Value)
	msg := protocol.NewMessage(head, []byte(ev.Endpoint))
	_ = m.sock.outQ.EnqueuePolicy(msg, api.DropNewest, 0)
}

// ParseMonitorMessage decodes one monitor message.
func ParseMonitorMessage(parts [][]byte) (api.MonitorEvent, error) {
	if len(parts) != 2 || len(parts[0]) != 6 {
		return api.MonitorEvent{}, api.NewError(api.KindProtocol, "monitor", "malformed monitor message")
	}
	return api.MonitorEvent{
		Event:    api.Event(binary.LittleEndian.Uint16(parts[0][0:2])),
		Value:    binary.LittleEndian.Uint32(parts[0][2:6]),
		Endpoint: string(parts[1]),
	}, nil
}
