// File: devices/proxy.go
// Package devices implements message forwarding devices built on mq
// sockets: the generic proxy, a steerable variant and the classic
// queue, forwarder and streamer devices.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package devices

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
	"github.com/momentics/hioload-mq/mq"
)

// batch bounds how many messages move per readiness event, so one busy
// side cannot starve the other.
const batch = 64

// Control commands understood by ProxySteerable.
var (
	CmdPause      = []byte("PAUSE")
	CmdResume     = []byte("RESUME")
	CmdTerminate  = []byte("TERMINATE")
	CmdStatistics = []byte("STATISTICS")
)

// Stats counts traffic through a proxy.
type Stats struct {
	FrontendIn    uint64 `msgpack:"frontend_in"`
	FrontendBytes uint64 `msgpack:"frontend_bytes"`
	BackendIn     uint64 `msgpack:"backend_in"`
	BackendBytes  uint64 `msgpack:"backend_bytes"`
	Captured      uint64 `msgpack:"captured"`
}

type counters struct {
	frontIn, frontBytes, backIn, backBytes, captured atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FrontendIn:    c.frontIn.Load(),
		FrontendBytes: c.frontBytes.Load(),
		BackendIn:     c.backIn.Load(),
		BackendBytes:  c.backBytes.Load(),
		Captured:      c.captured.Load(),
	}
}

// proxy holds the sockets of one running device. All of them are owned
// by the goroutine running loop.
type proxy struct {
	front, back, capture, control *mq.Socket
	// prefixes tag captured copies by direction (front->back, back->front).
	prefixes [2][]byte
	stats    counters
}

// Proxy forwards messages between frontend and backend in both
// directions until ctx ends or a socket fails. When capture is non-nil
// every forwarded message is also sent there without blocking. The
// sockets belong to Proxy until it returns.
func Proxy(ctx context.Context, frontend, backend, capture *mq.Socket) error {
	p := &proxy{front: frontend, back: backend, capture: capture}
	return p.loop(ctx)
}

// ProxySteerable is Proxy with a control socket accepting PAUSE, RESUME,
// TERMINATE and STATISTICS commands. TERMINATE makes it return nil.
// STATISTICS replies with the msgpack-encoded Stats; a REP control socket
// receives "OK" for every other command.
func ProxySteerable(ctx context.Context, frontend, backend, capture, control *mq.Socket) error {
	p := &proxy{front: frontend, back: backend, capture: capture, control: control}
	return p.loop(ctx)
}

func (p *proxy) loop(ctx context.Context) error {
	poller := mq.NewPoller()
	poller.Add(p.front, api.PollIn)
	if p.back != p.front {
		poller.Add(p.back, api.PollIn)
	}
	if p.control != nil {
		poller.Add(p.control, api.PollIn)
	}
	for {
		ready, err := poller.PollContext(ctx)
		if err != nil {
			return err
		}
		for _, it := range ready {
			switch it.Socket {
			case p.control:
				done, err := p.command(poller)
				if err != nil || done {
					return err
				}
			case p.front:
				if err := p.forward(p.front, p.back, 0); err != nil {
					return err
				}
			default:
				if err := p.forward(p.back, p.front, 1); err != nil {
					return err
				}
			}
		}
	}
}

func (p *proxy) forward(from, to *mq.Socket, dir int) error {
	for i := 0; i < batch; i++ {
		in, err := from.RecvMessage(api.DontWait)
		if api.KindOf(err) == api.KindWouldBlock {
			return nil
		}
		if err != nil {
			return err
		}
		m := protocol.Message{Frames: in.Frames}
		if dir == 0 {
			p.stats.frontIn.Add(1)
			p.stats.frontBytes.Add(uint64(m.Size()))
		} else {
			p.stats.backIn.Add(1)
			p.stats.backBytes.Add(uint64(m.Size()))
		}
		if p.capture != nil {
			c := m.Clone()
			if prefix := p.prefixes[dir]; prefix != nil {
				c = c.PushFront(prefix)
			}
			switch err := p.capture.SendMessage(c, api.DontWait); {
			case err == nil:
				p.stats.captured.Add(1)
			case api.KindOf(err) != api.KindWouldBlock:
				return err
			}
		}
		if err := to.SendMessage(m, 0); err != nil {
			return err
		}
	}
	return nil
}

// command handles one control message; done reports TERMINATE.
func (p *proxy) command(poller *mq.Poller) (done bool, err error) {
	parts, err := p.control.Recv(api.DontWait)
	if api.KindOf(err) == api.KindWouldBlock {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cmd := bytes.ToUpper(parts[0])
	switch {
	case bytes.Equal(cmd, CmdPause):
		poller.Remove(p.front)
		poller.Remove(p.back)
	case bytes.Equal(cmd, CmdResume):
		poller.Add(p.front, api.PollIn)
		poller.Add(p.back, api.PollIn)
	case bytes.Equal(cmd, CmdTerminate):
		done = true
	case bytes.Equal(cmd, CmdStatistics):
		if p.control.Type().CanSend() {
			return false, p.control.SendValue(p.stats.snapshot(), 0)
		}
		return false, nil
	default:
		if p.control.Type() == api.REP {
			return false, p.control.SendString("ERROR", 0)
		}
		return false, nil
	}
	if p.control.Type() == api.REP {
		if err := p.control.SendString("OK", 0); err != nil {
			return done, err
		}
	}
	return done, nil
}
