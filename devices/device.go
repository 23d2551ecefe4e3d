// File: devices/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Self-contained devices that create and bind their own sockets.

package devices

import (
	"context"
	"errors"
	"strings"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// Kind selects a classic device layout.
type Kind int

const (
	// Queue is a ROUTER frontend and DEALER backend for request/reply
	// load balancing.
	Queue Kind = iota
	// Forwarder is a SUB frontend subscribed to everything and a PUB
	// backend.
	Forwarder
	// Streamer is a PULL frontend and PUSH backend for pipelines.
	Streamer
)

var kindNames = map[Kind]string{Queue: "queue", Forwarder: "forwarder", Streamer: "streamer"}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a device name to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, s := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, api.Errorf(api.KindInvalidArgument, "device", "unknown device %q", name)
}

// SocketTypes returns the frontend and backend types of k.
func (k Kind) SocketTypes() (front, back api.SocketType) {
	switch k {
	case Forwarder:
		return api.SUB, api.PUB
	case Streamer:
		return api.PULL, api.PUSH
	default:
		return api.ROUTER, api.DEALER
	}
}

// Config describes a device to Run.
type Config struct {
	Kind     Kind
	Frontend string
	Backend  string
	// Capture, when set, is bound as a PUB socket receiving a copy of
	// every forwarded message.
	Capture string
}

// Run binds the sockets described by cfg on mctx and proxies between
// them until ctx ends. The sockets are closed on return.
func Run(ctx context.Context, mctx *mq.Context, cfg Config) (err error) {
	frontType, backType := cfg.Kind.SocketTypes()
	var socks []*mq.Socket
	defer func() {
		for _, s := range socks {
			_ = s.CloseLinger(0)
		}
	}()
	open := func(t api.SocketType, ep string) (*mq.Socket, error) {
		s, err := mctx.Socket(t)
		if err != nil {
			return nil, err
		}
		socks = append(socks, s)
		return s, s.Bind(ep)
	}

	front, err := open(frontType, cfg.Frontend)
	if err != nil {
		return err
	}
	if frontType == api.SUB {
		if err := front.Subscribe(nil); err != nil {
			return err
		}
	}
	back, err := open(backType, cfg.Backend)
	if err != nil {
		return err
	}
	var capture *mq.Socket
	if cfg.Capture != "" {
		if capture, err = open(api.PUB, cfg.Capture); err != nil {
			return err
		}
	}
	mctx.Logger().Info("device started", "device", cfg.Kind.String(),
		"frontend", front.LastEndpoint(), "backend", back.LastEndpoint())
	err = Proxy(ctx, front, back, capture)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// MonitoredQueue proxies between in and out like Proxy and publishes
// every message on mon prefixed with inPrefix (messages read from in) or
// outPrefix (messages read from out).
func MonitoredQueue(ctx context.Context, in, out, mon *mq.Socket, inPrefix, outPrefix []byte) error {
	p := &proxy{front: in, back: out, capture: mon, prefixes: [2][]byte{inPrefix, outPrefix}}
	return p.loop(ctx)
}
