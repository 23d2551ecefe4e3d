// File: transport/stream.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking byte streams and listeners driven by a reactor. A Stream
// never blocks: Read and Write report api.ErrWouldBlock when the kernel
// (or the in-process pipe) has nothing to give or no room to take.

package transport

import (
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
)

// Stream is one connected byte-stream endpoint.
type Stream interface {
	// Read returns io.EOF once the peer closed and all data was consumed.
	Read(p []byte) (int, error)
	// Write may accept fewer bytes than offered.
	Write(p []byte) (int, error)
	// Attach starts readiness notifications on r. Reactor goroutine only.
	Attach(r *reactor.Reactor, interest reactor.Events, h reactor.Handler) error
	// SetInterest replaces the interest set. Reactor goroutine only.
	SetInterest(ev reactor.Events) error
	// Close detaches and releases the endpoint. Reactor goroutine only.
	Close() error
	LocalAddr() string
	RemoteAddr() string
}

// Listener accepts streams for a bound endpoint.
type Listener interface {
	// Attach starts accepting on r; onAccept runs on r's goroutine.
	Attach(r *reactor.Reactor, onAccept func(Stream), onError func(error)) error
	// Addr is the bound address with the ephemeral port resolved.
	Addr() Address
	// Close stops accepting. Reactor goroutine only once attached.
	Close() error
}

// DialFunc is invoked on the reactor goroutine when a dial finished.
type DialFunc func(s Stream, err error)

// Listen binds addr synchronously so that bind errors reach the caller.
func Listen(addr Address, registry *InprocRegistry) (Listener, error) {
	switch addr.Kind {
	case InProc:
		return registry.Listen(addr)
	case TCP, IPC:
		return listenFD(addr)
	}
	return nil, api.Errorf(api.KindInvalidArgument, "listen", "unsupported transport %s", addr.Kind)
}

// Dial starts an asynchronous connect. It must be called on r's goroutine;
// done runs there as well. The returned cancel aborts a pending dial.
func Dial(addr Address, registry *InprocRegistry, r *reactor.Reactor, done DialFunc) (cancel func()) {
	switch addr.Kind {
	case InProc:
		s, err := registry.Dial(addr)
		done(s, err)
		return func() {}
	case TCP, IPC:
		return dialFD(addr, r, done)
	}
	done(nil, api.Errorf(api.KindInvalidArgument, "dial", "unsupported transport %s", addr.Kind))
	return func() {}
}
