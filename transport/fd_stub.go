//go:build !linux
// +build !linux

// File: transport/fd_stub.go
// Author: momentics <momentics@gmail.com>
//
// Socket transports need the epoll reactor; other platforms only get inproc.

package transport

import (
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
)

func listenFD(addr Address) (Listener, error) {
	return nil, api.Errorf(api.KindNotSupported, "listen", "%s transport requires linux", addr.Kind)
}

func dialFD(addr Address, _ *reactor.Reactor, done DialFunc) func() {
	done(nil, api.Errorf(api.KindNotSupported, "dial", "%s transport requires linux", addr.Kind))
	return func() {}
}
