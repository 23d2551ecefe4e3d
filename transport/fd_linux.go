//go:build linux
// +build linux

// File: transport/fd_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP and IPC (unix domain) streams on raw non-blocking sockets,
// registered directly with the reactor's epoll instance.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
)

const listenBacklog = 128

var errWouldBlock = api.NewError(api.KindWouldBlock, "stream", "resource temporarily unavailable")

// fdStream is a connected non-blocking socket.
type fdStream struct {
	fd       int
	r        *reactor.Reactor
	interest reactor.Events
	attached bool
	closed   bool
	local    string
	remote   string
}

func newFDStream(fd int) *fdStream {
	s := &fdStream{fd: fd}
	if sa, err := unix.Getsockname(fd); err == nil {
		s.local = sockaddrString(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		s.remote = sockaddrString(sa)
	}
	return s
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, unix.EAGAIN):
		return errWouldBlock
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.EPIPE), errors.Is(err, unix.ENOTCONN):
		return api.Wrap(api.KindConnectionReset, op, err)
	}
	return api.Wrap(api.KindConnectionFailed, op, err)
}

func (s *fdStream) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, classify("read", err)
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *fdStream) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, classify("write", err)
		}
		return n, nil
	}
}

func (s *fdStream) Attach(r *reactor.Reactor, interest reactor.Events, h reactor.Handler) error {
	if err := r.Register(s.fd, interest, h); err != nil {
		return err
	}
	s.r = r
	s.interest = interest
	s.attached = true
	return nil
}

func (s *fdStream) SetInterest(ev reactor.Events) error {
	if !s.attached || ev == s.interest {
		return nil
	}
	s.interest = ev
	return s.r.Modify(s.fd, ev)
}

func (s *fdStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.attached {
		_ = s.r.Unregister(s.fd)
		s.attached = false
	}
	return unix.Close(s.fd)
}

func (s *fdStream) LocalAddr() string  { return s.local }
func (s *fdStream) RemoteAddr() string { return s.remote }

// fdListener accepts on a bound, listening socket.
type fdListener struct {
	fd       int
	addr     Address
	r        *reactor.Reactor
	attached bool
	closed   bool
	onAccept func(Stream)
	onError  func(error)
}

func sockaddrFor(addr Address) (unix.Sockaddr, int, error) {
	switch addr.Kind {
	case IPC:
		if len(addr.Path) > 107 {
			return nil, 0, api.Errorf(api.KindInvalidArgument, "ipc", "path too long: %q", addr.Path)
		}
		return &unix.SockaddrUnix{Name: addr.Path}, unix.AF_UNIX, nil
	case TCP:
		var ip net.IP
		if addr.Host == "" {
			ip = net.IPv4zero
		} else if ip = net.ParseIP(addr.Host); ip == nil {
			ipa, err := net.ResolveIPAddr("ip", addr.Host)
			if err != nil {
				return nil, 0, api.Wrap(api.KindInvalidArgument, "resolve", err)
			}
			ip = ipa.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			sa := &unix.SockaddrInet4{Port: addr.Port}
			copy(sa.Addr[:], ip4)
			return sa, unix.AF_INET, nil
		}
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip.To16())
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, api.Errorf(api.KindInvalidArgument, "sockaddr", "no socket address for %s", addr.Kind)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}

func listenFD(addr Address) (Listener, error) {
	sa, family, err := sockaddrFor(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if addr.Kind == TCP {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	} else {
		// A stale socket file from a previous run would make bind fail.
		_ = unix.Unlink(addr.Path)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, api.Wrap(api.KindInvalidArgument, "bind "+addr.String(), err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, api.Wrap(api.KindInvalidArgument, "listen "+addr.String(), err)
	}
	if addr.Kind == TCP && addr.Port == 0 {
		if bound, err := unix.Getsockname(fd); err == nil {
			switch b := bound.(type) {
			case *unix.SockaddrInet4:
				addr.Port = b.Port
			case *unix.SockaddrInet6:
				addr.Port = b.Port
			}
		}
	}
	return &fdListener{fd: fd, addr: addr}, nil
}

func (l *fdListener) Addr() Address { return l.addr }

func (l *fdListener) Attach(r *reactor.Reactor, onAccept func(Stream), onError func(error)) error {
	l.r = r
	l.onAccept = onAccept
	l.onError = onError
	if err := r.Register(l.fd, reactor.EventRead, l.onReady); err != nil {
		return err
	}
	l.attached = true
	return nil
}

func (l *fdListener) onReady(reactor.Events) {
	for !l.closed {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err != unix.EAGAIN && l.onError != nil {
				l.onError(api.Wrap(api.KindConnectionFailed, "accept", err))
			}
			return
		}
		if l.addr.Kind == TCP {
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		l.onAccept(newFDStream(nfd))
	}
}

func (l *fdListener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.attached {
		_ = l.r.Unregister(l.fd)
	}
	err := unix.Close(l.fd)
	if l.addr.Kind == IPC {
		_ = unix.Unlink(l.addr.Path)
	}
	return err
}

func dialFD(addr Address, r *reactor.Reactor, done DialFunc) func() {
	sa, family, err := sockaddrFor(addr)
	if err != nil {
		done(nil, err)
		return func() {}
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		done(nil, api.Wrap(api.KindConnectionFailed, "socket", err))
		return func() {}
	}
	if addr.Kind == TCP {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	err = unix.Connect(fd, sa)
	if err == nil {
		done(newFDStream(fd), nil)
		return func() {}
	}
	if err != unix.EINPROGRESS && err != unix.EINTR {
		_ = unix.Close(fd)
		done(nil, api.Wrap(api.KindConnectionFailed, "connect "+addr.String(), err))
		return func() {}
	}

	pending := true
	finish := func() {
		pending = false
		_ = r.Unregister(fd)
	}
	regErr := r.Register(fd, reactor.EventWrite, func(reactor.Events) {
		if !pending {
			return
		}
		finish()
		soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr == nil && soerr != 0 {
			gerr = unix.Errno(soerr)
		}
		if gerr != nil {
			_ = unix.Close(fd)
			done(nil, api.Wrap(api.KindConnectionFailed, "connect "+addr.String(), gerr))
			return
		}
		done(newFDStream(fd), nil)
	})
	if regErr != nil {
		_ = unix.Close(fd)
		done(nil, regErr)
		return func() {}
	}
	return func() {
		if pending {
			finish()
			_ = unix.Close(fd)
		}
	}
}
