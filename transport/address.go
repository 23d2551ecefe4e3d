// File: transport/address.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint syntax: tcp://host:port, ipc://path, inproc://name.
// "*" as host binds every interface; "*" or 0 as port asks for an
// ephemeral port.

package transport

import (
	"net"
	"strconv"
	"strings"

	"github.com/momentics/hioload-mq/api"
)

// Kind is the transport family of an endpoint.
type Kind int

const (
	TCP Kind = iota
	IPC
	InProc
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case IPC:
		return "ipc"
	case InProc:
		return "inproc"
	}
	return "unknown"
}

// Address is a parsed endpoint.
type Address struct {
	Kind Kind
	Host string // tcp only
	Port int    // tcp only, 0 = ephemeral
	Path string // ipc socket path or inproc name
}

// Parse validates an endpoint string.
func Parse(endpoint string) (Address, error) {
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok || rest == "" {
		return Address{}, api.Errorf(api.KindInvalidArgument, "parse address", "malformed endpoint %q", endpoint)
	}
	switch strings.ToLower(scheme) {
	case "tcp":
		host, portStr, err := net.SplitHostPort(rest)
		if err != nil {
			return Address{}, api.Wrap(api.KindInvalidArgument, "parse address", err)
		}
		port := 0
		if portStr != "*" && portStr != "" {
			port, err = strconv.Atoi(portStr)
			if err != nil || port < 0 || port > 65535 {
				return Address{}, api.Errorf(api.KindInvalidArgument, "parse address", "bad port %q", portStr)
			}
		}
		if host == "*" {
			host = ""
		}
		return Address{Kind: TCP, Host: host, Port: port}, nil
	case "ipc":
		return Address{Kind: IPC, Path: rest}, nil
	case "inproc":
		return Address{Kind: InProc, Path: rest}, nil
	}
	return Address{}, api.Errorf(api.KindInvalidArgument, "parse address", "unsupported transport %q", scheme)
}

// String renders the endpoint back into its canonical form.
func (a Address) String() string {
	switch a.Kind {
	case TCP:
		host := a.Host
		if host == "" {
			host = "0.0.0.0"
		}
		return "tcp://" + net.JoinHostPort(host, strconv.Itoa(a.Port))
	case IPC:
		return "ipc://" + a.Path
	case InProc:
		return "inproc://" + a.Path
	}
	return ""
}

// WithPort returns a copy with a different port.
func (a Address) WithPort(port int) Address {
	a.Port = port
	return a
}
