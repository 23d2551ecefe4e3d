package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/transport"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want transport.Address
		str  string
	}{
		{"tcp://127.0.0.1:5555", transport.Address{Kind: transport.TCP, Host: "127.0.0.1", Port: 5555}, "tcp://127.0.0.1:5555"},
		{"tcp://*:7000", transport.Address{Kind: transport.TCP, Port: 7000}, "tcp://0.0.0.0:7000"},
		{"tcp://localhost:*", transport.Address{Kind: transport.TCP, Host: "localhost"}, "tcp://localhost:0"},
		{"tcp://[::1]:9000", transport.Address{Kind: transport.TCP, Host: "::1", Port: 9000}, "tcp://[::1]:9000"},
		{"ipc:///tmp/hmq.sock", transport.Address{Kind: transport.IPC, Path: "/tmp/hmq.sock"}, "ipc:///tmp/hmq.sock"},
		{"inproc://workers", transport.Address{Kind: transport.InProc, Path: "workers"}, "inproc://workers"},
	}
	for _, tc := range cases {
		got, err := transport.Parse(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.str, got.String(), tc.in)
	}
}

func TestParseAddressRejects(t *testing.T) {
	for _, in := range []string{"", "tcp://", "tcp://host", "tcp://host:99999", "tcp://host:abc", "udp://x:1", "inproc"} {
		_, err := transport.Parse(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, api.ErrInvalidArgument, in)
	}
}
