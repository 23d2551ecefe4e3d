//go:build linux
// +build linux

package transport_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

func roundTrip(t *testing.T, endpoint string) {
	t.Helper()
	addr, err := transport.Parse(endpoint)
	require.NoError(t, err)

	r, err := reactor.New(0, -1, nil)
	require.NoError(t, err)
	r.Start()
	defer r.Stop()

	l, err := transport.Listen(addr, nil)
	require.NoError(t, err)
	if addr.Kind == transport.TCP {
		assert.NotZero(t, l.Addr().Port, "ephemeral port resolved")
	}

	received := make(chan string, 1)
	r.Post(func() {
		err := l.Attach(r, func(s transport.Stream) {
			_ = s.Attach(r, reactor.EventRead, func(reactor.Events) {
				buf := make([]byte, 64)
				if n, err := s.Read(buf); err == nil {
					received <- string(buf[:n])
				}
			})
		}, nil)
		assert.NoError(t, err)
	})

	dialed := make(chan error, 1)
	r.Post(func() {
		transport.Dial(l.Addr(), nil, r, func(s transport.Stream, err error) {
			if err == nil {
				_, err = s.Write([]byte("ping"))
			}
			dialed <- err
		})
	})

	select {
	case err := <-dialed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not complete")
	}
	select {
	case s := <-received:
		assert.Equal(t, "ping", s)
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
	closed := make(chan struct{})
	r.Post(func() { _ = l.Close(); close(closed) })
	<-closed
}

func TestTCPRoundTrip(t *testing.T) {
	roundTrip(t, "tcp://127.0.0.1:0")
}

func TestIPCRoundTrip(t *testing.T) {
	roundTrip(t, "ipc://"+filepath.Join(t.TempDir(), "hmq.sock"))
}

func TestDialRefused(t *testing.T) {
	r, err := reactor.New(0, -1, nil)
	require.NoError(t, err)
	r.Start()
	defer r.Stop()

	// Grab a free port, then release it so nothing listens there.
	addr, _ := transport.Parse("tcp://127.0.0.1:0")
	l, err := transport.Listen(addr, nil)
	require.NoError(t, err)
	target := l.Addr()
	require.NoError(t, l.Close())

	res := make(chan error, 1)
	r.Post(func() {
		transport.Dial(target, nil, r, func(s transport.Stream, err error) { res <- err })
	})
	select {
	case err := <-res:
		assert.ErrorIs(t, err, api.ErrConnectionFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not report")
	}
}
