package transport_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

func TestPipePartialWriteAndEOF(t *testing.T) {
	a, b := transport.NewPipe(8, "a", "b")

	n, err := a.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 8, n, "write is capped by pipe capacity")

	_, err = a.Write([]byte("x"))
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	buf := make([]byte, 5)
	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "01234", string(buf[:n]))

	n, err = a.Write([]byte("89"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	buf = make([]byte, 16)
	n, err = b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(buf[:n]))

	_, err = b.Read(buf)
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	require.NoError(t, a.Close())
	_, err = b.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	_, err = b.Write([]byte("late"))
	assert.ErrorIs(t, err, api.ErrConnectionReset)
}

func TestInprocRegistry(t *testing.T) {
	reg := transport.NewInprocRegistry(0)
	addr, err := transport.Parse("inproc://svc")
	require.NoError(t, err)

	_, err = reg.Dial(addr)
	assert.ErrorIs(t, err, api.ErrConnectionFailed)

	l, err := reg.Listen(addr)
	require.NoError(t, err)
	_, err = reg.Listen(addr)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.True(t, reg.Bound("svc"))

	r, err := reactor.New(0, -1, nil)
	require.NoError(t, err)
	r.Start()
	defer r.Stop()

	accepted := make(chan transport.Stream, 1)
	client, err := reg.Dial(addr) // queued in the backlog until Attach
	require.NoError(t, err)
	assert.Equal(t, "inproc://svc#c1", client.LocalAddr())
	assert.Equal(t, "inproc://svc", client.RemoteAddr())
	r.Post(func() {
		_ = l.Attach(r, func(s transport.Stream) { accepted <- s }, nil)
	})

	var server transport.Stream
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("no accept")
	}

	got := make(chan string, 1)
	r.Post(func() {
		_ = server.Attach(r, reactor.EventRead, func(ev reactor.Events) {
			buf := make([]byte, 64)
			n, err := server.Read(buf)
			if err == nil {
				got <- string(buf[:n])
			}
		})
	})
	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, "hello", s)
	case <-time.After(time.Second):
		t.Fatal("no read notification")
	}

	done := make(chan struct{})
	r.Post(func() { _ = l.Close(); close(done) })
	<-done
	assert.False(t, reg.Bound("svc"))
}
