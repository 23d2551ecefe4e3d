package devices_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/devices"
	"github.com/momentics/hioload-mq/mq"
)

const wait = 2 * time.Second

func newContext(t *testing.T) *mq.Context {
	t.Helper()
	ctx, err := mq.NewContext(mq.WithIOThreads(1), mq.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Term(0) })
	return ctx
}

func socket(t *testing.T, ctx *mq.Context, typ api.SocketType) *mq.Socket {
	t.Helper()
	s, err := ctx.Socket(typ)
	require.NoError(t, err)
	require.NoError(t, s.SetDuration(api.OptRcvTimeout, wait))
	require.NoError(t, s.SetDuration(api.OptSndTimeout, wait))
	return s
}

// runAsync starts fn and returns a channel carrying its result.
func runAsync(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(wait):
		t.Fatal("device did not stop")
		return nil
	}
}

func TestProxyRequestReply(t *testing.T) {
	ctx := newContext(t)
	front := socket(t, ctx, api.ROUTER)
	back := socket(t, ctx, api.DEALER)
	require.NoError(t, front.Bind("inproc://front"))
	require.NoError(t, back.Bind("inproc://back"))

	worker := socket(t, ctx, api.REP)
	require.NoError(t, worker.Connect("inproc://back"))
	client := socket(t, ctx, api.REQ)
	require.NoError(t, client.Connect("inproc://front"))

	pctx, cancel := context.WithCancel(context.Background())
	done := runAsync(func() error { return devices.Proxy(pctx, front, back, nil) })

	for i := 0; i < 3; i++ {
		require.NoError(t, client.SendString("ping", 0))
		got, err := worker.RecvString(0)
		require.NoError(t, err)
		assert.Equal(t, "ping", got)
		require.NoError(t, worker.SendString("pong", 0))
		got, err = client.RecvString(0)
		require.NoError(t, err)
		assert.Equal(t, "pong", got)
	}

	cancel()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
}

func TestProxyCapture(t *testing.T) {
	ctx := newContext(t)
	front := socket(t, ctx, api.PULL)
	back := socket(t, ctx, api.PUSH)
	capture := socket(t, ctx, api.PUSH)
	require.NoError(t, front.Bind("inproc://in"))
	require.NoError(t, back.Bind("inproc://out"))
	require.NoError(t, capture.Bind("inproc://capture"))

	producer := socket(t, ctx, api.PUSH)
	require.NoError(t, producer.Connect("inproc://in"))
	consumer := socket(t, ctx, api.PULL)
	require.NoError(t, consumer.Connect("inproc://out"))
	tap := socket(t, ctx, api.PULL)
	require.NoError(t, tap.Connect("inproc://capture"))

	pctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(func() error { return devices.Proxy(pctx, front, back, capture) })

	require.NoError(t, producer.SendString("task", 0))
	got, err := consumer.RecvString(0)
	require.NoError(t, err)
	assert.Equal(t, "task", got)
	got, err = tap.RecvString(0)
	require.NoError(t, err)
	assert.Equal(t, "task", got)

	cancel()
	waitResult(t, done)
}

func TestProxySteerable(t *testing.T) {
	ctx := newContext(t)
	front := socket(t, ctx, api.PULL)
	back := socket(t, ctx, api.PUSH)
	control := socket(t, ctx, api.REP)
	require.NoError(t, front.Bind("inproc://in"))
	require.NoError(t, back.Bind("inproc://out"))
	require.NoError(t, control.Bind("inproc://control"))

	producer := socket(t, ctx, api.PUSH)
	require.NoError(t, producer.Connect("inproc://in"))
	consumer := socket(t, ctx, api.PULL)
	require.NoError(t, consumer.Connect("inproc://out"))
	steer := socket(t, ctx, api.REQ)
	require.NoError(t, steer.Connect("inproc://control"))

	done := runAsync(func() error {
		return devices.ProxySteerable(context.Background(), front, back, nil, control)
	})
	command := func(cmd []byte) string {
		require.NoError(t, steer.Send([][]byte{cmd}, 0))
		reply, err := steer.RecvString(0)
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, "OK", command(devices.CmdPause))
	require.NoError(t, producer.SendString("held", 0))
	require.NoError(t, consumer.SetDuration(api.OptRcvTimeout, 50*time.Millisecond))
	_, err := consumer.Recv(0)
	assert.ErrorIs(t, err, api.ErrWouldBlock)

	assert.Equal(t, "OK", command(devices.CmdResume))
	require.NoError(t, consumer.SetDuration(api.OptRcvTimeout, wait))
	got, err := consumer.RecvString(0)
	require.NoError(t, err)
	assert.Equal(t, "held", got)

	require.NoError(t, steer.Send([][]byte{devices.CmdStatistics}, 0))
	var stats devices.Stats
	require.NoError(t, steer.RecvValue(&stats, 0))
	assert.Equal(t, uint64(1), stats.FrontendIn)
	assert.Equal(t, uint64(len("held")), stats.FrontendBytes)

	assert.Equal(t, "ERROR", command([]byte("DANCE")))
	assert.Equal(t, "OK", command(devices.CmdTerminate))
	assert.NoError(t, waitResult(t, done))
}

func TestRunStreamer(t *testing.T) {
	ctx := newContext(t)
	rctx, cancel := context.WithCancel(context.Background())
	done := runAsync(func() error {
		return devices.Run(rctx, ctx, devices.Config{
			Kind:     devices.Streamer,
			Frontend: "inproc://stream.in",
			Backend:  "inproc://stream.out",
		})
	})

	producer := socket(t, ctx, api.PUSH)
	require.NoError(t, producer.Connect("inproc://stream.in"))
	consumer := socket(t, ctx, api.PULL)
	require.NoError(t, consumer.Connect("inproc://stream.out"))

	for i := 0; i < 5; i++ {
		require.NoError(t, producer.SendString("item", 0))
	}
	for i := 0; i < 5; i++ {
		got, err := consumer.RecvString(0)
		require.NoError(t, err)
		assert.Equal(t, "item", got)
	}
	cancel()
	assert.NoError(t, waitResult(t, done))
}

func TestRunForwarder(t *testing.T) {
	ctx := newContext(t)
	rctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(func() error {
		return devices.Run(rctx, ctx, devices.Config{
			Kind:     devices.Forwarder,
			Frontend: "inproc://fwd.in",
			Backend:  "inproc://fwd.out",
		})
	})

	pub := socket(t, ctx, api.PUB)
	require.NoError(t, pub.Connect("inproc://fwd.in"))
	sub := socket(t, ctx, api.SUB)
	require.NoError(t, sub.Connect("inproc://fwd.out"))
	require.NoError(t, sub.Subscribe([]byte("news")))
	require.NoError(t, sub.SetDuration(api.OptRcvTimeout, 10*time.Millisecond))

	require.Eventually(t, func() bool {
		if err := pub.SendString("news.flash", 0); err != nil {
			return false
		}
		got, err := sub.RecvString(0)
		return err == nil && got == "news.flash"
	}, wait, 20*time.Millisecond)

	cancel()
	assert.NoError(t, waitResult(t, done))
}

func TestRunBindFailure(t *testing.T) {
	ctx := newContext(t)
	err := devices.Run(context.Background(), ctx, devices.Config{
		Kind:     devices.Queue,
		Frontend: "inproc://same",
		Backend:  "inproc://same",
	})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Equal(t, 0, ctx.Sockets())
}

func TestMonitoredQueue(t *testing.T) {
	ctx := newContext(t)
	in := socket(t, ctx, api.ROUTER)
	out := socket(t, ctx, api.DEALER)
	mon := socket(t, ctx, api.PUSH)
	require.NoError(t, in.Bind("inproc://mq.in"))
	require.NoError(t, out.Bind("inproc://mq.out"))
	require.NoError(t, mon.Bind("inproc://mq.mon"))

	client := socket(t, ctx, api.REQ)
	require.NoError(t, client.Connect("inproc://mq.in"))
	worker := socket(t, ctx, api.REP)
	require.NoError(t, worker.Connect("inproc://mq.out"))
	tap := socket(t, ctx, api.PULL)
	require.NoError(t, tap.Connect("inproc://mq.mon"))

	qctx, cancel := context.WithCancel(context.Background())
	done := runAsync(func() error {
		return devices.MonitoredQueue(qctx, in, out, mon, []byte("in"), []byte("out"))
	})

	require.NoError(t, client.SendString("question", 0))
	got, err := worker.RecvString(0)
	require.NoError(t, err)
	assert.Equal(t, "question", got)
	require.NoError(t, worker.SendString("answer", 0))
	got, err = client.RecvString(0)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)

	for _, want := range []string{"in", "out"} {
		parts, err := tap.Recv(0)
		require.NoError(t, err)
		assert.Equal(t, want, string(parts[0]))
		assert.Equal(t, want == "in", string(parts[len(parts)-1]) == "question")
	}

	cancel()
	err = waitResult(t, done)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseKind(t *testing.T) {
	k, err := devices.ParseKind("Forwarder")
	require.NoError(t, err)
	assert.Equal(t, devices.Forwarder, k)
	front, back := k.SocketTypes()
	assert.Equal(t, api.SUB, front)
	assert.Equal(t, api.PUB, back)
	_, err = devices.ParseKind("router")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
