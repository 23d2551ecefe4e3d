package mq_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

func TestLogHandlerPublishesByLevel(t *testing.T) {
	ctx := newContext(t)
	h, err := ctx.NewLogPublisher("inproc://logs", &mq.LogHandlerOptions{RootTopic: "hmq", Level: slog.LevelDebug})
	require.NoError(t, err)
	logger := slog.New(h).With("node", "n1")

	sub := newSocket(t, ctx, api.SUB)
	require.NoError(t, sub.Subscribe([]byte("hmq.WARN")))
	require.NoError(t, sub.Connect("inproc://logs"))
	require.NoError(t, sub.SetDuration(api.OptRcvTimeout, 10*time.Millisecond))
	synced := false
	for deadline := time.Now().Add(wait); !synced && time.Now().Before(deadline); {
		logger.Warn("sync")
		_, err := sub.Recv(0)
		synced = err == nil
	}
	require.True(t, synced, "subscriber never saw a WARN record")
	require.NoError(t, sub.SetDuration(api.OptRcvTimeout, wait))

	logger.Info("not for warn subscribers")
	logger.Warn("disk::low space", "free", 3)

	for {
		parts, err := sub.Recv(0)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		if string(parts[0]) == "hmq.WARN" && strings.Contains(string(parts[1]), "msg=sync") {
			continue
		}
		assert.Equal(t, "hmq.WARN.disk", string(parts[0]))
		body := string(parts[1])
		assert.Contains(t, body, "level=WARN")
		assert.Contains(t, body, `msg="low space"`)
		assert.Contains(t, body, "node=n1")
		assert.Contains(t, body, "free=3")
		break
	}
}

func TestLogHandlerLevelAndSocketType(t *testing.T) {
	ctx := newContext(t)
	push := newSocket(t, ctx, api.PUSH)
	_, err := mq.NewLogHandler(push, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	pub := newSocket(t, ctx, api.PUB)
	h, err := mq.NewLogHandler(pub, &mq.LogHandlerOptions{Level: slog.LevelWarn})
	require.NoError(t, err)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	assert.Same(t, pub, h.Socket())
}
