package control_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := control.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, control.DefaultConfig(), cfg)
	assert.Equal(t, 1000, cfg.SndHWM)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := control.ParseConfig([]byte(`
io_threads: 2
pin_cpus: [0, 1]
sndhwm: 10
rcvhwm: 20
linger: 250ms
reconnect_ivl: 50ms
reconnect_ivl_max: 2s
max_msg_size: 1048576
log_level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.IOThreads)
	assert.Equal(t, []int{0, 1}, cfg.PinCPUs)
	assert.Equal(t, 10, cfg.SndHWM)
	assert.Equal(t, 20, cfg.RcvHWM)
	assert.Equal(t, 250*time.Millisecond, cfg.Linger)
	assert.Equal(t, 2*time.Second, cfg.ReconnectIvlMax)
	assert.Equal(t, int64(1<<20), cfg.MaxMsgSize)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseConfigRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":   "sndhwn: 10\n",
		"negative hwm":  "sndhwm: -1\n",
		"inverted ivl":  "reconnect_ivl: 2s\nreconnect_ivl_max: 1s\n",
		"tiny buffer":   "read_buffer: 16\n",
		"bad log level": "log_level: chatty\n",
	} {
		_, err := control.ParseConfig([]byte(doc))
		require.Error(t, err, name)
		assert.ErrorIs(t, err, api.ErrInvalidArgument, name)
	}
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	in := control.DefaultConfig()
	in.IOThreads = 3
	data, err := in.Marshal()
	require.NoError(t, err)
	out, err := control.ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestConfigStoreReload(t *testing.T) {
	store := control.NewConfigStore(control.DefaultConfig())
	got := make(chan control.Config, 1)
	store.OnReload(func(c control.Config) { got <- c })

	bad := control.DefaultConfig()
	bad.SndHWM = -5
	assert.Error(t, store.Set(bad))

	next := control.DefaultConfig()
	next.SndHWM = 5
	require.NoError(t, store.Set(next))
	assert.Equal(t, 5, (<-got).SndHWM)
	assert.Equal(t, 5, store.Get().SndHWM)
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hmq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sndhwm: 1\n"), 0o644))
	store := control.NewConfigStore(control.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.WatchFile(ctx, path, 5*time.Millisecond, store, nil)

	// Make sure the new mtime is strictly later than the first one.
	later := time.Now().Add(time.Second)
	require.NoError(t, os.WriteFile(path, []byte("sndhwm: 7\n"), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))

	require.Eventually(t, func() bool { return store.Get().SndHWM == 7 }, 2*time.Second, 5*time.Millisecond)
}

func TestMetricsAndProbes(t *testing.T) {
	mr := control.NewMetricsRegistry()
	c := mr.Counter(control.MetricMessagesSent)
	c.Add(3)
	assert.Same(t, c, mr.Counter(control.MetricMessagesSent))
	mr.Set("reactors", 2)
	snap := mr.GetSnapshot()
	assert.Equal(t, int64(3), snap[control.MetricMessagesSent])
	assert.Equal(t, 2, snap["reactors"])

	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("socket.1", func() any { return "ok" })
	assert.Contains(t, dp.Names(), "platform.cpus")
	assert.Equal(t, "ok", dp.DumpState()["socket.1"])
	dp.UnregisterProbe("socket.1")
	assert.NotContains(t, dp.Names(), "socket.1")
	out, err := dp.DumpYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "platform.cpus")
}
