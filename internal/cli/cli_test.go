package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
)

const wait = 10 * time.Second

type run struct {
	out  *bytes.Buffer
	done chan error
}

// start executes hmq with args in the background.
func start(ctx context.Context, args ...string) *run {
	r := &run{out: &bytes.Buffer{}, done: make(chan error, 1)}
	cmd := NewRootCommand()
	cmd.SetOut(r.out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	go func() { r.done <- cmd.ExecuteContext(ctx) }()
	return r
}

func (r *run) wait(t *testing.T) (string, error) {
	t.Helper()
	select {
	case err := <-r.done:
		return r.out.String(), err
	case <-time.After(wait):
		t.Fatal("command did not finish")
		return "", nil
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return start(context.Background(), args...).wait(t)
}

func ipcEndpoint(t *testing.T, name string) string {
	return "ipc://" + filepath.Join(t.TempDir(), name)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "hmq", cmd.Use)
	for _, name := range []string{"send", "recv", "proxy", "bench", "monitor", "config"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for name, def := range map[string]string{
		"verbose": "false", "format": "text", "config": "", "io-threads": "0", "linger": "1s",
	} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigDump(t *testing.T) {
	out, err := execute(t, "--io-threads", "3", "-v", "config")
	require.NoError(t, err)
	cfg, err := control.ParseConfig([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.IOThreads)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, control.DefaultHWM, cfg.SndHWM)
}

func TestConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hmq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sndhwm: 7\nlog_level: warn\n"), 0o644))
	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "sndhwm: 7")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigProbes(t *testing.T) {
	out, err := execute(t, "--format", "json", "--io-threads", "1", "config", "--probes")
	require.NoError(t, err)
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Data, "context.sockets")
}

func TestSendRecv(t *testing.T) {
	ep := ipcEndpoint(t, "pipe.sock")
	recv := start(context.Background(), "--io-threads", "1", "recv", "--bind", "--count", "2", "--timeout", "5s", ep)
	_, err := execute(t, "--io-threads", "1", "send", "--count", "2", ep, "hello", "world")
	require.NoError(t, err)

	out, err := recv.wait(t)
	require.NoError(t, err)
	assert.Equal(t, "hello\tworld\nhello\tworld\n", out)
}

func TestSendStdin(t *testing.T) {
	ep := ipcEndpoint(t, "lines.sock")
	recv := start(context.Background(), "--io-threads", "1", "recv", "--bind", "--count", "2", "--timeout", "5s", ep)

	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader("first\nsecond\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--io-threads", "1", "send", ep})
	require.NoError(t, cmd.Execute())

	out, err := recv.wait(t)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", out)
}

func TestSendRecvMsgpack(t *testing.T) {
	ep := ipcEndpoint(t, "packed.sock")
	recv := start(context.Background(), "--format", "json", "--io-threads", "1",
		"recv", "--bind", "--count", "1", "--timeout", "5s", "--msgpack", ep)
	_, err := execute(t, "--io-threads", "1", "send", "--msgpack", ep, "a", "b")
	require.NoError(t, err)

	out, err := recv.wait(t)
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Envelope []string `json:"envelope"`
			Value    []string `json:"value"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Envelope)
	assert.Equal(t, []string{"a", "b"}, resp.Data.Value)
}

func TestRequestReply(t *testing.T) {
	ep := ipcEndpoint(t, "rpc.sock")
	server := start(context.Background(), "--io-threads", "1",
		"recv", "--type", "rep", "--bind", "--reply", "pong", "--count", "1", "--timeout", "5s", ep)
	out, err := execute(t, "--io-threads", "1", "send", "--type", "req", ep, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", out)

	out, err = server.wait(t)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", out)
}

func TestRecvTimeout(t *testing.T) {
	_, err := execute(t, "--io-threads", "1", "recv", "--bind", "--timeout", "50ms", ipcEndpoint(t, "idle.sock"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRecvInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recv := start(ctx, "--io-threads", "1", "recv", "--bind", ipcEndpoint(t, "quiet.sock"))
	time.Sleep(50 * time.Millisecond)
	cancel()
	_, err := recv.wait(t)
	assert.NoError(t, err)
}

func TestWrongDirection(t *testing.T) {
	_, err := execute(t, "--io-threads", "1", "send", "--type", "pull", ipcEndpoint(t, "x.sock"), "data")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--io-threads", "1", "recv", "--type", "bogus", ipcEndpoint(t, "y.sock"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestProxyStreamer(t *testing.T) {
	in, out := ipcEndpoint(t, "in.sock"), ipcEndpoint(t, "out.sock")
	ctx, cancel := context.WithCancel(context.Background())
	proxy := start(ctx, "--io-threads", "1", "proxy", "streamer", in, out)

	recv := start(context.Background(), "--io-threads", "1", "recv", "--count", "1", "--timeout", "5s", out)
	_, err := execute(t, "--io-threads", "1", "send", in, "through")
	require.NoError(t, err)
	got, err := recv.wait(t)
	require.NoError(t, err)
	assert.Equal(t, "through\n", got)

	cancel()
	_, err = proxy.wait(t)
	assert.NoError(t, err)
}

func TestProxyBadKind(t *testing.T) {
	_, err := execute(t, "proxy", "broker", "inproc://a", "inproc://b")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestBench(t *testing.T) {
	for _, args := range [][]string{
		{"bench", "--count", "200", "--size", "16"},
		{"bench", "--latency", "--count", "20", "--endpoint", "tcp://127.0.0.1:0"},
	} {
		out, err := execute(t, append([]string{"--format", "json", "--io-threads", "1"}, args...)...)
		require.NoError(t, err)
		var resp struct {
			Data BenchResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Positive(t, resp.Data.Messages)
		assert.Positive(t, resp.Data.MsgPerSec)
	}
}

func TestBenchRejectsCount(t *testing.T) {
	_, err := execute(t, "bench", "--count", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMonitor(t *testing.T) {
	out, err := execute(t, "--io-threads", "1",
		"monitor", "--bind", "--events", "listening", "--count", "1", ipcEndpoint(t, "mon.sock"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "LISTENING"), out)

	_, err = execute(t, "monitor", "--events", "exploded", "inproc://x")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOutputFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Message([][]byte{{0x00, 0x01}, []byte("body")}))
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Frames []string `json:"frames"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"0x0001", "body"}, resp.Data.Frames)

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Error(errors.New("boom")))
	assert.Equal(t, "error: boom\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(commandError("x", api.ErrInvalidArgument)))
	assert.Equal(t, ExitFailure, GetExitCode(commandError("x", api.ErrConnectionFailed)))
}
