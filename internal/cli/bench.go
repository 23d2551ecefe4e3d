// File: internal/cli/bench.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Endpoint string
	Size     int
	Count    int
	Latency  bool
}

// BenchResult is the outcome of one benchmark run.
type BenchResult struct {
	Mode      string        `json:"mode"`
	Endpoint  string        `json:"endpoint"`
	Messages  int           `json:"messages"`
	Size      int           `json:"size"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	MsgPerSec float64       `json:"msg_per_sec"`
	MBPerSec  float64       `json:"mb_per_sec"`
	// AvgRTT is set in latency mode.
	AvgRTT time.Duration `json:"avg_rtt_ns,omitempty"`
}

func (r BenchResult) String() string {
	s := fmt.Sprintf("%s %s: %d x %dB in %s, %.0f msg/s, %.2f MB/s",
		r.Mode, r.Endpoint, r.Messages, r.Size, r.Elapsed.Round(time.Microsecond), r.MsgPerSec, r.MBPerSec)
	if r.AvgRTT > 0 {
		s += fmt.Sprintf(", avg rtt %s", r.AvgRTT)
	}
	return s
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure throughput or round-trip latency",
		Long: `Run a PUSH/PULL throughput test, or a REQ/REP latency test with
--latency, between two sockets in this process.

Example:
  hmq bench --count 1000000 --size 64
  hmq bench --endpoint tcp://127.0.0.1:0 --latency --count 10000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Endpoint, "endpoint", "e", "inproc://hmq.bench", "endpoint to bind")
	cmd.Flags().IntVarP(&opts.Size, "size", "s", 64, "message size in bytes")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100000, "messages or round trips")
	cmd.Flags().BoolVar(&opts.Latency, "latency", false, "measure REQ/REP round trips instead of throughput")

	return cmd
}

func runBench(cmd *cobra.Command, opts *BenchOptions) error {
	if opts.Count <= 0 || opts.Size < 0 {
		return WrapExitError(ExitCommandError, "count must be positive and size non-negative", nil)
	}
	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	var res BenchResult
	if opts.Latency {
		res, err = benchLatency(e, opts)
	} else {
		res, err = benchThroughput(e, opts)
	}
	if err != nil {
		return interrupted(err, "benchmark failed")
	}
	return e.out.Success(res)
}

// pair binds a socket of type server and connects one of type client to it.
func pair(e *env, ep string, server, client api.SocketType) (*mq.Socket, *mq.Socket, error) {
	srv, err := e.mctx.Socket(server)
	if err != nil {
		return nil, nil, err
	}
	if err := srv.Bind(ep); err != nil {
		return nil, nil, err
	}
	cli, err := e.mctx.Socket(client)
	if err != nil {
		return nil, nil, err
	}
	if err := cli.Connect(srv.LastEndpoint()); err != nil {
		return nil, nil, err
	}
	return srv, cli, nil
}

func benchThroughput(e *env, opts *BenchOptions) (BenchResult, error) {
	pull, push, err := pair(e, opts.Endpoint, api.PULL, api.PUSH)
	if err != nil {
		return BenchResult{}, err
	}
	payload := make([]byte, opts.Size)

	sendErr := make(chan error, 1)
	go func() {
		for i := 0; i < opts.Count; i++ {
			if err := <-push.SendAsync(e.ctx, [][]byte{payload}); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	// Timing starts at the first delivery so connection setup is excluded.
	var start time.Time
	for i := 0; i < opts.Count; i++ {
		res := <-pull.RecvAsync(e.ctx)
		if res.Err != nil {
			return BenchResult{}, res.Err
		}
		if i == 0 {
			start = time.Now()
		}
	}
	elapsed := time.Since(start)
	if err := <-sendErr; err != nil {
		return BenchResult{}, err
	}
	e.logger.Debug("throughput run finished", "stats", pull.Stats())
	return result("throughput", pull.LastEndpoint(), opts, opts.Count-1, elapsed), nil
}

func benchLatency(e *env, opts *BenchOptions) (BenchResult, error) {
	rep, req, err := pair(e, opts.Endpoint, api.REP, api.REQ)
	if err != nil {
		return BenchResult{}, err
	}
	payload := make([]byte, opts.Size)

	echoErr := make(chan error, 1)
	go func() {
		for i := 0; i < opts.Count; i++ {
			res := <-rep.RecvAsync(e.ctx)
			if res.Err != nil {
				echoErr <- res.Err
				return
			}
			if err := <-rep.SendAsync(e.ctx, res.Message.Parts()); err != nil {
				echoErr <- err
				return
			}
		}
		echoErr <- nil
	}()

	start := time.Now()
	for i := 0; i < opts.Count; i++ {
		if err := <-req.SendAsync(e.ctx, [][]byte{payload}); err != nil {
			return BenchResult{}, err
		}
		if res := <-req.RecvAsync(e.ctx); res.Err != nil {
			return BenchResult{}, res.Err
		}
	}
	elapsed := time.Since(start)
	if err := <-echoErr; err != nil {
		return BenchResult{}, err
	}
	r := result("latency", rep.LastEndpoint(), opts, opts.Count, elapsed)
	r.AvgRTT = elapsed / time.Duration(opts.Count)
	return r, nil
}

func result(mode, ep string, opts *BenchOptions, measured int, elapsed time.Duration) BenchResult {
	r := BenchResult{Mode: mode, Endpoint: ep, Messages: opts.Count, Size: opts.Size, Elapsed: elapsed}
	if secs := elapsed.Seconds(); secs > 0 && measured > 0 {
		r.MsgPerSec = float64(measured) / secs
		r.MBPerSec = r.MsgPerSec * float64(opts.Size) / (1 << 20)
	}
	return r
}
