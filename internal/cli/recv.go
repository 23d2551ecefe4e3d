// File: internal/cli/recv.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// RecvOptions holds flags for the recv command.
type RecvOptions struct {
	*RootOptions
	endpointFlags
	Count     int
	Timeout   time.Duration
	Subscribe []string
	Msgpack   bool
	Reply     string
}

// NewRecvCommand creates the recv command.
func NewRecvCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecvOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recv <endpoint>",
		Short: "Receive and print messages",
		Long: `Receive messages and print one per line, frames separated by tabs.
Binary frames such as ROUTER identities are printed as 0x-prefixed hex.

A REP socket answers every request with --reply.

Example:
  hmq recv --bind tcp://*:5555
  hmq recv --type sub --subscribe news. tcp://127.0.0.1:5556
  hmq recv --type rep --reply ok --count 1 ipc:///tmp/rpc.sock`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecv(cmd, opts, args[0])
		},
	}

	opts.register(cmd, "PULL")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after this many messages (0 = until interrupted)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "fail when no message arrives within this time")
	cmd.Flags().StringSliceVarP(&opts.Subscribe, "subscribe", "s", []string{""}, "SUB topic prefixes")
	cmd.Flags().BoolVar(&opts.Msgpack, "msgpack", false, "decode the last frame as a msgpack value")
	cmd.Flags().StringVar(&opts.Reply, "reply", "ok", "reply sent by a REP socket")

	return cmd
}

func runRecv(cmd *cobra.Command, opts *RecvOptions, ep string) error {
	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.open(opts.endpointFlags, ep)
	if err != nil {
		return err
	}
	if !s.Type().CanRecv() {
		return WrapExitError(ExitCommandError, "socket type "+s.Type().String()+" cannot receive", nil)
	}
	if s.Type() == api.SUB {
		for _, topic := range opts.Subscribe {
			if err := s.Subscribe([]byte(topic)); err != nil {
				return commandError("subscribe failed", err)
			}
		}
	}

	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		parts, err := recvOne(e.ctx, s, opts.Timeout)
		if errors.Is(err, context.DeadlineExceeded) {
			return WrapExitError(ExitFailure, "receive timed out", err)
		}
		if err != nil {
			return interrupted(err, "receive failed")
		}
		if err := printMessage(e.out, parts, opts.Msgpack); err != nil {
			return err
		}
		if s.Type() == api.REP {
			if err := <-s.SendAsync(e.ctx, [][]byte{[]byte(opts.Reply)}); err != nil {
				return interrupted(err, "reply failed")
			}
		}
	}
	return nil
}

func recvOne(ctx context.Context, s *mq.Socket, timeout time.Duration) ([][]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res := <-s.RecvAsync(ctx)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Message.Parts(), nil
}

// printMessage prints parts, or with packed the envelope frames followed
// by the msgpack value carried in the last frame.
func printMessage(out *OutputFormatter, parts [][]byte, packed bool) error {
	if !packed {
		return out.Message(parts)
	}
	var v any
	if err := msgpack.Unmarshal(parts[len(parts)-1], &v); err != nil {
		return out.Error(api.Wrap(api.KindProtocol, "decode msgpack", err))
	}
	if out.Format == "json" {
		envelope := make([]string, len(parts)-1)
		for i, p := range parts[:len(parts)-1] {
			envelope[i] = printable(p)
		}
		return out.Success(map[string]any{"envelope": envelope, "value": v})
	}
	frames := append([][]byte{}, parts[:len(parts)-1]...)
	frames = append(frames, []byte(fmt.Sprint(v)))
	return out.Message(frames)
}
