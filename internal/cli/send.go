// File: internal/cli/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	endpointFlags
	Count    int
	Interval time.Duration
	Delay    time.Duration
	Msgpack  bool
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <endpoint> [frame...]",
		Short: "Send messages to an endpoint",
		Long: `Send one multipart message built from the frame arguments, or one
single-frame message per stdin line when no frames are given.

A REQ socket waits for and prints the reply to every request.

Example:
  hmq send tcp://127.0.0.1:5555 hello world
  hmq send --type pub --bind --delay 200ms tcp://*:5556 news.flash
  tail -f app.log | hmq send --type push ipc:///tmp/logs.sock`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, args[0], args[1:])
		},
	}

	opts.register(cmd, "PUSH")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "times to send the frame arguments")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "pause between messages")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "wait before the first message so peers can join")
	cmd.Flags().BoolVar(&opts.Msgpack, "msgpack", false, "send the frames as one msgpack-encoded string array")

	return cmd
}

func runSend(cmd *cobra.Command, opts *SendOptions, ep string, frames []string) error {
	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.open(opts.endpointFlags, ep)
	if err != nil {
		return err
	}
	if !s.Type().CanSend() {
		return WrapExitError(ExitCommandError, "socket type "+s.Type().String()+" cannot send", nil)
	}
	if err := sleepCtx(e.ctx, opts.Delay); err != nil {
		return nil
	}

	sent := 0
	send := func(parts []string) error {
		if sent > 0 {
			if err := sleepCtx(e.ctx, opts.Interval); err != nil {
				return err
			}
		}
		if err := sendParts(e.ctx, s, parts, opts.Msgpack); err != nil {
			return err
		}
		sent++
		if s.Type() == api.REQ {
			return printReply(e, s)
		}
		return nil
	}

	if len(frames) > 0 {
		for i := 0; i < opts.Count; i++ {
			if err := send(frames); err != nil {
				return interrupted(err, "send failed")
			}
		}
	} else {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if err := send([]string{sc.Text()}); err != nil {
				return interrupted(err, "send failed")
			}
		}
		if err := sc.Err(); err != nil {
			return WrapExitError(ExitFailure, "failed to read stdin", err)
		}
	}
	e.out.VerboseLog("sent %d messages to %s", sent, ep)
	if opts.Format == "json" {
		return e.out.Success(map[string]any{"sent": sent, "endpoint": ep})
	}
	return nil
}

// sendParts sends parts as one message, honouring ctx while the send
// queue is full.
func sendParts(ctx context.Context, s *mq.Socket, parts []string, packed bool) error {
	if packed {
		data, err := msgpack.Marshal(parts)
		if err != nil {
			return err
		}
		return <-s.SendAsync(ctx, [][]byte{data})
	}
	raw := make([][]byte, len(parts))
	for i, p := range parts {
		raw[i] = []byte(p)
	}
	return <-s.SendAsync(ctx, raw)
}

func printReply(e *env, s *mq.Socket) error {
	res := <-s.RecvAsync(e.ctx)
	if res.Err != nil {
		return res.Err
	}
	return e.out.Message(res.Message.Parts())
}

// interrupted turns cancellation by a signal into a clean exit.
func interrupted(err error, message string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return commandError(message, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
