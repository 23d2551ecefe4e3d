// File: internal/cli/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/devices"
)

// ProxyOptions holds flags for the proxy command.
type ProxyOptions struct {
	*RootOptions
	Capture string
}

// NewProxyCommand creates the proxy command.
func NewProxyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProxyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "proxy <queue|forwarder|streamer> <frontend> <backend>",
		Short: "Run a forwarding device",
		Long: `Bind a frontend and a backend and forward messages between them until
interrupted.

  queue      ROUTER frontend, DEALER backend (request/reply brokers)
  forwarder  SUB frontend, PUB backend (pub/sub fan-out)
  streamer   PULL frontend, PUSH backend (pipelines)

Example:
  hmq proxy queue tcp://*:5559 tcp://*:5560
  hmq proxy forwarder --capture ipc:///tmp/tap.sock tcp://*:5557 tcp://*:5558`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Capture, "capture", "", "bind a PUB socket here that receives a copy of all traffic")

	return cmd
}

func runProxy(cmd *cobra.Command, opts *ProxyOptions, args []string) error {
	kind, err := devices.ParseKind(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid device", err)
	}
	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	err = devices.Run(e.ctx, e.mctx, devices.Config{
		Kind:     kind,
		Frontend: args[1],
		Backend:  args[2],
		Capture:  opts.Capture,
	})
	if err != nil {
		return interrupted(err, "device failed")
	}
	e.logger.Info("device stopped", "device", kind.String())
	return nil
}
