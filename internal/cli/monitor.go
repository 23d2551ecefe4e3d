// File: internal/cli/monitor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/mq"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	endpointFlags
	Events []string
	Count  int
}

// EventRecord is one printed monitor event.
type EventRecord struct {
	Event    string `json:"event"`
	Value    uint32 `json:"value"`
	Endpoint string `json:"endpoint"`
}

func (r EventRecord) String() string {
	return fmt.Sprintf("%-16s %-6d %s", r.Event, r.Value, r.Endpoint)
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor <endpoint>",
		Short: "Print connection events of a socket",
		Long: `Open a socket on the endpoint and print its connection lifecycle
events: listening, accepted, connected, retries, disconnects and
handshake failures.

Example:
  hmq monitor --type dealer tcp://127.0.0.1:5555
  hmq monitor --bind --events accepted,disconnected tcp://*:5555`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, opts, args[0])
		},
	}

	opts.register(cmd, "DEALER")
	cmd.Flags().StringSliceVar(&opts.Events, "events", []string{"all"}, "event names to report")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after this many events (0 = until interrupted)")

	return cmd
}

func runMonitor(cmd *cobra.Command, opts *MonitorOptions, ep string) error {
	var mask api.Event
	for _, name := range opts.Events {
		ev, err := api.ParseEvent(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid event", err)
		}
		mask |= ev
	}

	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.socket(opts.endpointFlags)
	if err != nil {
		return err
	}
	// The monitor must be attached before the endpoint so LISTENING and
	// the first CONNECT_DELAYED are reported.
	monEP := fmt.Sprintf("inproc://hmq.monitor.%d", s.ID())
	if err := s.Monitor(monEP, mask); err != nil {
		return commandError("failed to start monitor", err)
	}
	watch, err := e.mctx.Socket(api.PAIR)
	if err != nil {
		return commandError("failed to create monitor reader", err)
	}
	if err := watch.Connect(monEP); err != nil {
		return commandError("failed to connect monitor reader", err)
	}
	if err := e.attach(s, opts.endpointFlags, ep); err != nil {
		return err
	}

	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		res := <-watch.RecvAsync(e.ctx)
		if res.Err != nil {
			return interrupted(res.Err, "monitor failed")
		}
		ev, err := mq.ParseMonitorMessage(res.Message.Parts())
		if err != nil {
			return commandError("bad monitor message", err)
		}
		if err := e.out.Success(EventRecord{Event: ev.Event.String(), Value: ev.Value, Endpoint: ev.Endpoint}); err != nil {
			return err
		}
	}
	return nil
}
