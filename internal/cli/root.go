// File: internal/cli/root.go
// Package cli implements the hmq command line tool: sending, receiving,
// running devices, benchmarking and watching socket events.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	IOThreads  int
	Linger     time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for hmq.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hmq",
		Short: "hmq - hioload message queue tool",
		Long: `Send, receive and route messages over hioload-mq sockets.

Endpoints use the tcp://host:port, ipc:///path and inproc://name forms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and diagnostics")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML context configuration, reloaded on change")
	cmd.PersistentFlags().IntVar(&opts.IOThreads, "io-threads", 0, "reactor count (overrides config)")
	cmd.PersistentFlags().DurationVar(&opts.Linger, "linger", time.Second, "how long to flush pending messages on exit")

	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewRecvCommand(opts))
	cmd.AddCommand(NewProxyCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))
	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}
