// File: internal/cli/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"github.com/spf13/cobra"
)

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	Probes bool
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the context configuration as YAML after applying --config and
the command line overrides. The output is a valid --config file.

With --probes a context is started and its debug probes are dumped
instead.

Example:
  hmq config > hmq.yaml
  hmq --config hmq.yaml --io-threads 4 config --probes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Probes, "probes", false, "dump debug probes of a fresh context")

	return cmd
}

func runConfig(cmd *cobra.Command, opts *ConfigOptions) error {
	if !opts.Probes {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to render config", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	e, err := newEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.Close()
	if opts.Format == "json" {
		return e.out.Success(e.mctx.Probes().DumpState())
	}
	data, err := e.mctx.Probes().DumpYAML()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render probes", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
