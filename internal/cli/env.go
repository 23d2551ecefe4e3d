// File: internal/cli/env.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-command runtime: configuration, logging, the messaging context and
// signal handling.

package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/mq"
)

// reloadInterval is how often --config is checked for changes.
const reloadInterval = time.Second

type env struct {
	opts   *RootOptions
	mctx   *mq.Context
	logger *slog.Logger
	out    *OutputFormatter
	ctx    context.Context
	stop   context.CancelFunc
}

// loadConfig applies --config, --verbose and --io-threads over the
// defaults.
func loadConfig(opts *RootOptions) (control.Config, error) {
	cfg := control.DefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = control.LoadConfig(opts.ConfigPath); err != nil {
			return control.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if opts.IOThreads > 0 {
		cfg.IOThreads = opts.IOThreads
	}
	return cfg, nil
}

// newEnv builds the runtime for cmd. The returned env must be closed.
func newEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	mctx, err := mq.NewContextFromConfig(cfg, mq.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create context", err)
	}
	mctx.ConfigStore().OnReload(func(c control.Config) {
		if !opts.Verbose {
			level.Set(c.Level())
		}
	})

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if opts.ConfigPath != "" {
		go control.WatchFile(ctx, opts.ConfigPath, reloadInterval, mctx.ConfigStore(), logger)
	}

	return &env{
		opts:   opts,
		mctx:   mctx,
		logger: logger.With("component", "cli"),
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
		ctx:  ctx,
		stop: stop,
	}, nil
}

// Close flushes for --linger and terminates the context.
func (e *env) Close() {
	e.stop()
	if err := e.mctx.Term(e.opts.Linger); err != nil {
		e.logger.Warn("context termination failed", "err", err)
	}
}

// endpointFlags are shared by commands that open a single socket.
type endpointFlags struct {
	Type     string
	Bind     bool
	Identity string
}

func (f *endpointFlags) register(cmd *cobra.Command, defType string) {
	cmd.Flags().StringVarP(&f.Type, "type", "t", defType, "socket type (PAIR, PUB, SUB, REQ, REP, DEALER, ROUTER, PUSH, PULL)")
	cmd.Flags().BoolVarP(&f.Bind, "bind", "b", false, "bind the endpoint instead of connecting")
	cmd.Flags().StringVar(&f.Identity, "identity", "", "routing identity announced to peers")
}

// socket creates a socket configured per f.
func (e *env) socket(f endpointFlags) (*mq.Socket, error) {
	t, err := api.ParseSocketType(f.Type)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid socket type", err)
	}
	s, err := e.mctx.Socket(t)
	if err != nil {
		return nil, commandError("failed to create socket", err)
	}
	if f.Identity != "" {
		if err := s.SetBytes(api.OptIdentity, []byte(f.Identity)); err != nil {
			return nil, commandError("invalid identity", err)
		}
	}
	return s, nil
}

// attach binds or connects s to ep.
func (e *env) attach(s *mq.Socket, f endpointFlags, ep string) error {
	var err error
	if f.Bind {
		err = s.Bind(ep)
	} else {
		err = s.Connect(ep)
	}
	if err != nil {
		return commandError("failed to attach "+ep, err)
	}
	e.logger.Debug("socket ready", "type", s.Type().String(), "endpoint", ep, "bind", f.Bind)
	return nil
}

// open creates a socket per f and binds or connects it to ep.
func (e *env) open(f endpointFlags, ep string) (*mq.Socket, error) {
	s, err := e.socket(f)
	if err != nil {
		return nil, err
	}
	return s, e.attach(s, f, ep)
}
