// File: mq/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context: reactor pool, socket registry, inproc namespace and the
// shutdown coordinator.

package mq

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/pool"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

// ContextOption customizes NewContext.
type ContextOption func(*contextOptions)

type contextOptions struct {
	cfg    *control.Config
	logger *slog.Logger
}

// WithConfig replaces the default configuration.
func WithConfig(cfg control.Config) ContextOption {
	return func(o *contextOptions) { o.cfg = &cfg }
}

// WithLogger routes every log record of the context to logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(o *contextOptions) { o.logger = logger }
}

// WithIOThreads sets the reactor count.
func WithIOThreads(n int) ContextOption {
	return func(o *contextOptions) {
		if o.cfg == nil {
			cfg := control.DefaultConfig()
			o.cfg = &cfg
		}
		o.cfg.IOThreads = n
	}
}

// Context owns the I/O threads shared by its sockets.
type Context struct {
	store    *control.ConfigStore
	level    *slog.LevelVar
	logger   *slog.Logger
	pool     *reactor.Pool
	inproc   *transport.InprocRegistry
	bufs     *pool.BytePool
	metrics  *control.MetricsRegistry
	probes   *control.DebugProbes
	done     chan struct{}
	doneOnce sync.Once

	mu         sync.Mutex
	sockets    map[uint64]*Socket
	nextID     uint64
	terminated bool
	shutdown   atomic.Bool
}

// NewContext creates a context with the default configuration.
func NewContext(opts ...ContextOption) (*Context, error) {
	o := contextOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := control.DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	return newContext(cfg, o.logger)
}

// NewContextFromConfig creates a context from a loaded configuration.
func NewContextFromConfig(cfg control.Config, opts ...ContextOption) (*Context, error) {
	return NewContext(append([]ContextOption{WithConfig(cfg)}, opts...)...)
}

func newContext(cfg control.Config, logger *slog.Logger) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level := new(slog.LevelVar)
	level.Set(cfg.Level())
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	rp, err := reactor.NewPool(reactor.PoolConfig{Size: cfg.IOThreads, PinCPUs: cfg.PinCPUs, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	c := &Context{
		store:   control.NewConfigStore(cfg),
		level:   level,
		logger:  logger.With("component", "context"),
		pool:    rp,
		inproc:  transport.NewInprocRegistry(cfg.InprocBuffer),
		bufs:    pool.NewBytePool(cfg.ReadBuffer, pool.DefaultDepth),
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
		done:    make(chan struct{}),
		sockets: make(map[uint64]*Socket),
	}
	c.store.OnReload(func(cfg control.Config) {
		c.level.Set(cfg.Level())
		c.logger.Info("configuration reloaded", "sndhwm", cfg.SndHWM, "rcvhwm", cfg.RcvHWM)
	})
	control.RegisterPlatformProbes(c.probes)
	c.probes.RegisterProbe("context.sockets", func() any { return c.Sockets() })
	c.probes.RegisterProbe("context.reactors", func() any { return c.pool.Stats() })
	c.probes.RegisterProbe("context.buffers", func() any { return c.bufs.Stats() })
	c.metrics.Set("reactors", rp.Size())
	c.logger.Debug("context created", "io_threads", rp.Size())
	return c, nil
}

var (
	defaultMu  sync.Mutex
	defaultCtx *Context
)

// Default returns the process-wide context, creating it on first use and
// again after it was terminated. Callers still own its lifecycle and
// should Term it before exiting.
func Default() (*Context, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCtx != nil && !defaultCtx.Terminated() {
		return defaultCtx, nil
	}
	c, err := NewContext()
	if err != nil {
		return nil, err
	}
	defaultCtx = c
	return c, nil
}

// Config returns the live configuration snapshot.
func (c *Context) Config() control.Config { return c.store.Get() }

// Reload installs a new configuration. Socket defaults and the log level
// follow it; reactor count and pinning are fixed for the context's life.
func (c *Context) Reload(cfg control.Config) error { return c.store.Set(cfg) }

// ConfigStore exposes the store for file watchers.
func (c *Context) ConfigStore() *control.ConfigStore { return c.store }

// Metrics returns the context's counters.
func (c *Context) Metrics() *control.MetricsRegistry { return c.metrics }

// Probes returns the debug probes of the context and its sockets.
func (c *Context) Probes() *control.DebugProbes { return c.probes }

// Logger is the context's base logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Done is closed once Term or Shutdown started.
func (c *Context) Done() <-chan struct{} { return c.done }

// Terminated reports whether Term was called.
func (c *Context) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Sockets returns the number of open sockets.
func (c *Context) Sockets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sockets)
}

// Socket creates a socket of type t on the next reactor.
func (c *Context) Socket(t api.SocketType) (*Socket, error) {
	if t.String() == "UNKNOWN" {
		return nil, api.Errorf(api.KindInvalidArgument, "socket", "unknown socket type %d", int(t))
	}
	cfg := c.store.Get()
	c.mu.Lock()
	if c.terminated || c.shutdown.Load() {
		c.mu.Unlock()
		return nil, api.NewError(api.KindContextTerminated, "socket", "context terminated")
	}
	if cfg.MaxSockets > 0 && len(c.sockets) >= cfg.MaxSockets {
		c.mu.Unlock()
		return nil, api.Errorf(api.KindInvalidState, "socket", "max_sockets %d reached", cfg.MaxSockets)
	}
	c.nextID++
	id := c.nextID
	s := newSocket(c, id, t, c.pool.Next(), cfg)
	c.sockets[id] = s
	c.mu.Unlock()

	c.metrics.Counter(control.MetricSockets).Add(1)
	c.probes.RegisterProbe(s.probeName(), func() any { return s.Stats() })
	return s, nil
}

func (c *Context) forget(s *Socket) {
	c.mu.Lock()
	_, ok := c.sockets[s.id]
	delete(c.sockets, s.id)
	c.mu.Unlock()
	if ok {
		c.metrics.Counter(control.MetricSockets).Add(-1)
		c.probes.UnregisterProbe(s.probeName())
	}
}

func (c *Context) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Shutdown aborts every blocking call on the context's sockets with
// api.ErrContextTerminated without closing them. Sockets must still be
// closed (or Term called) afterwards.
func (c *Context) Shutdown() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	c.signalDone()
	c.mu.Lock()
	socks := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		socks = append(socks, s)
	}
	c.mu.Unlock()
	for _, s := range socks {
		s.abort()
	}
	c.logger.Debug("context shut down", "sockets", len(socks))
}

// Term stops new sends, closes every socket with the given linger
// (0 drops pending output, api.Infinite waits for it to flush) and stops
// the reactors. It blocks until all of that completed. Sockets closed by
// Term return api.ErrContextTerminated from further calls.
func (c *Context) Term(linger time.Duration) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	socks := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		socks = append(socks, s)
	}
	c.mu.Unlock()
	c.signalDone()

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range socks {
		wg.Add(1)
		go func(s *Socket) {
			defer wg.Done()
			s.shut(linger)
		}(s)
	}
	wg.Wait()
	c.pool.Close()
	c.logger.Debug("context terminated", "sockets", len(socks), "elapsed", time.Since(start))
	return nil
}
