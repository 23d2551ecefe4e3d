// File: internal/session/dialer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound endpoint: dials, runs one session at a time and redials with
// exponential backoff whenever the connect or the session fails.

package session

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

// Dialer keeps one outbound connection alive.
type Dialer struct {
	r        *reactor.Reactor
	addr     transport.Address
	registry *transport.InprocRegistry
	cfg      Config
	owner    Owner
	backoff  *Backoff
	logger   *slog.Logger

	cancel   func()
	timer    *time.Timer
	sess     *Session
	closed   bool
	attempts int
}

// NewDialer prepares a dialer; Start begins connecting.
func NewDialer(r *reactor.Reactor, addr transport.Address, registry *transport.InprocRegistry,
	cfg Config, owner Owner, backoff *Backoff) *Dialer {
	cfg = cfg.withDefaults()
	if backoff == nil {
		backoff = NewBackoff(0, 0)
	}
	return &Dialer{
		r:        r,
		addr:     addr,
		registry: registry,
		cfg:      cfg,
		owner:    owner,
		backoff:  backoff,
		logger:   cfg.Logger.With("component", "session", "endpoint", addr.String()),
	}
}

// Endpoint returns the dialed address.
func (d *Dialer) Endpoint() string { return d.addr.String() }

// Start issues the first connect. Reactor goroutine only.
func (d *Dialer) Start() { d.dial() }

func (d *Dialer) dial() {
	if d.closed {
		return
	}
	cancel := transport.Dial(d.addr, d.registry, d.r, d.onDial)
	if d.sess == nil && d.timer == nil {
		d.cancel = cancel
	}
}

func (d *Dialer) emit(ev api.Event, value uint32) {
	if d.cfg.Events != nil {
		d.cfg.Events.Emit(api.MonitorEvent{Event: ev, Value: value, Endpoint: d.addr.String()})
	}
}

func (d *Dialer) onDial(st transport.Stream, err error) {
	d.cancel = nil
	if d.closed {
		if st != nil {
			_ = st.Close()
		}
		return
	}
	if err != nil {
		d.logger.Debug("connect failed", "err", err, "attempt", d.attempts)
		if d.attempts == 0 {
			d.emit(api.EventConnectDelayed, uint32(api.KindOf(err)))
		}
		d.retry()
		return
	}
	d.backoff.Reset()
	d.attempts = 0
	d.emit(api.EventConnected, 0)
	d.sess = New(d.r, st, d.addr.String(), true, d.cfg, d.owner)
	d.sess.onClose = d.onSessionClosed
	d.sess.Start()
}

func (d *Dialer) retry() {
	delay := d.backoff.Next()
	d.attempts++
	d.emit(api.EventConnectRetried, uint32(delay/time.Millisecond))
	d.timer = d.r.AfterFunc(delay, func() {
		d.timer = nil
		d.dial()
	})
}

func (d *Dialer) onSessionClosed(s *Session, err error) {
	if d.sess == s {
		d.sess = nil
	}
	if d.closed || err == nil {
		return
	}
	d.retry()
}

// Session returns the live session, if connected.
func (d *Dialer) Session() *Session { return d.sess }

// Drained reports whether the current session flushed its output.
func (d *Dialer) Drained() bool { return d.sess == nil || d.sess.Drained() }

// Close stops redialing and closes the session.
func (d *Dialer) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.sess != nil {
		d.sess.Close()
		d.sess = nil
	}
}
