// File: internal/session/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import (
	"log/slog"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

// Acceptor runs an inbound session for every accepted stream of a bound
// endpoint. Accepted sessions are never redialed.
type Acceptor struct {
	r        *reactor.Reactor
	l        transport.Listener
	cfg      Config
	owner    Owner
	logger   *slog.Logger
	sessions map[uint64]*Session
	closed   bool
}

// NewAcceptor wraps a bound listener.
func NewAcceptor(r *reactor.Reactor, l transport.Listener, cfg Config, owner Owner) *Acceptor {
	cfg = cfg.withDefaults()
	return &Acceptor{
		r:        r,
		l:        l,
		cfg:      cfg,
		owner:    owner,
		logger:   cfg.Logger.With("component", "session", "endpoint", l.Addr().String()),
		sessions: make(map[uint64]*Session),
	}
}

// Endpoint returns the bound address with the port resolved.
func (a *Acceptor) Endpoint() string { return a.l.Addr().String() }

// Start begins accepting. Reactor goroutine only.
func (a *Acceptor) Start() error {
	return a.l.Attach(a.r, a.onAccept, a.onError)
}

func (a *Acceptor) emit(ev api.Event, value uint32) {
	if a.cfg.Events != nil {
		a.cfg.Events.Emit(api.MonitorEvent{Event: ev, Value: value, Endpoint: a.Endpoint()})
	}
}

func (a *Acceptor) onAccept(st transport.Stream) {
	if a.closed {
		_ = st.Close()
		return
	}
	a.emit(api.EventAccepted, 0)
	s := New(a.r, st, a.Endpoint(), false, a.cfg, a.owner)
	s.onClose = func(s *Session, _ error) { delete(a.sessions, s.ID()) }
	a.sessions[s.ID()] = s
	s.Start()
}

func (a *Acceptor) onError(err error) {
	a.logger.Warn("accept failed", "err", err)
	a.emit(api.EventAcceptFailed, uint32(api.KindOf(err)))
}

// Sessions returns the number of live inbound sessions.
func (a *Acceptor) Sessions() int { return len(a.sessions) }

// Drained reports whether every session flushed its output.
func (a *Acceptor) Drained() bool {
	for _, s := range a.sessions {
		if !s.Drained() {
			return false
		}
	}
	return true
}

// Close stops listening and closes every session.
func (a *Acceptor) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if err := a.l.Close(); err != nil {
		a.emit(api.EventCloseFailed, uint32(api.KindOf(err)))
	} else {
		a.emit(api.EventClosed, 0)
	}
	for _, s := range a.sessions {
		s.Close()
	}
	a.sessions = map[uint64]*Session{}
}
