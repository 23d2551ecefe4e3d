// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One transport connection: handshake, read path, write path with
// partial-write resumption, failure handling.

package session

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
	"github.com/momentics/hioload-mq/pool"
	"github.com/momentics/hioload-mq/reactor"
	"github.com/momentics/hioload-mq/transport"
)

// State is the lifecycle position of a connection.
type State int32

const (
	Connecting State = iota
	Handshaking
	Connected
	Disconnecting
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const (
	// writeBatch bounds how many encoded bytes wait in front of the stream.
	writeBatch = 64 * 1024
	// maxReadsPerEvent keeps one busy peer from starving the others.
	maxReadsPerEvent = 16
)

// Owner is the socket side of a session. All callbacks run on the reactor.
type Owner interface {
	// Attach is called once the handshake completed. An error rejects the peer.
	Attach(s *Session) error
	// Receive takes an inbound message. Returning false stalls the
	// session until Resume is called.
	Receive(s *Session, m protocol.Message) bool
	// Ready reports that a full session dropped below its HWM.
	Ready(s *Session)
	// Detach is called when an attached session ends.
	Detach(s *Session, err error)
}

// Config is the per-connection snapshot of socket options.
type Config struct {
	SocketType api.SocketType
	Identity   []byte
	MaxMsgSize int64
	// SndHWM bounds messages waiting to be encoded; 0 is unbounded.
	SndHWM int
	Pool   *pool.BytePool
	Logger *slog.Logger
	Events api.EventSink
}

func (c Config) withDefaults() Config {
	if c.Pool == nil {
		c.Pool = pool.Default()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

var lastID atomic.Uint64

// Stats is a snapshot of one connection.
type Stats struct {
	ID       uint64
	Endpoint string
	Remote   string
	State    State
	Pending  int
	In       uint64
	Out      uint64
}

// Session is one connected peer.
type Session struct {
	id       uint64
	cfg      Config
	r        *reactor.Reactor
	stream   transport.Stream
	owner    Owner
	endpoint string
	outbound bool
	logger   *slog.Logger
	onClose  func(*Session, error)

	state    atomic.Int32
	enc      protocol.Encoder
	dec      *protocol.Decoder
	asm      protocol.Assembler
	out      *queue.Queue
	greeted  bool
	attached bool
	peerType api.SocketType
	peerID   []byte
	stash    *protocol.Message
	paused   bool
	wasFull  bool
	interest reactor.Events

	pending atomic.Int64
	in      atomic.Uint64
	sent    atomic.Uint64
}

// New wraps a connected stream. Call Start on the reactor goroutine.
func New(r *reactor.Reactor, stream transport.Stream, endpoint string, outbound bool, cfg Config, owner Owner) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:       lastID.Add(1),
		cfg:      cfg,
		r:        r,
		stream:   stream,
		owner:    owner,
		endpoint: endpoint,
		outbound: outbound,
		dec:      protocol.NewDecoder(cfg.MaxMsgSize),
		out:      queue.New(),
	}
	s.logger = cfg.Logger.With("component", "session", "session", s.id, "endpoint", endpoint)
	s.state.Store(int32(Connecting))
	return s
}

// ID is unique per process and doubles as the pipe id of routed messages.
func (s *Session) ID() uint64 { return s.id }

// Identity is the identity the peer announced, if any.
func (s *Session) Identity() []byte { return s.peerID }

// PeerType is the socket type announced in READY.
func (s *Session) PeerType() api.SocketType { return s.peerType }

// Endpoint is the local bind or connect endpoint the session belongs to.
func (s *Session) Endpoint() string { return s.endpoint }

// Outbound reports whether the session was dialed.
func (s *Session) Outbound() bool { return s.outbound }

// State is safe to call from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("state change", "from", prev, "to", st)
	}
}

func (s *Session) active() bool {
	st := s.State()
	return st == Handshaking || st == Connected || st == Disconnecting
}

func (s *Session) emit(ev api.Event, value uint32) {
	if s.cfg.Events != nil {
		s.cfg.Events.Emit(api.MonitorEvent{Event: ev, Value: value, Endpoint: s.endpoint})
	}
}

// Start queues the greeting and begins polling the stream.
func (s *Session) Start() {
	s.setState(Handshaking)
	s.enc.AppendRaw(protocol.Greeting(false))
	s.interest = reactor.EventRead | reactor.EventWrite
	if err := s.stream.Attach(s.r, s.interest, s.handle); err != nil {
		s.fail(err)
	}
}

func (s *Session) handle(ev reactor.Events) {
	if ev&reactor.EventError != 0 && s.paused {
		s.fail(api.NewError(api.KindConnectionReset, "poll", "connection error while paused"))
		return
	}
	if ev&(reactor.EventRead|reactor.EventError) != 0 {
		s.OnReadable()
	}
	if ev&reactor.EventWrite != 0 && s.active() {
		s.OnWritable()
	}
}

// OnReadable drains the stream into the decoder and dispatches frames.
func (s *Session) OnReadable() {
	if s.paused || !s.active() {
		return
	}
	buf := s.cfg.Pool.Get()
	defer s.cfg.Pool.Put(buf)
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := s.stream.Read(buf)
		if n > 0 {
			s.dec.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				return
			}
			if errors.Is(err, io.EOF) {
				err = api.NewError(api.KindConnectionReset, "read", "peer closed the connection")
			}
			if s.process() {
				s.fail(err)
			}
			return
		}
		if !s.process() || n < len(buf) {
			return
		}
	}
}

// process consumes buffered input. It returns false once the session
// stalled or ended.
func (s *Session) process() bool {
	for s.active() && !s.paused {
		if s.State() == Handshaking && !s.greeted {
			raw, ok := s.dec.Take(protocol.GreetingSize)
			if !ok {
				return true
			}
			if _, err := protocol.ParseGreeting(raw); err != nil {
				s.fail(err)
				return false
			}
			s.greeted = true
			s.enc.AppendCommand(protocol.ReadyCommand(s.cfg.SocketType, s.cfg.Identity))
			s.updateInterest()
			continue
		}
		f, ok, err := s.dec.Next()
		if err != nil {
			s.fail(err)
			return false
		}
		if !ok {
			return true
		}
		if s.State() == Handshaking {
			if err := s.handshake(f); err != nil {
				s.fail(err)
				return false
			}
			continue
		}
		if f.Command {
			// Heartbeats and other commands carry nothing for the NULL mechanism.
			continue
		}
		m, complete := s.asm.Add(f)
		if !complete {
			continue
		}
		m.Pipe = s.id
		s.in.Add(1)
		if !s.owner.Receive(s, m) {
			s.stash = &m
			s.paused = true
			s.updateInterest()
			return false
		}
	}
	return s.active() && !s.paused
}

func (s *Session) handshake(f protocol.Frame) error {
	if !f.Command {
		return api.NewError(api.KindProtocol, "handshake", "expected READY command")
	}
	name, data, err := protocol.ParseCommand(f.Data)
	if err != nil {
		return err
	}
	switch name {
	case protocol.CommandReady:
	case protocol.CommandError:
		reason := ""
		if len(data) > 0 && int(data[0]) <= len(data)-1 {
			reason = string(data[1 : 1+int(data[0])])
		}
		return api.Errorf(api.KindProtocol, "handshake", "peer rejected connection: %s", reason)
	default:
		return api.Errorf(api.KindProtocol, "handshake", "unexpected command %q", name)
	}
	md, err := protocol.ParseReady(data)
	if err != nil {
		return err
	}
	pt, err := protocol.PeerSocketType(md, s.cfg.SocketType)
	if err != nil {
		return err
	}
	s.peerType = pt
	if id, ok := md.Get(protocol.PropIdentity); ok && len(id) > 0 {
		s.peerID = append([]byte(nil), id...)
	}
	s.setState(Connected)
	if err := s.owner.Attach(s); err != nil {
		return err
	}
	s.attached = true
	s.logger.Debug("peer attached", "peer_type", pt, "remote", s.stream.RemoteAddr())
	return nil
}

// Resume retries a stalled delivery and restarts reading.
func (s *Session) Resume() {
	if !s.paused || !s.active() {
		return
	}
	if s.stash != nil {
		if !s.owner.Receive(s, *s.stash) {
			return
		}
		s.stash = nil
	}
	s.paused = false
	s.updateInterest()
	s.process()
}

// Stalled reports whether the session waits for inbound queue space.
func (s *Session) Stalled() bool { return s.paused }

// Write queues m for this peer. The caller checks Full first when it
// wants backpressure; Write itself never refuses a connected session.
func (s *Session) Write(m protocol.Message) bool {
	if s.State() != Connected {
		return false
	}
	m.Tracker.Acquire()
	s.out.Add(m)
	s.pending.Store(int64(s.out.Length()))
	s.updateInterest()
	return true
}

// Full reports whether the per-connection HWM is reached.
func (s *Session) Full() bool {
	full := s.cfg.SndHWM > 0 && s.out.Length() >= s.cfg.SndHWM
	if full {
		s.wasFull = true
	}
	return full
}

// OnWritable encodes queued messages and writes as much as the stream
// accepts. A short write leaves the encoder cursor at the first unsent
// byte, so the next call resumes exactly there.
func (s *Session) OnWritable() {
	for s.active() {
		if s.State() != Handshaking {
			s.encodeMore()
		}
		p := s.enc.Pending()
		if len(p) == 0 {
			break
		}
		n, err := s.stream.Write(p)
		if n > 0 {
			s.enc.Advance(n)
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				break
			}
			s.fail(err)
			return
		}
		if n < len(p) {
			break
		}
	}
	if !s.active() {
		return
	}
	if s.State() == Disconnecting && s.Drained() {
		s.shutdown(nil, Closed)
		return
	}
	s.updateInterest()
	if s.wasFull && !s.Full() {
		s.wasFull = false
		s.owner.Ready(s)
	}
}

func (s *Session) encodeMore() {
	for s.out.Length() > 0 && s.enc.Len() < writeBatch {
		m := s.out.Remove().(protocol.Message)
		if err := s.enc.AppendMessage(m); err != nil {
			s.logger.Warn("dropping unencodable message", "err", err)
			m.Tracker.Release()
			continue
		}
		s.sent.Add(1)
	}
	s.pending.Store(int64(s.out.Length()))
}

func (s *Session) updateInterest() {
	if !s.active() {
		return
	}
	var ev reactor.Events
	if !s.paused && s.State() != Disconnecting {
		ev |= reactor.EventRead
	}
	if s.enc.Len() > 0 || (s.State() != Handshaking && s.out.Length() > 0) {
		ev |= reactor.EventWrite
	}
	if ev == s.interest {
		return
	}
	s.interest = ev
	if err := s.stream.SetInterest(ev); err != nil {
		s.fail(err)
	}
}

// Drained reports whether every queued byte reached the stream.
func (s *Session) Drained() bool {
	return s.enc.Len() == 0 && s.out.Length() == 0
}

// Disconnect stops reading and closes once pending output is flushed.
func (s *Session) Disconnect() {
	if s.State() != Connected {
		s.Close()
		return
	}
	s.setState(Disconnecting)
	if s.Drained() {
		s.shutdown(nil, Closed)
		return
	}
	s.updateInterest()
}

// Close tears the connection down, discarding unsent output.
func (s *Session) Close() {
	s.shutdown(nil, Closed)
}

func (s *Session) fail(err error) {
	s.shutdown(err, Failed)
}

func (s *Session) shutdown(err error, final State) {
	prev := s.State()
	if prev == Closed || prev == Failed {
		return
	}
	s.setState(final)

	// Never deliver a truncated message.
	s.asm.Discard()
	s.dec.Reset()
	s.enc.Reset()
	for s.out.Length() > 0 {
		s.out.Remove().(protocol.Message).Tracker.Release()
	}
	s.pending.Store(0)
	s.stash = nil
	_ = s.stream.Close()

	if s.attached {
		s.attached = false
		s.owner.Detach(s, err)
	}
	if err != nil {
		if prev == Handshaking {
			s.logger.Warn("handshake failed", "err", err)
			s.emit(api.EventHandshakeFailed, uint32(api.KindOf(err)))
		} else {
			s.logger.Warn("connection lost", "err", err)
			s.emit(api.EventDisconnected, uint32(api.KindOf(err)))
		}
	}
	if s.onClose != nil {
		s.onClose(s, err)
	}
}

// Stats is safe to call from any goroutine.
func (s *Session) Stats() Stats {
	return Stats{
		ID:       s.id,
		Endpoint: s.endpoint,
		Remote:   s.stream.RemoteAddr(),
		State:    s.State(),
		Pending:  int(s.pending.Load()),
		In:       s.in.Load(),
		Out:      s.sent.Load(),
	}
}
