// File: mq/loghandler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Log publishing. LogHandler is a slog.Handler that sends every record
// on a PUB socket as two frames: a topic and the record in slog text
// form. The topic is the root topic, the level name and an optional
// subtopic joined by dots, e.g. "app.WARN.disk". A subtopic is taken
// from a message of the form "subtopic::text".

package mq

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/momentics/hioload-mq/api"
)

// TopicDelim separates a subtopic from the message text.
const TopicDelim = "::"

// LogHandlerOptions configure a LogHandler.
type LogHandlerOptions struct {
	// RootTopic prefixes every topic. Empty means the level comes first.
	RootTopic string
	// Level is the minimum level published. Nil means slog.LevelInfo.
	Level slog.Leveler
}

// logSink is shared by a handler and the handlers derived from it.
type logSink struct {
	mu   sync.Mutex
	sock *Socket
	buf  bytes.Buffer
}

// LogHandler publishes log records. The socket must not be used for
// anything else while the handler is in use.
type LogHandler struct {
	sink  *logSink
	root  string
	level slog.Leveler
	text  slog.Handler
}

// NewLogHandler wraps a PUB socket.
func NewLogHandler(s *Socket, opts *LogHandlerOptions) (*LogHandler, error) {
	if s == nil || s.Type() != api.PUB {
		return nil, api.NewError(api.KindInvalidArgument, "log handler", "a PUB socket is required")
	}
	if opts == nil {
		opts = &LogHandlerOptions{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	sink := &logSink{sock: s}
	return &LogHandler{
		sink:  sink,
		root:  strings.Trim(opts.RootTopic, "."),
		level: level,
		// Filtering happens in Enabled; the text handler only formats.
		text: slog.NewTextHandler(&sink.buf, &slog.HandlerOptions{Level: slog.LevelDebug - 8}),
	}, nil
}

// NewLogPublisher creates a PUB socket bound to ep and a handler on it.
func (c *Context) NewLogPublisher(ep string, opts *LogHandlerOptions) (*LogHandler, error) {
	s, err := c.Socket(api.PUB)
	if err != nil {
		return nil, err
	}
	if err := s.Bind(ep); err != nil {
		_ = s.CloseLinger(0)
		return nil, err
	}
	return NewLogHandler(s, opts)
}

// Socket returns the publishing socket.
func (h *LogHandler) Socket() *Socket { return h.sink.sock }

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	topic := h.topic(r.Level, "")
	if sub, msg, ok := strings.Cut(r.Message, TopicDelim); ok {
		topic = h.topic(r.Level, sub)
		nr := slog.NewRecord(r.Time, r.Level, msg, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			nr.AddAttrs(a)
			return true
		})
		r = nr
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.buf.Reset()
	if err := h.text.Handle(ctx, r); err != nil {
		return err
	}
	body := bytes.Clone(bytes.TrimSuffix(h.sink.buf.Bytes(), []byte("\n")))
	return h.sink.sock.Send([][]byte{[]byte(topic), body}, api.DontWait)
}

func (h *LogHandler) topic(level slog.Level, sub string) string {
	parts := make([]string, 0, 3)
	if h.root != "" {
		parts = append(parts, h.root)
	}
	parts = append(parts, level.String())
	if sub = strings.Trim(sub, ". "); sub != "" {
		parts = append(parts, sub)
	}
	return strings.Join(parts, ".")
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.text = h.text.WithAttrs(attrs)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.text = h.text.WithGroup(name)
	return &c
}
