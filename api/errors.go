// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy shared by every layer of hioload-mq.

package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error into the messaging taxonomy.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindWouldBlock is a control-flow signal: nothing to do right now.
	KindWouldBlock
	KindQueueFull
	KindInvalidState
	KindProtocol
	KindConnectionFailed
	KindConnectionReset
	KindContextTerminated
	KindInvalidArgument
	// KindHostUnreachable is reported by ROUTER sockets with RouterMandatory set.
	KindHostUnreachable
	KindNotSupported
)

var kindNames = [...]string{
	KindUnknown:           "unknown",
	KindWouldBlock:        "would block",
	KindQueueFull:         "queue full",
	KindInvalidState:      "invalid state",
	KindProtocol:          "protocol error",
	KindConnectionFailed:  "connection failed",
	KindConnectionReset:   "connection reset",
	KindContextTerminated: "context terminated",
	KindInvalidArgument:   "invalid argument",
	KindHostUnreachable:   "host unreachable",
	KindNotSupported:      "not supported",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrWouldBlock        = &Error{Kind: KindWouldBlock}
	ErrQueueFull         = &Error{Kind: KindQueueFull}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrProtocol          = &Error{Kind: KindProtocol}
	ErrConnectionFailed  = &Error{Kind: KindConnectionFailed}
	ErrConnectionReset   = &Error{Kind: KindConnectionReset}
	ErrContextTerminated = &Error{Kind: KindContextTerminated}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrHostUnreachable   = &Error{Kind: KindHostUnreachable}
	ErrNotSupported      = &Error{Kind: KindNotSupported}
)

// Error is a structured error carrying its taxonomy kind, the failing
// operation and a human-readable description.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying cause.
func Wrap(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrQueueFull)
// works regardless of the operation or message attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf reports the taxonomy kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
