// Package mq
// Author: momentics <momentics@gmail.com>
//
// Public surface of hioload-mq: a Context owning the reactor pool and
// Sockets implementing the REQ/REP, PUB/SUB, DEALER/ROUTER, PUSH/PULL and
// PAIR messaging patterns over tcp://, ipc:// and inproc:// endpoints.
//
// A Socket is not safe for concurrent use. Exactly one goroutine at a
// time may call its methods; the async helpers hand the socket to a
// background goroutine until their channel fires. Messaging state shared
// with the reactor lives in two bounded queues per socket, so Send and
// Recv only ever block on queue space or data, bounded by the configured
// timeouts, and Context.Term releases every blocked caller with
// api.ErrContextTerminated.
package mq
