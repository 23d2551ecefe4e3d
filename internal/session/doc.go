// Package session
// Author: momentics <momentics@gmail.com>
//
// Transport connections of a socket. A Session owns one stream, its
// encoder cursor and incremental decoder, runs the greeting/READY
// handshake and hands whole messages to its Owner. Dialer keeps an
// outbound session alive with exponential reconnect backoff; Acceptor
// spawns inbound sessions for a bound endpoint.
//
// Everything in this package runs on the reactor goroutine that owns the
// socket, so no state here is locked.

package session
