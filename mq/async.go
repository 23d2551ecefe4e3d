// File: mq/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel-based send and receive layered on the non-blocking calls and
// readiness polling. While an operation is in flight the socket belongs
// to it; the caller must not touch the socket until the channel fires.

package mq

import (
	"context"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/core/protocol"
)

// RecvResult is the outcome of RecvAsync.
type RecvResult struct {
	Message protocol.Message
	Err     error
}

// SendAsync queues parts as one message in the background. The channel
// yields nil once the message is queued, or the error that prevented it,
// including ctx's error when ctx ends first.
func (s *Socket) SendAsync(ctx context.Context, parts [][]byte) <-chan error {
	ch := make(chan error, 1)
	m := protocol.NewMessage(parts...)
	go func() {
		for {
			err := s.SendMessage(m.Clone(), api.DontWait)
			if api.KindOf(err) != api.KindWouldBlock {
				ch <- err
				return
			}
			if err := waitReady(ctx, s, api.PollOut); err != nil {
				ch <- err
				return
			}
		}
	}()
	return ch
}

// RecvAsync receives the next message in the background.
func (s *Socket) RecvAsync(ctx context.Context) <-chan RecvResult {
	ch := make(chan RecvResult, 1)
	go func() {
		for {
			m, err := s.RecvMessage(api.DontWait)
			if api.KindOf(err) != api.KindWouldBlock {
				ch <- RecvResult{Message: m, Err: err}
				return
			}
			if err := waitReady(ctx, s, api.PollIn); err != nil {
				ch <- RecvResult{Err: err}
				return
			}
		}
	}()
	return ch
}
