// File: core/protocol/tracker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tracker is the completion handle of a zero-copy send. The application
// may poll or wait on it to learn when the transport stopped referencing
// the buffers it handed over.

package protocol

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-mq/api"
)

// Tracker counts outstanding references to a message's storage.
type Tracker struct {
	refs atomic.Int64
	done chan struct{}
}

// NewTracker returns a tracker holding one reference.
func NewTracker() *Tracker {
	t := &Tracker{done: make(chan struct{})}
	t.refs.Store(1)
	return t
}

// Acquire adds a reference, e.g. for every fan-out copy.
func (t *Tracker) Acquire() {
	if t == nil {
		return
	}
	t.refs.Add(1)
}

// Release drops one reference; the last release completes the tracker.
func (t *Tracker) Release() {
	if t == nil {
		return
	}
	if t.refs.Add(-1) == 0 {
		close(t.done)
	}
}

// Done is closed on completion.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Completed polls for completion.
func (t *Tracker) Completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks up to timeout (api.Infinite waits forever).
func (t *Tracker) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-t.done
		return nil
	}
	if t.Completed() {
		return nil
	}
	if timeout == 0 {
		return api.ErrWouldBlock
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return api.NewError(api.KindWouldBlock, "tracker wait", "timeout")
	}
}
