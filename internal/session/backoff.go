// File: internal/session/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import "time"

const (
	DefaultReconnectIvl = 100 * time.Millisecond
	// DefaultReconnectIvlMax caps the doubling when no maximum is configured.
	DefaultReconnectIvlMax = 30 * time.Second
)

// Backoff yields reconnect delays: Initial, then doubling up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	cur     time.Duration
}

// NewBackoff applies the defaults for non-positive arguments.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultReconnectIvl
	}
	if max <= 0 {
		max = DefaultReconnectIvlMax
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Initial
		return b.cur
	}
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return b.cur
}

// Reset restarts the sequence after a successful connect.
func (b *Backoff) Reset() { b.cur = 0 }
