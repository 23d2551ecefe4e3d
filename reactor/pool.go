// File: reactor/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool owns the I/O threads of a messaging context and spreads sockets
// across them round-robin.

package reactor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
)

// PoolConfig sizes a pool. Size <= 0 selects min(runtime.NumCPU(), 4).
// PinCPUs, when non-empty, pins reactor i to PinCPUs[i % len(PinCPUs)].
type PoolConfig struct {
	Size    int
	PinCPUs []int
	Logger  *slog.Logger
}

// DefaultPoolSize derives the I/O thread count from the CPU count.
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pool is a fixed set of running reactors.
type Pool struct {
	reactors []*Reactor
	next     atomic.Uint64
	closed   atomic.Bool
}

// NewPool creates and starts the reactors.
func NewPool(cfg PoolConfig) (*Pool, error) {
	size := cfg.Size
	if size <= 0 {
		size = DefaultPoolSize()
	}
	p := &Pool{reactors: make([]*Reactor, 0, size)}
	for i := 0; i < size; i++ {
		cpu := -1
		if len(cfg.PinCPUs) > 0 {
			cpu = cfg.PinCPUs[i%len(cfg.PinCPUs)]
		}
		r, err := New(i, cpu, cfg.Logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("reactor pool: %w", err)
		}
		r.Start()
		p.reactors = append(p.reactors, r)
	}
	return p, nil
}

// Next returns the reactor for a new socket.
func (p *Pool) Next() *Reactor {
	idx := p.next.Add(1) - 1
	return p.reactors[idx%uint64(len(p.reactors))]
}

// Size returns the number of reactors.
func (p *Pool) Size() int { return len(p.reactors) }

// Stats collects counters of every reactor.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, len(p.reactors))
	for i, r := range p.reactors {
		out[i] = r.Stats()
	}
	return out
}

// Close stops every reactor and waits for their goroutines.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, r := range p.reactors {
		r.Stop()
	}
}
