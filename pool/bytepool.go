// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync/atomic"
)

// BytePool recycles fixed-size read buffers through a bounded free list.
// Buffers that do not fit the free list are left to the GC.
type BytePool struct {
	size int
	free chan []byte

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports pool effectiveness.
type Stats struct {
	Size   int
	Free   int
	Hits   uint64
	Misses uint64
}

// NewBytePool creates a pool of size-byte buffers keeping at most depth idle.
func NewBytePool(size, depth int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &BytePool{size: size, free: make(chan []byte, depth)}
}

// Get returns a buffer of exactly Size() bytes.
func (p *BytePool) Get() []byte {
	select {
	case buf := <-p.free:
		p.hits.Add(1)
		return buf[:p.size]
	default:
		p.misses.Add(1)
		return make([]byte, p.size)
	}
}

// Put hands buf back. Foreign or undersized slices are dropped.
func (p *BytePool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	select {
	case p.free <- buf[:p.size]:
	default:
	}
}

// Size is the buffer length handed out by Get.
func (p *BytePool) Size() int { return p.size }

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() Stats {
	return Stats{Size: p.size, Free: len(p.free), Hits: p.hits.Load(), Misses: p.misses.Load()}
}
