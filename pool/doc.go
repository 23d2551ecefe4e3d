// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer and object recycling for the reactor read path.
// A reactor reads into a pooled buffer, feeds the decoder (which copies
// frame bodies out) and returns the buffer before the next read.
package pool

const (
	// DefaultBufferSize is the read chunk size of a connection.
	DefaultBufferSize = 64 * 1024
	// DefaultDepth bounds idle buffers kept per pool.
	DefaultDepth = 256
)

var shared = NewBytePool(DefaultBufferSize, DefaultDepth)

// Default returns the process-wide pool of DefaultBufferSize buffers.
func Default() *BytePool { return shared }
