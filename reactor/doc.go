// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the I/O multiplexer: a readiness-based event
// loop (epoll on Linux) that services transport connections, runs tasks
// posted from application goroutines and fires timers, plus a pool of
// such loops owned by a messaging context.
package reactor
