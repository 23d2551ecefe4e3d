// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, runtime metrics and debug introspection for
// a messaging context.
//
// Provides concurrent-safe state handling primitives including:
//   - YAML configuration with defaults and validation
//   - A snapshot store with reload listeners and a file watcher
//   - Counters and gauges for message and connection telemetry
//   - Named debug probes dumping live socket and reactor state
package control
