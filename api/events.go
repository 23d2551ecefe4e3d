// File: api/events.go
// Package api defines the monitor event kinds.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// Event is a monitor event kind. Values are bit flags so a monitor can
// subscribe to a subset.
type Event uint16

const (
	EventConnected Event = 1 << iota
	EventConnectDelayed
	EventConnectRetried
	EventListening
	EventBindFailed
	EventAccepted
	EventAcceptFailed
	EventClosed
	EventCloseFailed
	EventDisconnected
	EventHandshakeFailed
	EventMonitorStopped

	EventAll Event = 0xFFFF
)

var eventNames = map[Event]string{
	EventConnected:       "CONNECTED",
	EventConnectDelayed:  "CONNECT_DELAYED",
	EventConnectRetried:  "CONNECT_RETRIED",
	EventListening:       "LISTENING",
	EventBindFailed:      "BIND_FAILED",
	EventAccepted:        "ACCEPTED",
	EventAcceptFailed:    "ACCEPT_FAILED",
	EventClosed:          "CLOSED",
	EventCloseFailed:     "CLOSE_FAILED",
	EventDisconnected:    "DISCONNECTED",
	EventHandshakeFailed: "HANDSHAKE_FAILED",
	EventMonitorStopped:  "MONITOR_STOPPED",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "UNKNOWN_EVENT"
}

// ParseEvent maps an event name such as "connected" or "ALL" to its
// flag.
func ParseEvent(name string) (Event, error) {
	name = strings.ToUpper(name)
	if name == "ALL" {
		return EventAll, nil
	}
	for e, s := range eventNames {
		if s == name {
			return e, nil
		}
	}
	return 0, Errorf(KindInvalidArgument, "event", "unknown event %q", name)
}

// MonitorEvent is one structured state transition of a connection or listener.
type MonitorEvent struct {
	Event    Event
	Value    uint32 // event specific: retry interval in ms, errno, etc.
	Endpoint string
}

// EventSink receives monitor events. Implementations must not block.
type EventSink interface {
	Emit(ev MonitorEvent)
}
