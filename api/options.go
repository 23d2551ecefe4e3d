// File: api/options.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Closed set of socket options. Every option has a fixed value kind so the
// whole option surface can be enumerated and validated statically.

package api

import "strings"

// Option names a socket option.
type Option int

const (
	OptSndHWM Option = iota + 1
	OptRcvHWM
	// OptHWM sets both OptSndHWM and OptRcvHWM. Reading it returns OptSndHWM.
	OptHWM
	// OptHWMBytes switches HWM accounting from message count to payload bytes.
	OptHWMBytes
	OptSndHWMPolicy
	OptRcvHWMPolicy
	OptLinger
	// OptIdentity is the routing id announced to peers (ROUTER addressing).
	OptIdentity
	OptSubscribe
	OptUnsubscribe
	OptSndTimeout
	OptRcvTimeout
	OptReconnectIvl
	OptReconnectIvlMax
	OptRouterMandatory
	OptReqRelaxed
	OptMaxMsgSize
	OptType
	OptRcvMore
	OptEvents
	OptLastEndpoint
)

// OptionKind is the Go type an option value must have.
type OptionKind int

const (
	KindInt OptionKind = iota
	KindBool
	KindBytes
	KindDuration
	KindPolicy
	KindString
)

// OptionInfo describes one entry of the option table.
type OptionInfo struct {
	Name     string
	Kind     OptionKind
	ReadOnly bool
	// WriteOnly options (subscriptions) cannot be read back.
	WriteOnly bool
}

var optionTable = map[Option]OptionInfo{
	OptSndHWM:          {Name: "SNDHWM", Kind: KindInt},
	OptRcvHWM:          {Name: "RCVHWM", Kind: KindInt},
	OptHWM:             {Name: "HWM", Kind: KindInt},
	OptHWMBytes:        {Name: "HWM_BYTES", Kind: KindBool},
	OptSndHWMPolicy:    {Name: "SNDHWM_POLICY", Kind: KindPolicy},
	OptRcvHWMPolicy:    {Name: "RCVHWM_POLICY", Kind: KindPolicy},
	OptLinger:          {Name: "LINGER", Kind: KindDuration},
	OptIdentity:        {Name: "IDENTITY", Kind: KindBytes},
	OptSubscribe:       {Name: "SUBSCRIBE", Kind: KindBytes, WriteOnly: true},
	OptUnsubscribe:     {Name: "UNSUBSCRIBE", Kind: KindBytes, WriteOnly: true},
	OptSndTimeout:      {Name: "SNDTIMEO", Kind: KindDuration},
	OptRcvTimeout:      {Name: "RCVTIMEO", Kind: KindDuration},
	OptReconnectIvl:    {Name: "RECONNECT_IVL", Kind: KindDuration},
	OptReconnectIvlMax: {Name: "RECONNECT_IVL_MAX", Kind: KindDuration},
	OptRouterMandatory: {Name: "ROUTER_MANDATORY", Kind: KindBool},
	OptReqRelaxed:      {Name: "REQ_RELAXED", Kind: KindBool},
	OptMaxMsgSize:      {Name: "MAXMSGSIZE", Kind: KindInt},
	OptType:            {Name: "TYPE", Kind: KindString, ReadOnly: true},
	OptRcvMore:         {Name: "RCVMORE", Kind: KindBool, ReadOnly: true},
	OptEvents:          {Name: "EVENTS", Kind: KindInt, ReadOnly: true},
	OptLastEndpoint:    {Name: "LAST_ENDPOINT", Kind: KindString, ReadOnly: true},
}

// Info returns the table entry for o.
func (o Option) Info() (OptionInfo, bool) {
	info, ok := optionTable[o]
	return info, ok
}

func (o Option) String() string {
	if info, ok := optionTable[o]; ok {
		return info.Name
	}
	return "UNKNOWN_OPTION"
}

// Options lists every recognised option.
func Options() []Option {
	out := make([]Option, 0, len(optionTable))
	for o := OptSndHWM; o <= OptLastEndpoint; o++ {
		out = append(out, o)
	}
	return out
}

// OptionByName resolves a case-insensitive option name.
func OptionByName(name string) (Option, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for o, info := range optionTable {
		if info.Name == upper {
			return o, nil
		}
	}
	return 0, Errorf(KindInvalidArgument, "option", "unknown option %q", name)
}

// HWMPolicy decides what an enqueue does once a queue reached its HWM.
type HWMPolicy int

const (
	// Block waits for space (up to the call timeout).
	Block HWMPolicy = iota
	// DropNewest discards the message being enqueued.
	DropNewest
	// DropOldest evicts the head of the queue to make room.
	DropOldest
	// Fail returns ErrQueueFull immediately.
	Fail
)

var policyNames = [...]string{"block", "drop-newest", "drop-oldest", "fail"}

func (p HWMPolicy) String() string {
	if p < 0 || int(p) >= len(policyNames) {
		return "unknown"
	}
	return policyNames[p]
}

// ParseHWMPolicy maps a policy name to its value.
func ParseHWMPolicy(name string) (HWMPolicy, error) {
	for i, n := range policyNames {
		if n == strings.ToLower(name) {
			return HWMPolicy(i), nil
		}
	}
	return 0, Errorf(KindInvalidArgument, "hwm policy", "unknown policy %q", name)
}
