// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants

package protocol

const (
	// Greeting layout.
	GreetingSize      = 64
	signatureHeader   = 0xFF
	signatureFooter   = 0x7F
	VersionMajor      = 3
	VersionMinor      = 0
	mechanismOffset   = 12
	mechanismSize     = 20
	asServerOffset    = 32
	MechanismNull     = "NULL"
	CommandReady      = "READY"
	CommandError      = "ERROR"
	PropSocketType    = "Socket-Type"
	PropIdentity      = "Identity"
	MaxIdentitySize   = 255
	subscribeMarker   = 1
	unsubscribeMarker = 0
)
