// Package server defines shared identifiers, wire texts, and the frame model
// that the registry and sessions exchange.
package server

import (
	"strings"
	"time"
)

// SessionID identifies a connected session inside the registry. Zero is never
// assigned and doubles as the "skip nobody" marker for broadcasts.
type SessionID uint64

// noSkip is passed as the excluded id when a broadcast should reach every member.
const noSkip SessionID = 0

// DefaultRoom is created with the registry and always exists.
const DefaultRoom = "Main"

const (
	// HeartbeatInterval is how often a session checks liveness and pings its peer.
	HeartbeatInterval = 5 * time.Second
	// ClientTimeout is how long a session may stay silent before it is dropped.
	ClientTimeout = 10 * time.Second
)

// Server-originated notices.
const (
	msgSomeoneJoined       = "Someone joined"
	msgSomeoneConnected    = "Someone connected"
	msgSomeoneDisconnected = "Someone disconnected"
	msgTotalVisitorsFormat = "Total visitors %d"
)

// Replies to the issuing session.
const (
	replyJoined          = "joined"
	replyRoomRequired    = "!!! room name is required"
	replyNameRequired    = "!!! name is required"
	replyStepWrong       = "step is wrong"
	replyUnknownTemplate = "!!! unknown command: %q"
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one inbound unit read from a connection. Code and Data carry the
// close code and reason for FrameClose.
type Frame struct {
	Kind FrameKind
	Data []byte
	Code int
}

// Handle is the registry's view of a connected peer: a sink that accepts text
// without blocking. Deliver reports false when the text was dropped.
type Handle interface {
	Deliver(text string) bool
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
