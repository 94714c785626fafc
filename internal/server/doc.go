// Package server implements the room chat relay: a Registry actor that owns
// room membership and fan-out, a Session per WebSocket connection that speaks
// the slash-command protocol, and the HTTP plumbing around them.
//
// The implementation is organized into specialized files for configuration,
// the registry, sessions, the command parser, transport, routing, and HTTP
// handlers to keep the codebase maintainable and testable.
package server
