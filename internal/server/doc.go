// Package server implements the connection-handling engine of the embedded
// HTTP server: the accept loop, the per-connection request/response session
// with pipelined and strictly ordered writes, the WebSocket upgrade hand-off
// and the post-upgrade session with keep-alive probing.
//
// The implementation is organized into specialized files for configuration,
// routing, the write queue, connection and WebSocket sessions, the session
// registry and the listener to keep the codebase maintainable and testable.
package server
