// Package server defines shared error values and the helpers that sort
// transport errors into benign cancellations, peer terminations and real
// I/O failures.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

var (
	// ErrTransportDetached is returned by a Transport whose connection has
	// been moved to another session.
	ErrTransportDetached = errors.New("server: transport detached")
	// ErrSessionClosed is returned when sending on a finished WebSocket session.
	ErrSessionClosed = errors.New("server: session closed")
	// ErrSendQueueFull is returned when a WebSocket session's outbound buffer is full.
	ErrSendQueueFull = errors.New("server: send queue full")

	errBodyTooLarge   = errors.New("request body exceeds limit")
	errHeaderTooLarge = errors.New("request header exceeds limit")
)

// readOutcome classifies the result of reading one request.
type readOutcome int

const (
	readOK readOutcome = iota
	readAborted
	readEOF
	readTooLarge
	readHeaderTooLarge
	readMalformed
	readFailed
)

func (o readOutcome) String() string {
	switch o {
	case readOK:
		return "ok"
	case readAborted:
		return "aborted"
	case readEOF:
		return "eof"
	case readTooLarge:
		return "too_large"
	case readHeaderTooLarge:
		return "header_too_large"
	case readMalformed:
		return "malformed"
	default:
		return "failed"
	}
}

func classifyReadError(err error) readOutcome {
	switch {
	case err == nil:
		return readOK
	case errors.Is(err, errBodyTooLarge):
		return readTooLarge
	case errors.Is(err, errHeaderTooLarge):
		return readHeaderTooLarge
	case isAborted(err):
		return readAborted
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A peer hanging up mid-request ends the session like a clean EOF.
		return readEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return readFailed
	}
	// net/http reports syntax problems as plain errors.
	return readMalformed
}

// isAborted reports whether err comes from an operation cancelled because
// this side closed the connection.
func isAborted(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrTransportDetached)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if isAborted(err) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
