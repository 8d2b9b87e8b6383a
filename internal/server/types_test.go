package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
)

// TestClassifyReadError verifies the mapping of read errors onto outcomes.
func TestClassifyReadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want readOutcome
	}{
		{"nil", nil, readOK},
		{"too large", errBodyTooLarge, readTooLarge},
		{"closed locally", &net.OpError{Op: "read", Err: net.ErrClosed}, readAborted},
		{"detached", ErrTransportDetached, readAborted},
		{"eof", io.EOF, readEOF},
		{"unexpected eof", io.ErrUnexpectedEOF, readEOF},
		{"header too large", errHeaderTooLarge, readHeaderTooLarge},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", errors.New("connection reset by peer"))}, readFailed},
		{"malformed", errors.New("malformed HTTP request \"BOGUS\""), readMalformed},
		{"wrapped too large", fmt.Errorf("read: %w", errBodyTooLarge), readTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyReadError(tt.err); got != tt.want {
				t.Errorf("classifyReadError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestIsExpectedCloseError verifies which errors count as closed-socket noise.
func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{net.ErrClosed, true},
		{errors.New("write: broken pipe"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("disk full"), false},
	}

	for _, tt := range tests {
		if got := isExpectedCloseError(tt.err); got != tt.want {
			t.Errorf("isExpectedCloseError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
