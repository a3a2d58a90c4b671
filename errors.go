package ftp

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the dispatcher.
var (
	// ErrBusy is returned when a command is issued while another one is
	// still in flight. The client allows exactly one task at a time.
	ErrBusy = errors.New("ftp: another task is already pending")

	// ErrClosed is returned by any operation attempted after the client
	// has been closed, or whose task was pending when the client closed.
	ErrClosed = errors.New("ftp: client is closed")

	// ErrTimeout is returned when either the control or the data socket
	// exceeds the configured timeout. The connection is considered
	// poisoned and the client transitions to closed.
	ErrTimeout = errors.New("ftp: socket timeout")

	// ErrBadPasvReply is returned when a passive-mode reply does not
	// contain a parseable data endpoint.
	ErrBadPasvReply = errors.New("ftp: unparseable passive mode reply")
)

// ProtocolError represents an FTP protocol error with full context of the
// command/response conversation. This provides detailed debugging information
// beyond simple error messages.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g., "STOR file.txt")
	Command string

	// Response is the raw response received from the server (e.g., "550 Permission denied")
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is2xx returns true if the error code is in the 2xx range (success).
func (e *ProtocolError) Is2xx() bool {
	return e.Code >= 200 && e.Code < 300
}

// Is3xx returns true if the error code is in the 3xx range (intermediate).
func (e *ProtocolError) Is3xx() bool {
	return e.Code >= 300 && e.Code < 400
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// This can be used to implement retry logic.
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

// BadReplyError reports control-channel bytes that do not form a
// well-formed FTP reply.
type BadReplyError struct {
	// Line is the offending line as received, CRLF stripped.
	Line string
}

func (e *BadReplyError) Error() string {
	return fmt.Sprintf("ftp: malformed server reply: %q", e.Line)
}

// TransportError wraps an underlying socket error. A transport error during
// a task also closes the client.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ftp: transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DialError reports a failure to open the data connection announced by the
// server in passive mode, or an unparseable PASV/EPSV reply.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("ftp: data connection to %s failed: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// TLSError reports a failed TLS handshake on the control or data channel.
// Certificate verification failures from crypto/tls surface here as well.
type TLSError struct {
	Err error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("ftp: TLS handshake failed: %v", e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }
