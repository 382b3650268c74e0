// Package errors provides domain-specific error types for chatrelay.
//
// Every per-connection failure is expressed as one of the structured
// types below so the accept loop and the session can decide, with
// errors.As, whether a failure stays local to one client or ends the
// whole relay.  Only ServerError is ever surfaced at process scope.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrOutboxFull    = errors.New("outbound queue is full")
	ErrPoolClosed    = errors.New("worker pool is shut down")
	ErrLineTooLong   = errors.New("line exceeds maximum length")
)

// ── Structured error types ───────────────────────────────────────────

// ConnectionError is an I/O failure on the transport of a session that
// already identified itself.  It always ends in a leave notification.
type ConnectionError struct {
	Session string // session id
	Op      string // "read", "write"
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.Session, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError means the stream ended before the identification line
// arrived.  Nothing was broadcast and no registry entry exists.
type ProtocolError struct {
	Session string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session %s: closed before identification: %v", e.Session, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SetupError is a failure to initialise a connection's I/O channels.
// The affected connection is closed; the relay keeps running.
type SetupError struct {
	Op   string // "keepalive", "handshake", "session"
	Addr string // remote address, if known
	Err  error
}

func (e *SetupError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("setup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("setup %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ServerError is a fatal failure of the listening endpoint itself.
type ServerError struct {
	Op   string // "listen", "accept"
	Addr string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Server wraps err as a ServerError for the given operation and address.
func Server(op, addr string, err error) *ServerError {
	return &ServerError{Op: op, Addr: addr, Err: err}
}

// Setup wraps err as a SetupError.
func Setup(op, addr string, err error) *SetupError {
	return &SetupError{Op: op, Addr: addr, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsTemporary reports whether err is a transient accept failure (for
// example EMFILE) after which the listener is still usable.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *ServerError
	if errors.As(err, &se) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// IsSetup reports whether err is a SetupError.
func IsSetup(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use chatrelay/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
