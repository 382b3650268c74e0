// Package transport provides the line-oriented connection abstractions
// the relay runs on.  Transports handle the "how" of moving lines, over
// plain TCP or inside an SSH session channel, independent of what the
// session layer does with them.
package transport

import (
	"context"
	"net"
	"time"
)

// Conn is one client connection seen as a stream of lines.
//
// ReadLine is only called by the goroutine that owns the session.
// WriteLine may be called from any goroutine; implementations
// serialize concurrent writers.  Close may be called more than once
// and from any goroutine; it unblocks a pending ReadLine.
type Conn interface {
	// ReadLine returns the next line without its terminator.  It
	// returns io.EOF at end-of-stream.
	ReadLine() (string, error)
	// WriteLine writes line followed by a newline.
	WriteLine(line string) error
	Close() error
	RemoteAddr() net.Addr
}

// Listener accepts line connections.
type Listener interface {
	// Accept blocks until the next connection is ready.  A returned
	// *errors.SetupError affects only that connection; any other
	// error means the listener is unusable.
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// Dialer opens outbound network connections for the line client.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer.
	// Stateless dialers return nil.
	Close() error
}

// LineOptions tunes line connections created by a listener.
type LineOptions struct {
	// MaxLineBytes bounds one incoming line; longer lines end the
	// connection with errors.ErrLineTooLong.
	MaxLineBytes int
	// WriteTimeout bounds a single WriteLine.  Zero means writes to a
	// stalled peer may block indefinitely.
	WriteTimeout time.Duration
}

// DefaultMaxLineBytes applies when LineOptions.MaxLineBytes is zero.
const DefaultMaxLineBytes = 64 * 1024

func (o LineOptions) maxLine() int {
	if o.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return o.MaxLineBytes
}
