package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	ncerr "chatrelay/internal/errors"
)

// ── Line connection ──────────────────────────────────────────────────

// LineConn adapts a net.Conn to the Conn interface: newline framing on
// input, mutex-serialized writes on output.
type LineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration

	wmu sync.Mutex
}

// NewLineConn wraps c.
func NewLineConn(c net.Conn, opts LineOptions) *LineConn {
	limit := opts.maxLine()
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, min(4096, limit)), limit)
	return &LineConn{conn: c, scanner: sc, writeTimeout: opts.WriteTimeout}
}

// ReadLine returns the next line with any trailing "\r" removed.  A
// final line without a terminator is still returned before io.EOF.
func (c *LineConn) ReadLine() (string, error) {
	if c.scanner.Scan() {
		return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
	}
	if err := c.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", ncerr.ErrLineTooLong
		}
		return "", err
	}
	return "", io.EOF
}

// WriteLine writes line and a newline as a single write.
func (c *LineConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// Close closes the underlying connection.
func (c *LineConn) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ── TCP listener ─────────────────────────────────────────────────────

// TCPListener accepts plain TCP clients.
type TCPListener struct {
	ln   net.Listener
	opts LineOptions
}

// ListenTCP binds address ("host:port") for chat clients.
func ListenTCP(ctx context.Context, address string, opts LineOptions) (*TCPListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	return &TCPListener{ln: ln, opts: opts}, nil
}

// Accept waits for the next client.
func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tc.SetKeepAlive(true); err != nil {
			c.Close()
			return nil, ncerr.Setup("keepalive", c.RemoteAddr().String(), err)
		}
	}
	return NewLineConn(c, l.opts), nil
}

// Close stops the listener; a blocked Accept returns net.ErrClosed.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// ── TCP dialer ───────────────────────────────────────────────────────

// TCPDialer establishes plain TCP connections for the line client.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to address over TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless TCP dialers.
func (d *TCPDialer) Close() error { return nil }
