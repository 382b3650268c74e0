package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	ncerr "chatrelay/internal/errors"
	"chatrelay/util"
)

// sshHandshakeTimeout bounds the SSH handshake of a single client.
const sshHandshakeTimeout = 10 * time.Second

// LoadHostKey reads a PEM private key for the SSH listener.  An empty
// path yields a fresh ed25519 key that lives only as long as the process.
func LoadHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating host key: %w", err)
		}
		return ssh.NewSignerFromKey(priv)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing host key %s: %w", path, err)
	}
	return signer, nil
}

// SSHListener serves chat over SSH.  Every SSH connection carries one
// chat session on its first "session" channel; the line protocol is
// unchanged, with line editing done by a term.Terminal.  Clients are
// not authenticated.
type SSHListener struct {
	ln     net.Listener
	config *ssh.ServerConfig
	opts   LineOptions
	logger *util.Logger

	conns chan Conn
	errc  chan error
	done  chan struct{}
	once  sync.Once
}

// ListenSSH binds address and starts completing handshakes in the
// background.  Handshakes never block Accept; a failed handshake is
// reported by Accept as a *errors.SetupError.
func ListenSSH(address string, hostKey ssh.Signer, opts LineOptions, logger *util.Logger) (*SSHListener, error) {
	if hostKey == nil {
		return nil, fmt.Errorf("ssh listener: host key is required")
	}
	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	l := &SSHListener{
		ln:     ln,
		config: cfg,
		opts:   opts,
		logger: logger,
		conns:  make(chan Conn),
		errc:   make(chan error),
		done:   make(chan struct{}),
	}
	go l.serve()
	return l, nil
}

// Accept returns the next chat channel that completed its handshake.
func (l *SSHListener) Accept() (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errc:
		return nil, err
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting.  Handshakes still in flight are abandoned.
func (l *SSHListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ln.Close()
	})
	return err
}

// Addr returns the bound address.
func (l *SSHListener) Addr() net.Addr { return l.ln.Addr() }

func (l *SSHListener) serve() {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			l.report(err)
			return
		}
		go l.handshake(nc)
	}
}

// report hands err to Accept unless the listener is closing.
func (l *SSHListener) report(err error) {
	select {
	case <-l.done:
	case l.errc <- err:
	}
}

func (l *SSHListener) handshake(nc net.Conn) {
	addr := nc.RemoteAddr().String()
	nc.SetDeadline(time.Now().Add(sshHandshakeTimeout)) //nolint:errcheck
	sconn, chans, reqs, err := ssh.NewServerConn(nc, l.config)
	if err != nil {
		nc.Close()
		l.report(ncerr.Setup("handshake", addr, err))
		return
	}
	nc.SetDeadline(time.Time{}) //nolint:errcheck
	go ssh.DiscardRequests(reqs)

	l.logger.Debug("ssh handshake from %s (user %q)", addr, sconn.User())

	claimed := false
	for newCh := range chans {
		if newCh.ChannelType() != "session" || claimed {
			newCh.Reject(ssh.UnknownChannelType, "one chat session per connection") //nolint:errcheck
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			l.report(ncerr.Setup("channel", addr, err))
			continue
		}
		claimed = true
		go acceptSessionRequests(requests)

		conn := newTermConn(ch, sconn, l.opts)
		select {
		case l.conns <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// acceptSessionRequests agrees to a shell and a pty so interactive
// clients start; everything else (exec, subsystem, env) is refused.
func acceptSessionRequests(in <-chan *ssh.Request) {
	for req := range in {
		ok := req.Type == "shell" || req.Type == "pty-req" || req.Type == "window-change"
		if req.WantReply {
			req.Reply(ok, nil) //nolint:errcheck
		}
	}
}

// terminalLineCap is term.Terminal's own line limit in runes.  Input
// beyond it is dropped by the terminal, so a line that reaches the cap
// may have been truncated.
const terminalLineCap = 4096

// termConn is a chat Conn over one SSH session channel.
type termConn struct {
	ch           ssh.Channel
	sconn        *ssh.ServerConn
	term         *term.Terminal
	maxLine      int
	writeTimeout time.Duration

	wmu  sync.Mutex
	once sync.Once
}

func newTermConn(ch ssh.Channel, sconn *ssh.ServerConn, opts LineOptions) *termConn {
	return &termConn{
		ch:           ch,
		sconn:        sconn,
		term:         term.NewTerminal(ch, ""),
		maxLine:      opts.maxLine(),
		writeTimeout: opts.WriteTimeout,
	}
}

// ReadLine returns the next edited line; io.EOF on Ctrl-D or channel
// close.  Lines longer than MaxLineBytes, or long enough to have hit
// the terminal's cap, fail with errors.ErrLineTooLong.
func (c *termConn) ReadLine() (string, error) {
	line, err := c.term.ReadLine()
	if err != nil {
		return "", err
	}
	if len(line) > c.maxLine || utf8.RuneCountInString(line) >= terminalLineCap {
		return "", ncerr.ErrLineTooLong
	}
	return line, nil
}

// WriteLine writes line through the terminal, which handles CRLF.  A
// write still blocked after WriteTimeout closes the connection.
func (c *termConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := writeWithin(c.writeTimeout, func() { c.Close() }, func() (int, error) {
		return c.term.Write([]byte(line + "\n"))
	})
	return err
}

// Close tears down the channel and the SSH connection carrying it.
func (c *termConn) Close() error {
	var err error
	c.once.Do(func() {
		c.ch.Close()
		err = c.sconn.Close()
	})
	return err
}

// RemoteAddr returns the SSH client's address.
func (c *termConn) RemoteAddr() net.Addr { return c.sconn.RemoteAddr() }

// writeWithin runs write, calling abort if it has not returned after
// timeout.  A write cut short that way reports os.ErrDeadlineExceeded.
// A zero timeout waits forever.
func writeWithin(timeout time.Duration, abort func(), write func() (int, error)) (int, error) {
	if timeout <= 0 {
		return write()
	}
	var expired atomic.Bool
	t := time.AfterFunc(timeout, func() {
		expired.Store(true)
		abort()
	})
	n, err := write()
	if !t.Stop() && expired.Load() {
		return n, fmt.Errorf("write: %w", os.ErrDeadlineExceeded)
	}
	return n, err
}
