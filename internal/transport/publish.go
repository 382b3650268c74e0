package transport

// publish.go - exposes the relay on a remote SSH gateway (ssh -R).
//
// Go's ssh.Client.Listen keys forwarded-tcpip channels by the exact
// bind address it sent, and many gateways echo back a different one
// ("0.0.0.0" for ""), so every channel would be rejected.  The
// listener below registers its own forwarded-tcpip handler and sends
// the tcpip-forward request itself.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/retry"
	"chatrelay/util"
)

// ── Gateway ──────────────────────────────────────────────────────────

// Gateway is the SSH server a relay is published on.
type Gateway struct {
	User string
	Host string
	Port int
}

// ParseGateway parses "[user@]host[:port]".  The user defaults to the
// current login and the port to 22.
func ParseGateway(s string) (Gateway, error) {
	var g Gateway
	if i := strings.LastIndex(s, "@"); i >= 0 {
		g.User, s = s[:i], s[i+1:]
	}
	g.Host, g.Port = s, 22
	if h, p, err := net.SplitHostPort(s); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Gateway{}, fmt.Errorf("invalid gateway port %q", p)
		}
		g.Host, g.Port = h, port
	}
	g.Host = strings.TrimSuffix(strings.TrimPrefix(g.Host, "["), "]")
	if g.Host == "" {
		return Gateway{}, errors.New("gateway host is empty")
	}
	if g.User == "" {
		if u, err := user.Current(); err == nil {
			g.User = u.Username
		}
	}
	return g, nil
}

// Addr returns host:port.
func (g Gateway) Addr() string { return util.FormatAddr(g.Host, g.Port) }

// PublishConfig describes how to reach the gateway and what to bind there.
type PublishConfig struct {
	Gateway Gateway

	// Remote listener on the gateway.  BindPort 0 lets the gateway pick.
	BindHost string
	BindPort int

	// Authentication, tried in this order.  With none set, the agent
	// and ~/.ssh/id_{ed25519,rsa,ecdsa} are tried.
	KeyPath        string
	UseAgent       bool
	PromptPassword bool

	// Host key verification against KnownHosts (~/.ssh/known_hosts
	// when empty) unless InsecureHostKey is set.
	KnownHosts      string
	InsecureHostKey bool

	Timeout   time.Duration // TCP dial + handshake
	KeepAlive time.Duration // 0 disables keepalives
	Reconnect int           // attempts after the gateway drops; 0 = none
}

// ── Listener ─────────────────────────────────────────────────────────

// PublishListener accepts chat clients that connect to a port on the
// gateway.  When the gateway connection drops it is re-established
// inside Accept, up to Reconnect attempts.
type PublishListener struct {
	cfg     PublishConfig
	opts    LineOptions
	logger  *util.Logger
	sshCfg  *ssh.ClientConfig
	backoff *retry.Backoff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	client   *ssh.Client
	incoming <-chan ssh.NewChannel
	port     int // port actually bound on the gateway
}

// Publish connects to the gateway and requests the remote listener.
// Authentication and host key setup errors are permanent; a failed
// dial or a refused forward may be retried by the caller.
func Publish(ctx context.Context, cfg PublishConfig, opts LineOptions, logger *util.Logger) (*PublishListener, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("auth: %w", err))
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("host key: %w", err))
	}

	l := &PublishListener{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		sshCfg: &ssh.ClientConfig{
			User:            cfg.Gateway.User,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         cfg.Timeout,
			// Gateways often announce the public address in the banner.
			BannerCallback: func(message string) error {
				logger.Info("%s", strings.TrimSpace(message))
				return nil
			},
		},
		backoff: &retry.Backoff{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			MaxAttempts:  cfg.Reconnect,
			Jitter:       true,
		},
		done: make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := l.connect(ctx); err != nil {
		l.cancel()
		return nil, err
	}
	return l, nil
}

// Accept waits for the next client forwarded by the gateway.  A
// channel that cannot be accepted yields a *errors.SetupError.
func (l *PublishListener) Accept() (Conn, error) {
	for {
		l.mu.Lock()
		incoming := l.incoming
		l.mu.Unlock()

		select {
		case <-l.done:
			return nil, net.ErrClosed
		case nc, ok := <-incoming:
			if !ok {
				if err := l.reconnect(); err != nil {
					return nil, err
				}
				continue
			}
			return l.open(nc)
		}
	}
}

// Close cancels the remote forward and disconnects from the gateway.
func (l *PublishListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.cancel()

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.client != nil {
			msg := forwardRequest{Addr: l.cfg.BindHost, Port: uint32(l.port)}
			l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
			l.client.Close()
			l.client = nil
		}
	})
	return nil
}

// Addr returns the address clients use on the gateway.
func (l *PublishListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gatewayAddr(util.FormatAddr(l.cfg.Gateway.Host, l.port))
}

// ── Connection management ────────────────────────────────────────────

func (l *PublishListener) connect(ctx context.Context) error {
	addr := l.cfg.Gateway.Addr()
	l.logger.Debug("publish: dialing %s as %s", addr, l.cfg.Gateway.User)

	d := net.Dialer{Timeout: l.cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	sconn, chans, reqs, err := ssh.NewClientConn(nc, addr, l.sshCfg)
	if err != nil {
		nc.Close()
		if isAuthFailure(err) {
			return retry.Permanent(fmt.Errorf("handshake %s: %w", addr, err))
		}
		return fmt.Errorf("handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sconn, chans, reqs)

	// Must be registered before the forward exists.
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		client.Close()
		return errors.New("forwarded-tcpip handler already registered")
	}

	req := forwardRequest{Addr: l.cfg.BindHost, Port: uint32(l.cfg.BindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&req))
	if err != nil {
		client.Close()
		return fmt.Errorf("tcpip-forward: %w", err)
	}
	if !ok {
		client.Close()
		return fmt.Errorf("gateway %s refused to listen on %s", addr,
			util.FormatAddr(l.cfg.BindHost, l.cfg.BindPort))
	}

	port := l.cfg.BindPort
	if port == 0 {
		var bound forwardReply
		if err := ssh.Unmarshal(reply, &bound); err == nil {
			port = int(bound.Port)
		}
	}

	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		client.Close()
		return retry.Permanent(net.ErrClosed)
	default:
	}
	l.client, l.incoming, l.port = client, incoming, port
	l.mu.Unlock()

	l.logger.Info("published on %s via %s", util.FormatAddr(l.cfg.BindHost, port), addr)

	if l.cfg.KeepAlive > 0 {
		go l.keepalive(client)
	}
	return nil
}

func (l *PublishListener) reconnect() error {
	l.mu.Lock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return net.ErrClosed
	default:
	}
	if l.cfg.Reconnect <= 0 {
		return fmt.Errorf("gateway %s closed the connection", l.cfg.Gateway.Addr())
	}
	l.logger.Warn("gateway %s dropped, reconnecting", l.cfg.Gateway.Addr())

	err := l.backoff.Do(l.ctx, func(attempt int) error {
		err := l.connect(l.ctx)
		if err != nil && !retry.IsPermanent(err) {
			l.logger.Warn("reconnect %d/%d: %v", attempt, l.cfg.Reconnect, err)
		}
		return err
	})
	if err != nil {
		if l.ctx.Err() != nil {
			return net.ErrClosed
		}
		return fmt.Errorf("gateway %s: %w", l.cfg.Gateway.Addr(), err)
	}
	return nil
}

// keepalive closes client once the gateway stops answering, which
// closes the incoming channel and lets Accept reconnect.
func (l *PublishListener) keepalive(client *ssh.Client) {
	t := time.NewTicker(l.cfg.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-t.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				if l.ctx.Err() == nil {
					l.logger.Verbose("publish keepalive: %v", err)
				}
				client.Close()
				return
			}
		}
	}
}

func (l *PublishListener) open(nc ssh.NewChannel) (Conn, error) {
	var origin forwardedPayload
	raddr := net.Addr(&net.TCPAddr{})
	if err := ssh.Unmarshal(nc.ExtraData(), &origin); err == nil {
		raddr = &net.TCPAddr{IP: net.ParseIP(origin.OriginAddr), Port: int(origin.OriginPort)}
	}

	ch, reqs, err := nc.Accept()
	if err != nil {
		return nil, ncerr.Setup("forward", raddr.String(), err)
	}
	go ssh.DiscardRequests(reqs)
	return NewLineConn(&channelConn{Channel: ch, raddr: raddr}, l.opts), nil
}

// ── Authentication ───────────────────────────────────────────────────

func authMethods(cfg PublishConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		m, err := publicKeyAuth(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", cfg.KeyPath, err)
		}
		methods = append(methods, m)
	}
	if cfg.UseAgent {
		m, err := agentAuth()
		if err != nil {
			return nil, fmt.Errorf("ssh-agent: %w", err)
		}
		methods = append(methods, m)
	}
	if cfg.PromptPassword {
		m, err := passwordAuth(cfg.Gateway)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}

	if len(methods) == 0 {
		methods = defaultAuthMethods()
	}
	if len(methods) == 0 {
		return nil, errors.New("no SSH authentication methods available; " +
			"use --publish-key, --publish-agent or --publish-password")
	}
	return methods, nil
}

func publicKeyAuth(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		pass, perr := readSecret(fmt.Sprintf("Enter passphrase for %s: ", path))
		if perr != nil {
			return nil, fmt.Errorf("reading passphrase: %w", perr)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, pass)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func agentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, errors.New("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func passwordAuth(g Gateway) (ssh.AuthMethod, error) {
	pass, err := readSecret(fmt.Sprintf("%s@%s's password: ", g.User, g.Host))
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return ssh.Password(string(pass)), nil
}

func defaultAuthMethods() []ssh.AuthMethod {
	var out []ssh.AuthMethod
	if m, err := agentAuth(); err == nil {
		out = append(out, m)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return out
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if m, err := publicKeyAuth(p); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func readSecret(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(fd)
}

func hostKeyCallback(cfg PublishConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureHostKey {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", path, err)
	}
	return cb, nil
}

// isAuthFailure reports handshake errors that retrying cannot fix.
func isAuthFailure(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts:")
}

// ── Wire formats (RFC 4254 §7) ───────────────────────────────────────

type forwardRequest struct {
	Addr string
	Port uint32
}

type forwardReply struct {
	Port uint32
}

type forwardedPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// gatewayAddr is the published address as seen by clients.
type gatewayAddr string

func (a gatewayAddr) Network() string { return "tcp" }
func (a gatewayAddr) String() string  { return string(a) }

// channelConn adapts an ssh.Channel to net.Conn.  Read deadlines are
// not supported.  A write deadline is enforced by closing the channel
// when it passes, which unblocks a write stalled on a full window.
type channelConn struct {
	ssh.Channel
	raddr net.Addr

	mu        sync.Mutex
	wdeadline time.Time
}

func (c *channelConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.wdeadline
	c.mu.Unlock()
	if deadline.IsZero() {
		return c.Channel.Write(p)
	}
	timeout := time.Until(deadline)
	if timeout <= 0 {
		return 0, fmt.Errorf("write: %w", os.ErrDeadlineExceeded)
	}
	return writeWithin(timeout, func() { c.Channel.Close() }, func() (int, error) {
		return c.Channel.Write(p)
	})
}

func (c *channelConn) SetDeadline(t time.Time) error { return c.SetWriteDeadline(t) }

func (c *channelConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.wdeadline = t
	c.mu.Unlock()
	return nil
}

func (c *channelConn) LocalAddr() net.Addr               { return &net.TCPAddr{} }
func (c *channelConn) RemoteAddr() net.Addr              { return c.raddr }
func (c *channelConn) SetReadDeadline(_ time.Time) error { return nil }
