package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"chatrelay/config"
	"chatrelay/internal/broadcast"
	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/retry"
	"chatrelay/internal/session"
	"chatrelay/internal/transport"
	"chatrelay/internal/workpool"
	"chatrelay/util"
)

// Tuning holds the per-session settings that can change while the
// relay is running.  New values apply to sessions accepted afterwards.
type Tuning struct {
	OutboundQueue int
	RateLimit     float64 // lines/s, 0 = unlimited
	RateBurst     int
}

// ServeMode is the chat relay server.  It accepts connections for as
// long as its context lives, serving at most MaxSessions of them at a
// time; the rest wait in an unbounded backlog.
type ServeMode struct {
	Address     string
	SSH         bool
	SSHHostKey  string // PEM path; empty = ephemeral key
	Publish     *transport.PublishConfig // non-nil: accept through an SSH gateway
	Line        transport.LineOptions
	MaxSessions int
	BindRetries int
	GracePeriod time.Duration
	Tuning      Tuning
	Logger      *util.Logger
	Metrics     *metrics.Collector

	once     sync.Once
	registry *registry.Registry
	bcast    *broadcast.Broadcaster

	mu     sync.RWMutex
	tuning Tuning
}

func (m *ServeMode) init() {
	m.once.Do(func() {
		m.registry = registry.New()
		m.bcast = broadcast.New(m.registry, m.Logger, m.Metrics)
		m.tuning = m.Tuning
	})
}

// Run binds the configured address and serves until ctx is done.
func (m *ServeMode) Run(ctx context.Context) error {
	ln, err := m.listen(ctx)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln)
}

// Serve runs the accept loop on ln until ctx is done or the listener
// fails permanently.  On return the listener is closed, active
// sessions have been told to leave and the grace period has elapsed
// or every session has finished.
//
// A cancelled context is a clean shutdown and yields nil.  A
// permanent accept failure yields *errors.ServerError.
func (m *ServeMode) Serve(ctx context.Context, ln transport.Listener) error {
	m.init()
	addr := util.DescribeAddr(ln.Addr())
	m.Logger.Info("chat relay listening on %s (%d concurrent sessions)", addr, m.maxSessions())

	pool := workpool.New(m.maxSessions())
	sessCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	stop := context.AfterFunc(ctx, func() { ln.Close() }) //nolint:errcheck
	defer stop()

	notify(m.Logger, daemon.SdNotifyReady)
	err := m.acceptLoop(ctx, sessCtx, ln, pool)

	notify(m.Logger, daemon.SdNotifyStopping)
	ln.Close() //nolint:errcheck
	m.shutdown(pool, cancelSessions)

	if err != nil {
		m.Logger.Error("%v", err)
	}
	m.Logger.Verbose("metrics: %s", m.Metrics.JSON())
	return err
}

// Apply updates the hot-reloadable settings from cfg.  Settings that
// need a new listener are reported and left unchanged.
func (m *ServeMode) Apply(cfg *config.Config) {
	m.init()
	m.mu.Lock()
	m.tuning = Tuning{
		OutboundQueue: cfg.OutboundQueue,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
	}
	m.mu.Unlock()

	m.Logger.SetLevel(cfg.Verbose)
	m.Logger.SetJSON(cfg.LogJSON)

	published := cfg.Publish != ""
	if cfg.Addr() != m.Address || cfg.SSH != m.SSH || published != (m.Publish != nil) ||
		cfg.MaxSessions != m.maxSessions() {
		m.Logger.Warn("listener settings changed; restart to apply them")
	}
	m.Logger.Info("configuration reloaded")
}

// Sessions returns the number of identified sessions.
func (m *ServeMode) Sessions() int {
	m.init()
	return m.registry.Len()
}

// ── listener ─────────────────────────────────────────────────────────

func (m *ServeMode) listen(ctx context.Context) (transport.Listener, error) {
	open := func() (transport.Listener, error) {
		switch {
		case m.Publish != nil:
			return transport.Publish(ctx, *m.Publish, m.Line, m.Logger)
		case m.SSH:
			key, err := transport.LoadHostKey(m.SSHHostKey)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			return transport.ListenSSH(m.Address, key, m.Line, m.Logger)
		default:
			return transport.ListenTCP(ctx, m.Address, m.Line)
		}
	}

	bind := retry.DefaultBackoff()
	bind.InitialDelay = 500 * time.Millisecond
	bind.MaxDelay = 5 * time.Second
	bind.MaxAttempts = m.BindRetries + 1

	var ln transport.Listener
	err := bind.Do(ctx, func(attempt int) error {
		l, err := open()
		if err != nil {
			if attempt <= m.BindRetries && !retry.IsPermanent(err) {
				m.Logger.Warn("bind %s failed (attempt %d): %v", m.Address, attempt, err)
			}
			return err
		}
		ln = l
		return nil
	})
	if err != nil {
		return nil, ncerr.Server("listen", m.Address, err)
	}
	return ln, nil
}

// ── accept loop ──────────────────────────────────────────────────────

func (m *ServeMode) acceptLoop(ctx, sessCtx context.Context, ln transport.Listener, pool *workpool.Pool) error {
	backoff := retry.AcceptBackoff()
	failures := 0

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ncerr.IsSetup(err) {
				m.Logger.Verbose("%v", err)
				m.Metrics.RecordError(err.Error())
				continue
			}
			if ncerr.IsTemporary(err) {
				failures++
				d := backoff.Delay(failures)
				m.Logger.Warn("accept: %v; retrying in %v", err, d)
				m.Metrics.RecordError(err.Error())
				if retry.Sleep(ctx, d) != nil {
					return nil
				}
				continue
			}
			m.Metrics.RecordError(err.Error())
			return ncerr.Server("accept", util.DescribeAddr(ln.Addr()), err)
		}
		failures = 0
		m.dispatch(sessCtx, conn, pool)
	}
}

// dispatch wraps conn in a session and queues it.  Accept never waits
// for a free worker.
func (m *ServeMode) dispatch(ctx context.Context, conn transport.Conn, pool *workpool.Pool) {
	s, err := session.New(conn, m.sessionOptions())
	if err != nil {
		m.Logger.Warn("%v", err)
		m.Metrics.RecordError(err.Error())
		conn.Close() //nolint:errcheck
		return
	}

	if err := pool.Submit(func() { m.runSession(ctx, s) }); err != nil {
		s.Close() //nolint:errcheck
		return
	}
	if queued := pool.Queued(); queued > 0 {
		m.Logger.Verbose("connection from %s queued (%d waiting)", s.RemoteAddr(), queued)
	} else {
		m.Logger.Debug("connection from %s", s.RemoteAddr())
	}
}

func (m *ServeMode) runSession(ctx context.Context, s *session.Session) {
	err := s.Run(ctx)
	var pe *ncerr.ProtocolError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		m.Logger.Verbose("%v", err)
	default:
		m.Logger.Warn("%v", err)
		m.Metrics.RecordError(err.Error())
	}
}

func (m *ServeMode) sessionOptions() session.Options {
	m.mu.RLock()
	t := m.tuning
	m.mu.RUnlock()
	return session.Options{
		Registry:      m.registry,
		Broadcaster:   m.bcast,
		Logger:        m.Logger,
		Metrics:       m.Metrics,
		OutboundQueue: t.OutboundQueue,
		RateLimit:     rate.Limit(t.RateLimit),
		RateBurst:     t.RateBurst,
	}
}

// ── shutdown ─────────────────────────────────────────────────────────

// shutdown stops admission, cancels every session and waits up to the
// grace period for them to finish.  Queued sessions run and close
// immediately because their context is already cancelled.
func (m *ServeMode) shutdown(pool *workpool.Pool, cancelSessions context.CancelFunc) {
	pool.Shutdown()
	cancelSessions()

	grace := m.GracePeriod
	if grace <= 0 {
		grace = config.DefaultGracePeriod
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := pool.Wait(ctx); err != nil {
		m.Logger.Warn("%d sessions still running after %v", pool.Running(), grace)
		return
	}
	m.Logger.Verbose("all sessions closed")
}

func (m *ServeMode) maxSessions() int {
	if m.MaxSessions < 1 {
		return 1
	}
	return m.MaxSessions
}

// notify reports state to systemd when running under a notify unit.
// Outside systemd it is a no-op.
func notify(logger *util.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Debug("sd_notify %s: %v", state, err)
		return
	}
	if sent {
		logger.Debug("sd_notify %s", state)
	}
}
