// Package session represents a single chat connection lifecycle.
//
// A Session moves through Connecting → Active → Closed exactly once.
// The goroutine running Run owns the session: it is the only reader of
// the connection, and it alone performs the join and leave transitions.
// Other goroutines reach the session only through Send (broadcast
// delivery) and Close (shutdown).
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chatrelay/internal/broadcast"
	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/metrics"
	"chatrelay/internal/registry"
	"chatrelay/internal/transport"
	"chatrelay/util"
)

// State is a session lifecycle state.
type State int32

const (
	Connecting State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options wires a session to the relay.  Registry and Broadcaster are
// required; the rest may be zero.
type Options struct {
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Logger      *util.Logger
	Metrics     *metrics.Collector

	// OutboundQueue > 0 gives the session a buffered outbox drained by
	// its own sender goroutine, so Send never blocks the broadcaster.
	// A full outbox drops the line with errors.ErrOutboxFull.
	OutboundQueue int

	// RateLimit caps chat lines per second read from this client.
	// Zero disables limiting.  Excess lines are delayed, not dropped.
	RateLimit rate.Limit
	RateBurst int
}

// Session is the server side of one client connection.
type Session struct {
	id      string
	conn    transport.Conn
	opts    Options
	logger  *util.Logger
	limiter *rate.Limiter

	state   atomic.Int32
	name    atomic.Value // string, set once on identification
	closing atomic.Bool

	outbox chan string
	done   chan struct{}

	connOnce    sync.Once
	releaseOnce sync.Once
}

// New prepares a session in state Connecting.  It fails closed with a
// *errors.SetupError when the connection or the relay wiring is
// missing; the caller then closes the raw connection itself.
func New(conn transport.Conn, opts Options) (*Session, error) {
	if conn == nil {
		return nil, ncerr.Setup("session", "", errors.New("nil connection"))
	}
	addr := util.DescribeAddr(conn.RemoteAddr())
	if opts.Registry == nil || opts.Broadcaster == nil {
		return nil, ncerr.Setup("session", addr, errors.New("registry and broadcaster are required"))
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		conn:   conn,
		opts:   opts,
		logger: opts.Logger.With("session", id[:8]).With("remote", addr),
		done:   make(chan struct{}),
	}
	if opts.OutboundQueue > 0 {
		s.outbox = make(chan string, opts.OutboundQueue)
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Name returns the display name, or "" before identification.
func (s *Session) Name() string {
	n, _ := s.name.Load().(string)
	return n
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// RemoteAddr returns the client's address string.
func (s *Session) RemoteAddr() string { return util.DescribeAddr(s.conn.RemoteAddr()) }

// Run drives the session until the client goes away, ctx is cancelled
// or Close is called.  It returns nil for a normal disconnect or
// shutdown, *errors.ProtocolError when the stream ends before the
// identification line, and *errors.ConnectionError for an I/O failure.
// The connection is released before Run returns, on every path.
func (s *Session) Run(ctx context.Context) error {
	s.opts.Metrics.ConnectionOpened()
	defer s.release()

	stop := context.AfterFunc(ctx, s.closeConn)
	defer stop()

	if s.outbox != nil {
		go s.sendLoop()
	}

	// A session dequeued after shutdown never identifies, even if its
	// name is already buffered.
	if ctx.Err() != nil {
		s.state.Store(int32(Closed))
		return nil
	}

	name, err := s.conn.ReadLine()
	if err != nil {
		s.state.Store(int32(Closed))
		if ctx.Err() != nil || s.closing.Load() {
			return nil
		}
		return &ncerr.ProtocolError{Session: s.id, Err: err}
	}

	s.activate(name)
	defer s.deactivate()

	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if util.IsHarmless(err) || ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			return &ncerr.ConnectionError{Session: s.id, Op: "read", Err: err}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		s.opts.Metrics.MessageReceived()
		s.opts.Broadcaster.Broadcast(broadcast.Message{Text: name + ": " + line, From: s})
	}
}

// Send writes one line to the client.  It is safe to call from any
// goroutine while Run is blocked reading.  A write failure closes the
// connection, which in turn ends Run with a leave notification.
func (s *Session) Send(text string) error {
	if s.State() == Closed {
		return ncerr.ErrSessionClosed
	}
	if s.outbox == nil {
		return s.write(text)
	}
	select {
	case <-s.done:
		return ncerr.ErrSessionClosed
	default:
	}
	select {
	case s.outbox <- text:
		return nil
	default:
		return ncerr.ErrOutboxFull
	}
}

// Close requests shutdown of the session from outside.  It closes the
// transport, which unblocks Run; the leave notification, if any, is
// still sent exactly once by Run.
func (s *Session) Close() error {
	s.closing.Store(true)
	s.closeConn()
	return nil
}

// ── transitions ──────────────────────────────────────────────────────

func (s *Session) activate(name string) {
	s.name.Store(name)
	s.state.Store(int32(Active))
	s.opts.Registry.Add(s)
	s.opts.Metrics.SessionJoined()
	s.logger.Info("%s has joined", name)
	s.opts.Broadcaster.Broadcast(broadcast.Message{Text: name + " has joined the chat.", From: s})
}

// deactivate runs the leave path once, whichever cause got here first.
func (s *Session) deactivate() {
	if !s.state.CompareAndSwap(int32(Active), int32(Closed)) {
		return
	}
	name := s.Name()
	s.opts.Broadcaster.Broadcast(broadcast.Message{Text: name + " has left the chat.", From: s})
	s.opts.Registry.Remove(s)
	s.opts.Metrics.SessionLeft()
	s.logger.Info("%s has left", name)
}

// ── resources ────────────────────────────────────────────────────────

func (s *Session) closeConn() {
	s.connOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !util.IsHarmless(err) {
			s.logger.Debug("close: %v", err)
		}
	})
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.closeConn()
		close(s.done)
		s.opts.Metrics.ConnectionClosed()
	})
}

func (s *Session) write(text string) error {
	if err := s.conn.WriteLine(text); err != nil {
		s.Close() //nolint:errcheck
		return &ncerr.ConnectionError{Session: s.id, Op: "write", Err: err}
	}
	return nil
}

func (s *Session) sendLoop() {
	for {
		select {
		case <-s.done:
			return
		case line := <-s.outbox:
			if err := s.write(line); err != nil {
				s.logger.Verbose("%v", err)
			}
		}
	}
}
