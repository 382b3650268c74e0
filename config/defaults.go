package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the chat listen port.
	DefaultPort = 12345

	// DefaultMaxSessions is the number of sessions served concurrently.
	// Further connections are accepted and wait in the backlog.
	DefaultMaxSessions = 10

	// DefaultMaxLineBytes bounds one inbound line, newline excluded.
	DefaultMaxLineBytes = 64 * 1024

	// DefaultBindRetries is how many extra attempts are made to bind
	// the listen port before giving up.
	DefaultBindRetries = 5

	// DefaultKeepAlive is the interval between keepalives to a
	// publish gateway.
	DefaultKeepAlive = 30 * time.Second

	// DefaultReconnect is how many times a dropped publish gateway
	// connection is re-established before the relay gives up.
	DefaultReconnect = 10

	// DefaultOutboundQueue of 0 writes broadcasts synchronously on the
	// sender's goroutine.
	DefaultOutboundQueue = 0

	// DefaultRateBurst is the burst allowed when a rate limit is set.
	DefaultRateBurst = 5

	// DefaultWriteTimeout bounds a single write to a slow client.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultGracePeriod is how long shutdown waits for sessions to
	// send their leave notifications.
	DefaultGracePeriod = 5 * time.Second

	// DefaultDialTimeout is the client's connect timeout.
	DefaultDialTimeout = 10 * time.Second

	// DefaultVerbosity prints normal operational messages.
	DefaultVerbosity = 1

	// EnvPrefix prefixes every supported environment variable.
	EnvPrefix = "CHATRELAY_"
)
