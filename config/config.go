// Package config defines the runtime configuration for chatrelay and
// the layers it is assembled from: defaults, an optional YAML file,
// CHATRELAY_* environment variables and command-line flags.
package config

import (
	"time"

	ncerr "chatrelay/internal/errors"
	"chatrelay/internal/transport"
	"chatrelay/util"
)

// Config holds every tuneable for one chatrelay process.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host        string `yaml:"host"` // bind address (serve) or server host (connect)
	Port        int    `yaml:"port"`
	BindRetries int    `yaml:"bind_retries"`
	SSH         bool   `yaml:"ssh"`
	SSHHostKey  string `yaml:"ssh_host_key"` // PEM path; empty = ephemeral key

	// ── Publishing (ssh -R) ──────────────────────────────────────────
	Publish         string        `yaml:"publish"` // [user@]gateway[:port]; Host:Port bind on the gateway
	PublishKey      string        `yaml:"publish_key"`
	PublishAgent    bool          `yaml:"publish_agent"`
	PublishPassword bool          `yaml:"publish_password"`
	KnownHosts      string        `yaml:"known_hosts"`
	InsecureHostKey bool          `yaml:"insecure_host_key"`
	KeepAlive       time.Duration `yaml:"keepalive"`
	Reconnect       int           `yaml:"reconnect"`

	// ── Sessions ─────────────────────────────────────────────────────
	MaxSessions   int           `yaml:"max_sessions"`
	MaxLineBytes  int           `yaml:"max_line_bytes"`
	OutboundQueue int           `yaml:"outbound_queue"` // 0 = synchronous delivery
	RateLimit     float64       `yaml:"rate_limit"`     // lines/s per client, 0 = off
	RateBurst     int           `yaml:"rate_burst"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	GracePeriod   time.Duration `yaml:"grace_period"`

	// ── Client ───────────────────────────────────────────────────────
	Connect bool          `yaml:"-"` // positional HOST PORT given
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose"`
	LogJSON bool `yaml:"log_json"`

	// ── Process ──────────────────────────────────────────────────────
	ConfigFile string `yaml:"-"`
	Watch      bool   `yaml:"watch"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Port:          DefaultPort,
		BindRetries:   DefaultBindRetries,
		KeepAlive:     DefaultKeepAlive,
		Reconnect:     DefaultReconnect,
		MaxSessions:   DefaultMaxSessions,
		MaxLineBytes:  DefaultMaxLineBytes,
		OutboundQueue: DefaultOutboundQueue,
		RateBurst:     DefaultRateBurst,
		WriteTimeout:  DefaultWriteTimeout,
		GracePeriod:   DefaultGracePeriod,
		Timeout:       DefaultDialTimeout,
		Verbose:       DefaultVerbosity,
	}
}

// Addr returns Host:Port, bracketing IPv6 literals.
func (c *Config) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Failures are *errors.ConfigError.
func (c *Config) Validate() error {
	if c.Connect {
		if c.Host == "" {
			return &ncerr.ConfigError{Field: "host", Message: "server host is required",
				Hint: "usage: chatrelay HOST PORT"}
		}
		if c.Port < 1 || c.Port > 65535 {
			return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "must be 1-65535"}
		}
		if c.Timeout < 0 {
			return &ncerr.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
		}
		return nil
	}

	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "must be 0-65535",
			Hint: "0 picks a free port"}
	}
	if c.MaxSessions < 1 {
		return &ncerr.ConfigError{Field: "max-sessions", Value: c.MaxSessions, Message: "must be at least 1"}
	}
	if c.MaxLineBytes < 1 {
		return &ncerr.ConfigError{Field: "max-line", Value: c.MaxLineBytes, Message: "must be at least 1"}
	}
	if c.BindRetries < 0 {
		return &ncerr.ConfigError{Field: "bind-retries", Value: c.BindRetries, Message: "must not be negative"}
	}
	if c.OutboundQueue < 0 {
		return &ncerr.ConfigError{Field: "outbound-queue", Value: c.OutboundQueue, Message: "must not be negative",
			Hint: "use 0 for synchronous delivery"}
	}
	if c.RateLimit < 0 {
		return &ncerr.ConfigError{Field: "rate", Value: c.RateLimit, Message: "must not be negative",
			Hint: "use 0 to disable rate limiting"}
	}
	if c.RateBurst < 0 {
		return &ncerr.ConfigError{Field: "burst", Value: c.RateBurst, Message: "must not be negative"}
	}
	if c.WriteTimeout < 0 {
		return &ncerr.ConfigError{Field: "write-timeout", Value: c.WriteTimeout, Message: "must not be negative"}
	}
	if c.GracePeriod < 0 {
		return &ncerr.ConfigError{Field: "grace", Value: c.GracePeriod, Message: "must not be negative"}
	}
	if c.SSHHostKey != "" && !c.SSH {
		return &ncerr.ConfigError{Field: "ssh-host-key", Value: c.SSHHostKey, Message: "has no effect without --ssh",
			Hint: "add --ssh to serve chat over SSH"}
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if c.Watch && c.ConfigFile == "" {
		return &ncerr.ConfigError{Field: "watch", Message: "requires a config file",
			Hint: "pass --config FILE"}
	}
	return nil
}

func (c *Config) validatePublish() error {
	if c.Publish == "" {
		if c.PublishKey != "" {
			return &ncerr.ConfigError{Field: "publish-key", Value: c.PublishKey, Message: "has no effect without --publish"}
		}
		return nil
	}
	if _, err := transport.ParseGateway(c.Publish); err != nil {
		return &ncerr.ConfigError{Field: "publish", Value: c.Publish, Message: err.Error(),
			Hint: "expected [user@]host[:port]"}
	}
	if c.SSH {
		return &ncerr.ConfigError{Field: "publish", Value: c.Publish, Message: "cannot be combined with --ssh"}
	}
	if c.KeepAlive < 0 {
		return &ncerr.ConfigError{Field: "keepalive", Value: c.KeepAlive, Message: "must not be negative",
			Hint: "use 0 to disable keepalives"}
	}
	if c.Reconnect < 0 {
		return &ncerr.ConfigError{Field: "reconnect", Value: c.Reconnect, Message: "must not be negative"}
	}
	return nil
}
