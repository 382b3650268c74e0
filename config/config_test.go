package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	ncerr "chatrelay/internal/errors"
)

// ── Default ──────────────────────────────────────────────────────────

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Port != 12345 {
		t.Errorf("Port = %d, want 12345", cfg.Port)
	}
	if cfg.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d, want 10", cfg.MaxSessions)
	}
	if cfg.OutboundQueue != 0 {
		t.Errorf("OutboundQueue = %d, want 0", cfg.OutboundQueue)
	}
	if cfg.Verbose != DefaultVerbosity {
		t.Errorf("Verbose = %d, want %d", cfg.Verbose, DefaultVerbosity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 12345, ":12345"},
		{"127.0.0.1", 80, "127.0.0.1:80"},
		{"::1", 9000, "[::1]:9000"},
	}
	for _, tt := range tests {
		cfg := &Config{Host: tt.host, Port: tt.port}
		if got := cfg.Addr(); got != tt.want {
			t.Errorf("Addr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	valid := func(mut func(c *Config)) Config {
		c := Default()
		mut(c)
		return *c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantField string // empty = valid
	}{
		{"defaults", valid(func(c *Config) {}), ""},
		{"ephemeral port", valid(func(c *Config) { c.Port = 0 }), ""},
		{"port too large", valid(func(c *Config) { c.Port = 70000 }), "port"},
		{"no sessions", valid(func(c *Config) { c.MaxSessions = 0 }), "max-sessions"},
		{"zero line", valid(func(c *Config) { c.MaxLineBytes = 0 }), "max-line"},
		{"negative queue", valid(func(c *Config) { c.OutboundQueue = -1 }), "outbound-queue"},
		{"negative rate", valid(func(c *Config) { c.RateLimit = -0.5 }), "rate"},
		{"negative burst", valid(func(c *Config) { c.RateBurst = -1 }), "burst"},
		{"negative write timeout", valid(func(c *Config) { c.WriteTimeout = -time.Second }), "write-timeout"},
		{"negative grace", valid(func(c *Config) { c.GracePeriod = -time.Second }), "grace"},
		{"negative bind retries", valid(func(c *Config) { c.BindRetries = -1 }), "bind-retries"},
		{"host key without ssh", valid(func(c *Config) { c.SSHHostKey = "/etc/key" }), "ssh-host-key"},
		{"host key with ssh", valid(func(c *Config) { c.SSH = true; c.SSHHostKey = "/etc/key" }), ""},
		{"publish", valid(func(c *Config) { c.Publish = "relay@gw:2222" }), ""},
		{"publish bad gateway", valid(func(c *Config) { c.Publish = "relay@gw:ssh" }), "publish"},
		{"publish with ssh", valid(func(c *Config) { c.Publish = "gw"; c.SSH = true }), "publish"},
		{"publish key alone", valid(func(c *Config) { c.PublishKey = "/k" }), "publish-key"},
		{"negative keepalive", valid(func(c *Config) { c.Publish = "gw"; c.KeepAlive = -time.Second }), "keepalive"},
		{"negative reconnect", valid(func(c *Config) { c.Publish = "gw"; c.Reconnect = -1 }), "reconnect"},
		{"watch without file", valid(func(c *Config) { c.Watch = true }), "watch"},
		{"watch with file", valid(func(c *Config) { c.Watch = true; c.ConfigFile = "relay.yaml" }), ""},
		// ── connect mode ───────────────────────────────────────
		{"valid connect", valid(func(c *Config) { c.Connect = true; c.Host = "localhost" }), ""},
		{"connect no host", valid(func(c *Config) { c.Connect = true }), "host"},
		{"connect port zero", valid(func(c *Config) { c.Connect = true; c.Host = "x"; c.Port = 0 }), "port"},
		{"connect negative timeout", valid(func(c *Config) { c.Connect = true; c.Host = "x"; c.Timeout = -1 }), "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ce *ncerr.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

// TestValidate_Hints verifies that the common mistakes carry a hint.
func TestValidate_Hints(t *testing.T) {
	cfg := Default()
	cfg.Watch = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hint:") {
		t.Errorf("expected hint in %v", err)
	}
}
