package config

// loader.go - configuration loading from a YAML file and from
// environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ── Config file ──────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file keep their current value; unknown keys are an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	return decodeYAML(path, data, cfg)
}

func decodeYAML(path string, data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty file
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the CHATRELAY_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("750ms", "5s") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("PORT"); v > 0 {
		cfg.Port = v
	}
	if v := envInt("BIND_RETRIES"); v > 0 {
		cfg.BindRetries = v
	}
	if envBool("SSH") {
		cfg.SSH = true
	}
	if v := os.Getenv(EnvPrefix + "SSH_HOST_KEY"); v != "" {
		cfg.SSHHostKey = v
	}

	// Publishing
	if v := os.Getenv(EnvPrefix + "PUBLISH"); v != "" {
		cfg.Publish = v
	}
	if v := os.Getenv(EnvPrefix + "PUBLISH_KEY"); v != "" {
		cfg.PublishKey = v
	}
	if envBool("PUBLISH_AGENT") {
		cfg.PublishAgent = true
	}
	if envBool("PUBLISH_PASSWORD") {
		cfg.PublishPassword = true
	}
	if v := os.Getenv(EnvPrefix + "KNOWN_HOSTS"); v != "" {
		cfg.KnownHosts = v
	}
	if envBool("INSECURE_HOST_KEY") {
		cfg.InsecureHostKey = true
	}
	if v := envDuration("KEEPALIVE"); v > 0 {
		cfg.KeepAlive = v
	}
	if v := envInt("RECONNECT"); v > 0 {
		cfg.Reconnect = v
	}

	// Sessions
	if v := envInt("MAX_SESSIONS"); v > 0 {
		cfg.MaxSessions = v
	}
	if v := envInt("MAX_LINE"); v > 0 {
		cfg.MaxLineBytes = v
	}
	if v := envInt("OUTBOUND_QUEUE"); v > 0 {
		cfg.OutboundQueue = v
	}
	if v := envFloat("RATE"); v > 0 {
		cfg.RateLimit = v
	}
	if v := envInt("BURST"); v > 0 {
		cfg.RateBurst = v
	}
	if v := envDuration("WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = v
	}
	if v := envDuration("GRACE"); v > 0 {
		cfg.GracePeriod = v
	}

	// Client
	if v := os.Getenv(EnvPrefix + "NAME"); v != "" {
		cfg.Name = v
	}
	if v := envDuration("TIMEOUT"); v > 0 {
		cfg.Timeout = v
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("LOG_JSON") {
		cfg.LogJSON = true
	}
	if envBool("WATCH") {
		cfg.Watch = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(EnvPrefix + key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return secondsDuration(sec)
	}
	return 0
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
