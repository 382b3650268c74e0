package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatrelay/config"
	ncerr "chatrelay/internal/errors"
)

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	err := Execute(context.Background(), []string{"--version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_Help verifies --help and -h return without error.
func TestExecute_Help(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		t.Run(arg, func(t *testing.T) {
			if err := Execute(context.Background(), []string{arg}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly in
// both modes.
func TestExecute_DryRun(t *testing.T) {
	for _, args := range [][]string{
		{"--dry-run"},
		{"-p", "4000", "-m", "3", "--rate", "2", "--dry-run"},
		{"--ssh", "--dry-run"},
		{"-n", "Alice", "localhost", "12345", "--dry-run"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	err := Execute(context.Background(), []string{"--max-sessions", "0", "--dry-run"})
	var ce *ncerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"--nonexistent-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_Positional verifies argument count and port checks.
func TestExecute_Positional(t *testing.T) {
	tests := []struct {
		args    []string
		wantSub string
	}{
		{[]string{"localhost"}, "port required"},
		{[]string{"localhost", "80", "81"}, "too many arguments"},
		{[]string{"localhost", "http"}, "invalid port"},
		{[]string{"localhost", "0", "--dry-run"}, "must be 1-65535"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			err := Execute(context.Background(), tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

// TestExecute_MissingConfigFile verifies a bad --config path is reported.
func TestExecute_MissingConfigFile(t *testing.T) {
	err := Execute(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "--dry-run"})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// ── resolve ──────────────────────────────────────────────────────────

// TestResolve_Precedence verifies defaults < file < env < flags.
func TestResolve_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "port: 2000\nmax_sessions: 7\nrate_limit: 1\ngrace_period: 9s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATRELAY_PORT", "3000")
	t.Setenv("CHATRELAY_MAX_SESSIONS", "8")

	cfg, _, _, err := resolve([]string{"--config", path, "-m", "20"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GracePeriod != 9*time.Second {
		t.Errorf("GracePeriod = %v, want file value 9s", cfg.GracePeriod)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want env value 3000", cfg.Port)
	}
	if cfg.MaxSessions != 20 {
		t.Errorf("MaxSessions = %d, want flag value 20", cfg.MaxSessions)
	}
	if cfg.RateLimit != 1 {
		t.Errorf("RateLimit = %v, want file value 1", cfg.RateLimit)
	}
	if cfg.MaxLineBytes != config.DefaultMaxLineBytes {
		t.Errorf("MaxLineBytes = %d, want default", cfg.MaxLineBytes)
	}
}

// TestResolve_Verbosity verifies -v stacks on the configured level and
// -q silences everything.
func TestResolve_Verbosity(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, config.DefaultVerbosity},
		{[]string{"-v"}, config.DefaultVerbosity + 1},
		{[]string{"-vv"}, config.DefaultVerbosity + 2},
		{[]string{"-q"}, 0},
		{[]string{"-vv", "-q"}, 0},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cfg, _, _, err := resolve(tt.args, io.Discard)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Verbose != tt.want {
				t.Errorf("Verbose = %d, want %d", cfg.Verbose, tt.want)
			}
		})
	}
}

// TestResolve_ConnectMode verifies HOST PORT selects the client.
func TestResolve_ConnectMode(t *testing.T) {
	cfg, _, _, err := resolve([]string{"-n", "Bob", "chat.local", "4000"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Connect || cfg.Host != "chat.local" || cfg.Port != 4000 || cfg.Name != "Bob" {
		t.Errorf("cfg = %+v", cfg)
	}
}
