package errors

import (
	"fmt"
	"io"
	"net"
	"testing"
)

func TestStructuredErrors_Format(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "connection",
			err:  &ConnectionError{Session: "s1", Op: "read", Err: io.ErrUnexpectedEOF},
			want: "session s1: read: unexpected EOF",
		},
		{
			name: "protocol",
			err:  &ProtocolError{Session: "s2", Err: io.EOF},
			want: "session s2: closed before identification: EOF",
		},
		{
			name: "setup with addr",
			err:  Setup("handshake", "10.0.0.1:5555", fmt.Errorf("bad version")),
			want: "setup handshake 10.0.0.1:5555: bad version",
		},
		{
			name: "setup without addr",
			err:  Setup("session", "", fmt.Errorf("nil conn")),
			want: "setup session: nil conn",
		},
		{
			name: "server",
			err:  Server("accept", ":12345", fmt.Errorf("bad file descriptor")),
			want: "accept :12345: bad file descriptor",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStructuredErrors_Unwrap(t *testing.T) {
	for _, err := range []error{
		&ConnectionError{Session: "x", Op: "read", Err: io.EOF},
		&ProtocolError{Session: "x", Err: io.EOF},
		Setup("keepalive", "x", io.EOF),
		Server("listen", "x", io.EOF),
	} {
		if !Is(err, io.EOF) {
			t.Errorf("%T should unwrap to io.EOF", err)
		}
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 0-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 0-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "name",
				Message: "required when stdin is not a terminal",
			},
			want: "config: --name: required when stdin is not a terminal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", fmt.Errorf("boom"), false},
		{
			"temporary op error",
			&net.OpError{Op: "accept", Net: "tcp", Err: &net.DNSError{IsTemporary: true}},
			true,
		},
		{
			"permanent op error",
			&net.OpError{Op: "accept", Net: "tcp", Err: net.ErrClosed},
			false,
		},
		{
			"server error is never temporary",
			Server("accept", "x", &net.OpError{Op: "accept", Err: &net.DNSError{IsTemporary: true}}),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSetup(t *testing.T) {
	if !IsSetup(fmt.Errorf("wrapped: %w", Setup("handshake", "", io.EOF))) {
		t.Error("wrapped SetupError should be detected")
	}
	if IsSetup(io.EOF) {
		t.Error("io.EOF is not a SetupError")
	}
}

func TestSentinels(t *testing.T) {
	// Verify sentinel errors are distinct.
	sentinels := []error{
		ErrSessionClosed, ErrOutboxFull, ErrPoolClosed, ErrLineTooLong,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
