package core

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/transport"
	"chatrelay/util"
)

// TestConnectMode_SendsName verifies the configured name is the first
// line and that stdin follows it.
func TestConnectMode_SendsName(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var lines []string
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		received <- lines
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mode := &ConnectMode{
		Dialer:  &transport.TCPDialer{Timeout: 2 * time.Second},
		Address: ln.Addr().String(),
		Name:    "Alice",
		Logger:  util.NewLogger(0),
		Stdin:   strings.NewReader("hello\nbye\n"),
		Stdout:  &bytes.Buffer{},
	}
	go mode.Run(ctx) //nolint:errcheck

	select {
	case got := <-received:
		want := []string{"Alice", "hello", "bye"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("server got %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for data")
	}
}

// TestConnectMode_PrintsRelay verifies lines from the relay reach stdout.
func TestConnectMode_PrintsRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("Bob: hi\n")) //nolint:errcheck
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	output := &bytes.Buffer{}
	mode := &ConnectMode{
		Dialer:  &transport.TCPDialer{Timeout: 2 * time.Second},
		Address: ln.Addr().String(),
		Logger:  util.NewLogger(0),
		Stdin:   strings.NewReader(""),
		Stdout:  output,
	}

	if err := mode.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := output.String(); got != "Bob: hi\n" {
		t.Errorf("output = %q, want %q", got, "Bob: hi\n")
	}
}

// TestConnectMode_DialError verifies an unreachable relay is reported.
func TestConnectMode_DialError(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	mode := &ConnectMode{
		Dialer:  &transport.TCPDialer{Timeout: time.Second},
		Address: util.FormatAddr("127.0.0.1", port),
		Logger:  util.NewLogger(0),
		Stdin:   strings.NewReader(""),
		Stdout:  &bytes.Buffer{},
	}
	err = mode.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connect to") {
		t.Fatalf("expected connect error, got %v", err)
	}
}
