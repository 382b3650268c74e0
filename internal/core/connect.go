package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"chatrelay/internal/transport"
	"chatrelay/util"
)

// namePrompt is shown when the client runs on a terminal without --name.
const namePrompt = "Enter your name: "

// ConnectMode is the line client: it dials a relay, identifies, and
// pipes stdin to the relay and the relay to stdout.
type ConnectMode struct {
	Dialer  transport.Dialer
	Address string
	Name    string // sent as the first line when set
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ConnectMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ConnectMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run dials the relay and relays lines until either side closes or
// ctx is cancelled.  The connection is closed when Run returns.
func (m *ConnectMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("connecting to %s", m.Address)

	conn, err := m.Dialer.Dial(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", m.Address, err)
	}
	defer conn.Close()

	m.Logger.Verbose("connected to %s", conn.RemoteAddr())

	if m.Name != "" {
		if _, err := io.WriteString(conn, m.Name+"\n"); err != nil {
			return fmt.Errorf("sending name: %w", err)
		}
	} else if isTerminal(m.stdin()) {
		// The first line typed becomes the name.
		fmt.Fprint(m.stdout(), namePrompt) //nolint:errcheck
	}

	return util.BidirectionalCopy(ctx, conn, m.stdin(), m.stdout())
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
