// Package cmd wires up the CLI flags and dispatches to the relay core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"chatrelay/config"
	"chatrelay/internal/core"
	"chatrelay/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatrelay/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// cliOptions are the flags that steer the CLI itself rather than the relay.
type cliOptions struct {
	dryRun  bool
	version bool
	help    bool
	quiet   bool
	verbose int // -v count, added to the configured verbosity
}

// Execute parses args and runs the relay server, or the line client
// when HOST PORT are given.
func Execute(ctx context.Context, args []string) error {
	cfg, opts, fs, err := resolve(args, os.Stderr)
	if err != nil {
		return err
	}

	if opts.help {
		printUsage(fs)
		return nil
	}
	if opts.version {
		fmt.Printf("chatrelay %s\n", version)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if opts.dryRun {
		printSummary(os.Stdout, cfg)
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	logger.SetJSON(cfg.LogJSON)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}

	if r, ok := mode.(core.Reloadable); ok && cfg.Watch {
		go watchConfig(ctx, cfg.ConfigFile, args, logger, r)
	}
	return mode.Run(ctx)
}

// resolve assembles the configuration: defaults, then the config file,
// then CHATRELAY_* variables, then flags.  The flags are parsed twice:
// once to find --config, and once more on top of the file and
// environment so that only flags actually given override them.
func resolve(args []string, usageOut io.Writer) (*config.Config, *cliOptions, *flag.FlagSet, error) {
	scratch := config.Default()
	pre := newFlagSet(scratch, &cliOptions{}, io.Discard)
	pre.Usage = func() {}
	if err := pre.Parse(args); err != nil {
		return nil, nil, nil, err
	}

	cfg := config.Default()
	cfg.ConfigFile = scratch.ConfigFile
	if cfg.ConfigFile != "" {
		if err := config.LoadFile(cfg.ConfigFile, cfg); err != nil {
			return nil, nil, nil, err
		}
	}
	config.LoadFromEnv(cfg)

	opts := &cliOptions{}
	fs := newFlagSet(cfg, opts, usageOut)
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	cfg.Verbose += opts.verbose
	if opts.quiet {
		cfg.Verbose = 0
	}
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, nil, nil, err
	}
	return cfg, opts, fs, nil
}

// newFlagSet binds every flag to cfg, using cfg's current values as
// the defaults.
func newFlagSet(cfg *config.Config, opts *cliOptions, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("chatrelay", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false

	// ── listener ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Host, "bind", "b", cfg.Host, "Address to listen on (empty = all interfaces)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	fs.IntVar(&cfg.BindRetries, "bind-retries", cfg.BindRetries, "Extra attempts if the port is busy")
	fs.BoolVar(&cfg.SSH, "ssh", cfg.SSH, "Serve chat over SSH instead of plain TCP")
	fs.StringVar(&cfg.SSHHostKey, "ssh-host-key", cfg.SSHHostKey, "SSH host key file (ephemeral if empty)")

	// ── publishing ───────────────────────────────────────────────────
	fs.StringVar(&cfg.Publish, "publish", cfg.Publish, "Serve on a port of this SSH gateway ([user@]host[:port]) instead of locally")
	fs.StringVar(&cfg.PublishKey, "publish-key", cfg.PublishKey, "Private key for the gateway")
	fs.BoolVar(&cfg.PublishAgent, "publish-agent", cfg.PublishAgent, "Authenticate to the gateway with ssh-agent")
	fs.BoolVar(&cfg.PublishPassword, "publish-password", cfg.PublishPassword, "Prompt for the gateway password")
	fs.StringVar(&cfg.KnownHosts, "known-hosts", cfg.KnownHosts, "known_hosts file for the gateway (default ~/.ssh/known_hosts)")
	fs.BoolVar(&cfg.InsecureHostKey, "insecure-host-key", cfg.InsecureHostKey, "Skip gateway host key verification")
	fs.DurationVar(&cfg.KeepAlive, "keepalive", cfg.KeepAlive, "Gateway keepalive interval (0 = off)")
	fs.IntVar(&cfg.Reconnect, "reconnect", cfg.Reconnect, "Reconnect attempts when the gateway drops")

	// ── sessions ─────────────────────────────────────────────────
	fs.IntVarP(&cfg.MaxSessions, "max-sessions", "m", cfg.MaxSessions, "Sessions served concurrently; extra connections wait")
	fs.IntVar(&cfg.MaxLineBytes, "max-line", cfg.MaxLineBytes, "Longest accepted line in bytes")
	fs.IntVar(&cfg.OutboundQueue, "outbound-queue", cfg.OutboundQueue, "Per-session send buffer in lines (0 = synchronous)")
	fs.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "Lines per second per client (0 = unlimited)")
	fs.IntVar(&cfg.RateBurst, "burst", cfg.RateBurst, "Burst allowed above --rate")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Timeout for one write to a client")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Shutdown grace period")

	// ── client ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Name, "name", "n", cfg.Name, "Client: name to join with (prompted if empty)")
	fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Client: connect timeout")

	// ── config ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Reload the config file when it changes")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Log JSON lines instead of console text")

	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&opts.version, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.help, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional selects the mode: no arguments serve, HOST PORT connect.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 2:
		port, err := strconv.Atoi(remaining[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", remaining[1])
		}
		cfg.Connect = true
		cfg.Host = remaining[0]
		cfg.Port = port
		return nil
	case 1:
		return fmt.Errorf("port required (usage: chatrelay HOST PORT)")
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
}

// watchConfig re-resolves the whole configuration on every file change
// so that env and flags keep their precedence over the file.
func watchConfig(ctx context.Context, path string, args []string, logger *util.Logger, r core.Reloadable) {
	err := config.Watch(ctx, path, logger, func() {
		next, _, _, err := resolve(args, io.Discard)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			logger.Warn("config reload rejected: %v", err)
			return
		}
		r.Apply(next)
	})
	if err != nil {
		logger.Warn("config watch: %v", err)
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	if cfg.Connect {
		fmt.Fprintf(w, "mode: connect\naddress: %s\nname: %q\n", cfg.Addr(), cfg.Name)
		return
	}
	transport := "tcp"
	switch {
	case cfg.SSH:
		transport = "ssh"
	case cfg.Publish != "":
		transport = "published via " + cfg.Publish
	}
	fmt.Fprintf(w, "mode: serve\naddress: %s (%s)\nmax sessions: %d\noutbound queue: %d\nrate: %g/s burst %d\n",
		cfg.Addr(), transport, cfg.MaxSessions, cfg.OutboundQueue, cfg.RateLimit, cfg.RateBurst)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatrelay – line-oriented TCP chat relay v%s

Every line a client sends is relayed to every other client.  The first
line a client sends is its name.

Usage:
  chatrelay [options]                 Serve (default port %d)
  chatrelay [options] HOST PORT       Connect as a client

Options:
`, version, config.DefaultPort)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option may also be set as %sNAME, e.g. %sPORT=4000.

Examples:
  chatrelay                           Serve on :%d
  chatrelay -p 4000 -m 50             Serve 50 sessions on :4000
  chatrelay --ssh -p 2222             Serve over SSH (ssh -p 2222 host)
  chatrelay --publish me@gw -p 9000   Serve on gw:9000 through an SSH tunnel
  chatrelay -n Alice localhost 12345  Join as Alice
`, config.EnvPrefix, config.EnvPrefix, config.DefaultPort)
}
