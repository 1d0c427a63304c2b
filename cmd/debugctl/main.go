// Command debugctl drives a remote debugger session from the shell. The
// session is persisted between invocations so each command restores it,
// acts, and exits without detaching.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/ggoodman/debugsession-go/debugger"
	"github.com/ggoodman/debugsession-go/resolver"
	"github.com/ggoodman/debugsession-go/store"
	"github.com/ggoodman/debugsession-go/store/file"
	"github.com/ggoodman/debugsession-go/transport"
	"github.com/ggoodman/debugsession-go/transport/httprpc"
	"github.com/ggoodman/debugsession-go/transport/natsbus"
	"github.com/ggoodman/debugsession-go/transport/redisbus"
	"github.com/ggoodman/debugsession-go/transport/streamrpc"
)

const defaultTimeout = 15 * time.Second

// backend is a connected transport and the function that releases it.
type backend struct {
	tr    transport.Transport
	close func() error
}

type dialFunc func(ctx context.Context, r *rootOptions) (*backend, error)

type rootOptions struct {
	configPath  string
	profileName string
	kind        string
	streamAddr  string
	rpcURL      string
	redisAddr   string
	natsURL     string
	stateDir    string
	sourceRoots []string
	extension   string
	timeout     time.Duration
	verbose     bool

	log   *slog.Logger
	dial  dialFunc
	store store.Store
}

// prepare layers the profile under the flags and fills remaining defaults.
func (r *rootOptions) prepare(stderr io.Writer) error {
	cfg, err := LoadConfig(r.configPath)
	if err != nil {
		return err
	}
	p, _, err := cfg.Resolve(r.profileName)
	if err != nil {
		return err
	}
	if p != nil {
		fill(&r.kind, p.Transport)
		fill(&r.streamAddr, p.StreamAddr)
		fill(&r.rpcURL, p.RPCURL)
		fill(&r.redisAddr, p.RedisAddr)
		fill(&r.natsURL, p.NATSURL)
		fill(&r.stateDir, p.StateDir)
		fill(&r.extension, p.Extension)
		if len(r.sourceRoots) == 0 {
			r.sourceRoots = p.SourceRoots
		}
		if r.timeout == 0 && p.TimeoutSeconds > 0 {
			r.timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}
	}
	fill(&r.kind, "stream")
	fill(&r.streamAddr, "localhost:7070")
	fill(&r.stateDir, filepath.Join(defaultHomeDir(), "state"))
	if r.timeout == 0 {
		r.timeout = defaultTimeout
	}

	level := slog.LevelWarn
	if r.verbose {
		level = slog.LevelDebug
	}
	r.log = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if r.dial == nil {
		r.dial = dialBackend
	}
	if r.store == nil {
		dir, err := expandPath(r.stateDir)
		if err != nil {
			return err
		}
		st, err := file.New(dir)
		if err != nil {
			return err
		}
		r.store = st
	}
	return nil
}

func fill(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = v
	}
}

// dialBackend connects the transport named by r.kind. Environment settings
// understood by each backend apply first; profile and flags override them.
func dialBackend(ctx context.Context, r *rootOptions) (*backend, error) {
	switch r.kind {
	case "stream":
		conn, err := streamrpc.Dial(ctx, "tcp", r.streamAddr, streamrpc.WithLogger(r.log))
		if err != nil {
			return nil, err
		}
		return &backend{tr: conn, close: conn.Close}, nil
	case "http":
		var hcfg httprpc.Config
		_ = envdecode.Decode(&hcfg)
		if r.rpcURL != "" {
			hcfg.URL = r.rpcURL
		}
		client, err := httprpc.New(hcfg, httprpc.WithLogger(r.log))
		if err != nil {
			return nil, err
		}
		var bcfg redisbus.Config
		_ = envdecode.Decode(&bcfg)
		if r.redisAddr != "" {
			bcfg.RedisAddr = r.redisAddr
		}
		bus, err := redisbus.New(bcfg, redisbus.WithLogger(r.log))
		if err != nil {
			return nil, err
		}
		return &backend{tr: transport.Join(client, bus), close: bus.Close}, nil
	case "nats":
		var ncfg natsbus.Config
		_ = envdecode.Decode(&ncfg)
		if r.natsURL != "" {
			ncfg.URL = r.natsURL
		}
		fill(&ncfg.SubjectPrefix, "debugger.")
		nt, err := natsbus.New(ncfg, natsbus.WithLogger(r.log))
		if err != nil {
			return nil, err
		}
		return &backend{tr: nt, close: nt.Close}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want stream, http or nats)", r.kind)
	}
}

func (r *rootOptions) resolver() debugger.LocationResolver {
	if len(r.sourceRoots) == 0 {
		return nil
	}
	return &resolver.SourceRoots{Roots: r.sourceRoots, Extension: r.extension}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "debugctl",
		Short:         "Drive a remote debugger session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("DEBUGCTL_CONFIG")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath()
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfig, "path to debugctl config file")
	pf.StringVar(&opts.profileName, "profile", "", "profile name within the config (overrides currentProfile)")
	pf.StringVar(&opts.kind, "transport", "", "backend transport: stream|http|nats (default stream)")
	pf.StringVar(&opts.streamAddr, "stream-addr", "", "host:port of a JSON-RPC stream backend")
	pf.StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint for the http transport")
	pf.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address carrying channels for the http transport")
	pf.StringVar(&opts.natsURL, "nats-url", "", "NATS server for the nats transport")
	pf.StringVar(&opts.stateDir, "state-dir", "", "directory the attached session is persisted in")
	pf.StringArrayVar(&opts.sourceRoots, "source-root", nil, "source root used to locate files for stop events (repeatable)")
	pf.StringVar(&opts.extension, "source-ext", "", "source file extension (default .java)")
	pf.DurationVar(&opts.timeout, "timeout", 0, "per-command timeout (default 15s)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.prepare(cmd.ErrOrStderr())
	}

	rootCmd.AddCommand(newAttachCmd(opts))
	rootCmd.AddCommand(newDetachCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newBreakCmd(opts))
	rootCmd.AddCommand(newStepCmd(opts))
	rootCmd.AddCommand(newResumeCmd(opts))
	rootCmd.AddCommand(newEvalCmd(opts))
	rootCmd.AddCommand(newValueCmd(opts))
	rootCmd.AddCommand(newFrameCmd(opts))
	rootCmd.AddCommand(newSetCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(&rootOptions{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "debugctl:", err)
		os.Exit(1)
	}
}
