// Command dynamo runs a storage or gateway node, or talks to one with -cli.
//
// Server mode:
//
//	dynamo --name n1 --address 10.0.0.1:9600 --seeds 10.0.0.2:9600 --grpc-addr :7000
//	dynamo --config node.yaml --log-level debug
//
// CLI mode:
//
//	dynamo -cli -target localhost:7000 put users alice '{"age":30}'
//	dynamo -cli -target localhost:7000 members
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dynamo/internal/config"
	"dynamo/internal/gateway"
	"dynamo/internal/metrics"
	"dynamo/internal/node"
	"dynamo/internal/storage"
)

// options are the flags that are not part of the node configuration.
type options struct {
	configPath string
	logLevel   string
	logPretty  bool
	cli        bool
	target     string
	timeout    time.Duration
}

// seedList lets --seeds be parsed straight into Config.Seeds.
type seedList struct{ seeds *[]string }

func (s seedList) String() string {
	if s.seeds == nil {
		return ""
	}
	return strings.Join(*s.seeds, ",")
}

func (s seedList) Set(v string) error {
	seeds, err := config.ParseSeeds(v)
	if err != nil {
		return err
	}
	*s.seeds = seeds
	return nil
}

func bindConfig(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Name, "name", cfg.Name, "node name")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "gossip address (host:port), the node identity")
	fs.IntVar(&cfg.IOPort, "io-port", cfg.IOPort, "replica I/O port, 0 for ephemeral")
	fs.IntVar(&cfg.AckPort, "ack-port", cfg.AckPort, "ack port, 0 for ephemeral")
	fs.BoolVar(&cfg.Gateway, "gateway", cfg.Gateway, "run as a gateway (no storage, not on the ring)")
	fs.Var(seedList{&cfg.Seeds}, "seeds", "comma-separated seed addresses (host:port)")
	fs.DurationVar(&cfg.GossipInterval, "gossip-interval", cfg.GossipInterval, "gossip round interval")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "silence after which a peer is declared dead")
	fs.IntVar(&cfg.VNodes, "vnodes", cfg.VNodes, "virtual nodes per storage node")
	fs.StringVar(&cfg.Hash, "hash", cfg.Hash, "ring hash: xxhash or fnv")
	fs.IntVar(&cfg.N, "n", cfg.N, "replication factor")
	fs.IntVar(&cfg.R, "r", cfg.R, "read quorum")
	fs.IntVar(&cfg.W, "w", cfg.W, "write quorum")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "quorum wait bound")
	fs.DurationVar(&cfg.ForwardTimeout, "forward-timeout", cfg.ForwardTimeout, "forwarded request bound")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage engine: fs, badger or memory")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gateway gRPC listen address, empty to disable")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "prometheus listen address, empty to disable")
	fs.BoolVar(&cfg.Rehash, "rehash", cfg.Rehash, "push keys to nodes that join the ring")
}

// parseFlags returns the effective configuration: defaults, then the YAML
// file if --config is given, then every flag set explicitly on the command
// line.
func parseFlags(args []string, stderr io.Writer) (config.Config, options, []string, error) {
	cfg := config.Default()
	var opts options

	fs := flag.NewFlagSet("dynamo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindConfig(fs, &cfg)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level")
	fs.BoolVar(&opts.logPretty, "log-pretty", false, "human-readable console logs")
	fs.BoolVar(&opts.cli, "cli", false, "run in CLI mode")
	fs.StringVar(&opts.target, "target", "127.0.0.1:7000", "gateway address (CLI mode)")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "RPC timeout (CLI mode)")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, nil, err
	}
	if opts.configPath == "" {
		return cfg, opts, fs.Args(), nil
	}

	fileCfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, opts, nil, err
	}
	overlay := flag.NewFlagSet("overlay", flag.ContinueOnError)
	overlay.SetOutput(io.Discard)
	bindConfig(overlay, &fileCfg)
	fs.Visit(func(f *flag.Flag) {
		if overlay.Lookup(f.Name) == nil {
			return
		}
		if setErr := overlay.Set(f.Name, f.Value.String()); setErr != nil && err == nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, setErr)
		}
	})
	return fileCfg, opts, fs.Args(), err
}

func newLogger(opts options, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	if opts.logPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func main() {
	cfg, opts, args, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if opts.cli {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		err := runCLI(ctx, opts.target, args, os.Stdout)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	logger, err := newLogger(opts, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := runServer(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("node failed")
	}
}

func runServer(cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		store storage.Store
		err   error
	)
	if cfg.Gateway {
		store = storage.NewInMemoryStore()
	} else {
		store, err = storage.Open(cfg.Store, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
	}

	nd, err := node.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return err
	}
	nd.Start()

	logger.Info().Strs("seeds", cfg.Seeds).Str("store", cfg.Store).Msg("joining cluster")

	errCh := make(chan error, 2)

	var grpcSrv interface{ GracefulStop() }
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			nd.Stop()
			return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
		}
		g := gateway.NewGRPCServer(gateway.NewServer(nd, logger))
		grpcSrv = g
		go func() {
			if err := g.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
		logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC gateway listening")
	}

	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter(cfg.MetricsAddr)
		go func() {
			if err := exporter.Start(); err != nil {
				errCh <- fmt.Errorf("metrics exporter: %w", err)
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("shutting down")
	}

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := exporter.Stop(ctx); err != nil {
			logger.Warn().Err(err).Msg("stop metrics exporter")
		}
		cancel()
	}
	if err := nd.Stop(); err != nil {
		logger.Warn().Err(err).Msg("stop node")
	}
	return runErr
}
