package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warden/compile"
	"github.com/justapithecus/warden/config"
	"github.com/justapithecus/warden/dispatch"
	"github.com/justapithecus/warden/execute"
	"github.com/justapithecus/warden/health"
	"github.com/justapithecus/warden/iox"
	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/sandbox"
	"github.com/justapithecus/warden/transport"
	"github.com/justapithecus/warden/types"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Listen for host connections and serve one request per connection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to agent config file (optional)",
				Value:   config.DefaultPath,
				EnvVars: []string{"WARDEN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before the config is expanded",
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "Listener network: vsock, tcp or unix",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "Listen address (tcp host or unix socket path)",
			},
			&cli.UintFlag{
				Name:  "port",
				Usage: "Listen port (vsock and tcp)",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Serve a single connection, then exit",
			},
			&cli.DurationFlag{
				Name:  "read-timeout",
				Usage: "Deadline for reading one request frame (0 disables)",
			},
			&cli.DurationFlag{
				Name:  "accept-timeout",
				Usage: "Deadline for waiting on a host connection (0 waits forever)",
			},
			&cli.StringFlag{
				Name:  "log-path",
				Usage: "Log destination; - for stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "ready-path",
				Usage: "Where the readiness token is written; - for stdout",
			},
			&cli.StringFlag{
				Name:  "cgroup",
				Usage: "Pre-existing cgroup directory joined before running workloads",
			},
			&cli.BoolFlag{
				Name:  "no-confine",
				Usage: "Run workloads without confinement (development only)",
			},
		},
		Action: serveAction,
	}
}

// loadConfig resolves the effective config: env file, config file, then
// flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("network") {
		cfg.Transport.Network = c.String("network")
	}
	if c.IsSet("address") {
		cfg.Transport.Address = c.String("address")
	}
	if c.IsSet("port") {
		cfg.Transport.Port = uint32(c.Uint("port"))
	}
	if c.IsSet("once") {
		cfg.Transport.Once = c.Bool("once")
	}
	if c.IsSet("read-timeout") {
		cfg.Transport.ReadTimeout.Duration = c.Duration("read-timeout")
	}
	if c.IsSet("accept-timeout") {
		cfg.Transport.AcceptTimeout.Duration = c.Duration("accept-timeout")
	}
	if c.IsSet("log-path") {
		cfg.Log.Path = c.String("log-path")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("ready-path") {
		cfg.Ready.Path = c.String("ready-path")
	}
	if c.IsSet("cgroup") {
		cfg.Confinement.CgroupPath = c.String("cgroup")
	}
	if c.IsSet("no-confine") {
		cfg.Confinement.Disabled = c.Bool("no-confine")
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	out, openErr := log.OpenOutput(cfg.Log.Path)
	defer iox.DiscardClose(out)
	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewLogger(out, level)
	defer iox.DiscardErr(logger.Sync)
	if openErr != nil {
		logger.Warn("log output unavailable, using stderr", map[string]any{"error": openErr.Error()})
	}

	mode := "loop"
	if cfg.Transport.Once {
		mode = "once"
	}
	collector := metrics.NewCollector(cfg.Transport.Network, mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, logger, collector)
	logger.Info("agent stopped", collector.Snapshot().Fields())
	if err != nil {
		logger.Error("agent failed", map[string]any{"error": err.Error()})
		return cli.Exit(err.Error(), exitCodeFor(err))
	}
	return nil
}

// run binds the listener, signals readiness and serves until ctx is
// cancelled or a fatal error occurs.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger, collector *metrics.Collector) error {
	handler := newDispatcher(cfg, logger, collector)

	listener, err := transport.Listen(cfg.Transport.Network, cfg.Transport.Address, cfg.Transport.Port)
	if err != nil {
		return err
	}
	server := transport.NewServer(listener, handler, transport.Config{
		ReadTimeout:   cfg.Transport.ReadTimeout.Duration,
		WriteTimeout:  cfg.Transport.WriteTimeout.Duration,
		AcceptTimeout: cfg.Transport.AcceptTimeout.Duration,
		MaxFrameSize:  cfg.Transport.MaxFrameBytes,
		Once:          cfg.Transport.Once,
	}, logger, collector)
	defer iox.DiscardErr(server.Close)

	logger.Info("listening", map[string]any{
		"network": cfg.Transport.Network,
		"addr":    server.Addr().String(),
		"once":    cfg.Transport.Once,
		"version": types.Version,
	})

	if err := signalReady(cfg.Ready); err != nil {
		logger.Warn("failed to signal readiness", map[string]any{"error": err.Error()})
	}

	return server.Serve(ctx)
}

func newDispatcher(cfg *config.Config, logger *log.Logger, collector *metrics.Collector) *dispatch.Dispatcher {
	compiler := compile.NewService(compile.Config{
		Javac:      cfg.Compile.Javac,
		Classpath:  cfg.Compile.Classpath,
		SourceRoot: cfg.Compile.SourceRoot,
		OutputRoot: cfg.Compile.OutputRoot,
		SourceExt:  cfg.Compile.SourceExt,
		OutputExt:  cfg.Compile.OutputExt,
		Timeout:    cfg.Compile.Timeout.Duration,
	}, logger, collector)

	executor := execute.NewService(execute.Config{
		Java:           cfg.Execute.Java,
		SandboxDir:     cfg.Execute.SandboxDir,
		Classpath:      cfg.Execute.Classpath,
		MaxOutputBytes: cfg.Execute.MaxOutputBytes,
	}, newConfiner(cfg, logger), newMonitor(cfg), logger, collector)

	return dispatch.New(dispatch.Options{
		MaxFiles:  cfg.Limits.MaxFiles,
		Compiler:  compiler,
		Executor:  executor,
		Hasher:    health.NewService(),
		Logger:    logger,
		Collector: collector,
	})
}

func newConfiner(cfg *config.Config, logger *log.Logger) sandbox.Confiner {
	if cfg.Confinement.Disabled {
		logger.Warn("confinement disabled, workloads run unconfined", nil)
		return sandbox.NoopConfiner{}
	}
	var limits sandbox.RLimits
	if cfg.Transport.Once {
		limits = sandbox.RLimits{
			CPUSeconds:    cfg.Limits.CPUSeconds,
			FileSizeBytes: cfg.Limits.FileSizeBytes,
		}
	}
	return sandbox.NewCgroupConfiner(cfg.Confinement.CgroupPath, limits)
}

func newMonitor(cfg *config.Config) sandbox.ResourceMonitor {
	if cfg.Execute.Monitor == config.MonitorRusage {
		return sandbox.RusageMonitor{}
	}
	return &sandbox.TimeMonitor{Binary: cfg.Execute.TimeBinary, LogPath: cfg.Execute.TimeLog}
}

// signalReady writes the readiness token to the diagnostic channel.
func signalReady(ready config.ReadyConfig) error {
	if ready.Path == "" {
		return nil
	}
	if ready.Path == "-" {
		return transport.SignalReady(os.Stdout, ready.Token)
	}
	f, err := os.OpenFile(ready.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ready.Path, err)
	}
	defer iox.DiscardClose(f)
	return transport.SignalReady(f, ready.Token)
}
