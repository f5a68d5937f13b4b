package parley

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igorsilveira/parley/pkg/config"
	"github.com/igorsilveira/parley/pkg/mcp"
	"github.com/igorsilveira/parley/pkg/mockagent"
	"github.com/igorsilveira/parley/pkg/relay"
	"github.com/igorsilveira/parley/pkg/scheduler"
	"github.com/igorsilveira/parley/pkg/store"
	"github.com/igorsilveira/parley/pkg/telemetry"
	"github.com/igorsilveira/parley/pkg/trace"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	relayPort      int
	relayBind      string
	relayPersist   bool
	relayMockAgent bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Start the same-origin relay server",
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().IntVar(&relayPort, "port", 0, "listen port (default from config)")
	relayCmd.Flags().StringVar(&relayBind, "bind", "", "loopback, lan, or an explicit host")
	relayCmd.Flags().BoolVar(&relayPersist, "persist", false, "persist upstream attempts to the trace database")
	relayCmd.Flags().BoolVar(&relayMockAgent, "mock-agent", false, "also run the echo agent on the mock agent port")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if relayPort != 0 {
		cfg.Relay.Port = relayPort
	}
	if relayBind != "" {
		cfg.Relay.Bind = relayBind
	}
	if relayPersist {
		cfg.Trace.Persist = true
	}

	if err := config.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	logger := commandLogger(cfg)
	logger.Info("starting parley relay",
		slog.String("version", version),
		slog.Int("port", cfg.Relay.Port),
		slog.String("bind", cfg.Relay.Bind),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = telemetry.WithLogger(ctx, logger)

	shutdown, err := initTracing(ctx, cfg, "parley-relay")
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	sched := scheduler.New(0, logger)

	var recorder trace.Recorder
	if cfg.Trace.Persist {
		st, err := store.New(cfg.Trace.DSN)
		if err != nil {
			return err
		}
		defer st.Close()
		ts, err := trace.NewStore(st.DB(), logger)
		if err != nil {
			return err
		}
		recorder = ts
		logger.Info("persisting trace", slog.String("dsn", cfg.Trace.DSN))

		if cfg.Trace.Keep > 0 && cfg.Trace.PruneEvery.Duration > 0 {
			if err := sched.Add(pruneJob(ts, cfg.Trace.Keep, cfg.Trace.PruneEvery.Duration, logger)); err != nil {
				return err
			}
		}
	}

	var agent *mockagent.Agent
	if relayMockAgent {
		agent = mockagent.New(mockagent.Config{Name: cfg.MockAgent.Name, Version: version, Logger: logger})
	}

	triplet, closeTriplet, err := relayTriplet(ctx, cfg, agent, logger)
	if err != nil {
		return err
	}
	defer closeTriplet()

	if threads, ok := triplet.(*mockagent.Threads); ok && cfg.Relay.ThreadIdle.Duration > 0 {
		if err := sched.Add(expireJob(threads, cfg.Relay.ThreadIdle.Duration, logger)); err != nil {
			return err
		}
	}

	srv := relay.New(relay.Config{
		Bind:      cfg.Relay.Bind,
		Port:      cfg.Relay.Port,
		Triplet:   triplet,
		Log:       trace.NewLog(cfg.Trace.Capacity),
		Recorder:  recorder,
		Logger:    logger,
		AuthToken: cfg.Relay.AuthToken,
		RateLimit: cfg.Relay.RateLimit,
		RateBurst: cfg.Relay.RateBurst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if sched.Len() > 0 {
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}
	if agent != nil {
		addr := config.ResolveAddr(cfg.MockAgent.Bind, cfg.MockAgent.Port)
		g.Go(func() error { return serveMockAgent(gctx, agent, addr, logger) })
	}
	return g.Wait()
}

// relayTriplet bridges to the configured upstream MCP server, or serves the echo
// agent's threads in-process when none is configured.
func relayTriplet(ctx context.Context, cfg *config.Config, agent *mockagent.Agent, logger *slog.Logger) (mcp.Triplet, func(), error) {
	upstream := mcp.UpstreamConfig{
		URL:     cfg.MCP.UpstreamURL,
		Command: cfg.MCP.UpstreamCommand,
		Args:    cfg.MCP.UpstreamArgs,
	}
	if !upstream.Configured() {
		logger.Info("no upstream mcp server configured, serving echo threads")
		if agent != nil {
			return agent.Threads(), func() {}, nil
		}
		return mockagent.NewThreads(0), func() {}, nil
	}

	bridge := mcp.NewBridge(logger)
	if err := bridge.Connect(ctx, upstream); err != nil {
		return nil, nil, fmt.Errorf("connecting upstream mcp server: %w", err)
	}
	return bridge, func() { bridge.Close() }, nil
}

func pruneJob(ts *trace.Store, keep int, every time.Duration, logger *slog.Logger) scheduler.Job {
	return scheduler.Job{
		Name:     "trace-prune",
		Schedule: every.String(),
		Func: func(ctx context.Context) error {
			n, err := ts.Prune(ctx, keep)
			if err != nil {
				return fmt.Errorf("pruning trace: %w", err)
			}
			if n > 0 {
				logger.Info("trace pruned", slog.Int64("deleted", n), slog.Int("keep", keep))
			}
			return nil
		},
	}
}

func expireJob(threads *mockagent.Threads, idle time.Duration, logger *slog.Logger) scheduler.Job {
	return scheduler.Job{
		Name:     "thread-expire",
		Schedule: "@every " + (idle / 2).String(),
		Func: func(ctx context.Context) error {
			if n := threads.Expire(idle); n > 0 {
				logger.Info("idle threads expired", slog.Int("expired", n))
			}
			return nil
		},
	}
}
