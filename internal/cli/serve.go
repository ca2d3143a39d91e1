package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/petrijr/prepare"
	"github.com/petrijr/prepare/internal/catalog"
	"github.com/petrijr/prepare/internal/config"
	"github.com/petrijr/prepare/internal/server"
	"github.com/petrijr/prepare/internal/telemetry"
)

// NewServeCommand creates the serve command. Settings come from PREPARE_*
// environment variables; flags override the listen address and database.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolve endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "load config", Err: err}
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			if rootOpts.Verbose {
				cfg.LogLevel = "debug"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, config.NewLogger(cmd.ErrOrStderr(), cfg.Level()))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PREPARE_LISTEN_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "catalog database path (overrides PREPARE_DB_PATH)")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("prepare: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"concurrency", cfg.Concurrency,
	)

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	if err := cat.Seed(ctx); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	rt := prepare.NewRuntime(
		prepare.WithLogger(logger),
		prepare.WithObserver(prepare.NewCompositeObserver(metrics, prepare.NewLoggingObserver(logger))),
		prepare.WithConcurrencyLimit(cfg.Concurrency),
	)
	if err := cat.Register(rt); err != nil {
		return fmt.Errorf("register catalog handlers: %w", err)
	}

	srv := server.New(rt, server.Options{
		Addr:            cfg.ListenAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Metrics:         metrics,
		Gatherer:        reg,
	}, logger)

	return srv.Run(ctx)
}
