package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/proxy"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/server"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/pricing"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and metering proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions, listen string) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	a.enableMetrics()

	cfg := a.cfg
	if listen != "" {
		cfg.Server.Listen = listen
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Pricing.Watch && cfg.Pricing.Dir != "" {
		if err := pricing.Watch(ctx, cfg.Pricing.Dir, a.catalog, logger); err != nil {
			return err
		}
		logger.Info("watching pricing dir", "dir", cfg.Pricing.Dir)
	}

	if cfg.Retention.MaxAge > 0 {
		scheduler, err := scheduleRetention(ctx, a)
		if err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	serverOpts := server.Options{Gatherer: a.registry}
	if cfg.Proxy.Enabled {
		serverOpts.Fallback = proxy.NewHandler(a.tracker, proxy.Options{
			DefaultScope:   cfg.Defaults.Scope,
			AddCostHeaders: cfg.Proxy.AddCostHeaders,
			DenyOnExceed:   cfg.Proxy.DenyOnExceed,
			MaxBodySize:    cfg.Proxy.MaxBodySize,
		}, logger)
	}
	apiServer := server.NewServer(a.tracker, serverOpts, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started",
			"listen", cfg.Server.Listen,
			"storage", cfg.Storage.Driver,
			"proxy", cfg.Proxy.Enabled,
			"models", a.catalog.Len(),
		)
		fmt.Fprintf(cmd.ErrOrStderr(), "LLM Cost Meter listening on %s\n", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// scheduleRetention purges ledger records older than retention.max_age on
// retention.schedule.
func scheduleRetention(ctx context.Context, a *app) (*cron.Cron, error) {
	maxAge := a.cfg.Retention.MaxAge
	scheduler := cron.New()
	_, err := scheduler.AddFunc(a.cfg.Retention.Schedule, func() {
		if _, err := a.tracker.Purge(ctx, maxAge); err != nil {
			a.logger.Error("scheduled purge failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule retention %q: %w", a.cfg.Retention.Schedule, err)
	}
	scheduler.Start()
	a.logger.Info("retention scheduled", "schedule", a.cfg.Retention.Schedule, "max_age", maxAge)
	return scheduler, nil
}
