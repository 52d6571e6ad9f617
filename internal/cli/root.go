package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/config"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/alerts"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/pricing"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/storage"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// rootOptions holds flags shared by every command.
type rootOptions struct {
	cfgFile string
}

// NewRootCmd builds the lcm command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "lcm",
		Short: "LLM Cost Meter - cost metering and budget enforcement for LLM calls",
		Long: `LLM Cost Meter prices LLM calls from a model catalog, records what they cost,
and enforces spending budgets before calls are made. It runs as a REST API with
an optional metering proxy, or as one-shot commands against the same store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: ~/.lcm/config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newEstimateCmd(opts),
		newTrackCmd(opts),
		newReportCmd(opts),
		newBudgetCmd(opts),
		newAlertsCmd(opts),
		newPricingCmd(opts),
		newPurgeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// app is the wired engine shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	catalog    *pricing.Catalog
	tracker    *tracker.UsageTracker
	registry   *prometheus.Registry
	dispatcher *alerts.Dispatcher
	closers    []func() error
}

// newApp loads config and wires storage, pricing, alerting and the tracker.
func newApp(opts *rootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: newLogger(cfg, cmd.ErrOrStderr()),
	}

	if a.catalog, err = initCatalog(cfg); err != nil {
		return nil, err
	}

	ledger, budgets, closeStore, err := initStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	var sink tracker.AlertSink
	if notifiers := initNotifiers(cfg); len(notifiers) > 0 {
		a.dispatcher = alerts.NewDispatcher(notifiers, cfg.Alerts.Buffer, a.logger)
		sink = a.dispatcher
		// Drain pending alerts before the store closes.
		a.closers = append([]func() error{func() error { a.dispatcher.Close(); return nil }}, a.closers...)
	}

	budgetMgr := tracker.NewBudgetManager(ledger, budgets, sink, a.logger)
	calculator := tracker.NewCostCalculator(a.catalog, cfg.Metering.Enabled)
	a.tracker = tracker.NewUsageTracker(calculator, ledger, budgetMgr, a.logger)

	return a, nil
}

// enableMetrics registers engine and runtime collectors on a fresh registry.
func (a *app) enableMetrics() {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.tracker.SetMetrics(tracker.NewMetrics(a.registry))
}

// Close releases resources in order.
func (a *app) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// initCatalog loads the embedded prices. Files in pricing.dir, when set,
// replace them.
func initCatalog(cfg *config.Config) (*pricing.Catalog, error) {
	catalog, err := pricing.Default()
	if err != nil {
		return nil, fmt.Errorf("load default pricing: %w", err)
	}
	if cfg.Pricing.Dir != "" {
		if err := catalog.LoadDir(cfg.Pricing.Dir); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// initStorage opens the configured backend. Both interfaces share one store.
func initStorage(cfg *config.Config) (storage.Ledger, storage.BudgetStore, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		store := storage.NewMemory()
		return store, store, store.Close, nil
	default:
		store, err := storage.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, store.Close, nil
	}
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}
