package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/mcp"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/telemetry"
)

const metricsNamespace = "kbsearch"

type serveOptions struct {
	transport   string
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the search engine as an MCP server.

The server speaks MCP over stdio, so nothing but protocol messages is written
to stdout; logs go to the log file under the data directory. With
--metrics-addr (or telemetry.metrics_addr) a Prometheus endpoint is served at
/metrics.

serve holds the data directory lock while it runs, so ingest and collection
delete must wait for it to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (default from config: stdio)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = opts.metricsAddr
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	level := cfg.Server.LogLevel
	if globals.debug {
		level = "debug"
	}
	logger, err := logging.SetupServerMode(cfg.Data.Dir, level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	var collector *telemetry.Collector
	appOpts := appOptions{loadIndexes: true, logger: logger}
	if cfg.Telemetry.MetricsAddr != "" {
		collector = telemetry.NewCollector(metricsNamespace)
		appOpts.recorder = collector
	}

	a, err := openApp(ctx, cfg, appOpts)
	if err != nil {
		logger.Error("serve_start_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	if collector != nil {
		if err := registerCacheGauges(collector, a.engine); err != nil {
			return err
		}
		stopMetrics, err := startMetricsServer(cfg.Telemetry.MetricsAddr, collector.Handler(), logger.Logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if cfg.Server.WatchConfig {
		w, err := config.NewWatcher(projectDir(), func(c *config.Config) {
			if err := a.engine.UpdateSettings(ctx, settingsFromConfig(c)); err != nil {
				logger.Warn("config_reload_rejected", slog.String("error", err.Error()))
				return
			}
			logger.SetLevel(c.Server.LogLevel)
			logger.Info("config_reloaded")
		}, config.WithWatcherLogger(logger.Logger))
		if err != nil {
			logger.Warn("config_watch_unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = w.Close() }()
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("config_watch_stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	srv, err := mcp.NewServer(a.engine, a.store,
		mcp.WithLogger(logger.Logger),
		mcp.WithQueryMetrics(a.metrics),
		mcp.WithStrategyStats(a.feedback),
	)
	if err != nil {
		return err
	}

	logger.Info("serve_started",
		slog.String("transport", cfg.Server.Transport),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("metrics_addr", cfg.Telemetry.MetricsAddr))
	err = srv.Serve(ctx, cfg.Server.Transport)
	if err != nil && ctx.Err() == nil {
		logger.Error("serve_failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("serve_stopped")
	return nil
}

// registerCacheGauges exposes the result cache counters read at scrape time.
func registerCacheGauges(c *telemetry.Collector, engine *search.Engine) error {
	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"entries", "Entries in the result cache.", func() float64 { return float64(engine.GetCacheStats().Size) }},
		{"bytes", "Approximate size of the result cache in bytes.", func() float64 { return float64(engine.GetCacheStats().Bytes) }},
		{"hit_ratio", "Result cache hit ratio since start.", func() float64 { return engine.GetCacheStats().HitRate }},
	}
	for _, g := range gauges {
		if err := c.RegisterGaugeFunc(metricsNamespace, "cache", g.name, g.help, g.fn); err != nil {
			return fmt.Errorf("register cache gauge %s: %w", g.name, err)
		}
	}
	return nil
}

// startMetricsServer serves h at /metrics and returns a function that shuts
// the listener down.
func startMetricsServer(addr string, h http.Handler, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics_server_started", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
