package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/eventer/pkg/eventer/config"
	"github.com/tsarna/eventer/pkg/eventer/credential"
	"github.com/tsarna/eventer/pkg/eventer/message"
	"github.com/tsarna/eventer/pkg/eventer/o11y"
	"github.com/tsarna/eventer/pkg/eventer/otel"
	"github.com/tsarna/eventer/pkg/eventer/prom"
	"github.com/tsarna/eventer/pkg/eventer/server"
	"github.com/tsarna/eventer/pkg/eventer/session"
)

var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the eventer gateway",
	Long: `Start the eventer gateway with the specified configuration files or directories.

Directories are searched recursively for *.hcl files.

Examples:
  eventer server eventer.hcl
  eventer server ./configs/
  eventer server base.hcl secrets.hcl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runServer,
}

var shutdownGrace time.Duration

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 10*time.Second, "time allowed for connections to close on shutdown")
}

type observability struct {
	metrics o11y.MetricsProvider
	tracing o11y.TracingProvider
	handler http.Handler
}

func setupObservability(kind string) observability {
	switch kind {
	case config.MetricsPrometheus:
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return observability{
			metrics: prom.NewProvider(prom.Config{Registry: registry}),
			handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
	case config.MetricsOtel:
		provider := otel.NewProvider("eventer", Version)
		return observability{metrics: provider, tracing: provider}
	default:
		return observability{}
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting eventer",
		zap.Strings("config-paths", args),
		zap.String("version", Version),
	)

	cfg, err := loadConfig(logger, args)
	if err != nil {
		return err
	}

	translator, err := credential.NewTranslator(cfg.Secrets)
	if err != nil {
		return fmt.Errorf("invalid secrets: %w", err)
	}

	obs := setupObservability(cfg.Admin.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := session.NewRegistry(session.Config{
		Decrypter:       translator,
		Validator:       cfg.Backend,
		Interval:        cfg.Push.Interval,
		Mode:            cfg.Push.Mode,
		Logger:          logger.Named("session"),
		MetricsProvider: obs.metrics,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	dispatcher, err := message.NewDispatcher(message.Config{
		Registry:        registry,
		Backend:         cfg.Backend,
		Decrypter:       translator,
		OnShutdown:      stop,
		TableQuery:      cfg.Push.TableQuery,
		TableWindow:     cfg.Push.TableWindow,
		Logger:          logger.Named("message"),
		MetricsProvider: obs.metrics,
		TracingProvider: obs.tracing,
	})
	if err != nil {
		return err
	}
	registry.SetPoller(dispatcher)

	if !cfg.Probe.Disabled {
		prober, err := session.NewProber(registry, cfg.Probe.Schedule, logger.Named("probe"))
		if err != nil {
			return err
		}
		prober.Start()
		defer prober.Stop()
	}

	listener, err := server.NewListenerConfig().
		WithRegistry(registry).
		WithDispatcher(dispatcher).
		WithLogger(logger.Named("server")).
		WithMetricsProvider(obs.metrics).
		WithReadTimeout(cfg.Server.ReadTimeout).
		WithWriteTimeout(cfg.Server.WriteTimeout).
		WithMaxFrameBytes(cfg.Server.MaxFrameBytes).
		Build()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}

	errs := make(chan error, 2)
	go func() { errs <- listener.Serve(ctx, ln) }()

	var admin *http.Server
	if cfg.Admin.Listen != "" {
		admin = &http.Server{
			Addr: cfg.Admin.Listen,
			Handler: server.NewAdminRouter(server.AdminConfig{
				Listener:       listener,
				Registry:       registry,
				Logger:         logger.Named("admin"),
				WebsocketPath:  cfg.Admin.WebsocketPath,
				MetricsHandler: obs.handler,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Admin endpoint listening", zap.String("addr", cfg.Admin.Listen))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errs:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if admin != nil {
		if shutdownErr := admin.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("Admin shutdown incomplete", zap.Error(shutdownErr))
		}
	}
	if shutdownErr := listener.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Listener shutdown incomplete", zap.Error(shutdownErr))
	}

	logger.Info("Eventer stopped")
	return err
}
