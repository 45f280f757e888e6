package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/copilotz"
	"github.com/aretw0/copilotz/internal/logging"
	"github.com/aretw0/copilotz/pkg/config"
	"github.com/aretw0/copilotz/pkg/observability"
	"github.com/aretw0/copilotz/pkg/ports"
)

// Options configures how the CLI builds a copilot.
type Options struct {
	ConfigPath string
	// Debug forces debug logging and logs every lifecycle event.
	Debug bool
	// MetricsAddr overrides the configured metrics address.
	MetricsAddr string
	// Chat replaces the configured model, mostly for tests.
	Chat ports.ChatExecutor
}

// App is a copilot with the services started around it.
type App struct {
	Copilot *copilotz.Copilot
	Config  *config.Config
	Logger  *slog.Logger
	metrics *http.Server
}

// Setup loads the config and builds the copilot.
func Setup(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := createLogger(cfg.Log.Level, opts.Debug)
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return nil, err
	}
	copilotOpts := []copilotz.Option{
		copilotz.WithLogger(logger),
		copilotz.WithLifecycleHooks(metrics.Hooks()),
	}
	if opts.Debug {
		copilotOpts = append(copilotOpts, copilotz.WithLifecycleHooks(observability.LoggingHooks(logger)))
	}

	c, err := copilotz.FromConfig(ctx, cfg, opts.Chat, copilotOpts...)
	if err != nil {
		return nil, err
	}
	app := &App{Copilot: c, Config: cfg, Logger: logger}

	addr := cfg.Metrics.Address
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		app.metrics = serveMetrics(addr, metrics, logger)
	}
	return app, nil
}

// Close stops the metrics server and closes the copilot.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(shutdownCtx))
	}
	errs = append(errs, a.Copilot.Close(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}

func createLogger(level string, debug bool) (*slog.Logger, error) {
	if debug {
		return logging.New(slog.LevelDebug), nil
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return logging.New(lvl), nil
}

func metricsRouter(m *observability.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func serveMetrics(addr string, m *observability.Metrics, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(m),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "err", err)
		}
	}()
	return srv
}
