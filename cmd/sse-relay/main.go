package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"sse-relay-go/internal/activity"
	"sse-relay-go/internal/client"
	"sse-relay-go/internal/config"
	"sse-relay-go/internal/embedding"
	"sse-relay-go/internal/handler"
	"sse-relay-go/internal/metrics"
	"sse-relay-go/internal/middleware"
	"sse-relay-go/internal/relay"
	"sse-relay-go/internal/workflow"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("sse-relay"),
		kong.Description("SSE relay probe for sidecar service invocation."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newEcho,
			metrics.New,
			client.NewUpstreamClient,
			relay.New,
			handler.NewStreamHandler,
			handler.NewLookupHandler,
			handler.NewHealthHandler,
			embedding.NewHTTPProvider,
			func(p *embedding.HTTPProvider) embedding.Provider { return p },
			embedding.NewModelCache,
			newActivityRegistry,
			newEngine,
			workflow.NewManager,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetrics,
			warnConfigPermissions,
			startServer,
			startWorkflowRuntime,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running
	// event streams. Protection is provided by the relay's upstream deadline,
	// ReadTimeout, and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORS())

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newActivityRegistry builds the explicit activity map handed to the
// workflow engine at startup.
func newActivityRegistry(cfg *config.Config, p embedding.Provider, cache *embedding.ModelCache, logger *slog.Logger) *activity.Registry {
	reg := activity.NewRegistry()
	if cfg.Embedding.Enabled {
		reg.MustRegister(embedding.ActivityName, embedding.NewGenerateEmbeddings(p, cache, cfg, logger))
	}
	return reg
}

// newEngine returns the workflow runtime binding. Without a sidecar SDK
// linked in, the in-process engine stands in behind the same interface.
func newEngine(logger *slog.Logger) workflow.Engine {
	return workflow.NewInProcessEngine(logger)
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	logger.Info("metrics enabled", "path", cfg.Metrics.Path)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

func startWorkflowRuntime(lc fx.Lifecycle, m *workflow.Manager, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Embedding.Enabled {
		logger.Info("embedding activity disabled; workflow runtime not started")
		return
	}
	lc.Append(fx.Hook{
		OnStart: m.Start,
		OnStop:  m.Stop,
	})
}
