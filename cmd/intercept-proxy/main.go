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
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"intercept-proxy/internal/client"
	"intercept-proxy/internal/config"
	"intercept-proxy/internal/handler"
	"intercept-proxy/internal/metrics"
	"intercept-proxy/internal/middleware"
	"intercept-proxy/internal/model"
	"intercept-proxy/internal/rule"
	"intercept-proxy/internal/service"
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
		kong.Name("intercept-proxy"),
		kong.Description("Intercepting HTTP proxy that forwards requests matching a rule and passes the rest through."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newRule,
			fx.Annotate(client.NewHTTPTransport, fx.As(new(client.Transport))),
			service.NewProxy,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			handler.NewFallback,
		),
		fx.Invoke(configureHooks, handler.RegisterRoutes, warnConfigPermissions, startServer),
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

func newRule(cfg *config.Config, logger *slog.Logger) (*rule.Rule, error) {
	r, err := rule.New(cfg.Rule)
	if err != nil {
		return nil, err
	}
	logger.Info("proxy rule loaded", "rule", r.String())
	return r, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// The client address feeds source_networks matching, so it must not
	// come from headers the client controls.
	extractor, err := handler.NewIPExtractor(cfg)
	if err != nil {
		return nil, err
	}
	e.IPExtractor = extractor

	e.Server.ReadTimeout = 30 * time.Second
	// Upstream responses are bounded by the outbound client timeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e, nil
}

// configureHooks installs the built-in logging hooks. Embedders replace these
// with their own via Proxy.OnRequest and Proxy.OnResponse.
func configureHooks(p *service.Proxy, logger *slog.Logger) {
	logger = logger.With("component", "hooks")

	p.OnRequest(func(_ context.Context, req *model.ProxiedRequest) error {
		logger.Info("request intercepted",
			"method", req.Method,
			"host", req.Host,
			"port", req.Port,
			"path", req.Path,
		)
		return nil
	}).OnResponse(func(_ context.Context, resp *model.ProxiedResponse) error {
		logger.Info("response matched rule",
			"status", resp.StatusCode,
			"bytes", resp.ContentLength(),
		)
		return nil
	})
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
