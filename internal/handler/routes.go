package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"intercept-proxy/internal/config"
	"intercept-proxy/internal/metrics"
)

// Fallback is the wrapped application that serves unmatched requests.
type Fallback echo.HandlerFunc

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// not claimed by a status route goes through the interceptor first; the
// status routes (/healthz, /proxy/status and the metrics path) are always
// served locally and can never be proxied.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, fallback Fallback, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", echo.HandlerFunc(fallback), proxy.Intercept())
}
