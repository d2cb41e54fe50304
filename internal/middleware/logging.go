// Package middleware provides Echo middleware for logging, metrics and
// header hygiene.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// ProxiedKey is the echo.Context key set by the interceptor to report
// whether the request was forwarded upstream.
const ProxiedKey = "intercept.proxied"

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			proxied, _ := c.Get(ProxiedKey).(bool)

			attrs := []any{
				"method", req.Method,
				"host", req.Host,
				"path", req.URL.Path,
				"status", res.Status,
				"proxied", proxied,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
