package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/valyala/bytebufferpool"

	"intercept-proxy/internal/config"
	"intercept-proxy/internal/middleware"
	"intercept-proxy/internal/model"
	"intercept-proxy/internal/service"
)

// ProxyHandler adapts the interception pipeline to Echo.
type ProxyHandler struct {
	proxy  *service.Proxy
	logger *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(p *service.Proxy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		proxy:  p,
		logger: logger.With("component", "proxy_handler"),
	}
}

// Intercept returns middleware that proxies matching requests and passes the
// rest to next unchanged.
func (h *ProxyHandler) Intercept() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			body, err := readBody(req)
			if err != nil {
				return err
			}

			pr := model.NewProxiedRequest(req, body, c.RealIP())
			resp, proxied, err := h.proxy.Call(req.Context(), pr)
			c.Set(middleware.ProxiedKey, proxied)
			if !proxied {
				// The body was consumed for matching; give next a fresh reader.
				req.Body = http.NoBody
				if len(body) > 0 {
					req.Body = io.NopCloser(bytes.NewReader(body))
				}
				return next(c)
			}
			if err != nil {
				return h.mapError(c, err)
			}

			return writeResponse(c, resp)
		}
	}
}

// readBody drains the inbound request body through a pooled buffer.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer func() { _ = req.Body.Close() }()

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if _, err := bb.ReadFrom(req.Body); err != nil {
		// BodyLimit surfaces oversize bodies as an *echo.HTTPError.
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if bb.Len() == 0 {
		return nil, nil
	}
	return append([]byte(nil), bb.B...), nil
}

func writeResponse(c echo.Context, resp *model.ProxiedResponse) error {
	// Upstream values replace anything set earlier in the chain.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = append([]string(nil), vals...)
	}
	if c.Request().Method == http.MethodHead {
		c.Response().WriteHeader(resp.StatusCode)
		return nil
	}

	// The body is fully materialized, so the length is known.
	header.Set(echo.HeaderContentLength, strconv.Itoa(resp.ContentLength()))
	c.Response().WriteHeader(resp.StatusCode)
	for _, chunk := range resp.Body {
		if _, err := c.Response().Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if isHookError(err) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "interception hook failed",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "upstream request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

func isHookError(err error) bool {
	var he *service.HookError
	return errors.As(err, &he)
}

// NewFallback returns the wrapped application that receives unmatched
// requests: a reverse proxy to fallback.base_url, or a plain 404.
func NewFallback(cfg *config.Config) (Fallback, error) {
	notFound := func(c echo.Context) error {
		return echo.ErrNotFound
	}
	if cfg.Fallback.BaseURL == "" {
		return notFound, nil
	}

	u, err := url.Parse(cfg.Fallback.BaseURL)
	if err != nil {
		return nil, err
	}
	balancer := echomw.NewRoundRobinBalancer([]*echomw.ProxyTarget{{URL: u}})
	return Fallback(echomw.Proxy(balancer)(notFound)), nil
}
