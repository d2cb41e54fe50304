package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"intercept-proxy/internal/config"
	"intercept-proxy/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	proxy   *service.Proxy
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, p *service.Proxy, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, proxy: p, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of /proxy/status.
type statusResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	UpstreamURL  string   `json:"upstream_url"`
	FallbackURL  string   `json:"fallback_url"`
	Rule         string   `json:"rule"`
	HeaderDenied []string `json:"header_denylist"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	upstream := "request host"
	if t := h.proxy.Target(); t != nil {
		upstream = t.String()
	}
	fallback := "none"
	if h.cfg.Fallback.BaseURL != "" {
		fallback = h.cfg.Fallback.BaseURL
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      string(h.version),
		UpstreamURL:  upstream,
		FallbackURL:  fallback,
		Rule:         h.proxy.Rule().String(),
		HeaderDenied: h.proxy.Denylist().Names(),
	})
}
