package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name        string
		setProxied  bool
		wantProxied string
	}{
		{"delegated", false, "proxied=false"},
		{"proxied", true, "proxied=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			e := echo.New()
			e.Use(RequestLogger(logger))
			e.GET("/test", func(c echo.Context) error {
				if tt.setProxied {
					c.Set(ProxiedKey, true)
				}
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			out := buf.String()
			if !strings.Contains(out, tt.wantProxied) {
				t.Errorf("log = %q, want it to contain %q", out, tt.wantProxied)
			}
			if !strings.Contains(out, "path=/test") || !strings.Contains(out, "status=200") {
				t.Errorf("log = %q, missing path or status", out)
			}
		})
	}
}
