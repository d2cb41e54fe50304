package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"intercept-proxy/internal/config"
)

func TestIntercept_SourceNetworksIgnoresSpoofedForwardedFor(t *testing.T) {
	tests := []struct {
		name        string
		trusted     []string
		wantProxied bool
	}{
		{"untrusted peer", nil, false},
		{"peer outside trusted proxies", []string{"192.0.2.0/24"}, false},
		{"trusted peer", []string{"203.0.113.0/24"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := 0
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits++
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			cfg := &config.Config{Server: config.ServerConfig{TrustedProxies: tt.trusted}}
			extractor, err := NewIPExtractor(cfg)
			if err != nil {
				t.Fatalf("NewIPExtractor() error = %v", err)
			}

			p := newTestProxy(t, upstream.URL, config.RuleConfig{SourceNetworks: []string{"10.0.0.0/8"}})
			h := NewProxyHandler(p, discardLogger())

			reached := false
			e := echo.New()
			e.IPExtractor = extractor
			e.Any("/*", func(c echo.Context) error {
				reached = true
				return c.NoContent(http.StatusTeapot)
			}, h.Intercept())

			req := httptest.NewRequest(http.MethodGet, "/internal", http.NoBody)
			req.RemoteAddr = "203.0.113.7:41000"
			req.Header.Set(echo.HeaderXForwardedFor, "10.1.2.3")
			req.Header.Set(echo.HeaderXRealIP, "10.1.2.3")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if got := hits == 1; got != tt.wantProxied {
				t.Errorf("upstream hits = %d, want proxied=%v", hits, tt.wantProxied)
			}
			if reached == tt.wantProxied {
				t.Errorf("wrapped app reached = %v, want %v", reached, !tt.wantProxied)
			}
		})
	}
}

func TestNewIPExtractor_DirectPeer(t *testing.T) {
	extractor, err := NewIPExtractor(&config.Config{})
	if err != nil {
		t.Fatalf("NewIPExtractor() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "203.0.113.7:41000"
	req.Header.Set(echo.HeaderXForwardedFor, "10.1.2.3")

	if got := extractor(req); got != "203.0.113.7" {
		t.Errorf("extracted IP = %q, want %q", got, "203.0.113.7")
	}
}

func TestNewIPExtractor_InvalidCIDR(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{TrustedProxies: []string{"not-a-cidr"}}}
	if _, err := NewIPExtractor(cfg); err == nil {
		t.Fatal("NewIPExtractor() expected error for invalid CIDR")
	}
}
