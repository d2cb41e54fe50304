package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"intercept-proxy/internal/metrics"
)

// requestSeries returns the labels of every intercept_proxy_http_requests_total
// series together with its counter value.
func requestSeries(t *testing.T, m *metrics.Metrics) map[string]float64 {
	t.Helper()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	series := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "intercept_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			key := labels["method"] + " " + labels["status_code"] + " " + labels["path_prefix"] + " " + labels["proxied"]
			series[key] = metric.GetCounter().GetValue()
		}
	}
	return series
}

func TestMetricsMiddleware_RequestsTotal(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		handler echo.HandlerFunc
		want    string
	}{
		{
			name:   "delegated request",
			method: http.MethodGet,
			path:   "/app/users",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
			want: "GET 200 other false",
		},
		{
			name:   "proxied request",
			method: http.MethodPost,
			path:   "/app/users",
			handler: func(c echo.Context) error {
				c.Set(ProxiedKey, true)
				return c.String(http.StatusCreated, "created")
			},
			want: "POST 201 other true",
		},
		{
			name:   "http error status",
			method: http.MethodGet,
			path:   "/app/users",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusNotFound, "not found")
			},
			want: "GET 404 other false",
		},
		{
			name:   "status route",
			method: http.MethodGet,
			path:   "/healthz",
			handler: func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			},
			want: "GET 200 /healthz false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()

			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.Any(tt.path, tt.handler)

			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			series := requestSeries(t, m)
			if v := series[tt.want]; v != 1 {
				t.Errorf("series %q = %v, want 1 (have %v)", tt.want, v, series)
			}
		})
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/app/users", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/app/users", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for key := range requestSeries(t, m) {
		if strings.HasPrefix(key, "other ") {
			return
		}
	}
	t.Error("expected a series with method=other")
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if v := requestSeries(t, m)["GET 404 other false"]; v != 1 {
		t.Errorf("GET 404 other false = %v, want 1", v)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "intercept_proxy_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetHistogram().GetSampleCount() > 0 {
				return
			}
		}
	}
	t.Error("expected intercept_proxy_http_request_duration_seconds with at least one sample")
}
