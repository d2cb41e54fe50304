// Package client provides the outbound HTTP transport used to forward
// intercepted requests.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"

	"intercept-proxy/internal/config"
	"intercept-proxy/internal/metrics"
	"intercept-proxy/internal/model"
)

// Transport performs a single outbound request. Implementations own all
// wire-level concerns; callers get either a fully read response or an error.
type Transport interface {
	Do(ctx context.Context, opts *model.RequestOptions) (*model.RawResponse, error)
}

// HTTPTransport is a Transport backed by a pooled net/http client.
type HTTPTransport struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHTTPTransport creates an HTTPTransport with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewHTTPTransport(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *HTTPTransport {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &HTTPTransport{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects are returned to the caller as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "http_transport"),
		metrics: m,
	}
}

// Do builds an *http.Request from opts, executes it and reads the whole body.
func (t *HTTPTransport) Do(ctx context.Context, opts *model.RequestOptions) (*model.RawResponse, error) {
	var body io.Reader = http.NoBody
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = opts.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	// The Host header is carried by the URL.
	req.Header.Del("Host")
	req.Header.Del("Content-Length")

	t.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if t.metrics != nil {
			t.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			t.metrics.UpstreamErrors.WithLabelValues(method).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	chunks, err := readBody(resp.Body)
	duration := time.Since(start).Seconds()
	if err != nil {
		if t.metrics != nil {
			t.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			t.metrics.UpstreamErrors.WithLabelValues(method).Inc()
		}
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	if t.metrics != nil {
		t.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		t.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	header := resp.Header.Clone()
	// net/http strips Transfer-Encoding into resp.TransferEncoding; put it
	// back so the header denylist sees what the upstream actually sent.
	if len(resp.TransferEncoding) > 0 && header.Get("Transfer-Encoding") == "" {
		for _, te := range resp.TransferEncoding {
			header.Add("Transfer-Encoding", te)
		}
	}

	return &model.RawResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       chunks,
	}, nil
}

// readBody reads r to EOF through a pooled buffer. The complete body is
// returned as a single chunk so body patterns see it whole; an empty body
// yields no chunks.
func readBody(r io.Reader) ([][]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	if _, err := bb.ReadFrom(r); err != nil {
		return nil, err
	}
	if bb.Len() == 0 {
		return nil, nil
	}
	return [][]byte{bytes.Clone(bb.B)}, nil
}
