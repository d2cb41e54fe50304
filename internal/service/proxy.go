// Package service implements the interception pipeline: request matching,
// forwarding, response matching and hook invocation.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"intercept-proxy/internal/client"
	"intercept-proxy/internal/config"
	"intercept-proxy/internal/metrics"
	"intercept-proxy/internal/model"
	"intercept-proxy/internal/rule"
)

// RequestHook runs once for every request that passes the request rule,
// before it is forwarded. A non-nil error aborts the call.
type RequestHook func(ctx context.Context, req *model.ProxiedRequest) error

// ResponseHook runs for proxied responses that pass the response rule. It may
// mutate resp before it is returned. A non-nil error aborts the call.
type ResponseHook func(ctx context.Context, resp *model.ProxiedResponse) error

// HookError wraps a failure returned by a pre- or post-forward hook.
type HookError struct {
	Stage string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Stage, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Proxy forwards requests matching its rule and returns the upstream response.
//
// The rule, denylist and hooks must be configured before traffic starts;
// the setters are not safe for use concurrently with Call.
type Proxy struct {
	rule      *rule.Rule
	transport client.Transport
	denylist  HeaderDenylist
	target    *url.URL // optional fixed upstream; nil forwards to the request's own host
	logger    *slog.Logger
	metrics   *metrics.Metrics

	requestPredicate  rule.RequestPredicate
	responsePredicate rule.ResponsePredicate
	onRequest         RequestHook
	onResponse        ResponseHook
}

// NewProxy creates a Proxy from configuration. The metrics parameter is
// optional; pass nil to disable interception metrics.
func NewProxy(r *rule.Rule, t client.Transport, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Proxy, error) {
	p := &Proxy{
		rule:      r,
		transport: t,
		denylist:  NewHeaderDenylist(cfg.Headers.Denylist...),
		logger:    logger.With("component", "proxy"),
		metrics:   m,
	}

	if cfg.Upstream.BaseURL != "" {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream base_url: %w", err)
		}
		p.target = u
	}

	return p, nil
}

// MatchRequest sets the user predicate evaluated after the rule's request fields.
func (p *Proxy) MatchRequest(pred rule.RequestPredicate) *Proxy {
	p.requestPredicate = pred
	return p
}

// MatchResponse sets the user predicate evaluated after the rule's response fields.
func (p *Proxy) MatchResponse(pred rule.ResponsePredicate) *Proxy {
	p.responsePredicate = pred
	return p
}

// OnRequest sets the pre-forward hook.
func (p *Proxy) OnRequest(h RequestHook) *Proxy {
	p.onRequest = h
	return p
}

// OnResponse sets the post-forward hook.
func (p *Proxy) OnResponse(h ResponseHook) *Proxy {
	p.onResponse = h
	return p
}

// Rule returns the configured rule.
func (p *Proxy) Rule() *rule.Rule {
	return p.rule
}

// Denylist returns the response header denylist.
func (p *Proxy) Denylist() HeaderDenylist {
	return p.denylist
}

// Target returns the fixed upstream, or nil when requests go to their own host.
func (p *Proxy) Target() *url.URL {
	return p.target
}

// Call runs the interception pipeline for req.
//
// When req does not match the rule, Call returns (nil, false, nil) without
// running any hook or issuing any outbound request; the caller delegates to
// the wrapped application. Otherwise the pre-forward hook runs once, exactly
// one outbound request is made, and the response is always returned with
// proxied set to true. The response rule only decides whether the
// post-forward hook runs.
func (p *Proxy) Call(ctx context.Context, req *model.ProxiedRequest) (resp *model.ProxiedResponse, proxied bool, err error) {
	matched := p.rule.MatchRequest(req, p.requestPredicate)
	p.metrics.ObserveMatch(metrics.StageRequest, matched)
	if !matched {
		p.logger.Debug("request not matched",
			"method", req.Method,
			"host", req.Host,
			"path", req.Path,
		)
		return nil, false, nil
	}

	if p.onRequest != nil {
		if err := p.onRequest(ctx, req); err != nil {
			return nil, true, &HookError{Stage: metrics.StageRequest, Err: err}
		}
	}

	resp, err = p.Forward(ctx, req)
	if err != nil {
		return nil, true, err
	}

	respMatched := p.rule.MatchResponse(resp, p.responsePredicate)
	p.metrics.ObserveMatch(metrics.StageResponse, respMatched)
	if respMatched && p.onResponse != nil {
		if err := p.onResponse(ctx, resp); err != nil {
			return nil, true, &HookError{Stage: metrics.StageResponse, Err: err}
		}
	}

	return resp, true, nil
}

// Forward sends req upstream and wraps the result. Transport errors are
// returned wrapped but otherwise untouched; there are no retries.
func (p *Proxy) Forward(ctx context.Context, req *model.ProxiedRequest) (*model.ProxiedResponse, error) {
	opts := p.Options(req)

	p.logger.Debug("forwarding request",
		"method", opts.Method,
		"host", opts.Host,
		"port", opts.Port,
		"path", opts.Path,
	)

	raw, err := p.transport.Do(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	return &model.ProxiedResponse{
		StatusCode: raw.StatusCode,
		Header:     p.denylist.Filter(raw.Header),
		Body:       raw.Body,
	}, nil
}

// Options derives the outbound request from req. The result depends only on
// req and the proxy configuration.
func (p *Proxy) Options(req *model.ProxiedRequest) *model.RequestOptions {
	opts := &model.RequestOptions{
		Scheme:      req.Scheme,
		Host:        req.Host,
		Port:        req.Port,
		Method:      req.Method,
		Path:        req.Path,
		Query:       req.Query,
		ContentType: req.ContentType,
		Header:      make(http.Header, len(req.Header)),
	}
	if opts.Scheme == "" {
		opts.Scheme = "http"
	}

	if p.target != nil {
		opts.Scheme = p.target.Scheme
		opts.Host = p.target.Hostname()
		opts.Port = model.DefaultPort(opts.Scheme)
		if port := p.target.Port(); port != "" {
			if n, err := strconv.Atoi(port); err == nil {
				opts.Port = n
			}
		}
	}

	for key, vals := range req.Header {
		opts.Header[model.HeaderName(key)] = append([]string(nil), vals...)
	}
	// The inbound view keeps hop-by-hop headers for matching and hooks;
	// they describe the client connection, not the outbound one.
	stripHopByHop(opts.Header)

	if len(req.Body) > 0 {
		opts.Body = append([]byte(nil), req.Body...)
	}

	return opts
}
