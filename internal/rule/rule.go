// Package rule decides whether an inbound request is proxied and whether the
// upstream response qualifies for the post-forward hook.
//
// A Rule is built once from configuration and is read-only afterwards, so it
// is safe to share between concurrent requests.
package rule

import (
	"fmt"
	"regexp"
	"strings"

	"intercept-proxy/internal/config"
	"intercept-proxy/internal/model"
)

// RequestPredicate is a user-supplied request check evaluated after all rule fields.
type RequestPredicate func(req *model.ProxiedRequest) bool

// ResponsePredicate is a user-supplied response check evaluated after all rule fields.
type ResponsePredicate func(resp *model.ProxiedResponse) bool

// ConfigError reports a malformed rule field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("rule.%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Rule is the set of optional constraints gating the proxy.
type Rule struct {
	Host           StringMatch
	Port           IntMatch
	Method         StringMatch
	PathPrefix     StringMatch
	Query          StringMatch
	ResponseStatus IntMatch
	ResponseBody   *regexp.Regexp

	// Source is the combined auxiliary predicate (virtual hosts, source
	// networks). Nil when none is configured.
	Source RequestPredicate
}

// New builds a Rule from its configuration, rejecting malformed fields.
func New(cfg config.RuleConfig) (*Rule, error) {
	var (
		r   Rule
		err error
	)

	if r.Host, err = stringField("host", cfg.Host, cfg.HostPattern); err != nil {
		return nil, err
	}
	if r.Port, err = intField("port", cfg.Port, cfg.PortRange, 0, 65535); err != nil {
		return nil, err
	}
	if cfg.Method != "" {
		if strings.ContainsAny(cfg.Method, " \t\r\n") {
			return nil, &ConfigError{Field: "method", Err: fmt.Errorf("invalid method %q", cfg.Method)}
		}
		r.Method = Literal(cfg.Method)
	}
	if r.PathPrefix, err = stringField("path_prefix", cfg.PathPrefix, cfg.PathPattern); err != nil {
		return nil, err
	}
	if r.Query, err = stringField("query", cfg.Query, cfg.QueryPattern); err != nil {
		return nil, err
	}
	if r.ResponseStatus, err = intField("response_status", cfg.ResponseStatus, cfg.ResponseStatusRange, 100, 999); err != nil {
		return nil, err
	}
	if cfg.ResponseBodyPattern != "" {
		re, err := regexp.Compile(cfg.ResponseBodyPattern)
		if err != nil {
			return nil, &ConfigError{Field: "response_body_pattern", Err: err}
		}
		r.ResponseBody = re
	}

	var preds []RequestPredicate
	if len(cfg.VirtualHosts) > 0 {
		p, err := VirtualHost(cfg.VirtualHosts...)
		if err != nil {
			return nil, &ConfigError{Field: "virtual_hosts", Err: err}
		}
		preds = append(preds, p)
	}
	if len(cfg.SourceNetworks) > 0 {
		p, err := SourceNetworks(cfg.SourceNetworks...)
		if err != nil {
			return nil, &ConfigError{Field: "source_networks", Err: err}
		}
		preds = append(preds, p)
	}
	if len(preds) > 0 {
		r.Source = All(preds...)
	}

	return &r, nil
}

func stringField(name, literal, pattern string) (StringMatch, error) {
	if literal != "" && pattern != "" {
		return StringMatch{}, &ConfigError{Field: name, Err: fmt.Errorf("literal and pattern are mutually exclusive")}
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return StringMatch{}, &ConfigError{Field: name + "_pattern", Err: err}
		}
		return Pattern(re), nil
	}
	if literal != "" {
		return Literal(literal), nil
	}
	return StringMatch{}, nil
}

func intField(name string, exact *int, bounds []int, lo, hi int) (IntMatch, error) {
	if exact != nil && len(bounds) > 0 {
		return IntMatch{}, &ConfigError{Field: name, Err: fmt.Errorf("exact value and range are mutually exclusive")}
	}
	if exact != nil {
		if *exact < lo || *exact > hi {
			return IntMatch{}, &ConfigError{Field: name, Err: fmt.Errorf("%d out of bounds %d..%d", *exact, lo, hi)}
		}
		return Exact(*exact), nil
	}
	if len(bounds) == 0 {
		return IntMatch{}, nil
	}
	if len(bounds) != 2 {
		return IntMatch{}, &ConfigError{Field: name + "_range", Err: fmt.Errorf("want [low, high], got %v", bounds)}
	}
	if bounds[0] < lo || bounds[1] > hi {
		return IntMatch{}, &ConfigError{Field: name + "_range", Err: fmt.Errorf("%v out of bounds %d..%d", bounds, lo, hi)}
	}
	m, err := Range(bounds[0], bounds[1])
	if err != nil {
		return IntMatch{}, &ConfigError{Field: name + "_range", Err: err}
	}
	return m, nil
}

// MatchRequest reports whether req satisfies every configured request field
// and then pred. Evaluation stops at the first failing field.
func (r *Rule) MatchRequest(req *model.ProxiedRequest, pred RequestPredicate) bool {
	if !r.Host.Equal(req.Host) {
		return false
	}
	if !r.Port.Contains(req.Port) {
		return false
	}
	if !r.Method.Equal(req.Method) {
		return false
	}
	if !r.PathPrefix.Prefix(req.Path) {
		return false
	}
	if !r.Query.Equal(req.Query) {
		return false
	}
	if r.Source != nil && !r.Source(req) {
		return false
	}
	if pred != nil && !pred(req) {
		return false
	}
	return true
}

// MatchResponse reports whether resp satisfies the status, the body pattern
// and then pred. The body pattern matches when found in any single chunk; an
// empty body never matches a configured pattern.
func (r *Rule) MatchResponse(resp *model.ProxiedResponse, pred ResponsePredicate) bool {
	if !r.ResponseStatus.Contains(resp.StatusCode) {
		return false
	}
	if r.ResponseBody != nil && !anyChunkMatches(r.ResponseBody, resp.Body) {
		return false
	}
	if pred != nil && !pred(resp) {
		return false
	}
	return true
}

func anyChunkMatches(re *regexp.Regexp, chunks [][]byte) bool {
	for _, chunk := range chunks {
		if re.Match(chunk) {
			return true
		}
	}
	return false
}

// String summarizes the configured fields, e.g. for the status endpoint.
func (r *Rule) String() string {
	var parts []string
	add := func(name string, set bool, v fmt.Stringer) {
		if set {
			parts = append(parts, name+"="+v.String())
		}
	}
	add("host", r.Host.IsSet(), r.Host)
	add("port", r.Port.IsSet(), r.Port)
	add("method", r.Method.IsSet(), r.Method)
	add("path_prefix", r.PathPrefix.IsSet(), r.PathPrefix)
	add("query", r.Query.IsSet(), r.Query)
	add("response_status", r.ResponseStatus.IsSet(), r.ResponseStatus)
	if r.ResponseBody != nil {
		parts = append(parts, "response_body=/"+r.ResponseBody.String()+"/")
	}
	if r.Source != nil {
		parts = append(parts, "source=restricted")
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}
