// Package model defines shared types for the proxy.
package model

import (
	"bytes"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ProxiedRequest is the read-only view of an inbound request used for rule
// matching, hook invocation and outbound request construction.
type ProxiedRequest struct {
	Scheme      string
	Host        string
	Port        int
	Method      string
	Path        string
	Query       string
	ContentType string
	FormData    bool
	Header      http.Header
	Body        []byte
	RemoteIP    string
}

// NewProxiedRequest derives a ProxiedRequest from an inbound *http.Request.
// The body is passed in separately because the caller owns reading it.
func NewProxiedRequest(r *http.Request, body []byte, remoteIP string) *ProxiedRequest {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host, port := splitHostPort(r.Host, scheme)
	contentType := r.Header.Get("Content-Type")

	header := make(http.Header, len(r.Header))
	for key, vals := range r.Header {
		header[HeaderName(key)] = append([]string(nil), vals...)
	}

	return &ProxiedRequest{
		Scheme:      scheme,
		Host:        host,
		Port:        port,
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: contentType,
		FormData:    IsFormContentType(contentType),
		Header:      header,
		Body:        body,
		RemoteIP:    remoteIP,
	}
}

// HeaderName converts a transport-prefixed header name such as
// HTTP_X_FORWARDED_FOR into its canonical form X-Forwarded-For.
func HeaderName(raw string) string {
	name := raw
	if len(name) > 5 && strings.EqualFold(name[:5], "HTTP_") {
		name = name[5:]
	}
	name = strings.ReplaceAll(name, "_", "-")
	return http.CanonicalHeaderKey(name)
}

// IsFormContentType reports whether the content type carries form data.
func IsFormContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

func splitHostPort(hostport, scheme string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port. An IPv6 literal keeps its brackets here; drop them so
		// "[::1]" and "[::1]:8080" yield the same host.
		return strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), DefaultPort(scheme)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, DefaultPort(scheme)
	}
	return host, port
}

// DefaultPort returns the well-known port for scheme.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// RequestOptions describes a single outbound request.
type RequestOptions struct {
	Scheme      string
	Host        string
	Port        int
	Method      string
	Path        string
	Query       string
	ContentType string
	Header      http.Header
	Body        []byte
}

// URL renders the outbound request URL. Default ports are omitted.
func (o *RequestOptions) URL() string {
	host := o.Host
	if o.Port != 0 && o.Port != DefaultPort(o.Scheme) {
		host = net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := url.URL{
		Scheme:   o.Scheme,
		Host:     host,
		Path:     o.Path,
		RawQuery: o.Query,
	}
	return u.String()
}

// RawResponse is the upstream response as returned by the transport, with
// the body fully read into chunks.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       [][]byte
}

// ProxiedResponse is the normalized response returned to the caller.
type ProxiedResponse struct {
	StatusCode int
	Header     http.Header
	Body       [][]byte
}

// Bytes returns the body chunks joined together.
func (r *ProxiedResponse) Bytes() []byte {
	return bytes.Join(r.Body, nil)
}

// ContentLength returns the total size of the body chunks.
func (r *ProxiedResponse) ContentLength() int {
	n := 0
	for _, chunk := range r.Body {
		n += len(chunk)
	}
	return n
}
