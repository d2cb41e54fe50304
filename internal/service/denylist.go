package service

import (
	"net/http"
	"sort"
	"strings"
)

// defaultDenylist holds headers that are invalid once the proxy has read the
// upstream body in full.
var defaultDenylist = []string{"Transfer-Encoding"}

// hopByHopHeaders are connection-scoped request headers that are not
// forwarded upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes hop-by-hop headers from h, including any header
// named in a Connection header.
func stripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// HeaderDenylist is a set of response headers never copied from upstream.
type HeaderDenylist map[string]bool

// NewHeaderDenylist returns the default denylist extended with extra names.
func NewHeaderDenylist(extra ...string) HeaderDenylist {
	d := make(HeaderDenylist, len(defaultDenylist)+len(extra))
	for _, h := range defaultDenylist {
		d[http.CanonicalHeaderKey(h)] = true
	}
	for _, h := range extra {
		if h = strings.TrimSpace(h); h != "" {
			d[http.CanonicalHeaderKey(h)] = true
		}
	}
	return d
}

// Filter returns a copy of src without denylisted headers.
func (d HeaderDenylist) Filter(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if d[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

// Names returns the denylisted header names in sorted order.
func (d HeaderDenylist) Names() []string {
	names := make([]string, 0, len(d))
	for h := range d {
		names = append(names, h)
	}
	sort.Strings(names)
	return names
}
