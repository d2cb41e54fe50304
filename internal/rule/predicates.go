package rule

import (
	"fmt"
	"net/netip"
	"strings"

	"intercept-proxy/internal/model"
)

// All combines predicates with logical AND, stopping at the first false.
func All(preds ...RequestPredicate) RequestPredicate {
	return func(req *model.ProxiedRequest) bool {
		for _, p := range preds {
			if !p(req) {
				return false
			}
		}
		return true
	}
}

// VirtualHost returns a predicate matching the request host against a list
// of names. A leading "*." matches any subdomain of the remaining suffix but
// not the suffix itself. Comparison is case-insensitive.
func VirtualHost(names ...string) (RequestPredicate, error) {
	exact := make(map[string]bool)
	var suffixes []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		switch {
		case n == "":
			return nil, fmt.Errorf("empty virtual host")
		case strings.HasPrefix(n, "*."):
			suffixes = append(suffixes, n[1:])
		case strings.Contains(n, "*"):
			return nil, fmt.Errorf("virtual host %q: wildcard only allowed as leading label", n)
		default:
			exact[n] = true
		}
	}

	return func(req *model.ProxiedRequest) bool {
		host := strings.ToLower(req.Host)
		if exact[host] {
			return true
		}
		for _, suf := range suffixes {
			if strings.HasSuffix(host, suf) && len(host) > len(suf) {
				return true
			}
		}
		return false
	}, nil
}

// SourceNetworks returns a predicate matching the client IP against CIDR
// prefixes or single addresses.
func SourceNetworks(cidrs ...string) (RequestPredicate, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if strings.Contains(c, "/") {
			p, err := netip.ParsePrefix(c)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", c, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(c)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", c, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return func(req *model.ProxiedRequest) bool {
		addr, err := netip.ParseAddr(req.RemoteIP)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		for _, p := range prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}, nil
}
