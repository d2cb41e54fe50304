package handler

import (
	"fmt"
	"net"

	"github.com/labstack/echo/v4"

	"intercept-proxy/internal/config"
)

// NewIPExtractor returns the client address extractor used for source
// network matching. Forwarding headers are believed only when the peer is in
// server.trusted_proxies; otherwise the TCP peer address is used.
func NewIPExtractor(cfg *config.Config) (echo.IPExtractor, error) {
	if len(cfg.Server.TrustedProxies) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range cfg.Server.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
