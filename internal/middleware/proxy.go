package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies sets e.IPExtractor so c.RealIP() yields the broker's
// address, which lands in audit_logs.ip_address and keys the rate limiter.
// Forwarding headers count only when the direct peer is one of our proxies
// and they name a parseable address; anything else falls back to the peer.
func TrustedProxies(e *echo.Echo, cidrs []string) {
	e.IPExtractor = newProxySet(cidrs).clientIP
}

type proxySet []netip.Prefix

func newProxySet(cidrs []string) proxySet {
	var set proxySet
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR", slog.String("cidr", cidr))
			continue
		}
		set = append(set, p.Masked())
	}
	return set
}

func (s proxySet) contains(addr netip.Addr) bool {
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (s proxySet) clientIP(req *http.Request) string {
	peer := req.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !s.contains(peerAddr.Unmap()) {
		return peer
	}

	// nginx sets X-Real-IP; otherwise the leftmost X-Forwarded-For hop.
	forwarded := req.Header.Get("X-Real-IP")
	if forwarded == "" {
		forwarded, _, _ = strings.Cut(req.Header.Get(echo.HeaderXForwardedFor), ",")
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(forwarded)); err == nil {
		return addr.Unmap().String()
	}
	return peer
}
