package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the client address from a request.
//
// Forwarding headers are only honoured with TrustProxy set, and then only
// the entry TrustedProxyCount hops from the right of X-Forwarded-For is
// used, so a client cannot spoof its address by prepending entries.
type ClientIPResolver struct {
	TrustProxy bool

	// TrustedProxyCount is the number of proxies we operate in front of the
	// portal. 0 is treated as 1.
	TrustedProxyCount int
}

// ClientIP returns the best guess at the originating client address.
func (c ClientIPResolver) ClientIP(r *http.Request) string {
	if c.TrustProxy {
		if ip := ipFromXFF(r.Header.Get("X-Forwarded-For"), c.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// X-Forwarded-For is "client, proxy1, proxy2"; each of our proxies appends
// the address it received the request from.
func ipFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(ips) - proxies
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
