package util

import (
	"net"
	"strings"
)

// IsLoopbackHostname checks if a hostname represents a loopback address.
// This includes "localhost", the entire 127.0.0.0/8 range and IPv6 ::1.
// Expects hostname without port (as returned by url.URL.Hostname()).
func IsLoopbackHostname(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}

	clean := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// IsPrivateHostname reports whether hostname is a loopback or RFC 1918 /
// ULA address literal. Names other than localhost are never private.
func IsPrivateHostname(hostname string) bool {
	if IsLoopbackHostname(hostname) {
		return true
	}

	clean := strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsPrivate()
	}
	return false
}
