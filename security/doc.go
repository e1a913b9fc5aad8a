// Package security holds the portal's request hardening helpers: security
// audit logging, per-client rate limiting, response security headers,
// request ids and client IP extraction.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (normally the client IP
// from ClientIPResolver). The number of tracked identifiers is bounded by
// MaxEntries; when full, the least recently used identifier is evicted.
// Identifiers idle for longer than IdleTimeout are swept by a background
// loop, which Stop ends.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 5,
//	    Burst:             10,
//	})
//	defer limiter.Stop()
//
//	if !limiter.Allow(ip) {
//	    // 429
//	}
//
// # Audit Logging
//
// Auditor writes one "security_audit" record per event. Subject ids are
// hashed with a truncated SHA-256 so logs can be correlated without holding
// user identifiers.
package security
