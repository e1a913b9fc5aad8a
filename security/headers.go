package security

import (
	"net/http"
)

// pageCSP allows the portal's own scripts, styles and form targets only
const pageCSP = "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' data:; " +
	"form-action 'self'; frame-ancestors 'none'; base-uri 'none'"

// SetSecurityHeaders sets the response headers every portal page carries.
// HSTS is only sent when the portal is served over https.
func SetSecurityHeaders(h http.Header, https bool) {
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", pageCSP)
	h.Set("Referrer-Policy", "same-origin")

	if https {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// login pages embed CSRF tokens and must not be cached
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}

// SecurityHeadersMiddleware applies SetSecurityHeaders before calling next.
func SecurityHeadersMiddleware(https bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w.Header(), https)
			next.ServeHTTP(w, r)
		})
	}
}
