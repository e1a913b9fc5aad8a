package cors

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultMaxAge is the preflight cache duration in seconds
const DefaultMaxAge = 3600

// AllowedHeaders is the fixed request header allow-list sent to trusted origins.
var AllowedHeaders = []string{
	"Accept",
	"Accept-Encoding",
	"Connection",
	"User-Agent",
	"Content-Type",
	"Cookie",
	"Host",
	"Origin",
	"Referer",
}

var allowedHeadersValue = strings.Join(AllowedHeaders, ", ")

// Decision is the outcome of a CORS check for one request.
//
// The zero value denies. An allowing Decision can only be produced by
// Policy.Decide and always carries the exact origin found in the trust
// store, so a wildcard origin together with credentials cannot be expressed.
type Decision struct {
	origin string
}

// Allowed reports whether the request may receive a credentialed CORS response
func (d Decision) Allowed() bool {
	return d.origin != ""
}

// Origin returns the origin to mirror, or "" when denied
func (d Decision) Origin() string {
	return d.origin
}

// Policy turns trust store membership into CORS response headers.
type Policy struct {
	store   *TrustStore
	maxAge  int
	methods string
}

// PolicyConfig configures a Policy.
type PolicyConfig struct {
	// MaxAge is the preflight cache duration in seconds. Default: 3600.
	MaxAge int

	// AllowedMethods for preflight responses. Default: GET, POST, OPTIONS.
	AllowedMethods []string
}

// NewPolicy creates a Policy backed by store.
func NewPolicy(store *TrustStore, cfg PolicyConfig) *Policy {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}

	return &Policy{
		store:   store,
		maxAge:  maxAge,
		methods: strings.Join(methods, ", "),
	}
}

// Decide checks the request's Origin header against the trust store.
func (p *Policy) Decide(origin string) Decision {
	if origin == "" || !p.store.IsTrusted(origin) {
		return Decision{}
	}
	return Decision{origin: origin}
}

// Apply writes the CORS response headers for d. Vary: Origin is always
// added so caches never serve one origin's headers to another.
func (p *Policy) Apply(h http.Header, d Decision) {
	h.Add("Vary", "Origin")

	if !d.Allowed() {
		return
	}

	h.Set("Access-Control-Allow-Origin", d.origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", allowedHeadersValue)
	h.Set("Access-Control-Allow-Methods", p.methods)
	h.Set("Access-Control-Max-Age", strconv.Itoa(p.maxAge))
}
