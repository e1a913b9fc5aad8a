package cors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/giantswarm/oauth-portal/instrumentation"
	"github.com/giantswarm/oauth-portal/internal/util"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	// maxLoggedURILength caps how much of a rejected URI ends up in logs
	maxLoggedURILength = 128
)

// ErrInvalidOrigin is returned for URIs that do not yield a web origin.
var ErrInvalidOrigin = errors.New("cors: invalid origin")

// OriginOf derives the web origin (scheme://host[:port]) of an absolute
// http or https URI, dropping userinfo, path, query and fragment. Scheme
// and host are lower-cased and default ports are omitted, matching how
// browsers serialize the Origin header.
func OriginOf(rawURI string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURI))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != schemeHTTP && scheme != schemeHTTPS {
		return "", fmt.Errorf("%w: scheme %q has no web origin", ErrInvalidOrigin, u.Scheme)
	}
	if u.Opaque != "" || u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidOrigin)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || strings.ContainsAny(host, "*%") {
		return "", fmt.Errorf("%w: bad host %q", ErrInvalidOrigin, host)
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("%w: bad port %q", ErrInvalidOrigin, port)
		}
		port = strconv.Itoa(n)
		if (scheme == schemeHTTP && n == 80) || (scheme == schemeHTTPS && n == 443) {
			port = ""
		}
	}

	if port != "" {
		return scheme + "://" + net.JoinHostPort(host, port), nil
	}
	if strings.Contains(host, ":") {
		return scheme + "://[" + host + "]", nil
	}
	return scheme + "://" + host, nil
}

// TrustStore is the set of origins allowed to receive credentialed CORS
// responses. Origins are only ever admitted from observed redirect URIs
// (or explicit seeds); the set grows for the lifetime of the process.
type TrustStore struct {
	mu      sync.RWMutex
	origins map[string]struct{}

	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// Option configures a TrustStore.
type Option func(*TrustStore)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *TrustStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstrumentation enables metrics.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *TrustStore) {
		if inst != nil {
			s.metrics = inst.Metrics()
		}
	}
}

// NewTrustStore creates an empty trust store.
func NewTrustStore(opts ...Option) *TrustStore {
	s := &TrustStore{
		origins: make(map[string]struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cors_trust_store")
	return s
}

// Observe records the origin of a redirect URI the portal sent a browser to.
// Unparsable or non-web URIs are logged and dropped; Observe never fails.
// It reports whether the origin was newly admitted.
func (s *TrustStore) Observe(redirectURI string) bool {
	ctx := context.Background()

	origin, err := OriginOf(redirectURI)
	if err != nil {
		s.metrics.RecordOriginObserved(ctx, instrumentation.OriginRejected)
		s.logger.Warn("Ignoring redirect URI for CORS trust",
			"redirect_uri", util.SafeTruncate(redirectURI, maxLoggedURILength),
			"error", err)
		return false
	}

	if !s.admit(origin) {
		s.metrics.RecordOriginObserved(ctx, instrumentation.OriginKnown)
		return false
	}

	s.metrics.RecordOriginObserved(ctx, instrumentation.OriginAdmitted)
	s.logger.Info("Trusting new CORS origin", "origin", origin)
	return true
}

// Seed admits statically configured origins. Unlike Observe it rejects
// invalid input: every seed must already be in origin form, and plain http
// is only accepted for loopback and private hosts unless allowInsecureHTTP.
func (s *TrustStore) Seed(origins []string, allowInsecureHTTP bool) error {
	for _, raw := range origins {
		origin, err := OriginOf(raw)
		if err != nil {
			return fmt.Errorf("seed origin %q: %w", raw, err)
		}
		if origin != strings.TrimRight(strings.ToLower(raw), "/") {
			return fmt.Errorf("seed origin %q: %w: must be scheme://host[:port], e.g. %s", raw, ErrInvalidOrigin, origin)
		}

		u, _ := url.Parse(origin)
		if u.Scheme == schemeHTTP && !allowInsecureHTTP && !util.IsPrivateHostname(u.Hostname()) {
			return fmt.Errorf("seed origin %q: plain http is only allowed for local development hosts", raw)
		}

		s.admit(origin)
	}

	s.logger.Debug("Seeded CORS origins", "count", len(origins))
	return nil
}

// IsTrusted reports whether origin was admitted. The comparison is exact.
func (s *TrustStore) IsTrusted(origin string) bool {
	if origin == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.origins[origin]
	return ok
}

// Len returns the number of trusted origins
func (s *TrustStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.origins)
}

// Origins returns a sorted snapshot of the trusted origins
func (s *TrustStore) Origins() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.origins))
	for origin := range s.origins {
		out = append(out, origin)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (s *TrustStore) admit(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.origins[origin]; ok {
		return false
	}
	s.origins[origin] = struct{}{}
	return true
}
