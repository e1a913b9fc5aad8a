package portal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-portal/session"
)

// Config holds the portal configuration.
// Structured using composition; every section has secure defaults.
type Config struct {
	// PublicURL is the externally visible base URL of the portal, e.g.
	// https://login.example.com. Its scheme decides HSTS and Secure cookies.
	PublicURL string `yaml:"publicURL"`

	Upstream        UpstreamConfig        `yaml:"upstream"`
	Session         SessionConfig         `yaml:"session"`
	CORS            CORSConfig            `yaml:"cors"`
	RateLimit       RateLimitConfig       `yaml:"rateLimit"`
	Security        SecurityConfig        `yaml:"security"`
	Instrumentation InstrumentationConfig `yaml:"instrumentation"`

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `yaml:"-"`

	// HTTPClient is the base client for metadata requests
	HTTPClient *http.Client `yaml:"-"`

	// RedirectURIValidator, when set, vets every redirect URI before a flow
	// starts, e.g. against the client's registered URIs. An error rejects
	// the flow with invalid_request and nothing is trusted.
	RedirectURIValidator func(ctx context.Context, req *session.AuthRequest) error `yaml:"-"`
}

// UpstreamConfig describes the metadata service.
type UpstreamConfig struct {
	// BaseURL of the metadata REST API. Required unless an Upstream is
	// passed to New directly.
	BaseURL string `yaml:"baseURL"`

	// Timeout per request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond throttles metadata requests. Zero disables.
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`

	// Client credentials for the metadata service. All three of ClientID,
	// ClientSecret and TokenURL enable authentication.
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	TokenURL     string   `yaml:"tokenURL"`
	Scopes       []string `yaml:"scopes"`
}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	CookieName string `yaml:"cookieName"`

	// IdleTimeout expires unused sessions. Default: 30m.
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// CleanupInterval for expired sessions. Default: 1m.
	CleanupInterval time.Duration `yaml:"cleanupInterval"`

	// AuthMethods lists the namespaces flows may use, e.g. [password, sso].
	// When set, other namespaces are rejected. Metrics only carry these
	// names; anything else is labelled "other".
	AuthMethods []string `yaml:"authMethods"`
}

// CORSConfig configures the CORS trust store.
type CORSConfig struct {
	// SeedOrigins are trusted from startup, in addition to origins learned
	// from redirect URIs.
	SeedOrigins []string `yaml:"seedOrigins"`

	// AllowInsecureHTTPOrigins permits plain http seeds for public hosts.
	// WARNING: only for development.
	AllowInsecureHTTPOrigins bool `yaml:"allowInsecureHTTPOrigins"`

	// MaxAge of preflight responses in seconds. Default: 3600.
	MaxAge int `yaml:"maxAge"`
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64 `yaml:"rate"`

	// Burst is the maximum burst size allowed per IP.
	Burst int `yaml:"burst"`

	// MaxEntries bounds the number of tracked IPs. Default: 10000.
	MaxEntries int `yaml:"maxEntries"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trustProxy"`

	// TrustedProxyCount is the number of proxies in front of the portal.
	TrustedProxyCount int `yaml:"trustedProxyCount"`
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// EnableAuditLogging enables security audit logging (subjects hashed).
	EnableAuditLogging bool `yaml:"enableAuditLogging"`

	// AllowInsecureCookies drops the Secure flag on session cookies even
	// when PublicURL is https. WARNING: only for local development.
	AllowInsecureCookies bool `yaml:"allowInsecureCookies"`
}

// InstrumentationConfig configures OpenTelemetry.
type InstrumentationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`

	// MetricsExporter is "prometheus" to serve metrics from the default
	// Prometheus registry (promhttp.Handler), or empty for none.
	MetricsExporter string `yaml:"metricsExporter"`
}

// envReference matches ${NAME}; a bare $ is left alone so values such as
// secrets may contain it.
var envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig reads a YAML configuration file. ${VAR} references are
// expanded from the environment before parsing so secrets can stay out of
// the file; $VAR without braces is kept verbatim. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, see LoadConfig.
func ParseConfig(data []byte) (*Config, error) {
	expanded := expandEnv(data)

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func expandEnv(data []byte) []byte {
	return envReference.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envReference.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func (c *Config) isHTTPS() bool {
	u, err := url.Parse(c.PublicURL)
	return err == nil && u.Scheme == "https"
}

// applySecureDefaults fills unset values and warns about weakened settings.
func applySecureDefaults(cfg *Config, logger *slog.Logger) *Config {
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 10 * time.Second
	}
	if cfg.Upstream.RequestsPerSecond > 0 && cfg.Upstream.Burst == 0 {
		cfg.Upstream.Burst = 10
	}

	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = time.Minute
	}

	if cfg.CORS.MaxAge == 0 {
		cfg.CORS.MaxAge = 3600
	}

	if cfg.RateLimit.Rate > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.RateLimit.TrustedProxyCount == 0 {
		cfg.RateLimit.TrustedProxyCount = 1
	}

	if cfg.Instrumentation.ServiceName == "" {
		cfg.Instrumentation.ServiceName = "oauth-portal"
	}

	if !cfg.isHTTPS() {
		logger.Warn("⚠️  SECURITY NOTICE: Portal is not served over https",
			"public_url", cfg.PublicURL,
			"risk", "Session cookies are sent without the Secure flag")
	}
	if cfg.Security.AllowInsecureCookies {
		logger.Warn("⚠️  SECURITY WARNING: Secure flag on session cookies is DISABLED",
			"risk", "Session hijacking over plain http",
			"recommendation", "Only use for local development")
	}
	if cfg.CORS.AllowInsecureHTTPOrigins {
		logger.Warn("⚠️  SECURITY WARNING: Plain http CORS seed origins are ALLOWED",
			"risk", "Credentialed responses readable by network attackers")
	}
	if cfg.RateLimit.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if cfg.RateLimit.Rate == 0 {
		logger.Warn("Rate limiting is disabled")
	}

	return cfg
}
