// Package portal wires the login portal support layer together: metadata
// lookups, CORS trust learned from redirect URIs, and per-session login flow
// state, behind net/http middleware and handler helpers.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/oauth-portal/cors"
	"github.com/giantswarm/oauth-portal/instrumentation"
	"github.com/giantswarm/oauth-portal/metadata"
	"github.com/giantswarm/oauth-portal/security"
	"github.com/giantswarm/oauth-portal/session"
)

// Portal holds the process-wide state of a login portal.
type Portal struct {
	config *Config
	logger *slog.Logger

	inst     *instrumentation.Instrumentation
	ownsInst bool
	metrics  *instrumentation.Metrics
	tracer   trace.Tracer

	resolver *metadata.Resolver
	trust    *cors.TrustStore
	policy   *cors.Policy
	flows    *session.Flows
	sessions *session.MemoryStore
	auditor  *security.Auditor
	limiter  *security.RateLimiter
	clientIP security.ClientIPResolver
}

// Option customizes New.
type Option func(*options)

type options struct {
	upstream metadata.Upstream
	inst     *instrumentation.Instrumentation
	flowOpts []session.FlowsOption
}

// WithUpstream uses upstream instead of an HTTP client built from
// Config.Upstream.
func WithUpstream(upstream metadata.Upstream) Option {
	return func(o *options) { o.upstream = upstream }
}

// WithInstrumentation uses inst instead of creating one from
// Config.Instrumentation. The caller keeps ownership of inst.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o *options) { o.inst = inst }
}

// WithFlowsOptions passes options to the flow state manager
func WithFlowsOptions(opts ...session.FlowsOption) Option {
	return func(o *options) { o.flowOpts = append(o.flowOpts, opts...) }
}

// New creates a Portal from cfg.
func New(cfg *Config, opts ...Option) (*Portal, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = applySecureDefaults(cfg, logger)

	inst := o.inst
	ownsInst := inst == nil
	if ownsInst {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{
			ServiceName:     cfg.Instrumentation.ServiceName,
			ServiceVersion:  cfg.Instrumentation.ServiceVersion,
			Enabled:         cfg.Instrumentation.Enabled,
			MetricsExporter: cfg.Instrumentation.MetricsExporter,
		})
		if err != nil {
			return nil, fmt.Errorf("create instrumentation: %w", err)
		}
	}

	upstream := o.upstream
	if upstream == nil {
		httpUpstream, err := newHTTPUpstream(cfg, logger)
		if err != nil {
			return nil, err
		}
		upstream = httpUpstream
	}

	resolver, err := metadata.NewResolver(upstream,
		metadata.WithLogger(logger),
		metadata.WithInstrumentation(inst))
	if err != nil {
		return nil, err
	}

	trust := cors.NewTrustStore(cors.WithLogger(logger), cors.WithInstrumentation(inst))
	if err := trust.Seed(cfg.CORS.SeedOrigins, cfg.CORS.AllowInsecureHTTPOrigins); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	flowOpts := append([]session.FlowsOption{
		session.WithFlowsLogger(logger),
		session.WithFlowsInstrumentation(inst),
		session.WithAuthMethods(cfg.Session.AuthMethods...),
	}, o.flowOpts...)

	auditor := security.NewAuditor(logger.With("component", "audit"), cfg.Security.EnableAuditLogging)
	auditor.SetInstrumentation(inst)

	p := &Portal{
		config:   cfg,
		logger:   logger,
		inst:     inst,
		ownsInst: ownsInst,
		metrics:  inst.Metrics(),
		tracer:   inst.Tracer("portal"),
		resolver: resolver,
		trust:    trust,
		policy:   cors.NewPolicy(trust, cors.PolicyConfig{MaxAge: cfg.CORS.MaxAge}),
		flows:    session.NewFlows(flowOpts...),
		sessions: session.NewMemoryStore(session.StoreConfig{
			CookieName:      cfg.Session.CookieName,
			Secure:          cfg.isHTTPS() && !cfg.Security.AllowInsecureCookies,
			IdleTimeout:     cfg.Session.IdleTimeout,
			CleanupInterval: cfg.Session.CleanupInterval,
			Logger:          logger,
		}),
		auditor: auditor,
		clientIP: security.ClientIPResolver{
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
	}

	if cfg.RateLimit.Rate > 0 {
		p.limiter = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.Rate,
			Burst:             cfg.RateLimit.Burst,
			MaxEntries:        cfg.RateLimit.MaxEntries,
			Logger:            logger,
		})
	}

	if err := inst.RegisterSizeCallbacks(
		func() int64 { return int64(p.resolver.APIs().Len()) },
		func() int64 { return int64(p.resolver.Pools().Len()) },
		func() int64 { return int64(p.trust.Len()) },
		p.sessions.Len,
	); err != nil {
		logger.Warn("Failed to register size callbacks", "error", err)
	}

	logger.Info("Login portal initialized",
		"public_url", cfg.PublicURL,
		"seed_origins", len(cfg.CORS.SeedOrigins),
		"rate_limit", cfg.RateLimit.Rate,
		"audit_logging", cfg.Security.EnableAuditLogging)

	return p, nil
}

func newHTTPUpstream(cfg *Config, logger *slog.Logger) (*metadata.HTTPUpstream, error) {
	upCfg := metadata.HTTPUpstreamConfig{
		BaseURL:           cfg.Upstream.BaseURL,
		Timeout:           cfg.Upstream.Timeout,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		Burst:             cfg.Upstream.Burst,
		HTTPClient:        cfg.HTTPClient,
		Logger:            logger,
	}
	if cfg.Upstream.ClientID != "" && cfg.Upstream.ClientSecret != "" && cfg.Upstream.TokenURL != "" {
		upCfg.ClientCredentials = &clientcredentials.Config{
			ClientID:     cfg.Upstream.ClientID,
			ClientSecret: cfg.Upstream.ClientSecret,
			TokenURL:     cfg.Upstream.TokenURL,
			Scopes:       cfg.Upstream.Scopes,
		}
	}

	upstream, err := metadata.NewHTTPUpstream(upCfg)
	if err != nil {
		return nil, fmt.Errorf("metadata upstream: %w", err)
	}
	return upstream, nil
}

// Resolver returns the metadata resolver
func (p *Portal) Resolver() *metadata.Resolver { return p.resolver }

// TrustStore returns the CORS trust store
func (p *Portal) TrustStore() *cors.TrustStore { return p.trust }

// Flows returns the flow state manager
func (p *Portal) Flows() *session.Flows { return p.flows }

// Sessions returns the session store
func (p *Portal) Sessions() *session.MemoryStore { return p.sessions }

// Auditor returns the security auditor
func (p *Portal) Auditor() *security.Auditor { return p.auditor }

// Instrumentation returns the OpenTelemetry instrumentation
func (p *Portal) Instrumentation() *instrumentation.Instrumentation { return p.inst }

// Close stops background loops and flushes telemetry.
func (p *Portal) Close(ctx context.Context) error {
	p.sessions.Stop()
	if p.limiter != nil {
		p.limiter.Stop()
	}
	if !p.ownsInst {
		return nil
	}
	return p.inst.Shutdown(ctx)
}
