package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache lookup results
const (
	CacheResultHit        = "hit"
	CacheResultMiss       = "miss"
	CacheResultFailureHit = "failure_hit"
)

// Upstream call results
const (
	UpstreamResultSuccess  = "success"
	UpstreamResultNotFound = "not_found"
	UpstreamResultError    = "error"
)

// CORS decision outcomes
const (
	CORSDecisionAllowed  = "allowed"
	CORSDecisionDenied   = "denied"
	CORSDecisionNoOrigin = "no_origin"
)

// Origin observation outcomes
const (
	OriginAdmitted = "admitted"
	OriginKnown    = "known"
	OriginRejected = "rejected"
)

// CSRF token operations
const (
	CSRFIssued   = "issued"
	CSRFConsumed = "consumed"
	CSRFMissing  = "missing"
	CSRFMismatch = "mismatch"
)

// Metrics holds all metric instruments for the portal support layer.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Metadata Cache Metrics
	CacheLookups     metric.Int64Counter
	UpstreamCalls    metric.Int64Counter
	UpstreamDuration metric.Float64Histogram
	CacheEntries     metric.Int64ObservableGauge

	// CORS Metrics
	CORSDecisions   metric.Int64Counter
	OriginsObserved metric.Int64Counter
	TrustedOrigins  metric.Int64ObservableGauge

	// Session Flow Metrics
	FlowsStarted   metric.Int64Counter
	FlowsCompleted metric.Int64Counter
	CSRFTokens     metric.Int64Counter
	ActiveSessions metric.Int64ObservableGauge

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	metadataMeter := inst.Meter("metadata")
	corsMeter := inst.Meter("cors")
	sessionMeter := inst.Meter("session")
	securityMeter := inst.Meter("security")
	gaugeMeter := inst.Meter(gaugeScope)

	var err error

	// HTTP Layer Metrics
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"portal.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"portal.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// Metadata Cache Metrics
	m.CacheLookups, err = metadataMeter.Int64Counter(
		"portal.metadata.cache.lookups",
		metric.WithDescription("Metadata cache lookups by kind and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata.cache.lookups counter: %w", err)
	}

	m.UpstreamCalls, err = metadataMeter.Int64Counter(
		"portal.metadata.upstream.calls",
		metric.WithDescription("Calls issued to the upstream metadata service"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata.upstream.calls counter: %w", err)
	}

	m.UpstreamDuration, err = metadataMeter.Float64Histogram(
		"portal.metadata.upstream.duration",
		metric.WithDescription("Upstream metadata call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata.upstream.duration histogram: %w", err)
	}

	m.CacheEntries, err = gaugeMeter.Int64ObservableGauge(
		"portal.metadata.cache.entries",
		metric.WithDescription("Number of memoized metadata entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata.cache.entries gauge: %w", err)
	}

	// CORS Metrics
	m.CORSDecisions, err = corsMeter.Int64Counter(
		"portal.cors.decisions",
		metric.WithDescription("CORS decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cors.decisions counter: %w", err)
	}

	m.OriginsObserved, err = corsMeter.Int64Counter(
		"portal.cors.origins.observed",
		metric.WithDescription("Redirect URIs observed by the trust store"),
		metric.WithUnit("{uri}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cors.origins.observed counter: %w", err)
	}

	m.TrustedOrigins, err = gaugeMeter.Int64ObservableGauge(
		"portal.cors.trusted_origins",
		metric.WithDescription("Number of trusted CORS origins"),
		metric.WithUnit("{origin}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cors.trusted_origins gauge: %w", err)
	}

	// Session Flow Metrics
	m.FlowsStarted, err = sessionMeter.Int64Counter(
		"portal.flow.started",
		metric.WithDescription("Login flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.started counter: %w", err)
	}

	m.FlowsCompleted, err = sessionMeter.Int64Counter(
		"portal.flow.completed",
		metric.WithDescription("Login flows completed with a resolved profile"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.completed counter: %w", err)
	}

	m.CSRFTokens, err = sessionMeter.Int64Counter(
		"portal.csrf.tokens",
		metric.WithDescription("CSRF token operations"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.tokens counter: %w", err)
	}

	m.ActiveSessions, err = gaugeMeter.Int64ObservableGauge(
		"portal.sessions.active",
		metric.WithDescription("Number of live in-memory sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.active gauge: %w", err)
	}

	// Security Metrics
	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"portal.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"portal.audit.events",
		metric.WithDescription("Security audit events by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	return m, nil
}

func attrKind(kind string) attribute.KeyValue {
	return attribute.String("kind", kind)
}

// RecordHTTPRequest records HTTP request count and duration
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("route", route)))
}

// RecordCacheLookup records a metadata cache lookup
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attrKind(kind), attribute.String("result", result)))
}

// RecordUpstreamCall records an upstream metadata call
func (m *Metrics) RecordUpstreamCall(ctx context.Context, kind, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrKind(kind), attribute.String("result", result))
	m.UpstreamCalls.Add(ctx, 1, attrs)
	m.UpstreamDuration.Record(ctx, durationMs, attrs)
}

// RecordCORSDecision records the outcome of a CORS decision
func (m *Metrics) RecordCORSDecision(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.CORSDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// RecordOriginObserved records the outcome of observing a redirect URI
func (m *Metrics) RecordOriginObserved(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.OriginsObserved.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFlowStarted records the start of a login flow for a namespace
func (m *Metrics) RecordFlowStarted(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

// RecordFlowCompleted records a login flow that resolved a profile
func (m *Metrics) RecordFlowCompleted(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.FlowsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("namespace", namespace)))
}

// RecordCSRFToken records a CSRF token operation
func (m *Metrics) RecordCSRFToken(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.CSRFTokens.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordAuditEvent records a security audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
