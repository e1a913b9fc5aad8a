package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put CSRF tokens, session identifiers or profile
// contents into span attributes. Only metadata such as resource kinds,
// namespaces and outcomes belongs in traces.
const (
	// Metadata attributes
	AttrMetadataKind   = "portal.metadata.kind"
	AttrMetadataID     = "portal.metadata.id"
	AttrMetadataResult = "portal.metadata.result"
	AttrAPIID          = "portal.api_id"
	AttrPoolID         = "portal.pool_id"

	// Flow attributes
	AttrNamespace = "portal.flow.namespace"
	AttrFlowID    = "portal.flow.id"
	AttrClientID  = "portal.flow.client_id"

	// CORS attributes
	AttrOrigin       = "portal.cors.origin"
	AttrCORSDecision = "portal.cors.decision"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPRoute      = "http.route"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddMetadataAttributes adds the resource kind and id of a metadata lookup
func AddMetadataAttributes(span trace.Span, kind, id string) {
	SetSpanAttributes(span,
		attribute.String(AttrMetadataKind, kind),
		attribute.String(AttrMetadataID, id),
	)
}

// AddFlowAttributes adds namespace and flow identifiers to a span
func AddFlowAttributes(span trace.Span, namespace, flowID string) {
	if namespace != "" {
		SetSpanAttributes(span, attribute.String(AttrNamespace, namespace))
	}
	if flowID != "" {
		SetSpanAttributes(span, attribute.String(AttrFlowID, flowID))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span
func AddHTTPAttributes(span trace.Span, method, route string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
	)
	if statusCode > 0 {
		SetSpanAttributes(span, attribute.Int(AttrHTTPStatusCode, statusCode))
	}
}

// AddSecurityAttributes adds the client IP, honouring the privacy switch of the caller
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
