package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-portal/instrumentation"
	"github.com/giantswarm/oauth-portal/internal/util"
)

// Audit event types.
const (
	EventFlowStarted         = "flow_started"
	EventLoginSucceeded      = "login_succeeded"
	EventLoginRequired       = "login_required"
	EventLogout              = "logout"
	EventCSRFFailure         = "csrf_failure"
	EventInvalidSession      = "invalid_session_state"
	EventOriginTrusted       = "cors_origin_trusted"
	EventRedirectURIIgnored  = "redirect_uri_ignored"
	EventRedirectURIRejected = "redirect_uri_rejected"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventUpstreamFailure     = "metadata_upstream_failure"
)

// Auditor writes security events to a dedicated log stream. Subject
// identifiers are hashed before logging.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates an auditor. A disabled auditor drops every event.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation counts audit events by type
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		a.metrics = inst.Metrics()
	}
}

// Event is a single audit record.
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	Namespace string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent records event. The subject is replaced by a short hash.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	a.metrics.RecordAuditEvent(ctx, event.Type)

	attrs := []any{
		"event_type", event.Type,
		"subject_hash", util.HashForLogging(event.Subject),
		"timestamp", event.Timestamp,
	}
	if event.ClientID != "" {
		attrs = append(attrs, "client_id", event.ClientID)
	}
	if event.Namespace != "" {
		attrs = append(attrs, "namespace", event.Namespace)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)
}

// LogFlowStarted records a new login flow
func (a *Auditor) LogFlowStarted(ctx context.Context, namespace, clientID, apiID, ip string) {
	a.LogEvent(ctx, Event{
		Type:      EventFlowStarted,
		ClientID:  clientID,
		Namespace: namespace,
		IPAddress: ip,
		Details:   map[string]any{"api_id": apiID},
	})
}

// LogLoginSucceeded records a completed authentication
func (a *Auditor) LogLoginSucceeded(ctx context.Context, namespace, subject, clientID, ip string) {
	a.LogEvent(ctx, Event{
		Type:      EventLoginSucceeded,
		Subject:   subject,
		ClientID:  clientID,
		Namespace: namespace,
		IPAddress: ip,
	})
}

// LogCSRFFailure records a rejected form post
func (a *Auditor) LogCSRFFailure(ctx context.Context, namespace, ip string) {
	a.LogEvent(ctx, Event{
		Type:      EventCSRFFailure,
		Namespace: namespace,
		IPAddress: ip,
	})
}

// LogOriginTrusted records a newly admitted CORS origin
func (a *Auditor) LogOriginTrusted(ctx context.Context, origin, clientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventOriginTrusted,
		ClientID: clientID,
		Details:  map[string]any{"origin": origin},
	})
}

// LogRateLimitExceeded records a throttled request
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ip, path string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ip,
		Details:   map[string]any{"path": path},
	})
}
