package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-portal/cors"
	"github.com/giantswarm/oauth-portal/instrumentation"
	"github.com/giantswarm/oauth-portal/metadata"
	"github.com/giantswarm/oauth-portal/security"
	"github.com/giantswarm/oauth-portal/session"
)

const (
	// CSRFFormField is the form field carrying the CSRF token
	CSRFFormField = "csrf_token"

	// CSRFHeader carries the CSRF token for script-driven posts
	CSRFHeader = "X-CSRF-Token"
)

// Middleware wraps next with the portal's request pipeline: request ids,
// request metrics, security headers, CORS, per-IP rate limiting and
// session loading, in that order.
func (p *Portal) Middleware(next http.Handler) http.Handler {
	h := p.sessions.Middleware(captureRoute(next))
	h = p.rateLimit(h)
	h = cors.Middleware(p.policy, p.logger, p.inst)(h)
	h = security.SecurityHeadersMiddleware(p.config.isHTTPS())(h)
	h = p.observe(h)
	return security.RequestIDMiddleware(h)
}

// otherRoute labels requests that matched no route pattern
const otherRoute = "other"

// routeLabel receives the pattern the host router matched, so metrics are
// labelled by route rather than by raw path.
type routeLabel struct {
	pattern string
}

type routeLabelKey struct{}

// captureRoute runs innermost, right around the host router. ServeMux sets
// r.Pattern on the request it is handed; chi fills its route context.
// Both are only complete once the router has run.
func captureRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		label, ok := r.Context().Value(routeLabelKey{}).(*routeLabel)
		if !ok {
			return
		}
		if r.Pattern != "" {
			label.pattern = r.Pattern
		} else if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				label.pattern = r.Method + " " + pattern
			}
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (p *Portal) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := p.tracer.Start(r.Context(), "http.request", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		label := &routeLabel{}
		ctx = context.WithValue(ctx, routeLabelKey{}, label)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := label.pattern
		if route == "" {
			route = otherRoute
		}
		instrumentation.AddHTTPAttributes(span, r.Method, r.URL.Path, status)
		p.metrics.RecordHTTPRequest(ctx, r.Method, route, status, float64(time.Since(start).Milliseconds()))
	})
}

func (p *Portal) rateLimit(next http.Handler) http.Handler {
	if p.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := p.clientIP.ClientIP(r)
		if !p.limiter.Allow(ip) {
			p.metrics.RecordRateLimitExceeded(r.Context(), "ip")
			p.auditor.LogRateLimitExceeded(r.Context(), ip, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			WriteError(w, NewError(ErrorCodeRateLimitExceeded, "Too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFrom returns the session attached by Middleware.
func (p *Portal) SessionFrom(r *http.Request) (session.Session, error) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return nil, session.ErrInvalidSessionState
	}
	return sess, nil
}

// RequireLogin rejects requests whose session is not logged in for namespace.
func (p *Portal) RequireLogin(namespace string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := p.SessionFrom(r)
			if err == nil && p.flows.IsLoggedIn(sess, namespace) {
				next.ServeHTTP(w, r)
				return
			}
			p.auditor.LogEvent(r.Context(), security.Event{
				Type:      security.EventLoginRequired,
				Namespace: namespace,
				IPAddress: p.clientIP.ClientIP(r),
				Details:   map[string]any{"path": r.URL.Path},
			})
			WriteError(w, session.ErrNotLoggedIn)
		})
	}
}

// BeginFlow starts a login flow for namespace. When req names an API, it
// must be resolvable; unknown APIs and upstream failures are returned
// without touching the session.
func (p *Portal) BeginFlow(r *http.Request, namespace string, req *session.AuthRequest) (*session.Flow, error) {
	ctx, span := p.tracer.Start(r.Context(), "portal.begin_flow")
	defer span.End()

	if req == nil || req.ClientID == "" {
		err := NewError(ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	sess, err := p.SessionFrom(r)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if req.APIID != "" {
		if _, err := p.resolver.API(ctx, req.APIID); err != nil {
			p.auditUpstreamFailure(ctx, err, req.APIID)
			instrumentation.RecordError(span, err)
			return nil, err
		}
	}

	if req.RedirectURI != "" && p.config.RedirectURIValidator != nil {
		if err := p.config.RedirectURIValidator(ctx, req); err != nil {
			p.auditor.LogEvent(ctx, security.Event{
				Type:      security.EventRedirectURIRejected,
				ClientID:  req.ClientID,
				Namespace: namespace,
				IPAddress: p.clientIP.ClientIP(r),
			})
			err = fmt.Errorf("%w: %w", ErrRedirectURINotAllowed, err)
			instrumentation.RecordError(span, err)
			return nil, err
		}
	}

	flow, err := p.flows.Begin(sess, namespace, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.AddFlowAttributes(span, namespace, flow.ID())
	instrumentation.SetSpanSuccess(span)
	p.auditor.LogFlowStarted(ctx, namespace, req.ClientID, req.APIID, p.clientIP.ClientIP(r))
	return flow, nil
}

// CompleteFlow records profile as the authenticated user of namespace and
// redirects the browser back to the flow's redirect URI. Without a
// redirect URI it answers 204.
func (p *Portal) CompleteFlow(w http.ResponseWriter, r *http.Request, namespace string, profile *session.Profile) error {
	ctx, span := p.tracer.Start(r.Context(), "portal.complete_flow")
	defer span.End()

	if profile == nil {
		err := NewError(ErrorCodeInvalidRequest, "profile is required", http.StatusBadRequest)
		instrumentation.RecordError(span, err)
		return err
	}

	sess, err := p.SessionFrom(r)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	flow, err := p.flows.RequireNamespace(sess, namespace)
	if err != nil {
		p.auditInvalidSession(ctx, r, namespace)
		instrumentation.RecordError(span, err)
		return err
	}
	instrumentation.AddFlowAttributes(span, namespace, flow.ID())

	req, err := p.flows.AuthRequest(sess, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	if err := p.flows.SetAuthResponse(sess, namespace, &session.AuthResponse{Profile: profile}); err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	if err := p.sessions.Rotate(w, r); err != nil {
		if !errors.Is(err, session.ErrUnmanagedSession) {
			instrumentation.RecordError(span, err)
			return err
		}
		p.logger.DebugContext(ctx, "Session not rotated, request bypassed the session middleware")
	}

	var clientID, redirectURI string
	if req != nil {
		clientID, redirectURI = req.ClientID, req.RedirectURI
	}
	p.auditor.LogLoginSucceeded(ctx, namespace, profile.Subject, clientID, p.clientIP.ClientIP(r))
	instrumentation.SetSpanSuccess(span)

	if redirectURI == "" {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	p.Redirect(w, r.WithContext(ctx), redirectURI, clientID)
	return nil
}

// Redirect sends the browser to redirectURI with 303 See Other and trusts
// the URI's origin for later credentialed CORS requests. A URI without a
// web origin is still followed but contributes no trust.
func (p *Portal) Redirect(w http.ResponseWriter, r *http.Request, redirectURI, clientID string) {
	if p.trust.Observe(redirectURI) {
		if origin, err := cors.OriginOf(redirectURI); err == nil {
			p.auditor.LogOriginTrusted(r.Context(), origin, clientID)
		}
	} else if _, err := cors.OriginOf(redirectURI); err != nil {
		p.auditor.LogEvent(r.Context(), security.Event{
			Type:     security.EventRedirectURIIgnored,
			ClientID: clientID,
		})
	}
	http.Redirect(w, r, redirectURI, http.StatusSeeOther)
}

// IssueCSRFToken issues a token for the next form post in namespace.
func (p *Portal) IssueCSRFToken(r *http.Request, namespace string) (string, error) {
	sess, err := p.SessionFrom(r)
	if err != nil {
		return "", err
	}
	return p.flows.IssueCSRFToken(sess, namespace)
}

// VerifyCSRFToken checks the token posted in CSRFFormField or CSRFHeader
// against the one issued for namespace. The issued token is spent either way.
func (p *Portal) VerifyCSRFToken(r *http.Request, namespace string) error {
	sess, err := p.SessionFrom(r)
	if err != nil {
		return err
	}

	presented := r.Header.Get(CSRFHeader)
	if presented == "" {
		presented = r.PostFormValue(CSRFFormField)
	}

	err = p.flows.VerifyCSRFToken(sess, namespace, presented)
	switch {
	case errors.Is(err, session.ErrCSRFTokenMismatch):
		p.auditor.LogCSRFFailure(r.Context(), namespace, p.clientIP.ClientIP(r))
	case errors.Is(err, session.ErrInvalidSessionState):
		p.auditInvalidSession(r.Context(), r, namespace)
	}
	return err
}

// ConsentView is what a consent page shows: who is asking for which API
// on behalf of which user.
type ConsentView struct {
	FlowID    string
	ClientID  string
	API       *metadata.APIDescriptor
	Scopes    []string
	Profile   *session.Profile
	CSRFToken string
}

// ConsentView gathers the data for the consent page of a logged-in flow.
func (p *Portal) ConsentView(r *http.Request, namespace string) (*ConsentView, error) {
	ctx, span := p.tracer.Start(r.Context(), "portal.consent_view")
	defer span.End()

	sess, flow, req, err := p.flowRequest(r, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, namespace, flow.ID())

	profile, err := p.flows.Profile(sess, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	api, err := p.resolver.API(ctx, req.APIID)
	if err != nil {
		p.auditUpstreamFailure(ctx, err, req.APIID)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	token, err := p.flows.IssueCSRFToken(sess, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	return &ConsentView{
		FlowID:    flow.ID(),
		ClientID:  req.ClientID,
		API:       api,
		Scopes:    req.Scopes,
		Profile:   profile,
		CSRFToken: token,
	}, nil
}

// RegistrationView is what a registration page shows: the API being
// registered for and the profile fields its pool requires.
type RegistrationView struct {
	FlowID         string
	API            *metadata.APIDescriptor
	Pool           *metadata.PoolDescriptor
	RequiredFields []string
	CSRFToken      string
}

// RegistrationView gathers the data for the registration page of a flow.
// APIs without a registration pool fail with metadata.ErrNoRegistrationPool.
func (p *Portal) RegistrationView(r *http.Request, namespace string) (*RegistrationView, error) {
	ctx, span := p.tracer.Start(r.Context(), "portal.registration_view")
	defer span.End()

	sess, flow, req, err := p.flowRequest(r, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddFlowAttributes(span, namespace, flow.ID())

	both, err := p.resolver.APIAndPool(ctx, req.APIID)
	if err != nil {
		p.auditUpstreamFailure(ctx, err, req.APIID)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	token, err := p.flows.IssueCSRFToken(sess, namespace)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	return &RegistrationView{
		FlowID:         flow.ID(),
		API:            both.APIInfo,
		Pool:           both.PoolInfo,
		RequiredFields: both.PoolInfo.RequiredFields(),
		CSRFToken:      token,
	}, nil
}

// Logout ends every flow in the browser session and expires the cookie.
func (p *Portal) Logout(w http.ResponseWriter, r *http.Request) {
	p.auditor.LogEvent(r.Context(), security.Event{
		Type:      security.EventLogout,
		IPAddress: p.clientIP.ClientIP(r),
	})
	p.sessions.Logout(w, r)
}

func (p *Portal) flowRequest(r *http.Request, namespace string) (session.Session, *session.Flow, *session.AuthRequest, error) {
	sess, err := p.SessionFrom(r)
	if err != nil {
		return nil, nil, nil, err
	}
	flow, err := p.flows.RequireNamespace(sess, namespace)
	if err != nil {
		p.auditInvalidSession(r.Context(), r, namespace)
		return nil, nil, nil, err
	}
	req, err := p.flows.AuthRequest(sess, namespace)
	if err != nil {
		return nil, nil, nil, err
	}
	if req == nil || req.APIID == "" {
		return nil, nil, nil, NewError(ErrorCodeInvalidRequest, "the login flow names no API", http.StatusBadRequest)
	}
	return sess, flow, req, nil
}

func (p *Portal) auditInvalidSession(ctx context.Context, r *http.Request, namespace string) {
	p.auditor.LogEvent(ctx, security.Event{
		Type:      security.EventInvalidSession,
		Namespace: namespace,
		IPAddress: p.clientIP.ClientIP(r),
	})
}

func (p *Portal) auditUpstreamFailure(ctx context.Context, err error, apiID string) {
	if !errors.Is(err, metadata.ErrUpstreamUnavailable) {
		return
	}
	p.auditor.LogEvent(ctx, security.Event{
		Type:    security.EventUpstreamFailure,
		Details: map[string]any{"api_id": apiID},
	})
}
