package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth-portal/instrumentation"
)

const (
	// namespaceKeyPrefix prefixes session keys holding a *Flow
	namespaceKeyPrefix = "portal.flow."

	// csrfTokenBytes is 160 bits of entropy
	csrfTokenBytes = 20

	// otherNamespace labels metrics for namespaces outside the configured set
	otherNamespace = "other"
)

// Flows manages per-namespace login flow state inside a Session.
//
// Every accessor requires the namespace to exist; only Begin creates one.
// Flows itself is stateless and safe for concurrent use.
type Flows struct {
	rand    io.Reader
	now     func() time.Time
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// authMethods, when non-empty, is the closed set of namespaces Begin accepts
	authMethods map[string]struct{}
}

// FlowsOption configures Flows.
type FlowsOption func(*Flows)

// WithRandReader overrides the CSRF token entropy source
func WithRandReader(r io.Reader) FlowsOption {
	return func(f *Flows) {
		if r != nil {
			f.rand = r
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) FlowsOption {
	return func(f *Flows) {
		if now != nil {
			f.now = now
		}
	}
}

// WithFlowsLogger sets the logger
func WithFlowsLogger(logger *slog.Logger) FlowsOption {
	return func(f *Flows) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFlowsInstrumentation enables metrics
func WithFlowsInstrumentation(inst *instrumentation.Instrumentation) FlowsOption {
	return func(f *Flows) {
		if inst != nil {
			f.metrics = inst.Metrics()
		}
	}
}

// WithAuthMethods restricts Begin to the given namespaces. Metrics are
// labelled with these names; without the option every namespace is
// labelled "other".
func WithAuthMethods(namespaces ...string) FlowsOption {
	return func(f *Flows) {
		for _, ns := range namespaces {
			if ns == "" {
				continue
			}
			if f.authMethods == nil {
				f.authMethods = make(map[string]struct{})
			}
			f.authMethods[ns] = struct{}{}
		}
	}
}

// NewFlows creates a flow state manager.
func NewFlows(opts ...FlowsOption) *Flows {
	f := &Flows{
		rand:   rand.Reader,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "flows")
	return f
}

func namespaceKey(ns string) string {
	return namespaceKeyPrefix + ns
}

func (f *Flows) knownNamespace(ns string) bool {
	_, ok := f.authMethods[ns]
	return ok
}

// metricNamespace keeps the namespace metric label bounded
func (f *Flows) metricNamespace(ns string) string {
	if f.knownNamespace(ns) {
		return ns
	}
	return otherNamespace
}

// Begin starts a new flow for namespace ns, replacing any previous flow
// there, and stores req as its AuthRequest.
func (f *Flows) Begin(sess Session, ns string, req *AuthRequest) (*Flow, error) {
	if sess == nil || ns == "" {
		return nil, ErrInvalidSessionState
	}
	if len(f.authMethods) > 0 && !f.knownNamespace(ns) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}

	flow := &Flow{
		id:        uuid.NewString(),
		namespace: ns,
		startedAt: f.now(),
		request:   req.clone(),
	}
	if flow.request != nil && flow.request.CreatedAt.IsZero() {
		flow.request.CreatedAt = flow.startedAt
	}

	sess.Set(namespaceKey(ns), flow)

	f.metrics.RecordFlowStarted(context.Background(), f.metricNamespace(ns))
	f.logger.Debug("Started login flow", "namespace", ns, "flow_id", flow.id)
	return flow, nil
}

// End removes the namespace and everything stored under it. Ending a
// namespace that does not exist is not an error.
func (f *Flows) End(sess Session, ns string) {
	if sess == nil {
		return
	}
	sess.Delete(namespaceKey(ns))
}

// RequireNamespace returns the flow stored for ns.
func (f *Flows) RequireNamespace(sess Session, ns string) (*Flow, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: no session", ErrInvalidSessionState)
	}
	v, ok := sess.Get(namespaceKey(ns))
	if !ok {
		return nil, fmt.Errorf("%w: no flow for namespace %q", ErrInvalidSessionState, ns)
	}
	flow, ok := v.(*Flow)
	if !ok || flow == nil {
		f.logger.Warn("Session holds unexpected value for flow namespace",
			"namespace", ns, "type", fmt.Sprintf("%T", v))
		return nil, fmt.Errorf("%w: corrupt flow for namespace %q", ErrInvalidSessionState, ns)
	}
	return flow, nil
}

// AuthRequest returns a copy of the namespace's AuthRequest, or nil when
// none was set.
func (f *Flows) AuthRequest(sess Session, ns string) (*AuthRequest, error) {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return nil, err
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()
	return flow.request.clone(), nil
}

// SetAuthRequest replaces the namespace's AuthRequest.
func (f *Flows) SetAuthRequest(sess Session, ns string, req *AuthRequest) error {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return err
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()
	flow.request = req.clone()
	return nil
}

// AuthResponse returns a copy of the namespace's AuthResponse, or nil when
// none was set.
func (f *Flows) AuthResponse(sess Session, ns string) (*AuthResponse, error) {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return nil, err
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()
	return flow.response.clone(), nil
}

// SetAuthResponse replaces the namespace's AuthResponse.
func (f *Flows) SetAuthResponse(sess Session, ns string, resp *AuthResponse) error {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return err
	}

	resp = resp.clone()
	if resp != nil && resp.AuthenticatedAt.IsZero() {
		resp.AuthenticatedAt = f.now()
	}

	flow.mu.Lock()
	flow.response = resp
	flow.mu.Unlock()

	if resp != nil && resp.Profile != nil {
		f.metrics.RecordFlowCompleted(context.Background(), f.metricNamespace(ns))
	}
	return nil
}

// IsLoggedIn reports whether ns holds an AuthResponse with a profile.
// A missing namespace is simply not logged in.
func (f *Flows) IsLoggedIn(sess Session, ns string) bool {
	_, err := f.Profile(sess, ns)
	return err == nil
}

// Profile returns the logged-in profile for ns, or ErrNotLoggedIn.
func (f *Flows) Profile(sess Session, ns string) (*Profile, error) {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
	}
	flow.mu.Lock()
	defer flow.mu.Unlock()

	if flow.response == nil || flow.response.Profile == nil {
		return nil, ErrNotLoggedIn
	}
	return flow.response.Profile.clone(), nil
}

// IssueCSRFToken generates a fresh token for ns, replacing any unconsumed one.
func (f *Flows) IssueCSRFToken(sess Session, ns string) (string, error) {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return "", err
	}

	buf := make([]byte, csrfTokenBytes)
	if _, err := io.ReadFull(f.rand, buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	flow.mu.Lock()
	flow.csrfToken = token
	flow.mu.Unlock()

	f.metrics.RecordCSRFToken(context.Background(), instrumentation.CSRFIssued)
	return token, nil
}

// ConsumeCSRFToken returns the stored token and removes it in one step.
// The second call for the same issued token reports absence.
func (f *Flows) ConsumeCSRFToken(sess Session, ns string) (string, bool, error) {
	flow, err := f.RequireNamespace(sess, ns)
	if err != nil {
		return "", false, err
	}

	flow.mu.Lock()
	token := flow.csrfToken
	flow.csrfToken = ""
	flow.mu.Unlock()

	if token == "" {
		f.metrics.RecordCSRFToken(context.Background(), instrumentation.CSRFMissing)
		return "", false, nil
	}
	f.metrics.RecordCSRFToken(context.Background(), instrumentation.CSRFConsumed)
	return token, true, nil
}

// VerifyCSRFToken consumes the stored token and compares it with presented
// in constant time. The stored token is gone afterwards whatever the result.
func (f *Flows) VerifyCSRFToken(sess Session, ns, presented string) error {
	token, ok, err := f.ConsumeCSRFToken(sess, ns)
	if err != nil {
		return err
	}
	if !ok || presented == "" || subtle.ConstantTimeCompare([]byte(token), []byte(presented)) != 1 {
		f.metrics.RecordCSRFToken(context.Background(), instrumentation.CSRFMismatch)
		f.logger.Warn("CSRF token verification failed", "namespace", ns, "token_present", ok)
		return ErrCSRFTokenMismatch
	}
	return nil
}
