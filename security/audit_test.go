package security

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth-portal/internal/testutil"
	"github.com/giantswarm/oauth-portal/internal/util"
)

func TestNewAuditor(t *testing.T) {
	a := NewAuditor(nil, true)
	if a.logger == nil {
		t.Error("logger should default")
	}
	if !a.enabled {
		t.Error("enabled should be true")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		event   Event
		wantLog bool
	}{
		{
			name:    "enabled",
			enabled: true,
			event:   Event{Type: EventLoginSucceeded, Subject: "user-1", ClientID: "client-1", Namespace: "password"},
			wantLog: true,
		},
		{
			name:    "disabled",
			enabled: false,
			event:   Event{Type: EventLoginSucceeded, Subject: "user-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := testutil.BufferLogger()
			a := NewAuditor(logger, tt.enabled)

			a.LogEvent(context.Background(), tt.event)

			out := buf.String()
			if got := strings.Contains(out, "security_audit"); got != tt.wantLog {
				t.Fatalf("logged = %v, want %v: %q", got, tt.wantLog, out)
			}
			if !tt.wantLog {
				return
			}
			if strings.Contains(out, "user-1") {
				t.Error("raw subject leaked into the log")
			}
			if !strings.Contains(out, util.HashForLogging("user-1")) {
				t.Error("hashed subject missing")
			}
			if !strings.Contains(out, "namespace=password") {
				t.Errorf("namespace missing: %q", out)
			}
		})
	}
}

func TestAuditor_RequestIDFromContext(t *testing.T) {
	logger, buf := testutil.BufferLogger()
	a := NewAuditor(logger, true)
	a.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	ctx := WithRequestID(context.Background(), "req-123")
	a.LogCSRFFailure(ctx, "password", "10.0.0.1")

	out := buf.String()
	for _, want := range []string{"event_type=csrf_failure", "request_id=req-123", "ip_address=10.0.0.1", "2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestAuditor_Helpers(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{
			name: "flow started",
			log: func(a *Auditor) {
				a.LogFlowStarted(context.Background(), "password", "client-1", "api1", "10.0.0.1")
			},
			want: EventFlowStarted,
		},
		{
			name: "login succeeded",
			log: func(a *Auditor) {
				a.LogLoginSucceeded(context.Background(), "password", "user-1", "client-1", "10.0.0.1")
			},
			want: EventLoginSucceeded,
		},
		{
			name: "origin trusted",
			log: func(a *Auditor) {
				a.LogOriginTrusted(context.Background(), "https://app.example.com", "client-1")
			},
			want: EventOriginTrusted,
		},
		{
			name: "rate limit",
			log: func(a *Auditor) {
				a.LogRateLimitExceeded(context.Background(), "10.0.0.1", "/login")
			},
			want: EventRateLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := testutil.BufferLogger()
			tt.log(NewAuditor(logger, true))
			if !strings.Contains(buf.String(), "event_type="+tt.want) {
				t.Errorf("missing event type %q in %q", tt.want, buf.String())
			}
		})
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var a *Auditor
	a.LogEvent(context.Background(), Event{Type: EventLogout})
}
