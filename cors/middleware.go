package cors

import (
	"log/slog"
	"net/http"

	"github.com/giantswarm/oauth-portal/instrumentation"
)

// Middleware applies the policy to every request and answers preflight
// requests directly with 204 No Content. Denied requests still reach next;
// the browser withholds the response from the calling page.
func Middleware(p *Policy, logger *slog.Logger, inst *instrumentation.Instrumentation) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var metrics *instrumentation.Metrics
	if inst != nil {
		metrics = inst.Metrics()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			decision := p.Decide(origin)
			p.Apply(w.Header(), decision)

			switch {
			case origin == "":
				metrics.RecordCORSDecision(r.Context(), instrumentation.CORSDecisionNoOrigin)
			case decision.Allowed():
				metrics.RecordCORSDecision(r.Context(), instrumentation.CORSDecisionAllowed)
			default:
				metrics.RecordCORSDecision(r.Context(), instrumentation.CORSDecisionDenied)
				logger.Debug("CORS request from untrusted origin", "origin", origin, "path", r.URL.Path)
			}

			if isPreflight(r) {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
