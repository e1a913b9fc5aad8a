// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// login portal support layer.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "login-portal",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When Enabled is true and no TracerProvider is injected, an SDK tracer
// provider is created; attach exporters with
// inst.SDKTracerProvider().RegisterSpanProcessor(...). Metrics are recorded on
// the injected MeterProvider, or discarded by a no-op provider.
//
// # Available Metrics
//
// HTTP Layer:
//   - portal.http.requests.total{method, route, status}
//   - portal.http.request.duration{route}
//
// Metadata cache:
//   - portal.metadata.cache.lookups{kind, result} - result is hit, miss or failure_hit
//   - portal.metadata.upstream.calls{kind, result}
//   - portal.metadata.upstream.duration{kind, result}
//   - portal.metadata.cache.entries{kind} (gauge)
//
// CORS:
//   - portal.cors.decisions{decision}
//   - portal.cors.origins.observed{result}
//   - portal.cors.trusted_origins (gauge)
//
// Session flows:
//   - portal.flow.started{namespace}
//   - portal.flow.completed{namespace}
//   - portal.csrf.tokens{operation}
//   - portal.sessions.active (gauge)
//
// Security:
//   - portal.rate_limit.exceeded{limiter_type}
//   - portal.audit.events{event_type}
//
// # Nil Safety
//
// Every Record method on *Metrics and every span helper accepts nil, so
// components can be constructed without instrumentation in tests.
package instrumentation
