package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "oauth-portal"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/giantswarm/oauth-portal/"

	// MetricsExporterPrometheus exposes metrics through a Prometheus registry
	MetricsExporterPrometheus = "prometheus"

	// gauges share one meter so a single callback can observe them all
	gaugeScope = "state"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "login-portal")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used (zero overhead).
	Enabled bool

	// Resource allows custom resource attributes.
	// If nil, a resource is created with service name and version.
	Resource *resource.Resource

	// TracerProvider overrides the tracer provider. When nil and Enabled is true,
	// an SDK tracer provider without exporters is created; register span
	// processors on it via SDKTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider overrides the meter provider. When nil, MetricsExporter
	// decides; without an exporter a no-op meter provider is used.
	MeterProvider metric.MeterProvider

	// MetricsExporter selects the metrics exporter when MeterProvider is nil:
	// "prometheus" or "" for none.
	MetricsExporter string

	// PrometheusRegisterer receives the exporter's collector.
	// Default: prometheus.DefaultRegisterer, which promhttp.Handler serves.
	PrometheusRegisterer prometheus.Registerer
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	sdkTracer      *sdktrace.TracerProvider

	metrics *Metrics

	// Shutdown functions (registered during New() only)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, err
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders wires injected providers or falls back to an SDK tracer
// provider and the configured metrics exporter.
func (i *Instrumentation) initializeProviders() error {
	if i.config.TracerProvider != nil {
		i.tracerProvider = i.config.TracerProvider
	} else {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))
		i.sdkTracer = tp
		i.tracerProvider = tp
		i.shutdownFuncs = append(i.shutdownFuncs, tp.Shutdown)
	}

	switch {
	case i.config.MeterProvider != nil:
		i.meterProvider = i.config.MeterProvider
	case i.config.MetricsExporter == MetricsExporterPrometheus:
		registerer := i.config.PrometheusRegisterer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(registerer))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(i.resource),
		)
		i.meterProvider = mp
		i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown)
	case i.config.MetricsExporter == "":
		i.meterProvider = noop.NewMeterProvider()
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}
	return nil
}

// Shutdown gracefully shuts down all instrumentation providers
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "metadata", "cors", "session", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// SDKTracerProvider returns the SDK tracer provider created by New, or nil
// when instrumentation is disabled or a provider was injected.
func (i *Instrumentation) SDKTracerProvider() *sdktrace.TracerProvider {
	return i.sdkTracer
}

// SizeCallback returns the current size of a shared in-memory component
type SizeCallback func() int64

// RegisterSizeCallbacks registers callbacks for the gauges describing the
// process-wide caches. Nil callbacks are skipped.
func (i *Instrumentation) RegisterSizeCallbacks(apiEntries, poolEntries, trustedOrigins, sessions SizeCallback) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter(gaugeScope)
	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if apiEntries != nil {
				observer.ObserveInt64(i.metrics.CacheEntries, apiEntries(), metric.WithAttributes(attrKind("api")))
			}
			if poolEntries != nil {
				observer.ObserveInt64(i.metrics.CacheEntries, poolEntries(), metric.WithAttributes(attrKind("pool")))
			}
			if trustedOrigins != nil {
				observer.ObserveInt64(i.metrics.TrustedOrigins, trustedOrigins())
			}
			if sessions != nil {
				observer.ObserveInt64(i.metrics.ActiveSessions, sessions())
			}
			return nil
		},
		i.metrics.CacheEntries,
		i.metrics.TrustedOrigins,
		i.metrics.ActiveSessions,
	)

	return err
}
