package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/oauth-portal/instrumentation"
)

// EntryState describes what the cache knows about a key.
type EntryState int

const (
	// EntryMissing means no upstream call was ever attempted for the key
	EntryMissing EntryState = iota
	// EntrySuccess means the key resolved to a value
	EntrySuccess
	// EntryFailure means the upstream call for the key failed
	EntryFailure
)

func (s EntryState) String() string {
	switch s {
	case EntrySuccess:
		return "success"
	case EntryFailure:
		return "failure"
	default:
		return "missing"
	}
}

// FetchFunc performs the upstream call for a single id.
type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

type entry[T any] struct {
	value  T
	failed bool
	// class is the sentinel the failure is replayed as; the detail is dropped
	class error
}

// Cache memoizes upstream lookups for one resource kind.
//
// Both successes and failures are kept for the lifetime of the cache; there
// is no TTL and no eviction. Concurrent misses for the same id join a single
// upstream call.
type Cache[T any] struct {
	kind Kind

	mu      sync.RWMutex
	entries map[string]entry[T]

	// flights deduplicates concurrent upstream calls per id
	flights singleflight.Group

	logger  *slog.Logger
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// Option configures a Cache or a Resolver.
type Option func(*options)

type options struct {
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithInstrumentation enables metrics and tracing.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(o *options) {
		o.inst = inst
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// NewCache creates an empty cache for the given kind.
func NewCache[T any](kind Kind, opts ...Option) *Cache[T] {
	o := buildOptions(opts)

	c := &Cache[T]{
		kind:    kind,
		entries: make(map[string]entry[T]),
		logger:  o.logger.With("component", "metadata_cache", "kind", string(kind)),
		tracer:  tracenoop.NewTracerProvider().Tracer(""),
	}
	if o.inst != nil {
		c.metrics = o.inst.Metrics()
		c.tracer = o.inst.Tracer("metadata")
	}
	return c
}

// Kind returns the resource kind this cache holds
func (c *Cache[T]) Kind() Kind {
	return c.kind
}

// Get returns the cached value for id. The boolean is true only for
// successfully resolved ids.
func (c *Cache[T]) Get(id string) (T, bool) {
	e, ok := c.load(id)
	if !ok || e.failed {
		var zero T
		return zero, false
	}
	return e.value, true
}

// State reports whether id was never attempted, resolved or failed.
func (c *Cache[T]) State(id string) EntryState {
	e, ok := c.load(id)
	switch {
	case !ok:
		return EntryMissing
	case e.failed:
		return EntryFailure
	default:
		return EntrySuccess
	}
}

// Len returns the number of memoized entries, successes and failures alike
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fetch returns the memoized result for id, calling upstream at most once per id.
//
// A cached failure is replayed without contacting upstream. The replayed
// error keeps the class of the original (ErrNotFound, ErrInvalidID or
// ErrUpstreamUnavailable) but not its detail. Callers waiting on an
// in-flight call receive that call's original error. The upstream call is detached from the
// caller's cancellation so that a departing caller cannot fail the shared
// entry; a caller whose ctx ends stops waiting and gets ctx.Err().
func (c *Cache[T]) Fetch(ctx context.Context, id string, call FetchFunc[T]) (T, error) {
	var zero T

	if id == "" {
		return zero, fmt.Errorf("%w: empty %s id", ErrInvalidID, c.kind)
	}

	if e, ok := c.load(id); ok {
		return c.resolved(ctx, id, e)
	}
	c.metrics.RecordCacheLookup(ctx, string(c.kind), instrumentation.CacheResultMiss)

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(id, func() (any, error) {
		// Another flight may have stored the entry between our miss and this call
		if e, ok := c.load(id); ok {
			return e, nil
		}

		value, err := c.callUpstream(detached, id, call)
		if err != nil {
			c.store(id, entry[T]{failed: true, class: failureClass(err)})
			return nil, err
		}
		return c.store(id, entry[T]{value: value}), nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		e := res.Val.(entry[T])
		if e.failed {
			return zero, cachedFailure(c.kind, id, e.class)
		}
		return e.value, nil
	}
}

func (c *Cache[T]) resolved(ctx context.Context, id string, e entry[T]) (T, error) {
	if e.failed {
		c.metrics.RecordCacheLookup(ctx, string(c.kind), instrumentation.CacheResultFailureHit)
		var zero T
		return zero, cachedFailure(c.kind, id, e.class)
	}
	c.metrics.RecordCacheLookup(ctx, string(c.kind), instrumentation.CacheResultHit)
	return e.value, nil
}

func (c *Cache[T]) callUpstream(ctx context.Context, id string, call FetchFunc[T]) (T, error) {
	ctx, span := c.tracer.Start(ctx, "metadata.fetch")
	defer span.End()
	instrumentation.AddMetadataAttributes(span, string(c.kind), id)

	start := time.Now()
	value, err := call(ctx, id)
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	result := instrumentation.UpstreamResultSuccess
	switch {
	case errors.Is(err, ErrNotFound):
		result = instrumentation.UpstreamResultNotFound
	case err != nil:
		result = instrumentation.UpstreamResultError
	}
	c.metrics.RecordUpstreamCall(ctx, string(c.kind), result, durationMs)

	if err != nil {
		instrumentation.RecordError(span, err)
		c.logger.Warn("Upstream metadata fetch failed, caching failure",
			"id", id,
			"result", result,
			"error", err)
		return value, fmt.Errorf("fetch %s %q: %w", c.kind, id, err)
	}

	instrumentation.SetSpanSuccess(span)
	c.logger.Debug("Fetched metadata from upstream", "id", id, "duration_ms", durationMs)
	return value, nil
}

func (c *Cache[T]) load(id string) (entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// store writes e unless an entry already exists, and returns the entry that
// is in effect afterwards. Entries are never replaced.
func (c *Cache[T]) store(id string, e entry[T]) entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		return existing
	}
	c.entries[id] = e
	return e
}
