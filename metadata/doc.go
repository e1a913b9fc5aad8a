// Package metadata shields the portal from the upstream metadata service.
//
// A Cache memoizes one resource kind (API descriptors or registration pool
// descriptors). Every id is fetched from upstream at most once per process:
//
//   - concurrent misses for the same id share one in-flight call
//     (golang.org/x/sync/singleflight)
//   - successes and failures are both remembered; a failed id keeps failing
//     with ErrUpstreamUnavailable until the process restarts
//
// The Resolver composes the two caches: it resolves the registration pool
// of an API and fetches API and pool concurrently for consent and
// registration views.
//
// HTTPUpstream is the production Upstream. It throttles requests, applies a
// per-request timeout and optionally authenticates with OAuth2 client
// credentials. The cache itself imposes no timeout; wrap the upstream call
// to bound it.
//
// Example:
//
//	upstream, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{
//		BaseURL: "https://metadata.internal/v1",
//	})
//	if err != nil {
//		return err
//	}
//	resolver, err := metadata.NewResolver(upstream, metadata.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	view, err := resolver.APIAndPool(ctx, "api1")
package metadata
