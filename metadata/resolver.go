package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Upstream is the contract of the remote metadata service.
// Implementations return an error wrapping ErrNotFound for unknown ids.
type Upstream interface {
	FetchAPI(ctx context.Context, id string) (*APIDescriptor, error)
	FetchPool(ctx context.Context, id string) (*PoolDescriptor, error)
}

// Resolver answers API and registration pool questions through two
// independent caches in front of an Upstream.
type Resolver struct {
	upstream Upstream
	apis     *Cache[*APIDescriptor]
	pools    *Cache[*PoolDescriptor]
	logger   *slog.Logger
}

// NewResolver creates a Resolver with fresh, empty caches.
func NewResolver(upstream Upstream, opts ...Option) (*Resolver, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	o := buildOptions(opts)

	return &Resolver{
		upstream: upstream,
		apis:     NewCache[*APIDescriptor](KindAPI, opts...),
		pools:    NewCache[*PoolDescriptor](KindPool, opts...),
		logger:   o.logger.With("component", "metadata_resolver"),
	}, nil
}

// APIs exposes the API descriptor cache
func (r *Resolver) APIs() *Cache[*APIDescriptor] {
	return r.apis
}

// Pools exposes the pool descriptor cache
func (r *Resolver) Pools() *Cache[*PoolDescriptor] {
	return r.pools
}

// API returns the API descriptor for apiID.
func (r *Resolver) API(ctx context.Context, apiID string) (*APIDescriptor, error) {
	return r.apis.Fetch(ctx, apiID, r.upstream.FetchAPI)
}

// Pool returns the registration pool descriptor for poolID.
func (r *Resolver) Pool(ctx context.Context, poolID string) (*PoolDescriptor, error) {
	return r.pools.Fetch(ctx, poolID, r.upstream.FetchPool)
}

// PoolIDForAPI returns the registration pool id of an API. An empty id is a
// valid answer meaning the API has no pool.
func (r *Resolver) PoolIDForAPI(ctx context.Context, apiID string) (string, error) {
	api, err := r.API(ctx, apiID)
	if err != nil {
		return "", err
	}
	return api.RegistrationPool, nil
}

// PoolForAPI returns the registration pool of an API, or ErrNoRegistrationPool
// when the API names none. No pool lookup is issued in that case.
func (r *Resolver) PoolForAPI(ctx context.Context, apiID string) (*PoolDescriptor, error) {
	poolID, err := r.PoolIDForAPI(ctx, apiID)
	if err != nil {
		return nil, err
	}
	if poolID == "" {
		r.logger.Warn("API has no registration pool configured", "api_id", apiID)
		return nil, fmt.Errorf("%w: api %q", ErrNoRegistrationPool, apiID)
	}
	return r.Pool(ctx, poolID)
}

// APIAndPool resolves the API descriptor and its registration pool
// concurrently. Both must succeed; the first error is returned and the
// result of the other branch is discarded.
func (r *Resolver) APIAndPool(ctx context.Context, apiID string) (*APIAndPool, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		api  *APIDescriptor
		pool *PoolDescriptor
	)

	g.Go(func() error {
		a, err := r.API(gctx, apiID)
		if err != nil {
			return err
		}
		api = a
		return nil
	})

	g.Go(func() error {
		p, err := r.PoolForAPI(gctx, apiID)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &APIAndPool{APIInfo: api, PoolInfo: pool}, nil
}
