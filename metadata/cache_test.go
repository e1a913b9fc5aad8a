package metadata_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-portal/instrumentation"
	"github.com/giantswarm/oauth-portal/internal/testutil"
	"github.com/giantswarm/oauth-portal/metadata"
)

func newAPICache(t *testing.T) *metadata.Cache[*metadata.APIDescriptor] {
	t.Helper()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	return metadata.NewCache[*metadata.APIDescriptor](metadata.KindAPI,
		metadata.WithLogger(testutil.DiscardLogger()),
		metadata.WithInstrumentation(inst),
	)
}

func waitForCalls(t *testing.T, calls func() int64, want int64) {
	t.Helper()
	require.Eventually(t, func() bool { return calls() == want }, 2*time.Second, time.Millisecond)
}

func TestCache_FetchMemoizesSuccess(t *testing.T) {
	upstream := testutil.NewFakeUpstream().WithAPI(&metadata.APIDescriptor{ID: "api1", RegistrationPool: "pool1"})
	cache := newAPICache(t)
	ctx := context.Background()

	assert.Equal(t, metadata.EntryMissing, cache.State("api1"))

	first, err := cache.Fetch(ctx, "api1", upstream.FetchAPI)
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, "api1", upstream.FetchAPI)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), upstream.APICalls())
	assert.Equal(t, metadata.EntrySuccess, cache.State("api1"))
	assert.Equal(t, 1, cache.Len())

	got, ok := cache.Get("api1")
	assert.True(t, ok)
	assert.Equal(t, "pool1", got.RegistrationPool)
}

func TestCache_GetNeverAttempted(t *testing.T) {
	cache := newAPICache(t)

	got, ok := cache.Get("unknown")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestCache_ConcurrentMissesShareOneCall(t *testing.T) {
	upstream := testutil.NewFakeUpstream().WithAPI(&metadata.APIDescriptor{ID: "api1"})
	upstream.Block()
	cache := newAPICache(t)

	const callers = 50
	results := make([]*metadata.APIDescriptor, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Fetch(context.Background(), "api1", upstream.FetchAPI)
		}(i)
	}

	waitForCalls(t, upstream.APICalls, 1)
	upstream.Release()
	wg.Wait()

	assert.Equal(t, int64(1), upstream.APICalls(), "upstream must be called exactly once")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestCache_FailureIsMemoized(t *testing.T) {
	boom := errors.New("connection refused")
	upstream := testutil.NewFakeUpstream().FailAPI("api1", boom)
	cache := newAPICache(t)
	ctx := context.Background()

	_, err := cache.Fetch(ctx, "api1", upstream.FetchAPI)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "first caller sees the original error")

	_, err = cache.Fetch(ctx, "api1", upstream.FetchAPI)
	require.Error(t, err)
	assert.ErrorIs(t, err, metadata.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, boom, "error detail is not retained")

	assert.Equal(t, int64(1), upstream.APICalls())
	assert.Equal(t, metadata.EntryFailure, cache.State("api1"))

	_, ok := cache.Get("api1")
	assert.False(t, ok)
}

func TestCache_NotFoundIsMemoizedAsFailure(t *testing.T) {
	upstream := testutil.NewFakeUpstream()
	cache := newAPICache(t)
	ctx := context.Background()

	_, err := cache.Fetch(ctx, "missing", upstream.FetchAPI)
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	_, err = cache.Fetch(ctx, "missing", upstream.FetchAPI)
	assert.ErrorIs(t, err, metadata.ErrNotFound, "replay keeps the not-found class")
	assert.NotErrorIs(t, err, metadata.ErrUpstreamUnavailable)
	assert.Equal(t, int64(1), upstream.APICalls())
	assert.Equal(t, metadata.EntryFailure, cache.State("missing"))
}

func TestCache_ConcurrentFailureSharedByWaiters(t *testing.T) {
	boom := errors.New("upstream 503")
	upstream := testutil.NewFakeUpstream().FailAPI("api1", boom)
	upstream.Block()
	cache := newAPICache(t)

	const callers = 20
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Fetch(context.Background(), "api1", upstream.FetchAPI)
		}(i)
	}

	waitForCalls(t, upstream.APICalls, 1)
	upstream.Release()
	wg.Wait()

	assert.Equal(t, int64(1), upstream.APICalls())
	for _, err := range errs {
		// Waiters of the flight get the original error, late arrivals the cached failure
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom) || errors.Is(err, metadata.ErrUpstreamUnavailable), "unexpected error %v", err)
	}
}

func TestCache_EmptyIDRejected(t *testing.T) {
	upstream := testutil.NewFakeUpstream()
	cache := newAPICache(t)

	_, err := cache.Fetch(context.Background(), "", upstream.FetchAPI)
	assert.ErrorIs(t, err, metadata.ErrInvalidID)
	assert.Equal(t, int64(0), upstream.APICalls())
	assert.Equal(t, 0, cache.Len())
}

func TestCache_WaiterCancellationDoesNotPoisonEntry(t *testing.T) {
	upstream := testutil.NewFakeUpstream().WithAPI(&metadata.APIDescriptor{ID: "api1"})
	upstream.Block()
	cache := newAPICache(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(ctx, "api1", upstream.FetchAPI)
		done <- err
	}()

	waitForCalls(t, upstream.APICalls, 1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	upstream.Release()

	got, err := cache.Fetch(context.Background(), "api1", upstream.FetchAPI)
	require.NoError(t, err)
	assert.Equal(t, "api1", got.ID)
	assert.Equal(t, int64(1), upstream.APICalls())
	assert.Equal(t, metadata.EntrySuccess, cache.State("api1"))
}

func TestCache_KindsDoNotCollide(t *testing.T) {
	upstream := testutil.NewFakeUpstream().
		WithAPI(&metadata.APIDescriptor{ID: "shared", Name: "an api"}).
		WithPool(&metadata.PoolDescriptor{ID: "shared", Name: "a pool"})

	resolver, err := metadata.NewResolver(upstream, metadata.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	api, err := resolver.API(ctx, "shared")
	require.NoError(t, err)
	pool, err := resolver.Pool(ctx, "shared")
	require.NoError(t, err)

	assert.Equal(t, "an api", api.Name)
	assert.Equal(t, "a pool", pool.Name)
	assert.Equal(t, int64(1), upstream.APICalls())
	assert.Equal(t, int64(1), upstream.PoolCalls())
	assert.Equal(t, metadata.KindAPI, resolver.APIs().Kind())
	assert.Equal(t, metadata.KindPool, resolver.Pools().Kind())
}

func TestEntryState_String(t *testing.T) {
	assert.Equal(t, "missing", metadata.EntryMissing.String())
	assert.Equal(t, "success", metadata.EntrySuccess.String())
	assert.Equal(t, "failure", metadata.EntryFailure.String())
}
