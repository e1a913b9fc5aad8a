package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oauth-portal/metadata"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BufferLogger returns a debug-level logger writing to the returned buffer.
// The buffer is not safe for concurrent writers; use it in sequential tests.
func BufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, &buf
}

// NewMockHTTPServer creates a test HTTP server with the given handler
func NewMockHTTPServer(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// FakeUpstream is an in-memory metadata.Upstream that counts calls.
// Ids without a descriptor or error answer metadata.ErrNotFound.
type FakeUpstream struct {
	mu       sync.Mutex
	apis     map[string]*metadata.APIDescriptor
	pools    map[string]*metadata.PoolDescriptor
	apiErrs  map[string]error
	poolErrs map[string]error

	// gate, when set, blocks every call until it is closed
	gate chan struct{}

	apiCalls  atomic.Int64
	poolCalls atomic.Int64
}

// NewFakeUpstream creates an empty FakeUpstream
func NewFakeUpstream() *FakeUpstream {
	return &FakeUpstream{
		apis:     make(map[string]*metadata.APIDescriptor),
		pools:    make(map[string]*metadata.PoolDescriptor),
		apiErrs:  make(map[string]error),
		poolErrs: make(map[string]error),
	}
}

// WithAPI registers an API descriptor
func (f *FakeUpstream) WithAPI(api *metadata.APIDescriptor) *FakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apis[api.ID] = api
	return f
}

// WithPool registers a pool descriptor
func (f *FakeUpstream) WithPool(pool *metadata.PoolDescriptor) *FakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[pool.ID] = pool
	return f
}

// FailAPI makes FetchAPI(id) return err
func (f *FakeUpstream) FailAPI(id string, err error) *FakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiErrs[id] = err
	return f
}

// FailPool makes FetchPool(id) return err
func (f *FakeUpstream) FailPool(id string, err error) *FakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolErrs[id] = err
	return f
}

// Block makes subsequent calls wait until Release is called
func (f *FakeUpstream) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks waiting calls
func (f *FakeUpstream) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// APICalls returns the number of FetchAPI calls
func (f *FakeUpstream) APICalls() int64 {
	return f.apiCalls.Load()
}

// PoolCalls returns the number of FetchPool calls
func (f *FakeUpstream) PoolCalls() int64 {
	return f.poolCalls.Load()
}

func (f *FakeUpstream) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()

	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchAPI implements metadata.Upstream
func (f *FakeUpstream) FetchAPI(ctx context.Context, id string) (*metadata.APIDescriptor, error) {
	f.apiCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.apiErrs[id]; ok {
		return nil, err
	}
	if api, ok := f.apis[id]; ok {
		return api, nil
	}
	return nil, fmt.Errorf("%w: api %q", metadata.ErrNotFound, id)
}

// FetchPool implements metadata.Upstream
func (f *FakeUpstream) FetchPool(ctx context.Context, id string) (*metadata.PoolDescriptor, error) {
	f.poolCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.poolErrs[id]; ok {
		return nil, err
	}
	if pool, ok := f.pools[id]; ok {
		return pool, nil
	}
	return nil, fmt.Errorf("%w: pool %q", metadata.ErrNotFound, id)
}

// FixedReader is an io.Reader returning the same byte forever, used to make
// random token generation deterministic.
type FixedReader byte

// Read fills p with the fixed byte
func (r FixedReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}
