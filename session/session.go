package session

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidSessionState means the session has no (or a corrupt) entry for
	// the requested auth-method namespace. It is never a soft miss: callers
	// reached a step of a flow that was not started in this session.
	ErrInvalidSessionState = errors.New("session: invalid session state")

	// ErrNotLoggedIn means the namespace exists but holds no authenticated profile.
	ErrNotLoggedIn = errors.New("session: not logged in")

	// ErrUnmanagedSession means the request's session was not loaded by
	// MemoryStore.Middleware, so it cannot be rotated.
	ErrUnmanagedSession = errors.New("session: request has no managed session")

	// ErrUnknownNamespace means Begin was asked for an auth method that is
	// not configured.
	ErrUnknownNamespace = errors.New("session: unknown auth method")

	// ErrCSRFTokenMismatch means the presented CSRF token was absent, already
	// consumed, or different from the issued one.
	ErrCSRFTokenMismatch = errors.New("session: csrf token mismatch")
)

// Session is the host framework's per-browser key/value store.
// Implementations must be safe for concurrent use.
type Session interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
}

// Values is a mutex-guarded map implementing Session.
type Values struct {
	mu sync.RWMutex
	m  map[string]any
}

var _ Session = (*Values)(nil)

// NewValues creates an empty session.
func NewValues() *Values {
	return &Values{m: make(map[string]any)}
}

func (v *Values) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

func (v *Values) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = value
}

func (v *Values) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// Len returns the number of keys
func (v *Values) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.m)
}
