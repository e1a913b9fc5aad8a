package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultCookieName      = "portal_session"
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// StoreConfig configures a MemoryStore.
type StoreConfig struct {
	// CookieName carries the session id. Default: portal_session.
	CookieName string

	// CookiePath scopes the cookie. Default: /.
	CookiePath string

	// Secure marks the cookie Secure. Should be true everywhere except
	// plain-http local development.
	Secure bool

	// IdleTimeout expires sessions not used for this long. Default: 30m.
	IdleTimeout time.Duration

	// CleanupInterval is how often expired sessions are swept. Default: 1m.
	CleanupInterval time.Duration

	Logger *slog.Logger

	// Now overrides time.Now, for tests
	Now func() time.Time
}

type storedSession struct {
	values   *Values
	lastSeen time.Time
}

// MemoryStore keeps sessions in process memory, keyed by a random id sent
// to the browser in an HttpOnly cookie. Sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*storedSession
	count    atomic.Int64

	cookieName      string
	cookiePath      string
	secure          bool
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store and starts its background cleanup loop.
// Call Stop to end the loop.
func NewMemoryStore(cfg StoreConfig) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]*storedSession),
		cookieName:      cfg.CookieName,
		cookiePath:      cfg.CookiePath,
		secure:          cfg.Secure,
		idleTimeout:     cfg.IdleTimeout,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		logger:          cfg.Logger,
		stopCleanup:     make(chan struct{}),
	}
	if s.cookieName == "" {
		s.cookieName = DefaultCookieName
	}
	if s.cookiePath == "" {
		s.cookiePath = "/"
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = DefaultCleanupInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session_store")

	go s.cleanupLoop()

	return s
}

// Stop ends the cleanup loop. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Len returns the number of live sessions without taking the lock
func (s *MemoryStore) Len() int64 {
	return s.count.Load()
}

// Create starts a new empty session and returns its id.
func (s *MemoryStore) Create() (string, *Values) {
	id := oauth2.GenerateVerifier()
	values := NewValues()

	s.mu.Lock()
	s.sessions[id] = &storedSession{values: values, lastSeen: s.now()}
	s.count.Store(int64(len(s.sessions)))
	s.mu.Unlock()

	return id, values
}

// Load returns the session for id and marks it as used. Expired sessions
// are removed and reported as missing.
func (s *MemoryStore) Load(id string) (*Values, bool) {
	if id == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(stored.lastSeen) > s.idleTimeout {
		delete(s.sessions, id)
		s.count.Store(int64(len(s.sessions)))
		return nil, false
	}
	stored.lastSeen = now
	return stored.values, true
}

// Destroy removes the session
func (s *MemoryStore) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.count.Store(int64(len(s.sessions)))
	s.mu.Unlock()
}

// Rotate moves the request's session to a fresh id and sends the new
// cookie. Values are kept; the old id stops working. Call it whenever the
// session gains privileges, e.g. after login. The request must have passed
// through Middleware, otherwise ErrUnmanagedSession is returned.
func (s *MemoryStore) Rotate(w http.ResponseWriter, r *http.Request) error {
	h, ok := r.Context().Value(handleKey{}).(*handle)
	if !ok {
		return ErrUnmanagedSession
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	newID := oauth2.GenerateVerifier()

	s.mu.Lock()
	stored, ok := s.sessions[h.id]
	if !ok {
		s.mu.Unlock()
		return ErrInvalidSessionState
	}
	delete(s.sessions, h.id)
	stored.lastSeen = s.now()
	s.sessions[newID] = stored
	s.mu.Unlock()

	h.id = newID
	http.SetCookie(w, s.cookie(newID, 0))
	s.logger.Debug("Rotated session id")
	return nil
}

// Logout destroys the request's session and expires the cookie.
func (s *MemoryStore) Logout(w http.ResponseWriter, r *http.Request) {
	if h, ok := r.Context().Value(handleKey{}).(*handle); ok {
		h.mu.Lock()
		s.Destroy(h.id)
		h.mu.Unlock()
	} else if c, err := r.Cookie(s.cookieName); err == nil {
		s.Destroy(c.Value)
	}
	http.SetCookie(w, s.cookie("", -1))
}

func (s *MemoryStore) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     s.cookiePath,
		MaxAge:   maxAge,
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type (
	contextKey struct{}
	handleKey  struct{}
)

// handle tracks the id of the request's session, which Rotate may change
// mid-request.
type handle struct {
	mu sync.Mutex
	id string
}

// NewContext returns a context carrying sess
func NewContext(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(Session)
	return sess, ok && sess != nil
}

// Middleware loads the session named by the request cookie, creating a new
// one (and setting the cookie) when it is missing or expired.
func (s *MemoryStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			id     string
			values *Values
			ok     bool
		)
		if c, err := r.Cookie(s.cookieName); err == nil {
			id = c.Value
			values, ok = s.Load(id)
		}
		if !ok {
			id, values = s.Create()
			http.SetCookie(w, s.cookie(id, 0))
		}

		ctx := context.WithValue(NewContext(r.Context(), values), handleKey{}, &handle{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTimeout)
	cleaned := 0
	for id, stored := range s.sessions {
		if stored.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			cleaned++
		}
	}
	s.count.Store(int64(len(s.sessions)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired sessions", "count", cleaned)
	}
	return cleaned
}
