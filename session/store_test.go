package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/giantswarm/oauth-portal/internal/testutil"
)

func newTestStore(t *testing.T, clock *testutil.MockTime) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(StoreConfig{
		IdleTimeout:     10 * time.Minute,
		CleanupInterval: time.Hour,
		Logger:          testutil.DiscardLogger(),
		Now:             clock.Now,
	})
	t.Cleanup(s.Stop)
	return s
}

func TestMemoryStore_CreateLoad(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	id, values := s.Create()
	if len(id) < 43 {
		t.Errorf("session id %q too short", id)
	}
	values.Set("k", "v")

	loaded, ok := s.Load(id)
	if !ok {
		t.Fatal("session should load")
	}
	if v, _ := loaded.Get("k"); v != "v" {
		t.Errorf("value = %v, want v", v)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	other, _ := s.Create()
	if other == id {
		t.Error("session ids must be unique")
	}

	if _, ok := s.Load(""); ok {
		t.Error("empty id must not load")
	}
	if _, ok := s.Load("unknown"); ok {
		t.Error("unknown id must not load")
	}
}

func TestMemoryStore_IdleTimeout(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	id, _ := s.Create()

	clock.Advance(9 * time.Minute)
	if _, ok := s.Load(id); !ok {
		t.Fatal("session used within the idle timeout should load")
	}

	// Load refreshed last use.
	clock.Advance(9 * time.Minute)
	if _, ok := s.Load(id); !ok {
		t.Fatal("session should still be alive after refresh")
	}

	clock.Advance(11 * time.Minute)
	if _, ok := s.Load(id); ok {
		t.Fatal("idle session should have expired")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	stale, _ := s.Create()
	clock.Advance(8 * time.Minute)
	fresh, _ := s.Create()
	clock.Advance(3 * time.Minute)

	if n := s.cleanup(); n != 1 {
		t.Errorf("cleanup removed %d, want 1", n)
	}
	if _, ok := s.Load(stale); ok {
		t.Error("stale session should be gone")
	}
	if _, ok := s.Load(fresh); !ok {
		t.Error("fresh session should survive")
	}
}

func TestMemoryStore_Middleware(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	var seen Session
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		if !ok {
			t.Error("no session in context")
		}
		seen = sess
		w.WriteHeader(http.StatusOK)
	}))

	// First request gets a new session and cookie.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != DefaultCookieName || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Errorf("unexpected cookie %+v", c)
	}
	first := seen
	first.Set("marker", 1)

	// Second request with the cookie reuses it.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing session should not get a new cookie")
	}
	if v, _ := seen.Get("marker"); v != 1 {
		t.Error("second request should see the same session")
	}

	// Unknown cookie value gets a fresh session.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "forged"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 1 {
		t.Error("unknown session id should be replaced")
	}
	if _, ok := seen.Get("marker"); ok {
		t.Error("forged id must not reach an existing session")
	}
}

func TestMemoryStore_Logout(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	id, _ := s.Create()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: id})
	rec := httptest.NewRecorder()

	s.Logout(rec, req)

	if _, ok := s.Load(id); ok {
		t.Error("session should be destroyed")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("expected an expiring cookie, got %+v", cookies)
	}
}

func TestMemoryStore_Rotate(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	var rotateErr error
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := FromContext(r.Context())
		sess.Set("marker", 1)
		rotateErr = s.Rotate(w, r)
	}))

	oldID, _ := s.Create()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: oldID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rotateErr != nil {
		t.Fatalf("Rotate: %v", rotateErr)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	newID := cookies[0].Value
	if newID == "" || newID == oldID {
		t.Fatalf("new id %q, old id %q", newID, oldID)
	}
	if _, ok := s.Load(oldID); ok {
		t.Error("old id must stop working")
	}
	values, ok := s.Load(newID)
	if !ok {
		t.Fatal("new id does not load")
	}
	if v, _ := values.Get("marker"); v != 1 {
		t.Error("values must survive rotation")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_RotateThenLogout(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s := newTestStore(t, clock)

	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Rotate(w, r); err != nil {
			t.Errorf("Rotate: %v", err)
		}
		s.Logout(w, r)
	}))

	id, _ := s.Create()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: id})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if s.Len() != 0 {
		t.Errorf("Len = %d, rotated session should be destroyed", s.Len())
	}
}

func TestMemoryStore_RotateWithoutMiddleware(t *testing.T) {
	s := newTestStore(t, testutil.NewMockTime(time.Now()))

	err := s.Rotate(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if !errors.Is(err, ErrUnmanagedSession) {
		t.Errorf("err = %v, want ErrUnmanagedSession", err)
	}
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := FromContext(req.Context()); ok {
		t.Error("no session expected")
	}
}
