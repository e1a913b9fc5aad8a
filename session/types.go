package session

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// AuthRequest is the client request that started a login flow.
type AuthRequest struct {
	ClientID     string
	APIID        string
	Scopes       []string
	RedirectURI  string
	State        string
	Nonce        string
	ResponseType string
	CreatedAt    time.Time
}

func (r *AuthRequest) clone() *AuthRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = slices.Clone(r.Scopes)
	return &c
}

// Profile is the authenticated user as resolved by the login method.
type Profile struct {
	Subject    string
	Name       string
	Email      string
	Attributes map[string]any
}

func (p *Profile) clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Attributes = maps.Clone(p.Attributes)
	return &c
}

// AuthResponse is the outcome of a login step. A response with a non-nil
// Profile is what makes a namespace logged in.
type AuthResponse struct {
	Profile         *Profile
	AuthenticatedAt time.Time
}

func (r *AuthResponse) clone() *AuthResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.Profile = r.Profile.clone()
	return &c
}

// Flow is the state of one login flow, stored in the session under its
// namespace key. All fields are guarded by mu.
type Flow struct {
	mu sync.Mutex

	id        string
	namespace string
	startedAt time.Time

	request   *AuthRequest
	response  *AuthResponse
	csrfToken string
}

// ID returns the flow's unique id
func (f *Flow) ID() string { return f.id }

// Namespace returns the auth method the flow belongs to
func (f *Flow) Namespace() string { return f.namespace }

// StartedAt returns when Begin created the flow
func (f *Flow) StartedAt() time.Time { return f.startedAt }
