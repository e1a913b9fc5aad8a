// Package session keeps login flow state in the browser session.
//
// Each auth method (password, social login, ...) owns a namespace. Begin
// creates it; every other Flows operation requires it and fails with
// ErrInvalidSessionState when it is missing, so a request that skips the
// first step of a flow is rejected instead of silently starting over.
//
// Inside a namespace the portal keeps the client's AuthRequest, the
// AuthResponse once the user authenticated, and at most one CSRF token.
// CSRF tokens are single use: ConsumeCSRFToken returns and deletes the token
// under the flow's lock, so two racing form posts cannot both succeed.
//
// MemoryStore is a simple in-process Session backend with cookie handling
// and idle expiry. Hosts with their own session framework only need to
// implement the three-method Session interface.
package session
