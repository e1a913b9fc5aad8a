package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-portal/metadata"
	"github.com/giantswarm/oauth-portal/session"
)

// Error codes returned to the browser
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeInvalidSession      = "invalid_session"
	ErrorCodeLoginRequired       = "login_required"
	ErrorCodeInvalidCSRFToken    = "invalid_csrf_token"
	ErrorCodeNotFound            = "not_found"
	ErrorCodeNoRegistrationPool  = "no_registration_pool"
	ErrorCodeUpstreamUnavailable = "upstream_unavailable"
	ErrorCodeRateLimitExceeded   = "rate_limit_exceeded"
	ErrorCodeServerError         = "server_error"
)

// ErrRedirectURINotAllowed means the configured RedirectURIValidator
// rejected a flow's redirect URI.
var ErrRedirectURINotAllowed = errors.New("redirect URI not allowed")

// Error is an error with an HTTP status and a stable code
type Error struct {
	Code        string // machine-readable code, e.g. "login_required"
	Description string // human-readable description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new portal error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ErrorFor maps err to the error shown to the browser. Descriptions are
// generic so internal details never leak.
func ErrorFor(err error) *Error {
	var pe *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		return pe
	case errors.Is(err, session.ErrCSRFTokenMismatch):
		return NewError(ErrorCodeInvalidCSRFToken, "The form has expired, please try again", http.StatusForbidden)
	case errors.Is(err, session.ErrNotLoggedIn):
		return NewError(ErrorCodeLoginRequired, "Authentication is required", http.StatusUnauthorized)
	case errors.Is(err, session.ErrUnknownNamespace):
		return NewError(ErrorCodeInvalidRequest, "Unknown authentication method", http.StatusBadRequest)
	case errors.Is(err, ErrRedirectURINotAllowed):
		return NewError(ErrorCodeInvalidRequest, "The redirect URI is not allowed for this client", http.StatusBadRequest)
	case errors.Is(err, session.ErrInvalidSessionState):
		return NewError(ErrorCodeInvalidSession, "The login session is invalid or has expired", http.StatusBadRequest)
	case errors.Is(err, metadata.ErrNoRegistrationPool):
		return NewError(ErrorCodeNoRegistrationPool, "Registration is not available for this application", http.StatusInternalServerError)
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, metadata.ErrInvalidID):
		return NewError(ErrorCodeNotFound, "Unknown application", http.StatusNotFound)
	case errors.Is(err, metadata.ErrUpstreamUnavailable):
		return NewError(ErrorCodeUpstreamUnavailable, "Application metadata is temporarily unavailable", http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrorCodeUpstreamUnavailable, "Request timed out", http.StatusGatewayTimeout)
	default:
		return NewError(ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	}
}

// StatusForError returns the HTTP status for err
func StatusForError(err error) int {
	if pe := ErrorFor(err); pe != nil {
		return pe.Status
	}
	return http.StatusOK
}

// WriteError renders err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	pe := ErrorFor(err)
	if pe == nil {
		pe = NewError(ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             pe.Code,
		"error_description": pe.Description,
	})
}
