package metadata

import (
	"errors"
	"fmt"
)

// Kind names one of the independently cached resource kinds.
type Kind string

const (
	// KindAPI identifies API descriptors
	KindAPI Kind = "api"
	// KindPool identifies registration pool descriptors
	KindPool Kind = "pool"
)

var (
	// ErrNotFound is returned by an Upstream when the requested resource does not exist.
	ErrNotFound = errors.New("metadata: not found")

	// ErrUpstreamUnavailable marks upstream failures, including failures
	// other than ErrNotFound replayed from the cache.
	ErrUpstreamUnavailable = errors.New("metadata: upstream unavailable")

	// ErrNoRegistrationPool is returned when an API descriptor names no registration pool.
	ErrNoRegistrationPool = errors.New("metadata: api has no registration pool")

	// ErrInvalidID is returned for empty resource ids. Nothing is cached for them.
	ErrInvalidID = errors.New("metadata: invalid id")
)

// APIDescriptor describes an API a client application requests access to.
// Descriptors returned from the cache are shared and must not be modified.
type APIDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`

	// RegistrationPool is the id of the pool holding the profile fields a
	// user must provide to register for this API. Empty means no pool.
	RegistrationPool string `json:"registrationPool"`
}

// ProfileField is one profile attribute a registration pool requires or offers.
type ProfileField struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// PoolDescriptor describes a registration pool.
// Descriptors returned from the cache are shared and must not be modified.
type PoolDescriptor struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Fields []ProfileField `json:"fields,omitempty"`
}

// RequiredFields returns the names of all required profile fields
func (p *PoolDescriptor) RequiredFields() []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, f := range p.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// APIAndPool is the combined result used to render consent and registration views.
type APIAndPool struct {
	APIInfo  *APIDescriptor  `json:"apiInfo"`
	PoolInfo *PoolDescriptor `json:"poolInfo"`
}

// failureClass reduces an upstream error to the sentinel a cached failure
// is replayed as.
func failureClass(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidID):
		return ErrInvalidID
	default:
		return ErrUpstreamUnavailable
	}
}

// cachedFailure is the error replayed for a key whose upstream call failed
// earlier. Only the class of the original error is retained.
func cachedFailure(kind Kind, id string, class error) error {
	if class == nil {
		class = ErrUpstreamUnavailable
	}
	return fmt.Errorf("%w: %s %q failed earlier in this process", class, kind, id)
}
