package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// DefaultHTTPTimeout bounds a single upstream request
	DefaultHTTPTimeout = 10 * time.Second

	// maxDescriptorSize limits descriptor response bodies
	maxDescriptorSize = 1 << 20
)

// HTTPUpstreamConfig configures HTTPUpstream.
type HTTPUpstreamConfig struct {
	// BaseURL of the metadata service, e.g. https://metadata.internal/v1 (required)
	BaseURL string

	// Timeout per request. Default: 10 seconds.
	Timeout time.Duration

	// RequestsPerSecond throttles calls to the metadata service. Zero disables throttling.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1 when throttling is enabled.
	Burst int

	// ClientCredentials authenticates requests with the OAuth2 client
	// credentials grant when set.
	ClientCredentials *clientcredentials.Config

	// HTTPClient is the base client. Default: a client with Timeout.
	HTTPClient *http.Client

	// Logger for structured logging. Default: slog.Default().
	Logger *slog.Logger
}

// HTTPUpstream implements Upstream against the JSON REST API of the
// metadata service: GET {base}/apis/{id} and GET {base}/pools/{id}.
type HTTPUpstream struct {
	baseURL *url.URL
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPUpstream creates an HTTP metadata client.
func NewHTTPUpstream(cfg HTTPUpstreamConfig) (*HTTPUpstream, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("metadata base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid metadata base URL %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.ClientCredentials != nil {
		// The token endpoint is reached through the same base client
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = cfg.ClientCredentials.Client(tokenCtx)
	}

	u := &HTTPUpstream{
		baseURL: base,
		client:  client,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("component", "metadata_upstream"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		u.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return u, nil
}

// FetchAPI retrieves an API descriptor.
func (u *HTTPUpstream) FetchAPI(ctx context.Context, id string) (*APIDescriptor, error) {
	var api APIDescriptor
	if err := u.get(ctx, "apis", id, &api); err != nil {
		return nil, err
	}
	if api.ID == "" {
		api.ID = id
	}
	return &api, nil
}

// FetchPool retrieves a registration pool descriptor.
func (u *HTTPUpstream) FetchPool(ctx context.Context, id string) (*PoolDescriptor, error) {
	var pool PoolDescriptor
	if err := u.get(ctx, "pools", id, &pool); err != nil {
		return nil, err
	}
	if pool.ID == "" {
		pool.ID = id
	}
	return &pool, nil
}

func (u *HTTPUpstream) get(ctx context.Context, collection, id string, out any) error {
	// ids are single path segments
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/?#\\") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	if u.limiter != nil {
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: throttled: %v", ErrUpstreamUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	endpoint := u.baseURL.JoinPath(collection, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %q", ErrNotFound, collection, id)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		u.logger.Warn("Metadata service returned unexpected status",
			"collection", collection,
			"id", id,
			"status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDescriptorSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %q: %v", ErrUpstreamUnavailable, collection, id, err)
	}
	return nil
}
