package metadata_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/giantswarm/oauth-portal/internal/testutil"
	"github.com/giantswarm/oauth-portal/metadata"
)

func metadataServer(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/apis/api1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":               "api1",
			"name":             "Calendar",
			"registrationPool": "pool1",
		})
	})
	mux.HandleFunc("/v1/pools/pool1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Default","fields":[{"name":"email","required":true}]}`))
	})
	mux.HandleFunc("/v1/apis/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/v1/apis/garbled", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	return mux
}

func newHTTPUpstream(t *testing.T, handler http.Handler) *metadata.HTTPUpstream {
	t.Helper()
	srv := testutil.NewMockHTTPServer(handler.ServeHTTP)
	t.Cleanup(srv.Close)

	u, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{
		BaseURL: srv.URL + "/v1/",
		Logger:  testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	return u
}

func TestNewHTTPUpstream_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid", baseURL: "https://metadata.internal/v1"},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "relative", baseURL: "/v1", wantErr: true},
		{name: "garbage", baseURL: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{BaseURL: tt.baseURL})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPUpstream_FetchAPI(t *testing.T) {
	u := newHTTPUpstream(t, metadataServer(t))

	api, err := u.FetchAPI(context.Background(), "api1")
	require.NoError(t, err)
	assert.Equal(t, "api1", api.ID)
	assert.Equal(t, "Calendar", api.Name)
	assert.Equal(t, "pool1", api.RegistrationPool)
}

func TestHTTPUpstream_FetchPool_FillsMissingID(t *testing.T) {
	u := newHTTPUpstream(t, metadataServer(t))

	pool, err := u.FetchPool(context.Background(), "pool1")
	require.NoError(t, err)
	assert.Equal(t, "pool1", pool.ID)
	assert.Equal(t, "Default", pool.Name)
	assert.Equal(t, []string{"email"}, pool.RequiredFields())
}

func TestHTTPUpstream_Errors(t *testing.T) {
	u := newHTTPUpstream(t, metadataServer(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "not found", id: "unknown", wantErr: metadata.ErrNotFound},
		{name: "bad gateway", id: "broken", wantErr: metadata.ErrUpstreamUnavailable},
		{name: "undecodable body", id: "garbled", wantErr: metadata.ErrUpstreamUnavailable},
		{name: "path traversal", id: "../pools/pool1", wantErr: metadata.ErrInvalidID},
		{name: "dot segment", id: "..", wantErr: metadata.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.FetchAPI(ctx, tt.id)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPUpstream_TransportFailure(t *testing.T) {
	u, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
		Logger:  testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	_, err = u.FetchAPI(context.Background(), "api1")
	assert.ErrorIs(t, err, metadata.ErrUpstreamUnavailable)
}

func TestHTTPUpstream_Throttled(t *testing.T) {
	srv := testutil.NewMockHTTPServer(metadataServer(t).ServeHTTP)
	defer srv.Close()

	u, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{
		BaseURL:           srv.URL + "/v1",
		RequestsPerSecond: 0.001,
		Burst:             1,
		Logger:            testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	_, err = u.FetchAPI(context.Background(), "api1")
	require.NoError(t, err)

	// The bucket is empty and refills far beyond the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = u.FetchAPI(ctx, "api1")
	assert.ErrorIs(t, err, metadata.ErrUpstreamUnavailable)
}

func TestHTTPUpstream_ClientCredentials(t *testing.T) {
	mux := metadataServer(t)
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream-token","token_type":"Bearer","expires_in":3600}`))
	})

	var gotAuth string
	authed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			gotAuth = r.Header.Get("Authorization")
		}
		mux.ServeHTTP(w, r)
	})

	srv := testutil.NewMockHTTPServer(authed)
	defer srv.Close()

	u, err := metadata.NewHTTPUpstream(metadata.HTTPUpstreamConfig{
		BaseURL: srv.URL + "/v1",
		ClientCredentials: &clientcredentials.Config{
			ClientID:     "portal",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/token",
		},
		Logger: testutil.DiscardLogger(),
	})
	require.NoError(t, err)

	_, err = u.FetchAPI(context.Background(), "api1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer upstream-token", gotAuth)
}
