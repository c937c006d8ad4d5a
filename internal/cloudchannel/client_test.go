package cloudchannel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobsai/inksight/internal/cloudchannel"
	"github.com/tobsai/inksight/internal/docid"
)

func authServer(t *testing.T, token string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestAuthenticateSuccess(t *testing.T) {
	auth := authServer(t, "user-token")

	ch := cloudchannel.New(cloudchannel.Config{DeviceToken: "dt", TokenExchangeURL: auth.URL})
	require.NoError(t, ch.Authenticate(context.Background()))
}

func TestAuthenticateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ch := cloudchannel.New(cloudchannel.Config{DeviceToken: "bad", TokenExchangeURL: srv.URL})

	err := ch.Authenticate(context.Background())
	require.Error(t, err)

	var authErr *cloudchannel.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestListDocumentsRequiresAuthentication(t *testing.T) {
	ch := cloudchannel.New(cloudchannel.Config{APIBaseURL: "http://unused.invalid"})

	_, err := ch.ListDocuments(context.Background())
	require.ErrorIs(t, err, cloudchannel.ErrNotAuthenticated)
}

func TestListDocuments(t *testing.T) {
	id := docid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	modifiedAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	var (
		sawBearer string
		baseURL   string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"storageEndpoint": baseURL + "/storage"})
	})
	mux.HandleFunc("/storage/documents", func(w http.ResponseWriter, r *http.Request) {
		sawBearer = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": id.String(), "name": "Notebook", "modifiedAt": modifiedAt},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	baseURL = srv.URL

	auth := authServer(t, "user-token")

	ch := cloudchannel.New(cloudchannel.Config{
		DeviceToken:      "dt",
		TokenExchangeURL: auth.URL,
		APIBaseURL:       srv.URL,
	})
	require.NoError(t, ch.Authenticate(context.Background()))

	docs, err := ch.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id.String(), docs[0].ID.String())
	assert.Equal(t, "Notebook", docs[0].Name)
	assert.True(t, docs[0].ModifiedAt.Equal(modifiedAt))
	assert.Equal(t, "Bearer user-token", sawBearer)
}

func TestListDocumentsRetriesOnServerError(t *testing.T) {
	var (
		calls   int
		baseURL string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"storageEndpoint": baseURL})
	})
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	baseURL = srv.URL

	auth := authServer(t, "tok")

	ch := cloudchannel.New(cloudchannel.Config{
		DeviceToken:      "dt",
		TokenExchangeURL: auth.URL,
		APIBaseURL:       srv.URL,
	})
	require.NoError(t, ch.Authenticate(context.Background()))

	docs, err := ch.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 2, calls)
}

func TestEndpointResolutionIsCachedForChannelLifetime(t *testing.T) {
	var (
		discoveryCalls int
		baseURL        string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/discovery", func(w http.ResponseWriter, r *http.Request) {
		discoveryCalls++
		_ = json.NewEncoder(w).Encode(map[string]string{"storageEndpoint": baseURL})
	})
	mux.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	baseURL = srv.URL

	auth := authServer(t, "tok")

	ch := cloudchannel.New(cloudchannel.Config{
		DeviceToken:      "dt",
		TokenExchangeURL: auth.URL,
		APIBaseURL:       srv.URL,
	})
	require.NoError(t, ch.Authenticate(context.Background()))

	_, err := ch.ListDocuments(context.Background())
	require.NoError(t, err)
	_, err = ch.ListDocuments(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, discoveryCalls)
}
