package profile_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tallerpinturas/go-gallery-gateway/profile"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

type staticCredential string

func (s staticCredential) Credential(ctx context.Context) (string, error) {
	return string(s), nil
}

func TestClient_Sync(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/usuarios/sync", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential("tok-1"), zerolog.Nop())
	require.NoError(t, err)

	err = client.Sync(context.Background(), profile.SyncRequest{
		ExternalID:  "ext-1",
		Username:    "a@x.com",
		DisplayName: "Ana",
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, "ext-1", gotBody["id_azure"])
	require.Equal(t, "a@x.com", gotBody["username"])
	require.Equal(t, "Ana", gotBody["nombre_completo"])
}

func TestClient_Sync_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential("tok-1"), zerolog.Nop())
	require.NoError(t, err)

	err = client.Sync(context.Background(), profile.SyncRequest{ExternalID: "ext-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestClient_Profile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/usuarios/ext-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id_azure":"ext-1","username":"a@x.com","nombre_completo":"Ana","id_rol":1,"telefono":"555"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential("tok-1"), zerolog.Nop())
	require.NoError(t, err)

	u, err := client.Profile(context.Background(), "ext-1")
	require.NoError(t, err)
	require.Equal(t, users.RoleAdmin, u.RoleID)
	require.Equal(t, "a@x.com", u.Username)
	require.Contains(t, u.Extra, "telefono")
}

func TestClient_Profile_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential("tok-1"), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Profile(context.Background(), "ext-404")
	require.ErrorIs(t, err, profile.NotFoundErr)
}

func TestClient_Users(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/usuarios", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id_azure":"ext-1","id_rol":1},{"id_azure":"ext-2","id_rol":2}]`))
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential("tok-1"), zerolog.Nop())
	require.NoError(t, err)

	list, err := client.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, users.RoleArtist, list[1].RoleID)
}

func TestClient_NoCredentialStillSends(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client, err := profile.NewClient(srv.URL, staticCredential(""), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, client.Sync(context.Background(), profile.SyncRequest{ExternalID: "ext-1"}))
	require.Empty(t, gotAuth)
}
