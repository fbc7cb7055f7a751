package oidcbroker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tallerpinturas/go-gallery-gateway/broker"
	"github.com/tallerpinturas/go-gallery-gateway/broker/oidcbroker"
)

// captureSink records the credential the broker commits.
type captureSink struct {
	mu         sync.Mutex
	credential string
	calls      int
}

func (s *captureSink) SetCredential(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = token
	s.calls++
	return nil
}

func (s *captureSink) Credential() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, s.calls
}

// fakeProvider is a minimal OIDC identity provider: discovery plus a token
// endpoint that issues an HS256 id_token echoing the flow nonce.
type fakeProvider struct {
	srv *httptest.Server

	mu          sync.Mutex
	nonce       string
	tokenStatus int
	claims      jwt.MapClaims
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{
		tokenStatus: http.StatusOK,
		claims: jwt.MapClaims{
			"sub":                "sub-001",
			"oid":                "oid-001",
			"email":              "ana@example.com",
			"name":               "Ana Lopez",
			"preferred_username": "ana@example.com",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 fp.srv.URL,
			"authorization_endpoint": fp.srv.URL + "/authorize",
			"token_endpoint":         fp.srv.URL + "/token",
			"jwks_uri":               fp.srv.URL + "/keys",
			"end_session_endpoint":   fp.srv.URL + "/logout",
		})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		status := fp.tokenStatus
		claims := jwt.MapClaims{"nonce": fp.nonce}
		for k, v := range fp.claims {
			claims[k] = v
		}
		fp.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "token issuance refused", status)
			return
		}

		idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-token-001",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})

	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) setNonce(nonce string) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.nonce = nonce
}

func (fp *fakeProvider) refuseTokens() {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.tokenStatus = http.StatusBadRequest
}

type testFixture struct {
	provider *fakeProvider
	sink     *captureSink
	broker   *oidcbroker.Broker
	now      time.Time
	nowMu    sync.Mutex
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		provider: newFakeProvider(t),
		sink:     &captureSink{},
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	b, err := oidcbroker.New(oidcbroker.Config{
		Issuer:        f.provider.srv.URL,
		ClientID:      "gallery-client",
		RedirectURL:   "http://localhost:8080/callback",
		PostLogoutURL: "http://localhost:8080/",
	}, f.sink, zerolog.Nop(), oidcbroker.WithNowTime(f.nowTime))
	require.NoError(t, err)
	t.Cleanup(b.Close)

	f.broker = b
	return f
}

func (f *testFixture) nowTime() time.Time {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	return f.now
}

func (f *testFixture) advance(d time.Duration) {
	f.nowMu.Lock()
	defer f.nowMu.Unlock()
	f.now = f.now.Add(d)
}

// begin runs BeginLogin and wires the challenge nonce into the fake provider
// so the issued id_token round-trips it.
func (f *testFixture) begin(t *testing.T) broker.Challenge {
	t.Helper()

	ch, err := f.broker.BeginLogin(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(ch.URL)
	require.NoError(t, err)
	f.provider.setNonce(u.Query().Get("nonce"))
	return ch
}

func TestBroker_New_Validation(t *testing.T) {
	sink := &captureSink{}

	_, err := oidcbroker.New(oidcbroker.Config{ClientID: "c"}, sink, zerolog.Nop())
	require.Error(t, err)

	_, err = oidcbroker.New(oidcbroker.Config{Issuer: "https://idp"}, sink, zerolog.Nop())
	require.Error(t, err)

	_, err = oidcbroker.New(oidcbroker.Config{Issuer: "https://idp", ClientID: "c"}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestBroker_Initialize(t *testing.T) {
	t.Run("SecondCallReturnsAlreadyInitialised", func(t *testing.T) {
		f := newTestFixture(t)

		require.NoError(t, f.broker.Initialize(context.Background()))
		require.ErrorIs(t, f.broker.Initialize(context.Background()), broker.AlreadyInitialisedErr)
	})

	t.Run("DiscoveryFailure", func(t *testing.T) {
		sink := &captureSink{}
		b, err := oidcbroker.New(oidcbroker.Config{
			Issuer:   "http://127.0.0.1:1/nowhere",
			ClientID: "gallery-client",
		}, sink, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(b.Close)

		require.Error(t, b.Initialize(context.Background()))
	})
}

func TestBroker_BeginLogin(t *testing.T) {
	f := newTestFixture(t)

	ch, err := f.broker.BeginLogin(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, ch.State)

	u, err := url.Parse(ch.URL)
	require.NoError(t, err)
	require.Equal(t, "/authorize", u.Path)

	q := u.Query()
	require.Equal(t, ch.State, q.Get("state"))
	require.Equal(t, "gallery-client", q.Get("client_id"))
	require.Equal(t, "http://localhost:8080/callback", q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("nonce"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Contains(t, q.Get("scope"), "openid")

	// Each attempt gets its own state.
	ch2, err := f.broker.BeginLogin(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, ch.State, ch2.State)
}

func TestBroker_CompleteLogin(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		identity, err := f.broker.CompleteLogin(context.Background(), broker.Callback{
			State: ch.State,
			Code:  "auth-code-001",
		})
		require.NoError(t, err)
		require.Equal(t, "oid-001", identity.ExternalID)
		require.Equal(t, "ana@example.com", identity.Email)
		require.Equal(t, "Ana Lopez", identity.DisplayName)

		credential, calls := f.sink.Credential()
		require.Equal(t, "access-token-001", credential)
		require.Equal(t, 1, calls)

		active, ok := f.broker.ActiveAccount()
		require.True(t, ok)
		require.Equal(t, "oid-001", active.ExternalID)

		select {
		case ev := <-f.broker.Events():
			require.Equal(t, broker.EventLoginSuccess, ev.Type)
			require.Equal(t, "oid-001", ev.Account.ExternalID)
		default:
			t.Fatal("expected a login event")
		}
	})

	t.Run("UserCancelled", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{
			State: ch.State,
			Error: "access_denied",
		})
		require.ErrorIs(t, err, broker.LoginCancelledErr)

		_, calls := f.sink.Credential()
		require.Zero(t, calls)
	})

	t.Run("ProviderError", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{
			State:            ch.State,
			Error:            "server_error",
			ErrorDescription: "identity provider unavailable",
		})
		require.ErrorIs(t, err, broker.LoginFailedErr)
	})

	t.Run("UnknownState", func(t *testing.T) {
		f := newTestFixture(t)
		f.begin(t)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{
			State: "state-nobody-issued",
			Code:  "auth-code-001",
		})
		require.ErrorIs(t, err, broker.UnknownStateErr)
	})

	t.Run("StateIsSingleUse", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
		require.NoError(t, err)

		_, err = f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
		require.ErrorIs(t, err, broker.UnknownStateErr)
	})

	t.Run("MissingCode", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State})
		require.ErrorIs(t, err, broker.LoginFailedErr)
	})

	t.Run("ExpiredFlow", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)

		f.advance(16 * time.Minute)

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
		require.ErrorIs(t, err, broker.LoginFailedErr)
	})

	t.Run("TokenExchangeRefused", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)
		f.provider.refuseTokens()

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
		require.ErrorIs(t, err, broker.LoginFailedErr)

		_, calls := f.sink.Credential()
		require.Zero(t, calls)
	})

	t.Run("NonceMismatch", func(t *testing.T) {
		f := newTestFixture(t)
		ch := f.begin(t)
		f.provider.setNonce("a-nonce-from-some-other-flow")

		_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
		require.ErrorIs(t, err, broker.LoginFailedErr)
	})
}

func TestBroker_Logout(t *testing.T) {
	f := newTestFixture(t)
	ch := f.begin(t)

	_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
	require.NoError(t, err)
	require.Len(t, f.broker.Accounts(), 1)

	redirect, err := f.broker.Logout(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	require.Equal(t, "/logout", u.Path)
	require.Equal(t, "http://localhost:8080/", u.Query().Get("post_logout_redirect_uri"))
	require.Equal(t, "gallery-client", u.Query().Get("client_id"))

	require.Empty(t, f.broker.Accounts())
	_, ok := f.broker.ActiveAccount()
	require.False(t, ok)
}

func TestBroker_AccountCache(t *testing.T) {
	f := newTestFixture(t)
	ch := f.begin(t)

	_, err := f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch.State, Code: "auth-code-001"})
	require.NoError(t, err)

	accounts := f.broker.Accounts()
	require.Len(t, accounts, 1)
	require.Equal(t, "oid-001", accounts[0].ExternalID)
	require.Equal(t, "ana@example.com", accounts[0].Username)

	// Re-login for the same account must not duplicate the cache entry.
	ch2 := f.begin(t)
	_, err = f.broker.CompleteLogin(context.Background(), broker.Callback{State: ch2.State, Code: "auth-code-002"})
	require.NoError(t, err)
	require.Len(t, f.broker.Accounts(), 1)

	f.broker.SetActiveAccount("nobody")
	active, ok := f.broker.ActiveAccount()
	require.True(t, ok)
	require.Equal(t, "oid-001", active.ExternalID)
}
