// Package oidcbroker implements broker.Broker over a standard OIDC provider
// using the authorization-code redirect flow. It keeps its own account cache
// and active-account pointer, mirroring what browser provider SDKs hold
// client-side.
package oidcbroker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/tallerpinturas/go-gallery-gateway/broker"
)

const (
	stateLength     = 32
	flowStateMaxAge = 15 * time.Minute
	eventBuffer     = 16
)

// Config carries the provider registration for one OIDC client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// PostLogoutURL is where the provider sends the user agent after an
	// interactive logout: the application root.
	PostLogoutURL string
}

// Broker drives interactive OIDC logins and exposes the normalized
// broker.Broker surface over them.
type Broker struct {
	cfg  Config
	sink broker.CredentialSink
	log  zerolog.Logger

	flows  *flowStateRepo
	events chan broker.Event

	mu            sync.RWMutex
	initialised   bool
	provider      *oidc.Provider
	oauth         *oauth2.Config
	endSessionURL string
	accounts      []broker.Account
	active        int
	closeOnce     sync.Once
	nowTime       func() time.Time
}

// Option adjusts a Broker at construction.
type Option func(*Broker)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Broker) {
		b.nowTime = nowFunc
	}
}

// New builds a Broker without touching the network. Provider discovery
// happens in Initialize.
func New(cfg Config, sink broker.CredentialSink, log zerolog.Logger, options ...Option) (*Broker, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("[oidcbroker.New] issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("[oidcbroker.New] client id is required")
	}
	if sink == nil {
		return nil, errors.New("[oidcbroker.New] credential sink is required")
	}

	b := &Broker{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		flows:   newFlowStateRepo(),
		events:  make(chan broker.Event, eventBuffer),
		active:  -1,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Initialize discovers the provider's endpoints. The first call does the
// work; every later call returns AlreadyInitialisedErr, which callers must
// treat as success.
func (b *Broker) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialised {
		return broker.AlreadyInitialisedErr
	}

	provider, err := oidc.NewProvider(ctx, b.cfg.Issuer)
	if err != nil {
		return errors.Wrap(err, "[Broker.Initialize] provider discovery")
	}

	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err == nil {
		b.endSessionURL = discovery.EndSessionEndpoint
	}

	b.provider = provider
	b.oauth = &oauth2.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  b.cfg.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	b.initialised = true
	return nil
}

// ensureInitialised attempts initialization once and swallows the
// already-initialised condition.
func (b *Broker) ensureInitialised(ctx context.Context) error {
	err := b.Initialize(ctx)
	if err != nil && !errors.Is(err, broker.AlreadyInitialisedErr) {
		return err
	}
	return nil
}

// BeginLogin starts a redirect login: it records a pending flow and returns
// the provider authorization URL carrying state, nonce, and PKCE challenge.
func (b *Broker) BeginLogin(ctx context.Context) (broker.Challenge, error) {
	if err := b.ensureInitialised(ctx); err != nil {
		return broker.Challenge{}, errors.Wrap(err, "[Broker.BeginLogin] initialise")
	}

	state := generateRandomString(stateLength)
	nonce := generateRandomString(stateLength)
	verifier := generateRandomString(stateLength)

	if err := b.flows.Upsert(state, &flowState{
		Nonce:        nonce,
		CodeVerifier: verifier,
		CreatedAt:    b.nowTime(),
	}); err != nil {
		return broker.Challenge{}, errors.Wrap(err, "[Broker.BeginLogin] record flow state")
	}
	b.flows.Prune(flowStateMaxAge, b.nowTime())

	b.mu.RLock()
	authURL := b.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	b.mu.RUnlock()

	return broker.Challenge{URL: authURL, State: state}, nil
}

// CompleteLogin resolves the flow the callback belongs to: exchanges the
// code, derives the identity from the returned claims, commits the raw
// credential to the sink, marks the account active, and emits a login event.
//
// The credential is committed before the identity is returned so backend
// reconciliation calls already have a token to send.
func (b *Broker) CompleteLogin(ctx context.Context, cb broker.Callback) (broker.Identity, error) {
	if cb.Error != "" {
		if cb.Error == "access_denied" || cb.Error == "login_required" {
			return broker.Identity{}, broker.LoginCancelledErr
		}
		return broker.Identity{}, errors.Wrapf(broker.LoginFailedErr, "[Broker.CompleteLogin] provider error %q: %s", cb.Error, cb.ErrorDescription)
	}
	if cb.Code == "" || cb.State == "" {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, "[Broker.CompleteLogin] missing code or state")
	}

	flow, ok := b.flows.Take(cb.State)
	if !ok {
		return broker.Identity{}, broker.UnknownStateErr
	}
	if b.nowTime().Sub(flow.CreatedAt) > flowStateMaxAge {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, "[Broker.CompleteLogin] login flow expired")
	}

	if err := b.ensureInitialised(ctx); err != nil {
		return broker.Identity{}, errors.Wrap(err, "[Broker.CompleteLogin] initialise")
	}

	b.mu.RLock()
	oauthCfg := b.oauth
	b.mu.RUnlock()

	oauth2Token, err := oauthCfg.Exchange(ctx, cb.Code,
		oauth2.SetAuthURLParam("code_verifier", flow.CodeVerifier),
	)
	if err != nil {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, "token exchange: "+err.Error())
	}

	rawIDToken, _ := oauth2Token.Extra("id_token").(string)
	if oauth2Token.AccessToken == "" && rawIDToken == "" {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, "no usable token in response")
	}

	claims := broker.Claims{}
	if rawIDToken != "" {
		claims, err = broker.ParseRawClaims(rawIDToken)
		if err != nil {
			return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, err.Error())
		}
	}

	// Replay protection: the nonce must round-trip through the provider.
	if rawIDToken != "" && flow.Nonce != "" && claims.Nonce != "" && claims.Nonce != flow.Nonce {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, "nonce mismatch")
	}

	identity, err := broker.DeriveIdentity(claims)
	if err != nil {
		return broker.Identity{}, errors.Wrap(broker.LoginFailedErr, err.Error())
	}

	// Access token preferred; ID token only when the provider issued nothing
	// better. Committed before returning.
	credential := oauth2Token.AccessToken
	if credential == "" {
		credential = rawIDToken
	}
	if err := b.sink.SetCredential(ctx, credential); err != nil {
		return broker.Identity{}, errors.Wrap(err, "[Broker.CompleteLogin] commit credential")
	}

	account := broker.Account{
		ExternalID:  identity.ExternalID,
		Username:    identity.Email,
		DisplayName: identity.DisplayName,
	}
	b.rememberAccount(account)
	b.SetActiveAccount(account.ExternalID)
	b.emit(broker.Event{Type: broker.EventLoginSuccess, Account: account})

	b.log.Info().Str("external_id", identity.ExternalID).Msg("interactive login completed")
	return identity, nil
}

// Logout empties the account cache and returns the provider end-session URL
// redirecting to the application root. Callers clear local session state
// before invoking this.
func (b *Broker) Logout(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.accounts = nil
	b.active = -1
	endSession := b.endSessionURL
	b.mu.Unlock()

	if endSession == "" {
		// Provider without RP-initiated logout; fall back to the app root.
		return b.cfg.PostLogoutURL, nil
	}

	u, err := url.Parse(endSession)
	if err != nil {
		return "", errors.Wrap(err, "[Broker.Logout] end session endpoint")
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", b.cfg.PostLogoutURL)
	q.Set("client_id", b.cfg.ClientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Broker) rememberAccount(a broker.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.accounts {
		if existing.ExternalID == a.ExternalID {
			b.accounts[i] = a
			return
		}
	}
	b.accounts = append(b.accounts, a)
}

func (b *Broker) Accounts() []broker.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]broker.Account, len(b.accounts))
	copy(out, b.accounts)
	return out
}

func (b *Broker) SetActiveAccount(externalID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.accounts {
		if a.ExternalID == externalID {
			b.active = i
			return
		}
	}
}

func (b *Broker) ActiveAccount() (broker.Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.active < 0 || b.active >= len(b.accounts) {
		return broker.Account{}, false
	}
	return b.accounts[b.active], true
}

func (b *Broker) Events() <-chan broker.Event {
	return b.events
}

// emit delivers an event without blocking the login path; a full buffer drops
// the event, the watcher re-derives its flags on the next signal anyway.
func (b *Broker) emit(ev broker.Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Warn().Str("event", string(ev.Type)).Msg("event buffer full, dropping")
	}
}

func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.events) })
}

// generateRandomString creates a random base64url string.
func generateRandomString(length int) string {
	buf := make([]byte, length)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// codeChallenge creates a PKCE S256 challenge from a verifier.
func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
