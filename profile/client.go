package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/users"
)

var _ Backend = (*Client)(nil)

// CredentialSource supplies the bearer credential attached to every backend
// request. Satisfied by session.Store.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials CredentialSource
	log         zerolog.Logger
}

// NewClient builds a Backend over the configured base URL.
func NewClient(baseURL string, credentials CredentialSource, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[profile.NewClient] base URL is required")
	}
	if credentials == nil {
		return nil, errors.New("[profile.NewClient] credential source is required")
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		credentials: credentials,
		log:         log,
	}, nil
}

// Sync POSTs the create-or-update payload. Any non-2xx answer is an error;
// the caller decides that this is fatal for the login attempt.
func (c *Client) Sync(ctx context.Context, req SyncRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "[Client.Sync] marshal payload")
	}

	resp, err := c.do(ctx, http.MethodPost, "/usuarios/sync", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "[Client.Sync] request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("[Client.Sync] backend answered %d", resp.StatusCode)
	}
	return nil
}

// Profile GETs the full backend record, including the role.
func (c *Client) Profile(ctx context.Context, externalID string) (users.User, error) {
	if externalID == "" {
		return users.User{}, errors.New("[Client.Profile] external id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, "/usuarios/"+url.PathEscape(externalID), nil)
	if err != nil {
		return users.User{}, errors.Wrap(err, "[Client.Profile] request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return users.User{}, NotFoundErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return users.User{}, errors.Errorf("[Client.Profile] backend answered %d", resp.StatusCode)
	}

	var u users.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return users.User{}, errors.Wrap(err, "[Client.Profile] decode response")
	}
	return u, nil
}

// Users GETs the whole user list.
func (c *Client) Users(ctx context.Context) ([]users.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/usuarios", nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Users] request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("[Client.Users] backend answered %d", resp.StatusCode)
	}

	var list []users.User
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.Wrap(err, "[Client.Users] decode response")
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.credentials.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		c.log.Warn().Str("path", path).Msg("no credential in store, backend request will likely fail")
	}

	return c.httpClient.Do(req)
}
