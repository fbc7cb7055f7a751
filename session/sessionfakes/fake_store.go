package sessionfakes

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is an in-memory session.Store for tests. Error injection fields
// let tests exercise the failure branches of callers.
type FakeStore struct {
	mu         sync.RWMutex
	credential string
	hasCred    bool
	user       users.User
	hasUser    bool

	SetCredentialErr error
	SetUserErr       error

	SetCredentialCalls int
	SetUserCalls       int
	ClearCalls         int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (s *FakeStore) SetCredential(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetCredentialCalls++
	if s.SetCredentialErr != nil {
		return s.SetCredentialErr
	}
	s.credential = token
	s.hasCred = true
	return nil
}

func (s *FakeStore) Credential(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, nil
}

func (s *FakeStore) SetUser(ctx context.Context, u users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetUserCalls++
	if s.SetUserErr != nil {
		return errors.Wrap(s.SetUserErr, "fake store")
	}
	s.user = u
	s.hasUser = true
	return nil
}

func (s *FakeStore) User(ctx context.Context) (users.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasUser {
		return users.User{}, false, nil
	}
	return s.user, true, nil
}

func (s *FakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCalls++
	s.credential = ""
	s.hasCred = false
	s.user = users.User{}
	s.hasUser = false
	return nil
}

func (s *FakeStore) IsPrivileged(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasUser && s.user.IsPrivileged()
}

func (s *FakeStore) Close() error { return nil }

// HasCredential reports whether a credential is currently committed.
func (s *FakeStore) HasCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasCred
}
