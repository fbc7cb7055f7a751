package profilefakes

import (
	"context"
	"sync"

	"github.com/tallerpinturas/go-gallery-gateway/profile"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

var _ profile.Backend = (*FakeBackend)(nil)

// FakeBackend is an in-memory Backend for tests. Error injection fields
// script the hard-fail and soft-fail branches of reconciliation.
type FakeBackend struct {
	mu       sync.RWMutex
	profiles map[string]users.User

	SyncErr    error
	ProfileErr error
	UsersErr   error

	// ProfileOverride, when set, is returned by Profile regardless of the
	// seeded records.
	ProfileOverride *users.User

	SyncCalls    []profile.SyncRequest
	ProfileCalls []string
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{profiles: make(map[string]users.User)}
}

// PutProfile seeds a backend profile record.
func (b *FakeBackend) PutProfile(u users.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[u.ExternalID] = u
}

func (b *FakeBackend) Sync(ctx context.Context, req profile.SyncRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SyncCalls = append(b.SyncCalls, req)
	return b.SyncErr
}

func (b *FakeBackend) Profile(ctx context.Context, externalID string) (users.User, error) {
	b.mu.Lock()
	b.ProfileCalls = append(b.ProfileCalls, externalID)
	b.mu.Unlock()

	if b.ProfileErr != nil {
		return users.User{}, b.ProfileErr
	}
	if b.ProfileOverride != nil {
		return *b.ProfileOverride, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.profiles[externalID]
	if !ok {
		return users.User{}, profile.NotFoundErr
	}
	return u, nil
}

func (b *FakeBackend) Users(ctx context.Context) ([]users.User, error) {
	if b.UsersErr != nil {
		return nil, b.UsersErr
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]users.User, 0, len(b.profiles))
	for _, u := range b.profiles {
		out = append(out, u)
	}
	return out, nil
}
