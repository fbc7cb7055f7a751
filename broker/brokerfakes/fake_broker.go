package brokerfakes

import (
	"context"
	"sync"

	"github.com/tallerpinturas/go-gallery-gateway/broker"
)

var _ broker.Broker = (*FakeBroker)(nil)

// FakeBroker is an in-memory Broker for tests. Login outcomes are scripted
// through the public fields; Emit injects lifecycle events.
type FakeBroker struct {
	// LoginIdentity is returned by CompleteLogin when LoginErr is nil.
	LoginIdentity broker.Identity
	// LoginCredential is committed to the sink before CompleteLogin returns.
	LoginCredential string
	// LoginErr, when set, fails CompleteLogin.
	LoginErr error
	// InitializeErr, when set, fails Initialize on every call after the first.
	InitializeErr error

	sink broker.CredentialSink

	mu          sync.RWMutex
	initialised bool
	accounts    []broker.Account
	active      int // index into accounts, -1 when none
	events      chan broker.Event
	closeOnce   sync.Once

	InitializeCalls int
	LogoutCalls     int
}

func NewFakeBroker(sink broker.CredentialSink) *FakeBroker {
	return &FakeBroker{
		sink:   sink,
		active: -1,
		events: make(chan broker.Event, 16),
	}
}

func (b *FakeBroker) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InitializeCalls++
	if b.initialised {
		if b.InitializeErr != nil {
			return b.InitializeErr
		}
		return broker.AlreadyInitialisedErr
	}
	b.initialised = true
	return nil
}

func (b *FakeBroker) BeginLogin(ctx context.Context) (broker.Challenge, error) {
	return broker.Challenge{URL: "https://idp.example.com/authorize?state=fake-state", State: "fake-state"}, nil
}

func (b *FakeBroker) CompleteLogin(ctx context.Context, cb broker.Callback) (broker.Identity, error) {
	if cb.Error == "access_denied" {
		return broker.Identity{}, broker.LoginCancelledErr
	}
	if b.LoginErr != nil {
		return broker.Identity{}, b.LoginErr
	}

	if b.sink != nil {
		if err := b.sink.SetCredential(ctx, b.LoginCredential); err != nil {
			return broker.Identity{}, err
		}
	}

	account := broker.Account{
		ExternalID:  b.LoginIdentity.ExternalID,
		Username:    b.LoginIdentity.Email,
		DisplayName: b.LoginIdentity.DisplayName,
	}
	b.AddAccount(account)
	b.SetActiveAccount(account.ExternalID)
	b.Emit(broker.Event{Type: broker.EventLoginSuccess, Account: account})
	return b.LoginIdentity, nil
}

func (b *FakeBroker) Logout(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LogoutCalls++
	b.accounts = nil
	b.active = -1
	return "https://idp.example.com/logout?post_logout_redirect_uri=%2F", nil
}

func (b *FakeBroker) AddAccount(a broker.Account) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.accounts {
		if existing.ExternalID == a.ExternalID {
			return
		}
	}
	b.accounts = append(b.accounts, a)
}

func (b *FakeBroker) Accounts() []broker.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]broker.Account, len(b.accounts))
	copy(out, b.accounts)
	return out
}

func (b *FakeBroker) SetActiveAccount(externalID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.accounts {
		if a.ExternalID == externalID {
			b.active = i
			return
		}
	}
}

func (b *FakeBroker) ActiveAccount() (broker.Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.active < 0 || b.active >= len(b.accounts) {
		return broker.Account{}, false
	}
	return b.accounts[b.active], true
}

func (b *FakeBroker) Events() <-chan broker.Event {
	return b.events
}

// Emit injects a lifecycle event, dropping it if nobody is draining.
func (b *FakeBroker) Emit(ev broker.Event) {
	select {
	case b.events <- ev:
	default:
	}
}

func (b *FakeBroker) Close() {
	b.closeOnce.Do(func() { close(b.events) })
}
