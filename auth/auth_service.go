// Package auth holds the profile reconciliation engine: the sequence that
// turns a fresh external identity into the canonical session subject by
// exchanging it with the backend profile service and applying the fallback
// policy on partial failure.
package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/broker"
	"github.com/tallerpinturas/go-gallery-gateway/profile"
	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

// Deps holds the capability dependencies of the Service.
type Deps struct {
	Broker  broker.Broker   // external identity provider surface
	Backend profile.Backend // backend profile service
	Store   session.Store   // persisted session store
}

// Service orchestrates reconciliation and session teardown.
type Service struct {
	deps          Deps
	log           zerolog.Logger
	defaultRoleID users.RoleID
}

// ServiceOption modifies a Service instance.
type ServiceOption func(*Service)

// WithDefaultRole overrides the fallback role committed when a profile fetch
// fails after a successful sync.
func WithDefaultRole(role users.RoleID) ServiceOption {
	return func(s *Service) {
		s.defaultRoleID = role
	}
}

// NewService initializes a Service with required dependencies.
func NewService(deps Deps, log zerolog.Logger, options ...ServiceOption) (*Service, error) {
	if deps.Broker == nil {
		return nil, errors.New("[NewService] broker is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("[NewService] backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewService] store is required")
	}

	service := &Service{
		deps:          deps,
		log:           log,
		defaultRoleID: users.DefaultRoleID,
	}
	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// Reconcile turns a fresh external identity into the committed session
// subject.
//
// The backend sync must succeed before anything else happens; its failure is
// fatal for this login attempt and leaves the store untouched. The profile
// fetch after it is allowed to fail: the user then proceeds with the sync
// payload plus the default role rather than being blocked. Either way the
// resulting record is committed before returning, so credential and user are
// never persisted apart.
//
// Sync is always initiated before the fetch, and the fetch only after sync's
// continuation has run. Separate concurrent logins are not serialized: the
// last one to complete wins in the store.
func (s *Service) Reconcile(ctx context.Context, identity broker.Identity) (users.User, error) {
	payload := profile.SyncRequest{
		ExternalID:  identity.ExternalID,
		Username:    identity.Email,
		DisplayName: identity.DisplayName,
	}

	if err := s.deps.Backend.Sync(ctx, payload); err != nil {
		s.log.Error().Err(err).Str("external_id", identity.ExternalID).Msg("backend sync failed")
		return users.User{}, errors.Wrap(SyncFailedErr, err.Error())
	}

	reconciled, err := s.deps.Backend.Profile(ctx, identity.ExternalID)
	if err != nil {
		// The profile genuinely may not exist yet; a sensible default
		// keeps the user unblocked.
		s.log.Warn().Err(err).Str("external_id", identity.ExternalID).Msg("profile fetch failed, applying fallback role")
		reconciled = users.User{
			ExternalID:  payload.ExternalID,
			Username:    payload.Username,
			DisplayName: payload.DisplayName,
			RoleID:      s.defaultRoleID,
		}
	} else if reconciled.ExternalID == "" {
		reconciled.ExternalID = identity.ExternalID
	}

	if err := s.deps.Store.SetUser(ctx, reconciled); err != nil {
		return users.User{}, errors.Wrap(err, "[Service.Reconcile] commit user")
	}

	s.log.Info().
		Str("external_id", reconciled.ExternalID).
		Int("role_id", int(reconciled.RoleID)).
		Msg("session reconciled")
	return reconciled, nil
}

// Logout clears the persisted session first, then asks the provider for its
// interactive logout redirect. A reconciliation already in flight may still
// complete and re-write the store afterwards; that race is documented
// behaviour, retried only by a new user action.
func (s *Service) Logout(ctx context.Context) (redirectURL string, err error) {
	if err := s.deps.Store.Clear(ctx); err != nil {
		return "", errors.Wrap(err, "[Service.Logout] clear store")
	}

	redirectURL, err = s.deps.Broker.Logout(ctx)
	if err != nil {
		return "", errors.Wrap(err, "[Service.Logout] provider logout")
	}
	return redirectURL, nil
}

// Users lists all backend users. Only the privileged role may call it.
func (s *Service) Users(ctx context.Context) ([]users.User, error) {
	if !s.deps.Store.IsPrivileged(ctx) {
		return nil, NotPrivilegedErr
	}

	list, err := s.deps.Backend.Users(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Users] backend list")
	}
	return list, nil
}
