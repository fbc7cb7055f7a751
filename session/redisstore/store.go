// Package redisstore persists the session in Redis, for deployments where
// the gateway runs more than one replica behind a balancer.
package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

var _ session.Store = (*Store)(nil)

// Store is a Redis-backed session.Store with an in-memory cache of the user
// record.
type Store struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger

	mu     sync.RWMutex
	cached *users.User
}

// New creates a Redis-backed session store. Keys are namespaced under prefix
// to keep the gateway's entries apart from anything else on the instance.
func New(client *redis.Client, prefix string, log zerolog.Logger) *Store {
	if prefix == "" {
		prefix = "galeria:"
	}
	return &Store{client: client, prefix: prefix, log: log}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

func (s *Store) SetCredential(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key(session.KeyCredential), token, 0).Err(); err != nil {
		return errors.Wrap(err, "[Store.SetCredential] redis set")
	}
	return nil
}

func (s *Store) Credential(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key(session.KeyCredential)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[Store.Credential] redis get")
	}
	return val, nil
}

func (s *Store) SetUser(ctx context.Context, u users.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "[Store.SetUser] marshal user")
	}
	if err := s.client.Set(ctx, s.key(session.KeyUser), data, 0).Err(); err != nil {
		return errors.Wrap(err, "[Store.SetUser] redis set")
	}

	s.mu.Lock()
	s.cached = &u
	s.mu.Unlock()
	return nil
}

func (s *Store) User(ctx context.Context) (users.User, bool, error) {
	s.mu.RLock()
	if s.cached != nil {
		u := *s.cached
		s.mu.RUnlock()
		return u, true, nil
	}
	s.mu.RUnlock()

	val, err := s.client.Get(ctx, s.key(session.KeyUser)).Result()
	if err == redis.Nil {
		return users.User{}, false, nil
	}
	if err != nil {
		return users.User{}, false, errors.Wrap(err, "[Store.User] redis get")
	}

	var u users.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		// A corrupt durable value means no session, never a crash.
		s.log.Warn().Err(err).Msg("discarding malformed persisted user")
		_ = s.client.Del(ctx, s.key(session.KeyUser)).Err()
		return users.User{}, false, nil
	}

	s.mu.Lock()
	s.cached = &u
	s.mu.Unlock()
	return u, true, nil
}

// Clear removes credential and user in one round-trip so neither can outlive
// the other.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	if err := s.client.Del(ctx, s.key(session.KeyCredential), s.key(session.KeyUser)).Err(); err != nil {
		return errors.Wrap(err, "[Store.Clear] redis del")
	}
	return nil
}

func (s *Store) IsPrivileged(ctx context.Context) bool {
	u, ok, err := s.User(ctx)
	if err != nil || !ok {
		return false
	}
	return u.IsPrivileged()
}

func (s *Store) Close() error {
	return s.client.Close()
}
