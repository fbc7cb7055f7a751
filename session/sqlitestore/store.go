// Package sqlitestore persists the session in a single SQLite file, the
// durable local analogue of a browser's localStorage for the default
// single-instance deployment.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/tallerpinturas/go-gallery-gateway/session"
	"github.com/tallerpinturas/go-gallery-gateway/users"
)

var _ session.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS session_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a SQLite-backed session.Store with an in-memory cache of the user
// record.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	mu     sync.RWMutex
	cached *users.User
}

// Open opens the session database, creating the file and schema when absent.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqlitestore.Open] storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.Open] open database")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.Open] ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.Open] create schema")
	}

	return &Store{db: db, log: log}, nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetCredential(ctx context.Context, token string) error {
	if err := s.put(ctx, session.KeyCredential, token); err != nil {
		return errors.Wrap(err, "[Store.SetCredential] put")
	}
	return nil
}

func (s *Store) Credential(ctx context.Context) (string, error) {
	value, _, err := s.get(ctx, session.KeyCredential)
	if err != nil {
		return "", errors.Wrap(err, "[Store.Credential] get")
	}
	return value, nil
}

func (s *Store) SetUser(ctx context.Context, u users.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "[Store.SetUser] marshal user")
	}
	if err := s.put(ctx, session.KeyUser, string(data)); err != nil {
		return errors.Wrap(err, "[Store.SetUser] put")
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

	value, ok, err := s.get(ctx, session.KeyUser)
	if err != nil {
		return users.User{}, false, errors.Wrap(err, "[Store.User] get")
	}
	if !ok {
		return users.User{}, false, nil
	}

	var u users.User
	if err := json.Unmarshal([]byte(value), &u); err != nil {
		// A corrupt durable value means no session, never a crash.
		s.log.Warn().Err(err).Msg("discarding malformed persisted user")
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE key = ?`, session.KeyUser)
		return users.User{}, false, nil
	}

	s.mu.Lock()
	s.cached = &u
	s.mu.Unlock()
	return u, true, nil
}

// Clear removes credential and user in a single transaction so neither can
// outlive the other.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM session_kv WHERE key IN (?, ?)`,
		session.KeyCredential, session.KeyUser)
	if err != nil {
		return errors.Wrap(err, "[Store.Clear] delete")
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
	return s.db.Close()
}
