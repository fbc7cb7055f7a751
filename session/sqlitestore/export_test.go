package sqlitestore

import (
	"context"

	"github.com/tallerpinturas/go-gallery-gateway/session"
)

// CorruptUserForTest overwrites the durable user entry with invalid JSON.
func (s *Store) CorruptUserForTest(ctx context.Context) error {
	return s.put(ctx, session.KeyUser, "{not json")
}
