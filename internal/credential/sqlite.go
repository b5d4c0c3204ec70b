package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/fireshield/fsclient/internal/db"
)

// SQLite stores the token in the local state database so it survives restarts.
type SQLite struct {
	store *db.Store
	key   string
}

func NewSQLite(store *db.Store) *SQLite {
	return &SQLite{store: store, key: Key}
}

func (s *SQLite) Set(ctx context.Context, token string) error {
	if err := s.store.PutSecret(ctx, s.key, token); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context) (string, bool, error) {
	token, err := s.store.GetSecret(ctx, s.key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return token, true, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if err := s.store.DeleteSecret(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
