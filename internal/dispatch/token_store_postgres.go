package dispatch

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type tokenExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresTokenStore claims dispatch tokens through a unique insert.
type PostgresTokenStore struct {
	pool tokenExecer
}

// NewPostgresTokenStore builds a token store on the provided pool.
func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	if pool == nil {
		panic("dispatch: pgx pool required")
	}
	return &PostgresTokenStore{pool: pool}
}

func newPostgresTokenStoreWithExec(exec tokenExecer) *PostgresTokenStore {
	if exec == nil {
		panic("dispatch: exec required")
	}
	return &PostgresTokenStore{pool: exec}
}

// Claim inserts the token, returning false if it was already claimed.
func (s *PostgresTokenStore) Claim(ctx context.Context, token string) (bool, error) {
	query := `
		INSERT INTO dispatch_tokens (token)
		VALUES ($1)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, token)
	if err != nil {
		return false, fmt.Errorf("dispatch: claim token: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
