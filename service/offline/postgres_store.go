package offline

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizlink/tools/errs"
)

const kvDDL = `CREATE TABLE IF NOT EXISTS quizlink_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore upserts the queue blob into quizlink_kv(key, value).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the table when missing.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, kvDDL); err != nil {
		return nil, errs.WrapMsg(err, "create quizlink_kv")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM quizlink_kv WHERE key = $1`, key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "pg load", "key", key)
	}
	return b, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quizlink_kv (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, blob)
	if err != nil {
		return errs.WrapMsg(err, "pg save", "key", key)
	}
	return nil
}
