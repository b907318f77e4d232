package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in a Postgres table, for deployments that run
// several receivers against one database. Expiry is judged by the database
// clock, so receivers with skewed clocks agree on which records are live.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// pgNowMillis is the database's current time in unix milliseconds.
const pgNowMillis = `(extract(epoch FROM clock_timestamp()) * 1000)::bigint`

// OpenPostgresStore connects to url and creates the dedup_record table if
// missing.
func OpenPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres url is empty")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dedup_record (
  key         TEXT PRIMARY KEY,
  inserted_at BIGINT NOT NULL,
  expires_at  BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS dedup_record_expires_at_idx ON dedup_record(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap postgres: %w", err)
		}
	}
	return nil
}

const pgMark = `
WITH clock AS (SELECT ` + pgNowMillis + ` AS now_ms)
INSERT INTO dedup_record(key, inserted_at, expires_at)
SELECT $1, now_ms, now_ms + $2::bigint FROM clock
ON CONFLICT (key) DO UPDATE SET
  inserted_at = EXCLUDED.inserted_at,
  expires_at  = EXCLUDED.expires_at
WHERE dedup_record.expires_at <= EXCLUDED.inserted_at
RETURNING key`

// TryMarkAsProcessed implements Store. RETURNING yields a row only when the
// insert or the expired-row update happened.
func (s *PostgresStore) TryMarkAsProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	var got string
	err := s.pool.QueryRow(ctx, pgMark, key, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("mark", err)
	}
	return true, nil
}

// Exists implements Store.
func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dedup_record WHERE key = $1 AND expires_at > `+pgNowMillis+`)`,
		key,
	).Scan(&ok)
	if err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM dedup_record WHERE key = $1`, key); err != nil {
		return unavailable("release", err)
	}
	return nil
}

// CleanupExpired implements Store.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dedup_record WHERE expires_at <= `+pgNowMillis)
	if err != nil {
		return 0, unavailable("cleanup", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
