package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/hookguard/internal/storage"
)

// cleanupBatch bounds how many rows one DELETE removes, so a large backlog
// never holds the write lock for long.
const cleanupBatch = 1000

// SQLStore persists records in the SQLite dedup_record table. Several
// processes on one host can share the database file.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLClock overrides time.Now, for tests.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) { s.now = now }
}

// OpenSQLStore opens the database at path, creating the schema if needed.
func OpenSQLStore(ctx context.Context, path string, opts ...SQLOption) (*SQLStore, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db, opts...), nil
}

// NewSQLStore wraps an already bootstrapped database.
func NewSQLStore(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const sqliteMark = `
INSERT INTO dedup_record(key, inserted_at, expires_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  inserted_at = excluded.inserted_at,
  expires_at  = excluded.expires_at
WHERE dedup_record.expires_at <= excluded.inserted_at;`

// TryMarkAsProcessed implements Store. The upsert only rewrites a row that
// has already expired, so the affected row count is 1 exactly when the
// caller won the key.
func (s *SQLStore) TryMarkAsProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, sqliteMark, key, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return false, unavailable("mark", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("mark", err)
	}
	return n == 1, nil
}

// Exists implements Store.
func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_record WHERE key = ? AND expires_at > ?;`,
		key, s.now().UnixMilli(),
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, unavailable("exists", err)
	}
	return true, nil
}

// Release implements Store.
func (s *SQLStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_record WHERE key = ?;`, key); err != nil {
		return unavailable("release", err)
	}
	return nil
}

// CleanupExpired implements Store, deleting in batches of cleanupBatch rows.
func (s *SQLStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := s.now().UnixMilli()
	removed := 0
	for {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM dedup_record WHERE rowid IN (
  SELECT rowid FROM dedup_record WHERE expires_at <= ? LIMIT ?
);`, cutoff, cleanupBatch)
		if err != nil {
			return removed, unavailable("cleanup", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, unavailable("cleanup", err)
		}
		removed += int(n)
		if n < cleanupBatch {
			return removed, nil
		}
	}
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
