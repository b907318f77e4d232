package dedup

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when HOOKGUARD_TEST_POSTGRES_URL points at a disposable database.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("HOOKGUARD_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("HOOKGUARD_TEST_POSTGRES_URL not set")
	}
	s, err := OpenPostgresStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ageRecord moves key's expiry by delta relative to the database clock.
func ageRecord(t *testing.T, s *PostgresStore, key string, delta time.Duration) {
	t.Helper()
	_, err := s.pool.Exec(context.Background(),
		`UPDATE dedup_record SET expires_at = `+pgNowMillis+` + $2::bigint WHERE key = $1`,
		key, delta.Milliseconds())
	require.NoError(t, err)
}

func TestPostgresStoreMarkAndExpire(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	ok, err := s.TryMarkAsProcessed(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryMarkAsProcessed(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ageRecord(t, s, key, -time.Second)
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = s.TryMarkAsProcessed(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresStoreUsesDatabaseClock(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	// Half a second left on the database clock is live whatever this host's
	// clock says.
	ok, err := s.TryMarkAsProcessed(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	ageRecord(t, s, key, 500*time.Millisecond)

	ok, err = s.TryMarkAsProcessed(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists, "cleanup removed %d rows including a live one", n)
}

func TestPostgresStoreRelease(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	ok, err := s.TryMarkAsProcessed(ctx, key, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, key))
	require.NoError(t, s.Release(ctx, key))

	ok, err = s.TryMarkAsProcessed(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresStoreConcurrentMark(t *testing.T) {
	s := openTestPostgres(t)
	key := "test:" + uuid.NewString()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.TryMarkAsProcessed(context.Background(), key, time.Hour); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestOpenPostgresStoreEmptyURL(t *testing.T) {
	_, err := OpenPostgresStore(context.Background(), "")
	assert.Error(t, err)
}
