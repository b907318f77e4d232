package dedup

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	MaxEntries  int
	Redis       RedisOptions
	SQLitePath  string
	PostgresURL string
}

// Open constructs the configured Store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(WithMaxEntries(opts.MaxEntries)), nil
	case BackendRedis:
		s, err := OpenRedisStore(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLStore(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		s, err := OpenPostgresStore(ctx, opts.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", opts.Backend)
	}
}
