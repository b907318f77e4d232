package dedup

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired records from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper returns a sweeper for store. A nil logger discards output.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// returns immediately.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Start runs the sweeper in its own goroutine. The returned channel closes
// when the goroutine exits.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	start := time.Now()
	n, err := s.store.CleanupExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("dedup sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Debug("dedup sweep", "removed", n, "duration", time.Since(start))
	}
}

// StartSweeper runs a Sweeper over the memory store.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	return NewSweeper(s, interval, nil).Start(ctx)
}
