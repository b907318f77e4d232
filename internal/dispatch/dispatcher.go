package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookguard/internal/event"
	"github.com/mattjoyce/hookguard/internal/log"
)

// ErrStopped is returned by Submit once the dispatcher has shut down.
var ErrStopped = errors.New("dispatcher stopped")

const (
	defaultWorkers        = 4
	defaultQueueSize      = 256
	defaultHandlerTimeout = 30 * time.Second
)

// Options sizes the worker pool.
type Options struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type delivery struct {
	id  string
	env event.Envelope
}

type deliveryIDKey struct{}

// DeliveryID returns the delivery id attached to a handler context.
func DeliveryID(ctx context.Context) string {
	id, _ := ctx.Value(deliveryIDKey{}).(string)
	return id
}

// Dispatcher runs handlers for admitted events on a bounded worker pool.
type Dispatcher struct {
	registry *Registry
	queue    chan delivery
	workers  int
	timeout  time.Duration
	stopped  chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// New creates a Dispatcher. Zero options take defaults.
func New(reg *Registry, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	return &Dispatcher{
		registry: reg,
		queue:    make(chan delivery, opts.QueueSize),
		workers:  opts.Workers,
		timeout:  opts.HandlerTimeout,
		stopped:  make(chan struct{}),
		logger:   log.WithComponent("dispatch"),
	}
}

// Submit queues env and returns its delivery id. It blocks while the queue is
// full, until ctx is done or the dispatcher stops.
func (d *Dispatcher) Submit(ctx context.Context, env event.Envelope) (string, error) {
	select {
	case <-d.stopped:
		return "", ErrStopped
	default:
	}

	del := delivery{id: uuid.NewString(), env: env}
	select {
	case d.queue <- del:
		return del.id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("submit: %w", ctx.Err())
	case <-d.stopped:
		return "", ErrStopped
	}
}

// Start runs the workers until ctx is cancelled, then waits for in-flight
// handlers to return. Deliveries still queued at that point are dropped and
// logged. This is a blocking call.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	defer d.logger.Info("dispatcher stopped")

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.run(ctx)
		}()
	}

	<-ctx.Done()
	d.stopOnce.Do(func() { close(d.stopped) })
	wg.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn("dropping queued deliveries at shutdown", "count", n)
	}
	return ctx.Err()
}

// QueueLen returns how many deliveries are waiting.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case del := <-d.queue:
			d.execute(del)
		}
	}
}

// execute runs one handler. The handler context is detached from the pool's
// so shutdown lets in-flight handlers finish within their timeout.
func (d *Dispatcher) execute(del delivery) {
	logger := log.WithDelivery(del.id).With("event_id", del.env.EventID, "event_type", del.env.EventType)

	h, ok := d.registry.Lookup(del.env.EventType)
	if !ok {
		logger.Info("no handler for event type, dropping")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, deliveryIDKey{}, del.id)

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return h.Handle(ctx, del.env)
	}()
	if err != nil {
		logger.Error("handler failed", "error", err, "duration", time.Since(start))
		return
	}
	logger.Debug("handler succeeded", "duration", time.Since(start))
}
