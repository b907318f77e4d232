// Package dispatch hands admitted events to business handlers.
//
// Handlers are registered per event type in a Registry built at startup. The
// Dispatcher runs them on a fixed pool of workers fed by a bounded queue, so
// a slow handler never holds the HTTP request that admitted the event.
//
// Key features:
//   - Explicit event type -> Handler mapping, duplicate registration panics
//   - Optional fallback handler for unrouted types
//   - Bounded queue; Submit blocks until there is room or the caller gives up
//   - Per-handler timeout
//   - Built-in handlers: log (metadata only) and forward (re-POST as JSON)
//
// Delivery is at most once. Events are marked as admitted before they are
// queued, so an event dropped here (handler error, shutdown with a non-empty
// queue) is not redelivered by the platform.
package dispatch
