package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/hookguard/internal/event"
)

// Handler processes one admitted event.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

// FallbackRoute is the routes key that selects the fallback handler.
const FallbackRoute = "*"

// Registry maps event types to handlers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for eventType. Panics on duplicate or empty type to
// surface misconfiguration early.
func (r *Registry) Register(eventType string, h Handler) {
	if eventType == "" || h == nil {
		panic("dispatch registry: empty event type or nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[eventType]; exists {
		panic(fmt.Sprintf("dispatch registry: duplicate event type %q", eventType))
	}
	r.handlers[eventType] = h
}

// SetFallback sets the handler for types with no registration.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Lookup returns the handler for eventType, or the fallback.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[eventType]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewRegistryFromRoutes builds a registry from an event type -> handler name
// table. The FallbackRoute key sets the fallback. Every name must exist in
// handlers.
func NewRegistryFromRoutes(routes map[string]string, handlers map[string]Handler) (*Registry, error) {
	r := NewRegistry()
	for eventType, name := range routes {
		h, ok := handlers[name]
		if !ok {
			return nil, fmt.Errorf("route %q: unknown handler %q", eventType, name)
		}
		if eventType == FallbackRoute {
			r.SetFallback(h)
			continue
		}
		r.Register(eventType, h)
	}
	return r, nil
}
