package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/hookguard/internal/event"
)

// Built-in handler names usable in dispatch routes.
const (
	HandlerLog     = "log"
	HandlerForward = "forward"
)

// LogHandler records event metadata. The payload is never logged.
type LogHandler struct {
	Logger *slog.Logger
}

// Handle implements Handler.
func (h LogHandler) Handle(ctx context.Context, env event.Envelope) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event received",
		"delivery_id", DeliveryID(ctx),
		"event_id", env.EventID,
		"event_type", env.EventType,
		"app_id", env.AppID,
		"tenant_key", env.TenantKey,
		"create_time", env.CreateTime,
		"payload_bytes", len(env.Payload),
	)
	return nil
}

// ForwardHandler re-POSTs the envelope as JSON to URL.
type ForwardHandler struct {
	URL    string
	Client *http.Client
}

// NewForwardHandler returns a handler posting to url.
func NewForwardHandler(url string, timeout time.Duration) *ForwardHandler {
	return &ForwardHandler{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Handle implements Handler. Any non-2xx answer is an error.
func (h *ForwardHandler) Handle(ctx context.Context, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hookguard-Event-Id", env.EventID)
	req.Header.Set("X-Hookguard-Event-Type", env.EventType)
	if id := DeliveryID(ctx); id != "" {
		req.Header.Set("X-Hookguard-Delivery", id)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward: %s returned %d", h.URL, resp.StatusCode)
	}
	return nil
}
