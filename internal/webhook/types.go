package webhook

import (
	"context"
	"time"

	"github.com/mattjoyce/hookguard/internal/event"
	"github.com/mattjoyce/hookguard/internal/metrics"
	"github.com/mattjoyce/hookguard/internal/pipeline"
)

// Verifier runs the verification pipeline. *pipeline.Orchestrator implements it.
type Verifier interface {
	Verify(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Dispatcher queues admitted events. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Submit(ctx context.Context, env event.Envelope) (string, error)
	QueueLen() int
}

// Sweeper removes expired dedup records on demand.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	// Path is the URL path the platform posts events to.
	Path string
	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize  int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Platform request headers.
const (
	HeaderTimestamp = "X-Lark-Request-Timestamp"
	HeaderNonce     = "X-Lark-Request-Nonce"
	HeaderSignature = "X-Lark-Signature"
)

// pushBody is the JSON body of an inbound push. Timestamp, nonce and
// signature normally arrive as headers; the body fields are a fallback.
type pushBody struct {
	Encrypt   string `json:"encrypt"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`

	Type      string `json:"type"`
	Token     string `json:"token"`
	Challenge string `json:"challenge"`
}

// ChallengeResponse answers a subscription handshake.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatsResponse is returned by GET /admin/stats.
type StatsResponse struct {
	Counters      metrics.Snapshot `json:"counters"`
	DispatchQueue int              `json:"dispatch_queue"`
}

// ResetResponse is returned by POST /admin/stats/reset.
type ResetResponse struct {
	Previous metrics.Snapshot `json:"previous"`
}

// SweepResponse is returned by POST /admin/dedup/sweep.
type SweepResponse struct {
	Removed int `json:"removed"`
}

// Default values
const (
	DefaultListen       = "127.0.0.1:8081"
	DefaultPath         = "/webhook/event"
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)
