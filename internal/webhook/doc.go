// Package webhook implements the HTTP endpoint that receives encrypted event
// pushes from the platform.
//
// Every push is verified by the pipeline before anything is dispatched. The
// endpoint never reveals why a request failed beyond a generic status.
//
// # Security Model
//
// - Signature checked with crypto/subtle (constant-time comparison)
// - Timestamp window and single-use nonce defeat replay
// - Body size limits enforced to prevent DoS attacks
// - Request logging excludes payloads and decrypted content
// - Admin routes require a bearer token with the matching scope
//
// # Configuration
//
//	webhook:
//	  listen: "127.0.0.1:8081"
//	  path: /webhook/event
//	  max_body_size: 1MB
//	  read_timeout: 10s
//	  write_timeout: 10s
//
// # Request Flow
//
//  1. HTTP POST arrives at the configured path
//  2. Body size checked (reject with 413 if too large)
//  3. Timestamp, nonce and signature taken from the X-Lark-Request-* headers
//  4. Pipeline verifies, decrypts and deduplicates
//  5. Admitted event queued for dispatch, 200 {} returned
//
// # Responses
//
// - 200 {}: event admitted, or a replay/duplicate acknowledged
// - 200 {"challenge": ...}: handshake answered
// - 400 Bad Request: undecryptable or malformed body
// - 401 Unauthorized: stale timestamp, bad signature, wrong token
// - 413 Payload Too Large: body exceeds max_body_size
// - 503 Service Unavailable: dedup store down under the closed policy
//
// # Other Routes
//
// - GET /healthz
// - GET /metrics (Prometheus)
// - GET /admin/stats, POST /admin/stats/reset, POST /admin/dedup/sweep
package webhook
