package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/hookguard/internal/auth"
	"github.com/mattjoyce/hookguard/internal/metrics"
	"github.com/mattjoyce/hookguard/internal/pipeline"
)

// Deps are the collaborators behind the HTTP surface. Metrics, Gatherer and
// Sweeper are optional; admin routes are mounted only when Admin has
// credentials.
type Deps struct {
	Pipeline   Verifier
	Dispatcher Dispatcher
	Metrics    *metrics.Sink
	Gatherer   prometheus.Gatherer
	Sweeper    Sweeper
	Admin      auth.Guard
}

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

// New creates a new webhook server instance.
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	return &Server{
		config: config,
		deps:   deps,
		logger: logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.Path, s.handleEvent)
	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if s.deps.Admin.Enabled() {
		r.Route("/admin", func(r chi.Router) {
			r.With(s.deps.Admin.Require(auth.ScopeStatsRO)).Get("/stats", s.handleStats)
			r.With(s.deps.Admin.Require(auth.ScopeStatsRW)).Post("/stats/reset", s.handleStatsReset)
			r.With(s.deps.Admin.Require(auth.ScopeDedupRW)).Post("/dedup/sweep", s.handleSweep)
		})
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleEvent verifies one push and hands an admitted event to dispatch.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	var pb pushBody
	if err := json.Unmarshal(body, &pb); err != nil {
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	req := pipeline.Request{
		Timestamp: firstNonEmpty(r.Header.Get(HeaderTimestamp), pb.Timestamp),
		Nonce:     firstNonEmpty(r.Header.Get(HeaderNonce), pb.Nonce),
		Signature: firstNonEmpty(r.Header.Get(HeaderSignature), pb.Signature),
		Body:      string(body),
		Encrypt:   pb.Encrypt,
		Type:      pb.Type,
		Token:     pb.Token,
		Challenge: pb.Challenge,
	}

	res, err := s.deps.Pipeline.Verify(ctx, req)
	if err != nil {
		s.respondRejection(w, r, err)
		return
	}

	if res.Kind == pipeline.ResultChallenge {
		s.respondJSON(w, http.StatusOK, ChallengeResponse{Challenge: res.Challenge})
		return
	}

	env := res.Envelope
	logger := s.logger.With("event_id", env.EventID, "event_type", env.EventType)
	if res.StoreDegraded {
		logger.Warn("event admitted without dedup check")
	}

	// The event is already marked as admitted; a failed hand-off cannot be
	// retried by the sender, so it is logged and acknowledged.
	deliveryID, err := s.deps.Dispatcher.Submit(ctx, env)
	if err != nil {
		logger.Error("failed to queue admitted event", "error", err)
	} else {
		logger.Info("event admitted", "delivery_id", deliveryID)
	}
	s.respondJSON(w, http.StatusOK, struct{}{})
}

// respondRejection maps a pipeline rejection to a generic response.
func (s *Server) respondRejection(w http.ResponseWriter, r *http.Request, err error) {
	var rej *pipeline.Rejection
	if !errors.As(err, &rej) {
		s.logger.Error("verification failed unexpectedly", "error", err, "request_id", middleware.GetReqID(r.Context()))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rej.Acknowledged() {
		s.respondJSON(w, http.StatusOK, struct{}{})
		return
	}

	switch {
	case errors.Is(rej, pipeline.ErrTimestampOutOfRange),
		errors.Is(rej, pipeline.ErrSignatureMismatch),
		errors.Is(rej, pipeline.ErrTokenMismatch):
		s.respondError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(rej, pipeline.ErrDecryption),
		errors.Is(rej, pipeline.ErrMalformedRequest):
		s.respondError(w, http.StatusBadRequest, "bad request")
	case errors.Is(rej, pipeline.ErrStoreUnavailable),
		errors.Is(rej, pipeline.ErrCancelled):
		s.respondError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{Counters: s.deps.Metrics.Snapshot()}
	if s.deps.Dispatcher != nil {
		resp.DispatchQueue = s.deps.Dispatcher.QueueLen()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Metrics == nil {
		s.respondJSON(w, http.StatusOK, ResetResponse{})
		return
	}
	s.respondJSON(w, http.StatusOK, ResetResponse{Previous: s.deps.Metrics.Reset()})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sweeper == nil {
		s.respondJSON(w, http.StatusOK, SweepResponse{})
		return
	}
	n, err := s.deps.Sweeper.CleanupExpired(r.Context())
	if err != nil {
		s.logger.Error("manual dedup sweep failed", "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	s.logger.Info("manual dedup sweep", "removed", n)
	s.respondJSON(w, http.StatusOK, SweepResponse{Removed: n})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
