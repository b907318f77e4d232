package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/hookguard/internal/event"
	"github.com/mattjoyce/hookguard/internal/metrics"
	"github.com/mattjoyce/hookguard/internal/verify"
)

// Config holds the shared secrets and checks applied to every request.
type Config struct {
	VerificationToken string
	EncryptKey        string
	// Tolerance is the accepted clock skew in seconds.
	Tolerance     int64
	FailurePolicy FailurePolicy
	// Now overrides time.Now, for tests.
	Now func() time.Time
}

// Deps are the orchestrator's collaborators. Verifier and Decryptor default
// to implementations derived from Config.EncryptKey.
type Deps struct {
	Verifier  SignatureVerifier
	Decryptor Decryptor
	Nonces    NonceChecker
	Events    EventAdmitter
	Metrics   *metrics.Sink
	Logger    *slog.Logger
}

type secrets struct {
	token     string
	verifier  SignatureVerifier
	decryptor Decryptor
}

// Orchestrator runs the verification pipeline. It is safe for concurrent use;
// the dedup store is the only shared mutable state it touches.
type Orchestrator struct {
	secrets atomic.Pointer[secrets]
	gate    verify.TimestampGate
	policy  FailurePolicy
	nonces  NonceChecker
	events  EventAdmitter
	metrics *metrics.Sink
	logger  *slog.Logger
}

// New builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Nonces == nil || deps.Events == nil {
		return nil, fmt.Errorf("pipeline: nonce guard and event deduplicator are required")
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("pipeline: negative timestamp tolerance %d", cfg.Tolerance)
	}
	policy, err := ParseFailurePolicy(string(cfg.FailurePolicy))
	if err != nil {
		return nil, err
	}

	s := &secrets{token: cfg.VerificationToken, verifier: deps.Verifier, decryptor: deps.Decryptor}
	if s.verifier == nil || s.decryptor == nil {
		derived, err := deriveSecrets(cfg.VerificationToken, cfg.EncryptKey)
		if err != nil {
			return nil, err
		}
		if s.verifier == nil {
			s.verifier = derived.verifier
		}
		if s.decryptor == nil {
			s.decryptor = derived.decryptor
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	o := &Orchestrator{
		gate:    verify.TimestampGate{Tolerance: cfg.Tolerance, Now: cfg.Now},
		policy:  policy,
		nonces:  deps.Nonces,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger,
	}
	o.secrets.Store(s)
	return o, nil
}

func deriveSecrets(token, encryptKey string) (*secrets, error) {
	c, err := verify.NewCipher(encryptKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &secrets{token: token, verifier: verify.NewSigner(encryptKey), decryptor: c}, nil
}

// Rotate replaces the verification token and encrypt key. Requests already
// past the secrets lookup finish with the old values.
func (o *Orchestrator) Rotate(token, encryptKey string) error {
	s, err := deriveSecrets(token, encryptKey)
	if err != nil {
		return err
	}
	o.secrets.Store(s)
	o.logger.Info("verification secrets rotated")
	return nil
}

// Verify runs one request through the pipeline. On success the Result holds
// either an admitted envelope or a handshake challenge; otherwise the error is
// a *Rejection and the Result is empty.
func (o *Orchestrator) Verify(ctx context.Context, req Request) (Result, error) {
	o.metrics.Inc(metrics.RequestsSeen)

	if ctx.Err() != nil {
		return o.reject(StageReceived, ErrCancelled)
	}
	s := o.secrets.Load()

	if req.Encrypt == "" {
		if req.Type == event.TypeURLVerification {
			return o.handshake(s, StageReceived, req.Token, req.Challenge)
		}
		return o.reject(StageReceived, ErrMalformedRequest)
	}

	if !o.gate.CheckString(req.Timestamp) {
		return o.reject(StageReceived, ErrTimestampOutOfRange)
	}
	if !s.verifier.Verify(req.Timestamp, req.Nonce, req.signed(), req.Signature) {
		return o.reject(StageTimestampChecked, ErrSignatureMismatch)
	}
	msg, err := s.decryptor.Open(req.Encrypt)
	if err != nil {
		return o.reject(StageSignatureChecked, ErrDecryption)
	}
	if msg.IsChallenge() {
		return o.handshake(s, StageDecrypted, msg.Token, msg.Challenge)
	}
	if s.token != "" && !tokenEqual(msg.Token, s.token) {
		return o.reject(StageDecrypted, ErrTokenMismatch)
	}
	if req.Nonce == "" {
		return o.reject(StageDecrypted, ErrMalformedRequest)
	}

	env := msg.Envelope
	degraded := false

	fresh, err := o.nonces.TryConsume(ctx, req.Nonce)
	if err != nil {
		if rej := o.storeFailure(ctx, StageDecrypted, "nonce", err); rej != nil {
			return Result{}, rej
		}
		fresh, degraded = true, true
	}
	if !fresh {
		o.logger.Debug("replayed nonce", "event_id", env.EventID)
		return o.reject(StageDecrypted, ErrReplayedNonce)
	}

	admitted, err := o.events.TryAdmit(ctx, env.EventID)
	if err != nil {
		if rej := o.storeFailure(ctx, StageNonceChecked, "event", err); rej != nil {
			if !degraded {
				o.releaseNonce(ctx, req.Nonce)
			}
			return Result{}, rej
		}
		admitted, degraded = true, true
	}
	if !admitted {
		o.logger.Debug("duplicate event", "event_id", env.EventID, "event_type", env.EventType)
		return o.reject(StageNonceChecked, ErrDuplicateEvent)
	}

	o.metrics.Inc(metrics.EventsSucceeded)
	return Result{Kind: ResultEvent, Envelope: env, StoreDegraded: degraded}, nil
}

func (o *Orchestrator) handshake(s *secrets, stage Stage, token, challenge string) (Result, error) {
	if s.token != "" && !tokenEqual(token, s.token) {
		return o.reject(stage, ErrTokenMismatch)
	}
	if challenge == "" {
		return o.reject(stage, ErrMalformedRequest)
	}
	o.metrics.Inc(metrics.Handshakes)
	o.logger.Info("subscription handshake answered")
	return Result{Kind: ResultChallenge, Challenge: challenge}, nil
}

// storeFailure applies the failure policy to a guard error. It returns nil
// when the request may continue.
func (o *Orchestrator) storeFailure(ctx context.Context, stage Stage, guard string, err error) *Rejection {
	if ctx.Err() != nil {
		return o.rejection(stage, ErrCancelled)
	}
	o.metrics.Inc(metrics.StoreUnavailable)
	if o.policy == FailOpen && errors.Is(err, ErrStoreUnavailable) {
		o.logger.Error("dedup store unavailable, admitting unchecked", "guard", guard, "error", err)
		return nil
	}
	o.logger.Error("dedup store unavailable", "guard", guard, "error", err)
	return o.rejection(stage, ErrStoreUnavailable)
}

// releaseNonce undoes the nonce mark of a request that was rejected before
// admission, so the sender's retry of the same request is judged afresh.
// It runs even when ctx is cancelled.
func (o *Orchestrator) releaseNonce(ctx context.Context, nonce string) {
	if err := o.nonces.Release(context.WithoutCancel(ctx), nonce); err != nil {
		o.logger.Error("release nonce after rejection", "error", err)
	}
}

func (o *Orchestrator) reject(stage Stage, kind error) (Result, error) {
	return Result{}, o.rejection(stage, kind)
}

// rejection counts and logs a rejection of the given kind.
func (o *Orchestrator) rejection(stage Stage, kind error) *Rejection {
	switch kind {
	case ErrReplayedNonce:
		o.metrics.Inc(metrics.ReplayedNonces)
	case ErrDuplicateEvent:
		o.metrics.Inc(metrics.DuplicateEvents)
	case ErrCancelled:
		o.metrics.Inc(metrics.EventsCancelled)
	case ErrStoreUnavailable:
		o.metrics.Inc(metrics.EventsFailed)
	default:
		switch kind {
		case ErrTimestampOutOfRange:
			o.metrics.Inc(metrics.TimestampRejections)
		case ErrSignatureMismatch:
			o.metrics.Inc(metrics.SignatureFailures)
		case ErrDecryption:
			o.metrics.Inc(metrics.DecryptionFailures)
		case ErrTokenMismatch:
			o.metrics.Inc(metrics.TokenFailures)
		}
		o.metrics.Inc(metrics.EventsFailed)
		o.logger.Warn("request rejected", "stage", stage.String(), "reason", kind.Error())
	}
	return &Rejection{Stage: stage, Kind: kind}
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
