// Package pipeline decides whether one inbound push is authentic, fresh, and
// new, and answers the subscription handshake.
//
// A request moves through
//
//	Received -> TimestampChecked -> SignatureChecked -> Decrypted -> NonceChecked -> Admitted
//
// and stops at the first failing check with a *Rejection. No dedup record is
// written before the request has passed every cryptographic check.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/hookguard/internal/dedup"
	"github.com/mattjoyce/hookguard/internal/event"
	"github.com/mattjoyce/hookguard/internal/verify"
)

// Rejection kinds. A *Rejection unwraps to exactly one of these.
var (
	ErrTimestampOutOfRange = errors.New("timestamp out of range")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrDecryption          = verify.ErrDecryption
	ErrTokenMismatch       = errors.New("verification token mismatch")
	ErrReplayedNonce       = errors.New("replayed nonce")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrStoreUnavailable    = dedup.ErrStoreUnavailable
	ErrCancelled           = errors.New("verification cancelled")
	ErrMalformedRequest    = errors.New("malformed request")
)

// Envelope is the decoded event handed to dispatch.
type Envelope = event.Envelope

// Stage is a point in a request's progress through the pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageTimestampChecked
	StageSignatureChecked
	StageDecrypted
	StageNonceChecked
	StageAdmitted
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageTimestampChecked:
		return "timestamp_checked"
	case StageSignatureChecked:
		return "signature_checked"
	case StageDecrypted:
		return "decrypted"
	case StageNonceChecked:
		return "nonce_checked"
	case StageAdmitted:
		return "admitted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Rejection reports where a request stopped. Stage is the last stage the
// request completed; Kind is one of the package's sentinel errors.
type Rejection struct {
	Stage Stage
	Kind  error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected after %s: %v", r.Stage, r.Kind)
}

func (r *Rejection) Unwrap() error { return r.Kind }

// Acknowledged reports whether the sender should see a success response.
// Replays and duplicates are legitimate redeliveries.
func (r *Rejection) Acknowledged() bool {
	return errors.Is(r.Kind, ErrReplayedNonce) || errors.Is(r.Kind, ErrDuplicateEvent)
}

// Request is one inbound push as received by the HTTP layer.
type Request struct {
	Timestamp string
	Nonce     string
	Signature string
	// Body is the raw request body the sender signed. When empty the
	// signature is checked over Encrypt.
	Body    string
	Encrypt string

	// Plaintext handshake fields, set only when the body carried no
	// ciphertext.
	Type      string
	Token     string
	Challenge string
}

func (r Request) signed() string {
	if r.Body != "" {
		return r.Body
	}
	return r.Encrypt
}

// ResultKind distinguishes an admitted event from an answered handshake.
type ResultKind int

const (
	ResultEvent ResultKind = iota + 1
	ResultChallenge
)

// Result is the outcome of a successful Verify.
type Result struct {
	Kind      ResultKind
	Envelope  Envelope
	Challenge string
	// StoreDegraded is set when a guard failed and the open failure policy
	// let the request through unchecked.
	StoreDegraded bool
}

// FailurePolicy chooses what happens when the dedup store is unavailable.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

// ParseFailurePolicy accepts "closed", "open", or empty (closed).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want closed or open)", s)
	}
}
