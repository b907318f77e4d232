package pipeline

import (
	"context"

	"github.com/mattjoyce/hookguard/internal/event"
)

//go:generate mockgen -destination=mocks/mock_pipeline.go -package=mocks github.com/mattjoyce/hookguard/internal/pipeline SignatureVerifier,Decryptor,NonceChecker,EventAdmitter

// SignatureVerifier checks the request signature. *verify.Signer implements it.
type SignatureVerifier interface {
	Verify(timestamp, nonce, body, signature string) bool
}

// Decryptor turns ciphertext into a decoded message. *verify.Cipher implements it.
type Decryptor interface {
	Open(ciphertext string) (event.Message, error)
}

// NonceChecker is satisfied by *dedup.NonceGuard.
type NonceChecker interface {
	TryConsume(ctx context.Context, nonce string) (bool, error)
	Release(ctx context.Context, nonce string) error
}

// EventAdmitter is satisfied by *dedup.EventDeduplicator.
type EventAdmitter interface {
	TryAdmit(ctx context.Context, eventID string) (bool, error)
}
