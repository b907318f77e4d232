package verify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// digest computes SHA-256 over timestamp + nonce + encryptKey + body, the
// order the platform signs in.
func digest(timestamp, nonce, encryptKey, body string) []byte {
	h := sha256.New()
	h.Write([]byte(timestamp))
	h.Write([]byte(nonce))
	h.Write([]byte(encryptKey))
	h.Write([]byte(body))
	return h.Sum(nil)
}

// Sign returns the lowercase hex signature the platform would send for the
// given request parts.
func Sign(timestamp, nonce, encryptKey, body string) string {
	return hex.EncodeToString(digest(timestamp, nonce, encryptKey, body))
}

// VerifySignature recomputes the request digest and compares it with
// signature in constant time. Malformed or empty input is simply not verified.
func VerifySignature(timestamp, nonce, body, signature, encryptKey string) bool {
	if encryptKey == "" || signature == "" {
		return false
	}

	actual, err := parseSignature(signature)
	if err != nil || len(actual) != sha256.Size {
		return false
	}

	expected := digest(timestamp, nonce, encryptKey, body)
	return subtle.ConstantTimeCompare(expected, actual) == 1
}

var errSignatureFormat = errors.New("unrecognised signature encoding")

// parseSignature decodes the signature header.
//
// Supported formats:
//   - "sha256=<hex>"
//   - "<hex>"
//   - "<base64>" (standard alphabet, padded)
func parseSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")

	if len(signature) == hex.EncodedLen(sha256.Size) {
		if b, err := hex.DecodeString(signature); err == nil {
			return b, nil
		}
		return nil, errSignatureFormat
	}
	if len(signature) == base64.StdEncoding.EncodedLen(sha256.Size) {
		if b, err := base64.StdEncoding.DecodeString(signature); err == nil {
			return b, nil
		}
	}
	return nil, errSignatureFormat
}

// Signer binds an encrypt key for repeated verification.
type Signer struct {
	encryptKey string
}

// NewSigner returns a Signer for encryptKey.
func NewSigner(encryptKey string) *Signer {
	return &Signer{encryptKey: encryptKey}
}

// Verify reports whether signature matches the request parts.
func (s *Signer) Verify(timestamp, nonce, body, signature string) bool {
	return VerifySignature(timestamp, nonce, body, signature, s.encryptKey)
}

// Sign computes the signature for the request parts.
func (s *Signer) Sign(timestamp, nonce, body string) string {
	return Sign(timestamp, nonce, s.encryptKey, body)
}
