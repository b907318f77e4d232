package dedup

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// maxIDLen bounds the identifier part of a backend key. Longer identifiers
// are replaced by their BLAKE3 digest.
const maxIDLen = 128

// Keyspace namespaces backend keys so several deployments, or the two guards,
// can share one store.
type Keyspace struct {
	Prefix      string
	EventPrefix string
	NoncePrefix string
}

// DefaultKeyspace returns the prefixes used when none are configured.
func DefaultKeyspace() Keyspace {
	return Keyspace{Prefix: "hookguard", EventPrefix: "event", NoncePrefix: "nonce"}
}

// EventKey returns the backend key for an event identifier.
func (k Keyspace) EventKey(eventID string) string {
	return k.join(k.EventPrefix, eventID)
}

// NonceKey returns the backend key for a request nonce.
func (k Keyspace) NonceKey(nonce string) string {
	return k.join(k.NoncePrefix, nonce)
}

func (k Keyspace) join(kind, id string) string {
	if len(id) > maxIDLen {
		sum := blake3.Sum256([]byte(id))
		id = "b3-" + hex.EncodeToString(sum[:])
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{k.Prefix, kind} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, id)
	return strings.Join(parts, ":")
}
