package verify

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mattjoyce/hookguard/internal/event"
)

// ErrDecryption covers every failure between ciphertext and a decoded
// message: encoding, block size, padding, and structure. Callers cannot tell
// which step failed.
var ErrDecryption = errors.New("payload decryption failed")

// Cipher decrypts platform payloads: AES-256-CBC, key = SHA-256(encryptKey),
// wire form base64(IV || ciphertext) with PKCS#7 padding.
type Cipher struct {
	block cipher.Block
}

// NewCipher derives the AES key from encryptKey.
func NewCipher(encryptKey string) (*Cipher, error) {
	if encryptKey == "" {
		return nil, fmt.Errorf("encrypt key is empty")
	}
	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Decrypt returns the plaintext for a base64 ciphertext.
func (c *Cipher) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, ErrDecryption
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, ErrDecryption
	}

	iv := raw[:aes.BlockSize]
	out := make([]byte, len(raw)-aes.BlockSize)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, raw[aes.BlockSize:])

	plain, ok := unpad(out)
	if !ok {
		return nil, ErrDecryption
	}
	return plain, nil
}

// Encrypt produces the wire form for plaintext with a random IV.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	padded := pad(plaintext)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts and decodes ciphertext in one failure domain.
func (c *Cipher) Open(ciphertext string) (event.Message, error) {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return event.Message{}, ErrDecryption
	}
	msg, err := event.Parse(plain)
	if err != nil {
		return event.Message{}, ErrDecryption
	}
	return msg, nil
}

// DecryptEnvelope decrypts ciphertext with encryptKey and decodes the event
// envelope. Handshake messages carry no event and are rejected here.
func DecryptEnvelope(ciphertext, encryptKey string) (event.Envelope, error) {
	c, err := NewCipher(encryptKey)
	if err != nil {
		return event.Envelope{}, ErrDecryption
	}
	msg, err := c.Open(ciphertext)
	if err != nil || msg.IsChallenge() {
		return event.Envelope{}, ErrDecryption
	}
	return msg.Envelope, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding, checking every pad byte.
func unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	var bad byte
	for _, v := range b[len(b)-n:] {
		bad |= v ^ byte(n)
	}
	if bad != 0 {
		return nil, false
	}
	return b[:len(b)-n], true
}
