// Package verify holds the stateless checks applied to every inbound push:
// the timestamp skew gate, the SHA-256 request signature, and AES-256-CBC
// payload decryption.
//
// # Signature
//
//	signature = hex(sha256(timestamp + nonce + encrypt_key + body))
//
// compared with crypto/subtle so a mismatch leaks no prefix length.
//
// # Encryption
//
//	key        = sha256(encrypt_key)
//	ciphertext = base64(iv[16] || aes_cbc(key, iv, pkcs7(plaintext)))
//
// Every decryption or decoding failure is reported as ErrDecryption.
package verify
