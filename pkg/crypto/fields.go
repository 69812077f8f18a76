package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const KeyLength = 32 // AES-256

// ErrDecryption is returned on AEAD tag mismatch: tampered ciphertext
// or a wrong key. Callers must treat it as a data-integrity fault and
// surface it, never guess at the plaintext.
var ErrDecryption = errors.New("decryption failed: authentication tag mismatch")

// EncryptField seals a PII value into an envelope of the form
// nonce || ciphertext || tag. The nonce is random per call, so
// encrypting the same plaintext twice yields different envelopes.
func EncryptField(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptField opens an envelope produced by EncryptField.
func DecryptField(envelope []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(envelope) < ns+gcm.Overhead() {
		return nil, ErrDecryption
	}
	plaintext, err := gcm.Open(nil, envelope[:ns], envelope[ns:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// RotateEnvelope re-encrypts an envelope under a new key. The lookup
// hash for the field is untouched: hash derivation uses a salt
// independent of the encryption key.
func RotateEnvelope(envelope []byte, oldKey, newKey []byte) ([]byte, error) {
	plaintext, err := DecryptField(envelope, oldKey)
	if err != nil {
		return nil, err
	}
	return EncryptField(plaintext, newKey)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
