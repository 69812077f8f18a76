package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySet holds the derived key material for the integrity engine. The
// encryption key and the lookup-hash salt are derived from the same
// master secret via HKDF with distinct info strings, which keeps them
// cryptographically independent: rotating the encryption key (new
// master) must not change lookup hashes, so the salt is derived from
// its own configured secret, never from the encryption master.
type KeySet struct {
	EncryptionKey []byte
	LookupSalt    []byte
}

// DeriveKeySet expands the configured secrets into working key material.
func DeriveKeySet(encryptionMaster, lookupSaltSecret []byte) (*KeySet, error) {
	encKey, err := deriveKey(encryptionMaster, "voteguard/pii-encryption", KeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	salt, err := deriveKey(lookupSaltSecret, "voteguard/lookup-salt", KeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive lookup salt: %w", err)
	}
	return &KeySet{EncryptionKey: encKey, LookupSalt: salt}, nil
}

func deriveKey(secret []byte, info string, length int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}
