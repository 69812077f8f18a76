package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// LookupHashIterations is the PBKDF2 work factor for lookup hashes.
	// Slow on purpose: lookup hashes are the offline-enumeration target.
	LookupHashIterations = 10000
	lookupHashLen        = 32
)

// HashIdentifier computes the deterministic identity-proxy hash used
// for IP and composite fingerprint keys in the TTL store. The secret is
// validated once at startup; an empty secret here is a programming
// error, not a recoverable condition.
func HashIdentifier(raw, secret string) string {
	sum := sha256.Sum256([]byte(raw + ":" + secret))
	return hex.EncodeToString(sum[:])
}

// ComputeLookupHash derives the deterministic equality-search hash for
// a normalized PII value. The salt is fixed application configuration,
// independent of the encryption key, so key rotation leaves every
// stored lookup hash valid.
func ComputeLookupHash(normalized string, salt []byte) string {
	key := pbkdf2.Key([]byte(normalized), salt, LookupHashIterations, lookupHashLen, sha256.New)
	return hex.EncodeToString(key)
}

// NormalizeEmail lower-cases and trims an email address so case
// variants of the same address produce the same lookup hash.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var phoneStrip = regexp.MustCompile(`[\s\-().]`)

// NormalizePhone reduces a phone number to E.164-ish form: digits with
// a single leading plus. It does not validate country codes; the
// account service owns that.
func NormalizePhone(phone string) string {
	p := phoneStrip.ReplaceAllString(strings.TrimSpace(phone), "")
	if strings.HasPrefix(p, "00") {
		p = "+" + p[2:]
	}
	return p
}
