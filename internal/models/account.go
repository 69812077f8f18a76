package models

import "time"

// VerificationState is the account service's view of an account,
// consumed by the risk engine. Absent account (anonymous voting) is
// represented by a nil *VerificationState.
type VerificationState struct {
	EmailVerified bool `json:"email_verified"`
	PhoneVerified bool `json:"phone_verified"`
}

// EncryptedField is one searchable-encrypted PII attribute: an AEAD
// envelope (nonce || ciphertext || tag) plus the deterministic lookup
// hash, which is the only value ever indexed for equality search.
type EncryptedField struct {
	Envelope   []byte `json:"-"`
	LookupHash string `json:"-"`
}

// Account is the stored account record. Email and phone exist only as
// encrypted fields; plaintext PII never touches a column or an index.
type Account struct {
	ID            string
	Email         EncryptedField
	Phone         EncryptedField
	EmailVerified bool
	PhoneVerified bool
	CountryCode   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Verification projects the account onto the risk engine's contract.
func (a *Account) Verification() *VerificationState {
	if a == nil {
		return nil
	}
	return &VerificationState{
		EmailVerified: a.EmailVerified,
		PhoneVerified: a.PhoneVerified,
	}
}
