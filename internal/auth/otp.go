package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// OTPManager issues and checks the one-time codes behind sms_verify and
// email_verify challenges. Codes are counter-based (HOTP): the counter
// lives in the challenge session, so a code is valid for exactly one
// delivery and re-sends invalidate the previous code.
type OTPManager struct {
	secret []byte
}

func NewOTPManager(secret string) *OTPManager {
	return &OTPManager{secret: []byte(secret)}
}

// secretFor derives the per-attempt HOTP secret. Keying on the attempt
// id means a code issued for one attempt never validates for another.
func (m *OTPManager) secretFor(attemptID string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte("otp:" + attemptID))
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(mac.Sum(nil))
}

var hotpOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateCode produces the six-digit code for the given attempt and
// counter, for out-of-band delivery.
func (m *OTPManager) GenerateCode(attemptID string, counter uint64) (string, error) {
	code, err := hotp.GenerateCodeCustom(m.secretFor(attemptID), counter, hotpOpts)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return code, nil
}

// ValidateCode checks a submitted code against the attempt's current
// counter.
func (m *OTPManager) ValidateCode(attemptID string, counter uint64, code string) bool {
	valid, err := hotp.ValidateCustom(code, counter, m.secretFor(attemptID), hotpOpts)
	return err == nil && valid
}
