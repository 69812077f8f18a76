package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsepoll/voteguard/internal/models"
)

// AttemptTokenManager signs and validates the short-lived tokens that
// tie the assess, challenge and commit calls of one vote attempt
// together. The challenge session itself lives in the TTL store; the
// token only proves the caller holds the attempt id it was issued.
type AttemptTokenManager struct {
	secret []byte
	expiry time.Duration
}

func NewAttemptTokenManager(secret string, expiry time.Duration) *AttemptTokenManager {
	return &AttemptTokenManager{
		secret: []byte(secret),
		expiry: expiry,
	}
}

// Generate issues a token for an assessed attempt.
func (tm *AttemptTokenManager) Generate(attemptID, pollID string) (string, error) {
	now := time.Now()
	claims := &models.AttemptClaims{
		AttemptID: attemptID,
		PollID:    pollID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign attempt token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns its claims. Expired, malformed
// or wrongly-signed tokens all surface as ErrChallengeExpired so the
// caller restarts the attempt at assessment.
func (tm *AttemptTokenManager) Validate(tokenString string) (*models.AttemptClaims, error) {
	claims := &models.AttemptClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrChallengeExpired
	}

	if claims.AttemptID == "" || claims.PollID == "" {
		return nil, models.ErrChallengeExpired
	}
	return claims, nil
}
