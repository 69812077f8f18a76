package models

import "github.com/golang-jwt/jwt/v5"

// AttemptClaims binds an attempt token to one assessed vote attempt.
// The token carries no identity material, only the opaque attempt id
// and the poll it was assessed for.
type AttemptClaims struct {
	AttemptID string `json:"attempt_id"`
	PollID    string `json:"poll_id"`
	jwt.RegisteredClaims
}
