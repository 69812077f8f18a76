package models

import "time"

// AttemptState is the challenge escalation state machine position for
// one vote attempt. Blocked is terminal; Committed is terminal.
type AttemptState string

const (
	StateAssessed           AttemptState = "assessed"
	StateChallengePending   AttemptState = "challenge_pending"
	StateChallengeSatisfied AttemptState = "challenge_satisfied"
	StateChallengeFailed    AttemptState = "challenge_failed"
	StateCommitted          AttemptState = "committed"
	StateBlocked            AttemptState = "blocked"
)

// ChallengeSession is the serializable state machine record for a vote
// attempt. It lives in the TTL store so the machine survives the
// request/response boundary; the client holds only the signed attempt
// token referencing it.
type ChallengeSession struct {
	AttemptID        string       `json:"attempt_id"`
	PollID           string       `json:"poll_id"`
	IdentityHash     string       `json:"identity_hash"`
	IPHash           string       `json:"ip_hash"`
	State            AttemptState `json:"state"`
	PendingChallenge Challenge    `json:"pending_challenge"`
	// OTPCounter seeds HOTP code generation for sms/email challenges.
	// A fresh random counter per session keeps codes single-use.
	OTPCounter     uint64 `json:"otp_counter,omitempty"`
	FailedAttempts int    `json:"failed_attempts"`
	// SatisfiedChallenge records the hardest challenge actually passed.
	// Re-assessment compares fresh verdicts against it: a verdict harder
	// than what was satisfied reopens the challenge.
	SatisfiedChallenge Challenge `json:"satisfied_challenge,omitempty"`
	// BlockReason records why the session entered the blocked state.
	BlockReason string    `json:"block_reason,omitempty"`
	RiskScore   Score     `json:"risk_score"`
	CreatedAt   time.Time `json:"created_at"`
	// RetriesRemaining is derived for the caller on a failed response;
	// it is never persisted.
	RetriesRemaining int `json:"-"`
}

// Terminal reports whether the session can make no further transition.
func (s *ChallengeSession) Terminal() bool {
	return s.State == StateCommitted || s.State == StateBlocked
}

// challengeRank orders challenges by severity so a re-assessment after
// a satisfied challenge can only hold or escalate, never relax.
var challengeRank = map[Challenge]int{
	ChallengeNone:        0,
	ChallengeCaptcha:     1,
	ChallengeSMSVerify:   2,
	ChallengeEmailVerify: 2,
	ChallengeBlock:       3,
}

// Harder reports whether a is a strictly harder challenge than b.
func Harder(a, b Challenge) bool {
	return challengeRank[a] > challengeRank[b]
}
