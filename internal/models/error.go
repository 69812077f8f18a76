package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Integrity pipeline errors
	ErrStoreUnavailable  = errors.New("integrity store unavailable")
	ErrDuplicateVote     = errors.New("duplicate vote for this poll")
	ErrChallengeRequired = errors.New("challenge must be satisfied before commit")
	ErrChallengeFailed   = errors.New("challenge verification failed")
	ErrChallengeExpired  = errors.New("challenge session expired")
	ErrAttemptBlocked    = errors.New("vote attempt blocked")

	// Data errors
	ErrDecryptionFailed = errors.New("field decryption failed")
	ErrPollClosed       = errors.New("poll is not open for voting")
)
