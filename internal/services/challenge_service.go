package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/pulsepoll/voteguard/internal/auth"
	"github.com/pulsepoll/voteguard/internal/config"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/store"
)

// CaptchaVerifier checks a captcha response token with the captcha
// backend.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// CodeSender delivers a one-time code out of band. Implementations wrap
// the SMS or email provider; the development sender only logs that a
// code was issued.
type CodeSender interface {
	SendCode(ctx context.Context, channel models.Challenge, accountID, code string) error
}

// ChallengeService runs the challenge escalation state machine. The
// session record lives in the TTL store under the attempt id; expiry of
// that record is what expires an unfinished attempt.
type ChallengeService struct {
	store   store.TTLStore
	otp     *auth.OTPManager
	captcha CaptchaVerifier
	sender  CodeSender
	timing  *auth.TimingDelay
	config  config.IntegrityConfig
	logger  *slog.Logger
}

func NewChallengeService(
	ttlStore store.TTLStore,
	otp *auth.OTPManager,
	captcha CaptchaVerifier,
	sender CodeSender,
	timing *auth.TimingDelay,
	cfg config.IntegrityConfig,
	logger *slog.Logger,
) *ChallengeService {
	return &ChallengeService{
		store:   ttlStore,
		otp:     otp,
		captcha: captcha,
		sender:  sender,
		timing:  timing,
		config:  cfg,
		logger:  logger,
	}
}

func sessionKey(attemptID string) string {
	return "attempt:" + attemptID
}

// CreateSession persists a fresh session for an assessed attempt and
// seeds its HOTP counter.
func (s *ChallengeService) CreateSession(ctx context.Context, session *models.ChallengeSession) error {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return err
	}
	session.OTPCounter = binary.BigEndian.Uint64(seed[:])
	session.CreatedAt = time.Now().UTC()

	return s.store.SetJSON(ctx, sessionKey(session.AttemptID), session, s.config.ChallengeSessionTTL)
}

// GetSession loads a session. An absent or expired record surfaces as
// ErrChallengeExpired: the voter restarts at assessment.
func (s *ChallengeService) GetSession(ctx context.Context, attemptID string) (*models.ChallengeSession, error) {
	var session models.ChallengeSession
	err := s.store.GetJSON(ctx, sessionKey(attemptID), &session)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrChallengeExpired
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *ChallengeService) saveSession(ctx context.Context, session *models.ChallengeSession) error {
	return s.store.SetJSON(ctx, sessionKey(session.AttemptID), session, s.config.ChallengeSessionTTL)
}

// IssueChallenge sends the pending challenge's code where one is
// needed. Captcha challenges have nothing to deliver.
func (s *ChallengeService) IssueChallenge(ctx context.Context, session *models.ChallengeSession, accountID string) error {
	switch session.PendingChallenge {
	case models.ChallengeSMSVerify, models.ChallengeEmailVerify:
		code, err := s.otp.GenerateCode(session.AttemptID, session.OTPCounter)
		if err != nil {
			return err
		}
		return s.sender.SendCode(ctx, session.PendingChallenge, accountID, code)
	default:
		return nil
	}
}

// ResendCode invalidates the previous code by advancing the HOTP
// counter, then delivers a new one.
func (s *ChallengeService) ResendCode(ctx context.Context, attemptID, accountID string) error {
	session, err := s.GetSession(ctx, attemptID)
	if err != nil {
		return err
	}
	if session.State != models.StateChallengePending && session.State != models.StateChallengeFailed {
		return models.ErrBadRequest
	}
	switch session.PendingChallenge {
	case models.ChallengeSMSVerify, models.ChallengeEmailVerify:
	default:
		return models.ErrBadRequest
	}

	session.OTPCounter++
	if err := s.saveSession(ctx, session); err != nil {
		return err
	}
	return s.IssueChallenge(ctx, session, accountID)
}

// Complete validates a challenge response and advances the state
// machine. Transitions:
//
//	challenge_pending -> challenge_satisfied  on a correct response
//	challenge_pending -> challenge_failed     on a wrong response with retries left
//	challenge_failed  -> blocked              when the retry budget is exhausted
//
// challenge_failed accepts further responses like challenge_pending;
// it exists so callers can tell a failed attempt from a fresh one.
// Validation latency is equalized so response correctness is not
// observable from timing.
func (s *ChallengeService) Complete(ctx context.Context, attemptID string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
	started := time.Now()

	session, err := s.GetSession(ctx, attemptID)
	if err != nil {
		s.timing.WaitFrom(started, false)
		return nil, err
	}

	switch session.State {
	case models.StateBlocked:
		s.timing.WaitFrom(started, false)
		return session, models.ErrAttemptBlocked
	case models.StateCommitted:
		s.timing.WaitFrom(started, false)
		return session, models.ErrConflict
	case models.StateChallengeSatisfied:
		// Idempotent: re-submitting after satisfaction is harmless.
		s.timing.WaitFrom(started, true)
		return session, nil
	case models.StateChallengePending, models.StateChallengeFailed:
	default:
		s.timing.WaitFrom(started, false)
		return session, models.ErrBadRequest
	}

	if challengeType != session.PendingChallenge {
		s.timing.WaitFrom(started, false)
		return session, models.ErrBadRequest
	}

	ok, err := s.validate(ctx, session, response)
	if err != nil {
		s.timing.WaitFrom(started, false)
		return session, err
	}

	if ok {
		session.State = models.StateChallengeSatisfied
		session.SatisfiedChallenge = session.PendingChallenge
		if err := s.saveSession(ctx, session); err != nil {
			s.timing.WaitFrom(started, false)
			return session, err
		}
		s.logger.Info("challenge satisfied",
			slog.String("attempt_id", session.AttemptID),
			slog.String("challenge", string(session.PendingChallenge)))
		s.timing.WaitFrom(started, true)
		return session, nil
	}

	session.FailedAttempts++
	if session.FailedAttempts >= s.config.ChallengeMaxRetries {
		session.State = models.StateBlocked
		session.BlockReason = models.BlockReasonChallengeExhausted
		if err := s.saveSession(ctx, session); err != nil {
			s.timing.WaitFrom(started, false)
			return session, err
		}
		s.logger.Warn("challenge retries exhausted",
			slog.String("attempt_id", session.AttemptID),
			slog.Int("failed_attempts", session.FailedAttempts))
		s.timing.WaitFrom(started, false)
		return session, models.ErrAttemptBlocked
	}

	session.State = models.StateChallengeFailed
	if err := s.saveSession(ctx, session); err != nil {
		s.timing.WaitFrom(started, false)
		return session, err
	}
	session.RetriesRemaining = s.config.ChallengeMaxRetries - session.FailedAttempts
	s.timing.WaitFrom(started, false)
	return session, models.ErrChallengeFailed
}

func (s *ChallengeService) validate(ctx context.Context, session *models.ChallengeSession, response string) (bool, error) {
	switch session.PendingChallenge {
	case models.ChallengeCaptcha:
		return s.captcha.Verify(ctx, response)
	case models.ChallengeSMSVerify, models.ChallengeEmailVerify:
		return s.otp.ValidateCode(session.AttemptID, session.OTPCounter, response), nil
	default:
		return false, models.ErrBadRequest
	}
}

// Escalate reconciles a session's pending challenge with a fresh
// assessment. The pending challenge can only hold or get harder; a
// friendlier re-assessment never relaxes an already-issued challenge.
func Escalate(session *models.ChallengeSession, required models.Challenge) models.Challenge {
	if models.Harder(required, session.PendingChallenge) {
		return required
	}
	return session.PendingChallenge
}
