package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pulsepoll/voteguard/internal/auth"
	"github.com/pulsepoll/voteguard/internal/config"
	"github.com/pulsepoll/voteguard/internal/ipintel"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/pkg/logger"
)

// PollWindowReader resolves poll voting windows.
type PollWindowReader interface {
	GetPollWindow(ctx context.Context, pollID string) (*models.PollWindow, error)
}

// TallyWriter persists aggregate tallies.
type TallyWriter interface {
	IncrementTally(ctx context.Context, pollID, choice string) error
}

// VerificationReader resolves account verification state.
type VerificationReader interface {
	VerificationState(ctx context.Context, accountID string) (*models.VerificationState, error)
}

// AssessRequest is one vote attempt presented for assessment.
type AssessRequest struct {
	PollID      string
	AccountID   string
	ClientIP    string
	Fingerprint *models.DeviceFingerprint
	Behavior    *models.BehavioralSignals
	// AttemptToken carries a previous assessment of the same attempt,
	// if any. Re-assessment can hold or escalate the pending challenge,
	// never relax it.
	AttemptToken string
}

// AssessResult is the outcome returned to the voting frontend.
type AssessResult struct {
	Assessment   *models.RiskAssessment
	AttemptToken string
	AttemptID    string
}

// CommitRequest finalizes an assessed attempt.
type CommitRequest struct {
	PollID       string
	Choice       string
	AttemptToken string
}

// VoteService orchestrates the assess, challenge and commit phases of
// one vote attempt.
type VoteService struct {
	risk       *RiskService
	dedup      *DedupService
	challenges *ChallengeService
	accounts   VerificationReader
	polls      PollWindowReader
	tallies    TallyWriter
	intel      ipintel.Service
	tokens     *auth.AttemptTokenManager
	audit      *logger.AuditLogger
	config     config.IntegrityConfig
	logger     *slog.Logger
}

func NewVoteService(
	risk *RiskService,
	dedup *DedupService,
	challenges *ChallengeService,
	accounts VerificationReader,
	polls PollWindowReader,
	tallies TallyWriter,
	intel ipintel.Service,
	tokens *auth.AttemptTokenManager,
	audit *logger.AuditLogger,
	cfg config.IntegrityConfig,
	log *slog.Logger,
) *VoteService {
	return &VoteService{
		risk:       risk,
		dedup:      dedup,
		challenges: challenges,
		accounts:   accounts,
		polls:      polls,
		tallies:    tallies,
		intel:      intel,
		tokens:     tokens,
		audit:      audit,
		config:     cfg,
		logger:     log,
	}
}

// AssessVote runs the full assessment pipeline for one attempt and, for
// non-blocked attempts, opens a challenge session bound to a signed
// attempt token.
func (s *VoteService) AssessVote(ctx context.Context, req AssessRequest) (*AssessResult, error) {
	// The deadline bounds signal gathering only; session persistence
	// and code delivery below run on the caller's context.
	assessCtx, cancel := context.WithTimeout(ctx, s.config.AssessTimeout)
	defer cancel()

	window, err := s.polls.GetPollWindow(assessCtx, req.PollID)
	if err != nil {
		return nil, err
	}
	if !window.OpenAt(time.Now()) {
		return nil, models.ErrPollClosed
	}

	identityHash := s.dedup.Identity(req.AccountID, req.Fingerprint, req.ClientIP)
	ipHash := s.dedup.IPHash(req.ClientIP)

	input := AssessmentInput{
		Fingerprint:     req.Fingerprint,
		Behavior:        req.Behavior,
		ReputationFlags: s.dedup.ReputationFlags(assessCtx, identityHash),
	}

	// Probe failures feed the hard gates instead of aborting: the
	// engine turns an unavailable store into a block verdict.
	input.RateProbe, _ = s.dedup.RecordAttempt(assessCtx, ipHash)
	input.DedupProbe, _ = s.dedup.ProbeDuplicate(assessCtx, req.PollID, identityHash)

	input.Verification, err = s.accounts.VerificationState(assessCtx, req.AccountID)
	if err != nil {
		return nil, err
	}

	input.IPIntel, err = s.intel.Lookup(assessCtx, req.ClientIP)
	if err != nil {
		input.IPLookupFailed = true
	}

	assessment := s.risk.Assess(input)

	result := &AssessResult{Assessment: assessment}

	if assessment.RequiredChallenge == models.ChallengeBlock {
		s.blockExisting(ctx, req, assessment)
		s.audit.LogAssessment(logger.AuditEvent{
			PollID:       req.PollID,
			IdentityHash: identityHash,
			RiskScore:    float64(assessment.RiskScore),
			RiskLevel:    string(assessment.RiskLevel),
			Challenge:    string(assessment.RequiredChallenge),
			Allowed:      assessment.AllowVote,
			BlockReason:  assessment.BlockReason,
		})
		return result, nil
	}

	session, err := s.openSession(ctx, req, assessment, identityHash, ipHash)
	if err != nil {
		return nil, err
	}
	// Re-assessment may have kept an earlier, harder challenge.
	assessment.RequiredChallenge = session.PendingChallenge

	token, err := s.tokens.Generate(session.AttemptID, req.PollID)
	if err != nil {
		return nil, err
	}
	result.AttemptToken = token
	result.AttemptID = session.AttemptID

	if err := s.challenges.IssueChallenge(ctx, session, req.AccountID); err != nil {
		s.logger.Error("failed to issue challenge",
			slog.String("attempt_id", session.AttemptID),
			slog.Any("error", err))
	}

	s.audit.LogAssessment(logger.AuditEvent{
		PollID:       req.PollID,
		AttemptID:    session.AttemptID,
		IdentityHash: identityHash,
		RiskScore:    float64(assessment.RiskScore),
		RiskLevel:    string(assessment.RiskLevel),
		Challenge:    string(assessment.RequiredChallenge),
		Allowed:      assessment.AllowVote,
	})
	return result, nil
}

// openSession creates the session for a fresh attempt, or reconciles an
// existing one when the request carried a valid attempt token.
func (s *VoteService) openSession(ctx context.Context, req AssessRequest, assessment *models.RiskAssessment, identityHash, ipHash string) (*models.ChallengeSession, error) {
	if req.AttemptToken != "" {
		if claims, err := s.tokens.Validate(req.AttemptToken); err == nil && claims.PollID == req.PollID {
			existing, err := s.challenges.GetSession(ctx, claims.AttemptID)
			if err == nil && !existing.Terminal() {
				existing.PendingChallenge = Escalate(existing, assessment.RequiredChallenge)
				existing.RiskScore = assessment.RiskScore
				switch existing.State {
				case models.StateAssessed:
					if existing.PendingChallenge != models.ChallengeNone {
						existing.State = models.StateChallengePending
					}
				case models.StateChallengeSatisfied:
					// A verdict harder than the challenge already passed
					// reopens the session: a satisfied captcha does not
					// cover an escalation to sms_verify.
					if models.Harder(existing.PendingChallenge, existing.SatisfiedChallenge) {
						existing.State = models.StateChallengePending
					}
				}
				if err := s.challenges.saveSession(ctx, existing); err != nil {
					return nil, err
				}
				return existing, nil
			}
		}
	}

	session := &models.ChallengeSession{
		AttemptID:        uuid.New().String(),
		PollID:           req.PollID,
		IdentityHash:     identityHash,
		IPHash:           ipHash,
		State:            models.StateChallengePending,
		PendingChallenge: assessment.RequiredChallenge,
		RiskScore:        assessment.RiskScore,
	}
	if assessment.RequiredChallenge == models.ChallengeNone {
		session.State = models.StateAssessed
	}
	if err := s.challenges.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// blockExisting closes the open session behind a re-assessed attempt
// whose fresh verdict is a block. Without this, a session satisfied
// before the block verdict would stay committable.
func (s *VoteService) blockExisting(ctx context.Context, req AssessRequest, assessment *models.RiskAssessment) {
	if req.AttemptToken == "" {
		return
	}
	claims, err := s.tokens.Validate(req.AttemptToken)
	if err != nil || claims.PollID != req.PollID {
		return
	}
	session, err := s.challenges.GetSession(ctx, claims.AttemptID)
	if err != nil || session.Terminal() {
		return
	}

	session.State = models.StateBlocked
	session.BlockReason = assessment.BlockReason
	if err := s.challenges.saveSession(ctx, session); err != nil {
		s.logger.Error("failed to block reassessed session",
			slog.String("attempt_id", session.AttemptID),
			slog.Any("error", err))
	}
}

// CompleteChallenge validates a challenge response for the attempt the
// token was issued for.
func (s *VoteService) CompleteChallenge(ctx context.Context, attemptToken string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
	claims, err := s.tokens.Validate(attemptToken)
	if err != nil {
		return nil, err
	}

	session, err := s.challenges.Complete(ctx, claims.AttemptID, challengeType, response)
	if errors.Is(err, models.ErrAttemptBlocked) && session != nil {
		// Exhausting the retry budget marks the identity for future
		// assessments.
		s.dedup.FlagIdentity(ctx, session.IdentityHash)
	}
	return session, err
}

// ResendChallengeCode re-delivers the pending code for an attempt.
func (s *VoteService) ResendChallengeCode(ctx context.Context, attemptToken, accountID string) error {
	claims, err := s.tokens.Validate(attemptToken)
	if err != nil {
		return err
	}
	return s.challenges.ResendCode(ctx, claims.AttemptID, accountID)
}

// CommitVote finalizes an attempt: claim the dedup marker, then write
// the tally. The two stores cannot share a transaction, so the marker
// claim is compensated with a delete if the tally write fails.
func (s *VoteService) CommitVote(ctx context.Context, req CommitRequest) error {
	claims, err := s.tokens.Validate(req.AttemptToken)
	if err != nil {
		return err
	}
	if claims.PollID != req.PollID {
		return models.ErrBadRequest
	}

	session, err := s.challenges.GetSession(ctx, claims.AttemptID)
	if err != nil {
		return err
	}

	switch session.State {
	case models.StateBlocked:
		s.audit.LogCommit(logger.AuditEvent{
			PollID:       req.PollID,
			AttemptID:    session.AttemptID,
			IdentityHash: session.IdentityHash,
			Allowed:      false,
			BlockReason:  session.BlockReason,
		})
		return models.ErrAttemptBlocked
	case models.StateCommitted:
		return models.ErrConflict
	case models.StateChallengePending, models.StateChallengeFailed:
		return models.ErrChallengeRequired
	case models.StateAssessed, models.StateChallengeSatisfied:
	default:
		return models.ErrBadRequest
	}

	window, err := s.polls.GetPollWindow(ctx, req.PollID)
	if err != nil {
		return err
	}
	now := time.Now()
	if !window.OpenAt(now) {
		return models.ErrPollClosed
	}

	// First-vote-wins: the atomic marker claim is the final dedup gate,
	// closing the race two concurrent commits of the same identity
	// would otherwise win together.
	if err := s.dedup.CommitMarker(ctx, req.PollID, session.IdentityHash, window, now); err != nil {
		s.audit.LogCommit(logger.AuditEvent{
			PollID:       req.PollID,
			AttemptID:    session.AttemptID,
			IdentityHash: session.IdentityHash,
			Allowed:      false,
			BlockReason:  err.Error(),
		})
		return err
	}

	if err := s.tallies.IncrementTally(ctx, req.PollID, req.Choice); err != nil {
		s.dedup.ReleaseMarker(ctx, req.PollID, session.IdentityHash)
		s.audit.LogCommit(logger.AuditEvent{
			PollID:       req.PollID,
			AttemptID:    session.AttemptID,
			IdentityHash: session.IdentityHash,
			Allowed:      false,
			BlockReason:  "tally_write_failed",
		})
		return err
	}

	session.State = models.StateCommitted
	if err := s.challenges.saveSession(ctx, session); err != nil {
		// The vote is already counted; a stale session only risks a
		// duplicate-commit error on retry, which the marker now covers.
		s.logger.Warn("failed to mark session committed",
			slog.String("attempt_id", session.AttemptID),
			slog.Any("error", err))
	}

	s.audit.LogCommit(logger.AuditEvent{
		PollID:       req.PollID,
		AttemptID:    session.AttemptID,
		IdentityHash: session.IdentityHash,
		Allowed:      true,
		Metadata:     map[string]string{"choice": req.Choice},
	})
	return nil
}
