package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepoll/voteguard/internal/auth"
	"github.com/pulsepoll/voteguard/internal/ipintel"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/services"
	"github.com/pulsepoll/voteguard/internal/store"
	"github.com/pulsepoll/voteguard/pkg/logger"
)

type mockPollRepository struct {
	windows map[string]*models.PollWindow
}

func (m *mockPollRepository) GetPollWindow(_ context.Context, pollID string) (*models.PollWindow, error) {
	window, ok := m.windows[pollID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return window, nil
}

type mockTallyRepository struct {
	calls   int
	choices []string
	failErr error
}

func (m *mockTallyRepository) IncrementTally(_ context.Context, pollID, choice string) error {
	m.calls++
	if m.failErr != nil {
		return m.failErr
	}
	m.choices = append(m.choices, choice)
	return nil
}

type mockVerificationReader struct {
	states map[string]*models.VerificationState
}

func (m *mockVerificationReader) VerificationState(_ context.Context, accountID string) (*models.VerificationState, error) {
	return m.states[accountID], nil
}

type stubIntelProvider struct {
	intel *ipintel.Intel
	err   error
}

func (p *stubIntelProvider) Lookup(context.Context, string) (*ipintel.Intel, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.intel, nil
}

type voteFixture struct {
	svc      *services.VoteService
	dedup    *services.DedupService
	polls    *mockPollRepository
	tallies  *mockTallyRepository
	accounts *mockVerificationReader
	intel    *stubIntelProvider
	sender   *captureSender
}

func newVoteFixture(t *testing.T) *voteFixture {
	t.Helper()

	cfg := testIntegrityConfig()
	cfg.RateLimitCap = 100
	cfg.ChallengeSessionTTL = 30 * time.Minute
	cfg.ChallengeMaxRetries = 3
	cfg.AssessTimeout = 250 * time.Millisecond
	cfg.AttemptTokenSecret = "unit-test-token-secret-value"
	cfg.AttemptTokenTTL = 15 * time.Minute

	ttlStore := store.NewMemoryStore()
	log := discardLogger()
	sender := &captureSender{}

	dedup := services.NewDedupService(ttlStore, cfg, log)
	challenges := services.NewChallengeService(
		ttlStore,
		auth.NewOTPManager("unit-test-otp-secret-value"),
		services.StubCaptchaVerifier{},
		sender,
		auth.NewTimingDelay(auth.TimingConfig{}),
		cfg,
		log,
	)

	polls := &mockPollRepository{windows: map[string]*models.PollWindow{
		"poll-1": {
			PollID:   "poll-1",
			OpensAt:  time.Now().Add(-time.Hour),
			ClosesAt: time.Now().Add(time.Hour),
		},
	}}
	tallies := &mockTallyRepository{}
	accounts := &mockVerificationReader{states: map[string]*models.VerificationState{
		"acct-verified": {EmailVerified: true, PhoneVerified: true},
		"acct-partial":  {EmailVerified: true},
	}}
	intel := &stubIntelProvider{intel: &ipintel.Intel{}}

	svc := services.NewVoteService(
		services.NewRiskService(models.DefaultBandThresholds(), services.DefaultRiskWeights()),
		dedup,
		challenges,
		accounts,
		polls,
		tallies,
		intel,
		auth.NewAttemptTokenManager(cfg.AttemptTokenSecret, cfg.AttemptTokenTTL),
		logger.NewAuditLogger(log),
		cfg,
		log,
	)

	return &voteFixture{
		svc:      svc,
		dedup:    dedup,
		polls:    polls,
		tallies:  tallies,
		accounts: accounts,
		intel:    intel,
		sender:   sender,
	}
}

func verifiedRequest(accountID, ip string) services.AssessRequest {
	return services.AssessRequest{
		PollID:      "poll-1",
		AccountID:   accountID,
		ClientIP:    ip,
		Fingerprint: cleanFingerprint(),
		Behavior:    humanBehavior(),
	}
}

func TestVoteService_VerifiedVoterAssessAndCommit(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, result.Assessment.RiskLevel)
	assert.Equal(t, models.ChallengeNone, result.Assessment.RequiredChallenge)
	assert.NotEmpty(t, result.AttemptToken)
	assert.NotEmpty(t, result.AttemptID)

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID:       "poll-1",
		Choice:       "option-a",
		AttemptToken: result.AttemptToken,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.tallies.calls)
	assert.Equal(t, []string{"option-a"}, f.tallies.choices)
}

func TestVoteService_SecondCommitOfSameAttemptConflicts(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)

	commit := services.CommitRequest{PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken}
	require.NoError(t, f.svc.CommitVote(ctx, commit))

	err = f.svc.CommitVote(ctx, commit)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 1, f.tallies.calls)
}

func TestVoteService_SameIdentityTalliesExactlyOnce(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	// Two attempts race: both assessed before either commits, so the
	// dedup probe passes for both and only the marker claim decides.
	first, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)
	second, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)

	require.NoError(t, f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: first.AttemptToken,
	}))

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-b", AttemptToken: second.AttemptToken,
	})
	assert.ErrorIs(t, err, models.ErrDuplicateVote)
	assert.Equal(t, 1, f.tallies.calls)
}

func TestVoteService_DuplicateSurfacesAtReassessment(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)
	require.NoError(t, f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken,
	}))

	// After a committed vote the marker exists, so a fresh assessment of
	// the same identity hard-blocks.
	result, err = f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)
	assert.False(t, result.Assessment.AllowVote)
	assert.Equal(t, models.BlockReasonDuplicateVote, result.Assessment.BlockReason)
	assert.Empty(t, result.AttemptToken)
}

func TestVoteService_TallyFailureReleasesMarker(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)

	commit := services.CommitRequest{PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken}

	f.tallies.failErr = errors.New("connection reset")
	err = f.svc.CommitVote(ctx, commit)
	require.Error(t, err)
	assert.Equal(t, 1, f.tallies.calls)

	// The compensating delete must leave the marker claimable so the
	// voter's retry is not a false duplicate.
	f.tallies.failErr = nil
	require.NoError(t, f.svc.CommitVote(ctx, commit))
	assert.Equal(t, 2, f.tallies.calls)
	assert.Equal(t, []string{"option-a"}, f.tallies.choices)
}

func TestVoteService_PendingChallengeBlocksCommit(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-partial", "203.0.113.7"))
	require.NoError(t, err)
	require.Equal(t, models.ChallengeCaptcha, result.Assessment.RequiredChallenge)

	commit := services.CommitRequest{PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken}
	err = f.svc.CommitVote(ctx, commit)
	assert.ErrorIs(t, err, models.ErrChallengeRequired)
	assert.Equal(t, 0, f.tallies.calls)

	_, err = f.svc.CompleteChallenge(ctx, result.AttemptToken, models.ChallengeCaptcha, "captcha-token")
	require.NoError(t, err)

	require.NoError(t, f.svc.CommitVote(ctx, commit))
	assert.Equal(t, 1, f.tallies.calls)
}

func TestVoteService_ExhaustedRetriesFlagIdentity(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	req := verifiedRequest("acct-partial", "203.0.113.7")
	result, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.CompleteChallenge(ctx, result.AttemptToken, models.ChallengeCaptcha, "")
		assert.ErrorIs(t, err, models.ErrChallengeFailed)
	}
	_, err = f.svc.CompleteChallenge(ctx, result.AttemptToken, models.ChallengeCaptcha, "")
	assert.ErrorIs(t, err, models.ErrAttemptBlocked)

	identityHash := f.dedup.Identity(req.AccountID, req.Fingerprint, req.ClientIP)
	assert.Equal(t, 1, f.dedup.ReputationFlags(ctx, identityHash))

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken,
	})
	assert.ErrorIs(t, err, models.ErrAttemptBlocked)
	assert.Equal(t, 0, f.tallies.calls)
}

func TestVoteService_ReassessmentNeverRelaxesChallenge(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	// First pass: account unverified, lands on sms_verify.
	req := verifiedRequest("acct-new", "203.0.113.7")
	first, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ChallengeSMSVerify, first.Assessment.RequiredChallenge)

	// The account verifies both channels and the client re-assesses with
	// the same attempt token. The fresh score would be low, but the
	// already-issued challenge holds.
	f.accounts.states["acct-new"] = &models.VerificationState{EmailVerified: true, PhoneVerified: true}
	req.AttemptToken = first.AttemptToken

	second, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, models.ChallengeSMSVerify, second.Assessment.RequiredChallenge)
}

func TestVoteService_SatisfiedChallengeDoesNotCoverEscalation(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	req := verifiedRequest("acct-partial", "203.0.113.7")
	first, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ChallengeCaptcha, first.Assessment.RequiredChallenge)

	_, err = f.svc.CompleteChallenge(ctx, first.AttemptToken, models.ChallengeCaptcha, "captcha-token")
	require.NoError(t, err)

	// Before the commit lands, the account's verification lapses and the
	// client re-assesses with the same attempt token. The fresh verdict
	// is sms_verify; the satisfied captcha must not cover it.
	delete(f.accounts.states, "acct-partial")
	req.AttemptToken = first.AttemptToken

	second, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	require.Equal(t, models.ChallengeSMSVerify, second.Assessment.RequiredChallenge)

	commit := services.CommitRequest{PollID: "poll-1", Choice: "option-a", AttemptToken: first.AttemptToken}
	err = f.svc.CommitVote(ctx, commit)
	assert.ErrorIs(t, err, models.ErrChallengeRequired)
	assert.Equal(t, 0, f.tallies.calls)

	// Passing the escalated challenge is what unblocks the commit.
	require.NotEmpty(t, f.sender.codes)
	_, err = f.svc.CompleteChallenge(ctx, first.AttemptToken, models.ChallengeSMSVerify, f.sender.lastCode())
	require.NoError(t, err)

	require.NoError(t, f.svc.CommitVote(ctx, commit))
	assert.Equal(t, 1, f.tallies.calls)
}

func TestVoteService_ReassessedBlockClosesOpenAttempt(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	req := verifiedRequest("acct-partial", "203.0.113.7")
	first, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.CompleteChallenge(ctx, first.AttemptToken, models.ChallengeCaptcha, "captcha-token")
	require.NoError(t, err)

	// Signals gathered after the captcha look like automation and the
	// account no longer resolves; the re-assessed verdict is a block.
	// The already-satisfied session must not stay committable.
	delete(f.accounts.states, "acct-partial")
	req.Behavior = &models.BehavioralSignals{PageLoadToVoteMs: 300, MouseMoves: 0}
	req.AttemptToken = first.AttemptToken

	second, err := f.svc.AssessVote(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ChallengeBlock, second.Assessment.RequiredChallenge)
	assert.Empty(t, second.AttemptToken)

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: first.AttemptToken,
	})
	assert.ErrorIs(t, err, models.ErrAttemptBlocked)
	assert.Equal(t, 0, f.tallies.calls)
}

func TestVoteService_ClosedPoll(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()
	f.polls.windows["poll-closed"] = &models.PollWindow{
		PollID:   "poll-closed",
		OpensAt:  time.Now().Add(-2 * time.Hour),
		ClosesAt: time.Now().Add(-time.Hour),
	}

	req := verifiedRequest("acct-verified", "203.0.113.7")
	req.PollID = "poll-closed"
	_, err := f.svc.AssessVote(ctx, req)
	assert.ErrorIs(t, err, models.ErrPollClosed)
}

func TestVoteService_PollClosesBetweenAssessAndCommit(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)

	f.polls.windows["poll-1"].ClosesAt = time.Now().Add(-time.Second)

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: result.AttemptToken,
	})
	assert.ErrorIs(t, err, models.ErrPollClosed)
	assert.Equal(t, 0, f.tallies.calls)
}

func TestVoteService_CommitRejectsForgedToken(t *testing.T) {
	f := newVoteFixture(t)

	err := f.svc.CommitVote(context.Background(), services.CommitRequest{
		PollID: "poll-1", Choice: "option-a", AttemptToken: "not-a-token",
	})
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
	assert.Equal(t, 0, f.tallies.calls)
}

func TestVoteService_CommitRejectsTokenForOtherPoll(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()
	f.polls.windows["poll-2"] = &models.PollWindow{
		PollID:   "poll-2",
		OpensAt:  time.Now().Add(-time.Hour),
		ClosesAt: time.Now().Add(time.Hour),
	}

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)

	err = f.svc.CommitVote(ctx, services.CommitRequest{
		PollID: "poll-2", Choice: "option-a", AttemptToken: result.AttemptToken,
	})
	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Equal(t, 0, f.tallies.calls)
}

func TestVoteService_IntelOutageElevatesButProceeds(t *testing.T) {
	f := newVoteFixture(t)
	f.intel.err = errors.New("provider timeout")
	ctx := context.Background()

	result, err := f.svc.AssessVote(ctx, verifiedRequest("acct-verified", "203.0.113.7"))
	require.NoError(t, err)
	assert.True(t, result.Assessment.AllowVote)

	found := false
	for _, factor := range result.Assessment.Factors {
		if factor.Name == "ip_intel_unavailable" {
			found = true
		}
	}
	assert.True(t, found, "failed lookup must surface as an elevating factor")
}
