package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulsepoll/voteguard/internal/handlers"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/services"
)

const (
	testPollID    = "5f4c2a1e-9b3d-4c6f-8a2b-1d7e9f0a3c5b"
	testAccountID = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"
)

func assessBody() handlers.AssessVoteRequest {
	return handlers.AssessVoteRequest{
		PollID:    testPollID,
		AccountID: testAccountID,
	}
}

func TestAssess_AllowedVoter(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		AssessVoteFunc: func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
			assert.Equal(t, testPollID, req.PollID)
			assert.NotEmpty(t, req.ClientIP)
			return &services.AssessResult{
				Assessment: &models.RiskAssessment{
					RiskScore:         12,
					RiskLevel:         models.RiskLow,
					RequiredChallenge: models.ChallengeNone,
					AllowVote:         true,
				},
				AttemptToken: "token-123",
				AttemptID:    "attempt-123",
			}, nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", assessBody())

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	var resp handlers.AssessVoteResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.RiskLow, resp.RiskLevel)
	assert.True(t, resp.AllowVote)
	assert.Equal(t, "token-123", resp.AttemptToken)
}

func TestAssess_BlockedVoterGetsNoToken(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		AssessVoteFunc: func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
			return &services.AssessResult{
				Assessment: &models.RiskAssessment{
					RiskScore:         100,
					RiskLevel:         models.RiskCritical,
					RequiredChallenge: models.ChallengeBlock,
					AllowVote:         false,
					BlockReason:       models.BlockReasonDuplicateVote,
				},
			}, nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", assessBody())

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	// A block is still a successful assessment, not an HTTP error.
	var resp handlers.AssessVoteResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp.AllowVote)
	assert.Equal(t, models.BlockReasonDuplicateVote, resp.BlockReason)
	assert.Empty(t, resp.AttemptToken)
}

func TestAssess_InvalidPollID(t *testing.T) {
	handler := handlers.NewVoteHandler(&handlers.MockVoteService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", handlers.AssessVoteRequest{
		PollID: "not-a-uuid",
	})

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAssess_MissingSignalsIsNotAnError(t *testing.T) {
	called := false
	mockVotes := &handlers.MockVoteService{
		AssessVoteFunc: func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
			called = true
			assert.Nil(t, req.Fingerprint)
			assert.Nil(t, req.Behavior)
			return &services.AssessResult{
				Assessment: &models.RiskAssessment{
					RiskLevel:         models.RiskHigh,
					RequiredChallenge: models.ChallengeSMSVerify,
					AllowVote:         true,
				},
			}, nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", assessBody())

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	assert.Equal(t, 200, w.Code)
	assert.True(t, called, "absent signal payloads must reach the service, not fail validation")
}

func TestAssess_PollNotFound(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		AssessVoteFunc: func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
			return nil, models.ErrNotFound
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", assessBody())

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestAssess_PollClosed(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		AssessVoteFunc: func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
			return nil, models.ErrPollClosed
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/assess", assessBody())

	w := httptest.NewRecorder()
	handler.Assess(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func challengeBody() handlers.ChallengeRequest {
	return handlers.ChallengeRequest{
		AttemptToken:  "token-123",
		ChallengeType: "captcha",
		Response:      "captcha-response",
	}
}

func TestChallenge_Satisfied(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		CompleteChallengeFunc: func(ctx context.Context, token string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
			assert.Equal(t, models.ChallengeCaptcha, challengeType)
			return &models.ChallengeSession{State: models.StateChallengeSatisfied}, nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge", challengeBody())

	w := httptest.NewRecorder()
	handler.Challenge(w, req)

	var resp handlers.ChallengeResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "satisfied", resp.Status)
}

func TestChallenge_WrongResponseIsNotAnHTTPError(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		CompleteChallengeFunc: func(ctx context.Context, token string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
			return &models.ChallengeSession{
				State:            models.StateChallengeFailed,
				FailedAttempts:   1,
				RetriesRemaining: 2,
			}, models.ErrChallengeFailed
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge", challengeBody())

	w := httptest.NewRecorder()
	handler.Challenge(w, req)

	var resp handlers.ChallengeResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, 2, resp.RetriesRemaining)
}

func TestChallenge_ExpiredAttempt(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		CompleteChallengeFunc: func(ctx context.Context, token string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
			return nil, models.ErrChallengeExpired
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge", challengeBody())

	w := httptest.NewRecorder()
	handler.Challenge(w, req)

	handlers.AssertErrorResponse(t, w, 410, "expired")
}

func TestChallenge_BlockedAttempt(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		CompleteChallengeFunc: func(ctx context.Context, token string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
			return &models.ChallengeSession{State: models.StateBlocked}, models.ErrAttemptBlocked
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge", challengeBody())

	w := httptest.NewRecorder()
	handler.Challenge(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestChallenge_RejectsUnknownType(t *testing.T) {
	handler := handlers.NewVoteHandler(&handlers.MockVoteService{}, nil)
	body := challengeBody()
	body.ChallengeType = "retina_scan"
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge", body)

	w := httptest.NewRecorder()
	handler.Challenge(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func commitBody() handlers.CommitVoteRequest {
	return handlers.CommitVoteRequest{
		PollID:       testPollID,
		Choice:       "option-a",
		AttemptToken: "token-123",
	}
}

func TestCommit_Success(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		CommitVoteFunc: func(ctx context.Context, req services.CommitRequest) error {
			assert.Equal(t, "option-a", req.Choice)
			return nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/commit", commitBody())

	w := httptest.NewRecorder()
	handler.Commit(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "committed", resp["status"])
}

func TestCommit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"duplicate vote", models.ErrDuplicateVote, 409, "conflict"},
		{"already committed", models.ErrConflict, 409, "conflict"},
		{"challenge pending", models.ErrChallengeRequired, 403, "forbidden"},
		{"blocked attempt", models.ErrAttemptBlocked, 403, "forbidden"},
		{"expired attempt", models.ErrChallengeExpired, 410, "expired"},
		{"poll closed", models.ErrPollClosed, 409, "conflict"},
		{"store outage", models.ErrStoreUnavailable, 503, models.BlockReasonIntegrityUnavail},
		{"poll mismatch", models.ErrBadRequest, 400, "bad_request"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockVotes := &handlers.MockVoteService{
				CommitVoteFunc: func(ctx context.Context, req services.CommitRequest) error {
					return tc.serviceErr
				},
			}

			handler := handlers.NewVoteHandler(mockVotes, nil)
			req := handlers.NewTestRequest(t, "POST", "/v1/votes/commit", commitBody())

			w := httptest.NewRecorder()
			handler.Commit(w, req)

			handlers.AssertErrorResponse(t, w, tc.wantStatus, tc.wantCode)
		})
	}
}

func TestResendCode_Success(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		ResendChallengeCodeFunc: func(ctx context.Context, attemptToken, accountID string) error {
			assert.Equal(t, "token-123", attemptToken)
			return nil
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge/resend", handlers.ResendCodeRequest{
		AttemptToken: "token-123",
		AccountID:    testAccountID,
	})

	w := httptest.NewRecorder()
	handler.ResendCode(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "sent", resp["status"])
}

func TestResendCode_NoDeliverableChallenge(t *testing.T) {
	mockVotes := &handlers.MockVoteService{
		ResendChallengeCodeFunc: func(ctx context.Context, attemptToken, accountID string) error {
			return models.ErrBadRequest
		},
	}

	handler := handlers.NewVoteHandler(mockVotes, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/votes/challenge/resend", handlers.ResendCodeRequest{
		AttemptToken: "token-123",
		AccountID:    testAccountID,
	})

	w := httptest.NewRecorder()
	handler.ResendCode(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
