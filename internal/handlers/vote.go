package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/services"
	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
)

// VoteServiceInterface defines the interface for the vote pipeline
type VoteServiceInterface interface {
	AssessVote(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error)
	CompleteChallenge(ctx context.Context, attemptToken string, challengeType models.Challenge, response string) (*models.ChallengeSession, error)
	ResendChallengeCode(ctx context.Context, attemptToken, accountID string) error
	CommitVote(ctx context.Context, req services.CommitRequest) error
}

// VoteHandler handles the assess/challenge/commit endpoints.
type VoteHandler struct {
	service  VoteServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewVoteHandler creates a new VoteHandler
func NewVoteHandler(service VoteServiceInterface, ipConfig *pkghttp.IPConfig) *VoteHandler {
	return &VoteHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// AssessVoteRequest represents the request body for vote assessment.
// The signal payloads are deliberately not validated here: missing or
// malformed signals elevate the risk score instead of failing the
// request.
type AssessVoteRequest struct {
	PollID       string                    `json:"poll_id" validate:"required,uuid"`
	AccountID    string                    `json:"account_id" validate:"omitempty,uuid"`
	AttemptToken string                    `json:"attempt_token"`
	Fingerprint  *models.DeviceFingerprint `json:"device_fingerprint"`
	Behavior     *models.BehavioralSignals `json:"behavioral_signals"`
}

// AssessVoteResponse represents the assessment verdict
type AssessVoteResponse struct {
	RiskScore         models.Score     `json:"risk_score"`
	RiskLevel         models.RiskLevel `json:"risk_level"`
	RequiredChallenge models.Challenge `json:"required_challenge"`
	AllowVote         bool             `json:"allow_vote"`
	BlockReason       string           `json:"block_reason,omitempty"`
	AttemptID         string           `json:"attempt_id,omitempty"`
	AttemptToken      string           `json:"attempt_token,omitempty"`
}

// ChallengeRequest represents a challenge response submission
type ChallengeRequest struct {
	AttemptToken  string `json:"attempt_token" validate:"required"`
	ChallengeType string `json:"challenge_type" validate:"required,oneof=captcha sms_verify email_verify"`
	Response      string `json:"response" validate:"required,max=2048"`
}

// ChallengeResponse reports the state machine position after a
// challenge submission
type ChallengeResponse struct {
	Status           string `json:"status"`
	RetriesRemaining int    `json:"retries_remaining,omitempty"`
}

// ResendCodeRequest re-requests delivery of a verification code
type ResendCodeRequest struct {
	AttemptToken string `json:"attempt_token" validate:"required"`
	AccountID    string `json:"account_id" validate:"required,uuid"`
}

// CommitVoteRequest finalizes an assessed attempt
type CommitVoteRequest struct {
	PollID       string `json:"poll_id" validate:"required,uuid"`
	Choice       string `json:"choice" validate:"required,max=200"`
	AttemptToken string `json:"attempt_token" validate:"required"`
}

// Assess handles POST /v1/votes/assess
func (h *VoteHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessVoteRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.AssessVote(r.Context(), services.AssessRequest{
		PollID:       req.PollID,
		AccountID:    req.AccountID,
		ClientIP:     pkghttp.ExtractClientIP(r, h.ipConfig),
		Fingerprint:  req.Fingerprint,
		Behavior:     req.Behavior,
		AttemptToken: req.AttemptToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Poll not found")
		case errors.Is(err, models.ErrPollClosed):
			pkghttp.WriteConflict(w, "Poll is not open for voting")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	assessment := result.Assessment
	writeJSON(w, http.StatusOK, AssessVoteResponse{
		RiskScore:         assessment.RiskScore,
		RiskLevel:         assessment.RiskLevel,
		RequiredChallenge: assessment.RequiredChallenge,
		AllowVote:         assessment.AllowVote,
		BlockReason:       assessment.BlockReason,
		AttemptID:         result.AttemptID,
		AttemptToken:      result.AttemptToken,
	})
}

// Challenge handles POST /v1/votes/challenge
func (h *VoteHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	session, err := h.service.CompleteChallenge(r.Context(), req.AttemptToken, models.Challenge(req.ChallengeType), req.Response)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteGone(w, "Attempt expired, please start over")
		case errors.Is(err, models.ErrChallengeFailed):
			resp := ChallengeResponse{Status: "failed"}
			if session != nil {
				resp.RetriesRemaining = session.RetriesRemaining
			}
			writeJSON(w, http.StatusOK, resp)
		case errors.Is(err, models.ErrAttemptBlocked):
			pkghttp.WriteForbidden(w, "Attempt blocked")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Vote already committed for this attempt")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Challenge does not match this attempt")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{Status: "satisfied"})
}

// ResendCode handles POST /v1/votes/challenge/resend
func (h *VoteHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req ResendCodeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResendChallengeCode(r.Context(), req.AttemptToken, req.AccountID); err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteGone(w, "Attempt expired, please start over")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No deliverable challenge pending for this attempt")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// Commit handles POST /v1/votes/commit
func (h *VoteHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitVoteRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.CommitVote(r.Context(), services.CommitRequest{
		PollID:       req.PollID,
		Choice:       req.Choice,
		AttemptToken: req.AttemptToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteGone(w, "Attempt expired, please start over")
		case errors.Is(err, models.ErrChallengeRequired):
			pkghttp.WriteForbidden(w, "Challenge must be satisfied before committing")
		case errors.Is(err, models.ErrAttemptBlocked):
			pkghttp.WriteForbidden(w, "Attempt blocked")
		case errors.Is(err, models.ErrDuplicateVote):
			pkghttp.WriteConflict(w, "A vote has already been recorded for this poll")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Vote already committed for this attempt")
		case errors.Is(err, models.ErrPollClosed):
			pkghttp.WriteConflict(w, "Poll is not open for voting")
		case errors.Is(err, models.ErrStoreUnavailable):
			pkghttp.WriteServiceUnavailable(w, models.BlockReasonIntegrityUnavail, "Vote integrity checks are temporarily unavailable")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Poll not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Attempt token does not match this poll")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
