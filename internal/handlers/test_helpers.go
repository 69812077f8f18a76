package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/services"
	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// WithChiRouteContext adds chi URL parameters to request context for
// testing handlers that read path parameters.
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// MockVoteService implements VoteServiceInterface for testing
type MockVoteService struct {
	AssessVoteFunc          func(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error)
	CompleteChallengeFunc   func(ctx context.Context, attemptToken string, challengeType models.Challenge, response string) (*models.ChallengeSession, error)
	ResendChallengeCodeFunc func(ctx context.Context, attemptToken, accountID string) error
	CommitVoteFunc          func(ctx context.Context, req services.CommitRequest) error
}

func (m *MockVoteService) AssessVote(ctx context.Context, req services.AssessRequest) (*services.AssessResult, error) {
	if m.AssessVoteFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.AssessVoteFunc(ctx, req)
}

func (m *MockVoteService) CompleteChallenge(ctx context.Context, attemptToken string, challengeType models.Challenge, response string) (*models.ChallengeSession, error) {
	if m.CompleteChallengeFunc == nil {
		return nil, models.ErrChallengeExpired
	}
	return m.CompleteChallengeFunc(ctx, attemptToken, challengeType, response)
}

func (m *MockVoteService) ResendChallengeCode(ctx context.Context, attemptToken, accountID string) error {
	if m.ResendChallengeCodeFunc == nil {
		return nil
	}
	return m.ResendChallengeCodeFunc(ctx, attemptToken, accountID)
}

func (m *MockVoteService) CommitVote(ctx context.Context, req services.CommitRequest) error {
	if m.CommitVoteFunc == nil {
		return nil
	}
	return m.CommitVoteFunc(ctx, req)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RegisterFunc          func(ctx context.Context, email, phone, countryCode string) (*models.Account, error)
	VerificationStateFunc func(ctx context.Context, accountID string) (*models.VerificationState, error)
}

func (m *MockAccountService) Register(ctx context.Context, email, phone, countryCode string) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, phone, countryCode)
}

func (m *MockAccountService) VerificationState(ctx context.Context, accountID string) (*models.VerificationState, error) {
	if m.VerificationStateFunc == nil {
		return nil, nil
	}
	return m.VerificationStateFunc(ctx, accountID)
}

// MockTallyReader implements TallyReaderInterface for testing
type MockTallyReader struct {
	TallyFunc func(ctx context.Context, pollID, choice string) (int64, error)
}

func (m *MockTallyReader) Tally(ctx context.Context, pollID, choice string) (int64, error) {
	if m.TallyFunc == nil {
		return 0, models.ErrNotFound
	}
	return m.TallyFunc(ctx, pollID, choice)
}
