package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsepoll/voteguard/internal/models"
	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
)

// AccountServiceInterface defines the interface for account business logic
type AccountServiceInterface interface {
	Register(ctx context.Context, email, phone, countryCode string) (*models.Account, error)
	VerificationState(ctx context.Context, accountID string) (*models.VerificationState, error)
}

// AccountHandler handles account registration and status reads.
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// RegisterAccountRequest represents the request body for registration
type RegisterAccountRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone" validate:"omitempty,max=20"`
	CountryCode string `json:"country_code" validate:"omitempty,len=2,alpha"`
}

// RegisterAccountResponse returns the new account id. PII fields are
// never echoed back.
type RegisterAccountResponse struct {
	AccountID string `json:"account_id"`
}

// Register handles POST /v1/accounts
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	account, err := h.service.Register(r.Context(), req.Email, req.Phone, req.CountryCode)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration details")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, RegisterAccountResponse{AccountID: account.ID})
}

// VerificationStatus handles GET /v1/accounts/{id}/verification
func (h *AccountHandler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account id is required")
		return
	}

	state, err := h.service.VerificationState(r.Context(), accountID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	if state == nil {
		pkghttp.WriteNotFound(w, "Account not found")
		return
	}

	writeJSON(w, http.StatusOK, state)
}
