package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsepoll/voteguard/internal/models"
	pkghttp "github.com/pulsepoll/voteguard/pkg/http"
)

// TallyReaderInterface reads aggregate tallies
type TallyReaderInterface interface {
	Tally(ctx context.Context, pollID, choice string) (int64, error)
}

// PollHandler serves aggregate tally reads. There is deliberately no
// per-vote read path: aggregates are the only stored vote data.
type PollHandler struct {
	tallies TallyReaderInterface
}

// NewPollHandler creates a new PollHandler
func NewPollHandler(tallies TallyReaderInterface) *PollHandler {
	return &PollHandler{tallies: tallies}
}

// TallyResponse is the aggregate count for one choice
type TallyResponse struct {
	PollID    string `json:"poll_id"`
	Choice    string `json:"choice"`
	VoteCount int64  `json:"vote_count"`
}

// Tally handles GET /v1/polls/{id}/tally?choice=...
func (h *PollHandler) Tally(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "id")
	choice := r.URL.Query().Get("choice")
	if pollID == "" || choice == "" {
		pkghttp.WriteBadRequest(w, "Poll id and choice are required")
		return
	}

	count, err := h.tallies.Tally(r.Context(), pollID, choice)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Poll not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, TallyResponse{
		PollID:    pollID,
		Choice:    choice,
		VoteCount: count,
	})
}
