package repositories

import (
	"context"

	"github.com/pulsepoll/voteguard/internal/database"
	"github.com/pulsepoll/voteguard/internal/models"
)

// PollRepository reads poll voting windows. The ballot model itself
// belongs to the poll service; the integrity engine only needs to know
// when a poll opens and closes.
type PollRepository struct {
	db *database.DB
}

func NewPollRepository(db *database.DB) *PollRepository {
	return &PollRepository{db: db}
}

// GetPollWindow returns the open/close window for a poll.
func (r *PollRepository) GetPollWindow(ctx context.Context, pollID string) (*models.PollWindow, error) {
	query := `SELECT id, opens_at, closes_at FROM polls WHERE id = $1`

	var w models.PollWindow
	err := r.db.Pool.QueryRow(ctx, query, pollID).Scan(&w.PollID, &w.OpensAt, &w.ClosesAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &w, nil
}
