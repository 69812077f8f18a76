package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pulsepoll/voteguard/internal/database"
)

// VoteRepository increments poll tallies. Only aggregates are stored:
// no per-vote row ever carries identity material.
type VoteRepository struct {
	db *database.DB
}

func NewVoteRepository(db *database.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// IncrementTally adds one vote to the (poll, choice) tally inside its
// own transaction. The caller sequences this against the dedup-marker
// claim; on failure the caller compensates by deleting the marker.
func (r *VoteRepository) IncrementTally(ctx context.Context, pollID, choice string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO poll_tallies (poll_id, choice, vote_count)
			VALUES ($1, $2, 1)
			ON CONFLICT (poll_id, choice)
			DO UPDATE SET vote_count = poll_tallies.vote_count + 1
		`
		_, err := tx.Exec(ctx, query, pollID, choice)
		return database.MapPostgresError(err)
	})
}

// Tally returns the current count for one (poll, choice) pair.
func (r *VoteRepository) Tally(ctx context.Context, pollID, choice string) (int64, error) {
	query := `SELECT vote_count FROM poll_tallies WHERE poll_id = $1 AND choice = $2`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, pollID, choice).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return count, database.MapPostgresError(err)
}
