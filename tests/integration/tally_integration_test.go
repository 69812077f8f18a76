package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/repositories"
)

func TestTally_IncrementAndRead(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	now := time.Now().UTC()
	pollID, err := SeedPoll(ctx, testDB.Pool, "favorite season?", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	repo := repositories.NewVoteRepository(testDB.DB)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.IncrementTally(ctx, pollID, "summer"))
	}
	require.NoError(t, repo.IncrementTally(ctx, pollID, "winter"))

	summer, err := repo.Tally(ctx, pollID, "summer")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summer)

	winter, err := repo.Tally(ctx, pollID, "winter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), winter)

	// A choice nobody picked reads as zero, not an error.
	spring, err := repo.Tally(ctx, pollID, "spring")
	require.NoError(t, err)
	assert.Zero(t, spring)
}

func TestPollWindow_RoundTrip(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	opensAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	closesAt := time.Date(2026, 8, 8, 21, 0, 0, 0, time.UTC)
	pollID, err := SeedPoll(ctx, testDB.Pool, "best commute?", opensAt, closesAt)
	require.NoError(t, err)

	repo := repositories.NewPollRepository(testDB.DB)

	window, err := repo.GetPollWindow(ctx, pollID)
	require.NoError(t, err)
	assert.Equal(t, pollID, window.PollID)
	assert.WithinDuration(t, opensAt, window.OpensAt, time.Second)
	assert.WithinDuration(t, closesAt, window.ClosesAt, time.Second)

	_, err = repo.GetPollWindow(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
