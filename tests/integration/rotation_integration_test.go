package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepoll/voteguard/internal/background"
	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/internal/repositories"
	"github.com/pulsepoll/voteguard/internal/services"
	"github.com/pulsepoll/voteguard/pkg/crypto"
	"github.com/pulsepoll/voteguard/pkg/logger"
)

func newRotationManager(repo *repositories.AccountRepository, activeKey, standbyKey []byte, targetVersion int) *background.RotationManager {
	log := discardLogger()
	return background.NewRotationManager(
		repo,
		activeKey,
		standbyKey,
		targetVersion,
		logger.NewAuditLogger(log),
		services.NewLogAlertService(log),
		log,
		time.Hour,
	)
}

func pendingRotation(t *testing.T, targetVersion int) int {
	t.Helper()

	var pending int
	err := testDB.Pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM accounts WHERE key_version < $1`, targetVersion,
	).Scan(&pending)
	require.NoError(t, err)
	return pending
}

func TestKeyRotation_ReEncryptsWithoutTouchingLookupHashes(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	keysV1, err := DeriveTestKeys("rotation-master-v1")
	require.NoError(t, err)
	keysV2, err := DeriveTestKeys("rotation-master-v2")
	require.NoError(t, err)

	repo, svcV1 := NewAccountStack(testDB.DB, keysV1)
	_, svcV2 := NewAccountStack(testDB.DB, keysV2)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		account, err := svcV1.Register(ctx, fmt.Sprintf("rotate%d@example.com", i), "", "US")
		require.NoError(t, err)
		ids = append(ids, account.ID)
	}

	rm := newRotationManager(repo, keysV1.EncryptionKey, keysV2.EncryptionKey, 2)
	rm.RunOnce(ctx)

	assert.Zero(t, pendingRotation(t, 2))

	// Lookup hashes are untouched: every email still resolves.
	for i, id := range ids {
		found, err := svcV2.FindByEmail(ctx, fmt.Sprintf("rotate%d@example.com", i))
		require.NoError(t, err)
		assert.Equal(t, id, found.ID)
	}

	// Envelopes now open under the standby key and only that key.
	email, err := svcV2.DecryptEmail(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "rotate0@example.com", email)

	_, err = svcV1.DecryptEmail(ctx, ids[0])
	assert.ErrorIs(t, err, models.ErrDecryptionFailed)

	var completedAt *time.Time
	err = testDB.Pool.QueryRow(ctx,
		`SELECT completed_at FROM key_rotation_state WHERE id = 1`,
	).Scan(&completedAt)
	require.NoError(t, err)
	assert.NotNil(t, completedAt)
}

func TestKeyRotation_CompletedRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	keysV1, err := DeriveTestKeys("rotation-master-v1")
	require.NoError(t, err)
	keysV2, err := DeriveTestKeys("rotation-master-v2")
	require.NoError(t, err)

	repo, svcV1 := NewAccountStack(testDB.DB, keysV1)

	account, err := svcV1.Register(ctx, "noop@example.com", "", "US")
	require.NoError(t, err)

	rm := newRotationManager(repo, keysV1.EncryptionKey, keysV2.EncryptionKey, 2)
	rm.RunOnce(ctx)

	var firstEnvelope []byte
	err = testDB.Pool.QueryRow(ctx,
		`SELECT email_ciphertext FROM accounts WHERE id = $1`, account.ID,
	).Scan(&firstEnvelope)
	require.NoError(t, err)

	// A second pass finds nothing below the target version and must not
	// touch the already-rotated envelope.
	rm.RunOnce(ctx)

	batch, err := repo.ListForRotation(ctx, 2, "", 10)
	require.NoError(t, err)
	assert.Empty(t, batch.Accounts)

	var secondEnvelope []byte
	err = testDB.Pool.QueryRow(ctx,
		`SELECT email_ciphertext FROM accounts WHERE id = $1`, account.ID,
	).Scan(&secondEnvelope)
	require.NoError(t, err)
	assert.Equal(t, firstEnvelope, secondEnvelope)
}

func TestKeyRotation_ResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.CleanupTables(ctx))

	keysV1, err := DeriveTestKeys("rotation-master-v1")
	require.NoError(t, err)
	keysV2, err := DeriveTestKeys("rotation-master-v2")
	require.NoError(t, err)

	repo, svcV1 := NewAccountStack(testDB.DB, keysV1)
	_, svcV2 := NewAccountStack(testDB.DB, keysV2)

	for i := 0; i < 5; i++ {
		_, err := svcV1.Register(ctx, fmt.Sprintf("resume%d@example.com", i), "", "US")
		require.NoError(t, err)
	}

	// Rotate the first two accounts by hand, as an interrupted pass
	// would have, and persist the cursor mid-table.
	batch, err := repo.ListForRotation(ctx, 2, "", 2)
	require.NoError(t, err)
	require.Len(t, batch.Accounts, 2)

	for _, account := range batch.Accounts {
		envelope, err := crypto.RotateEnvelope(account.Email.Envelope, keysV1.EncryptionKey, keysV2.EncryptionKey)
		require.NoError(t, err)
		require.NoError(t, repo.UpdateEnvelopes(ctx, account.ID, envelope, nil, 2))
	}
	require.NoError(t, repo.SaveRotationCursor(ctx, 2, batch.LastID, false))

	cursor, err := repo.RotationCursor(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, batch.LastID, cursor)

	// Mid-rotation, both rotated and unrotated accounts still resolve
	// through their unchanged lookup hashes.
	for i := 0; i < 5; i++ {
		_, err := svcV2.FindByEmail(ctx, fmt.Sprintf("resume%d@example.com", i))
		require.NoError(t, err)
	}

	// A fresh pass picks up at the cursor and finishes the table.
	rm := newRotationManager(repo, keysV1.EncryptionKey, keysV2.EncryptionKey, 2)
	rm.RunOnce(ctx)

	assert.Zero(t, pendingRotation(t, 2))

	for i := 0; i < 5; i++ {
		found, err := svcV2.FindByEmail(ctx, fmt.Sprintf("resume%d@example.com", i))
		require.NoError(t, err)

		email, err := svcV2.DecryptEmail(ctx, found.ID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("resume%d@example.com", i), email)
	}

	// Completion clears the in-flight cursor.
	cursor, err = repo.RotationCursor(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, cursor)
}
