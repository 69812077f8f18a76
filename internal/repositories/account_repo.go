package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pulsepoll/voteguard/internal/database"
	"github.com/pulsepoll/voteguard/internal/models"
)

// AccountRepository handles database operations for account records.
// PII columns hold AEAD envelopes; equality search goes through the
// lookup-hash columns only.
type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
	id, email_ciphertext, email_lookup_hash,
	phone_ciphertext, phone_lookup_hash,
	email_verified, phone_verified, country_code,
	created_at, updated_at
`

// Create inserts a new account with pre-encrypted PII fields.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		INSERT INTO accounts (
			email_ciphertext, email_lookup_hash,
			phone_ciphertext, phone_lookup_hash,
			email_verified, phone_verified, country_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + accountColumns

	row := r.db.Pool.QueryRow(ctx, query,
		account.Email.Envelope,
		account.Email.LookupHash,
		nullableBytes(account.Phone.Envelope),
		nullableString(account.Phone.LookupHash),
		account.EmailVerified,
		account.PhoneVerified,
		account.CountryCode,
	)

	created, err := scanAccount(row)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return created, nil
}

// GetByID fetches an account by primary key.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return account, nil
}

// FindByEmailLookup resolves an account by the deterministic lookup
// hash of its normalized email. The plaintext never reaches the query.
func (r *AccountRepository) FindByEmailLookup(ctx context.Context, lookupHash string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email_lookup_hash = $1`

	account, err := scanAccount(r.db.Pool.QueryRow(ctx, query, lookupHash))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return account, nil
}

// FindByPhoneLookup resolves an account by its phone lookup hash.
func (r *AccountRepository) FindByPhoneLookup(ctx context.Context, lookupHash string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE phone_lookup_hash = $1`

	account, err := scanAccount(r.db.Pool.QueryRow(ctx, query, lookupHash))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return account, nil
}

// GetVerificationState returns the verification booleans for an
// account, or ErrNotFound for anonymous/unknown ids.
func (r *AccountRepository) GetVerificationState(ctx context.Context, id string) (*models.VerificationState, error) {
	query := `SELECT email_verified, phone_verified FROM accounts WHERE id = $1`

	var state models.VerificationState
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&state.EmailVerified, &state.PhoneVerified)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &state, nil
}

// RotationBatch is one page of accounts due for re-encryption under a
// new key version, ordered by id so the cursor is resumable.
type RotationBatch struct {
	Accounts []*models.Account
	LastID   string
}

// ListForRotation returns up to limit accounts with key_version below
// target, starting after the cursor id (empty cursor starts from the
// beginning).
func (r *AccountRepository) ListForRotation(ctx context.Context, targetVersion int, afterID string, limit int) (*RotationBatch, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE key_version < $1 AND ($2 = '' OR id > $2::uuid)
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, targetVersion, afterID, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	batch := &RotationBatch{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		batch.Accounts = append(batch.Accounts, account)
		batch.LastID = account.ID
	}
	return batch, rows.Err()
}

// UpdateEnvelopes writes re-encrypted PII envelopes and the new key
// version. Lookup hashes are deliberately not updatable here: rotation
// must never touch them.
func (r *AccountRepository) UpdateEnvelopes(ctx context.Context, id string, email, phone []byte, keyVersion int) error {
	query := `
		UPDATE accounts
		SET email_ciphertext = $2, phone_ciphertext = $3, key_version = $4, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, email, nullableBytes(phone), keyVersion)
	return database.MapPostgresError(err)
}

// RotationCursor reads the persisted rotation cursor for the target
// version, if a rotation is in flight.
func (r *AccountRepository) RotationCursor(ctx context.Context, targetVersion int) (string, error) {
	query := `
		SELECT COALESCE(last_rotated_id::text, '')
		FROM key_rotation_state
		WHERE target_version = $1 AND completed_at IS NULL
	`

	var cursor string
	err := r.db.Pool.QueryRow(ctx, query, targetVersion).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return cursor, database.MapPostgresError(err)
}

// SaveRotationCursor upserts rotation progress; done marks completion.
func (r *AccountRepository) SaveRotationCursor(ctx context.Context, targetVersion int, lastID string, done bool) error {
	query := `
		INSERT INTO key_rotation_state (id, last_rotated_id, target_version, completed_at)
		VALUES (1, NULLIF($1, '')::uuid, $2, CASE WHEN $3 THEN NOW() ELSE NULL END)
		ON CONFLICT (id) DO UPDATE
		SET last_rotated_id = EXCLUDED.last_rotated_id,
		    target_version = EXCLUDED.target_version,
		    completed_at = EXCLUDED.completed_at
	`

	_, err := r.db.Pool.Exec(ctx, query, lastID, targetVersion, done)
	return database.MapPostgresError(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account       models.Account
		phoneEnvelope []byte
		phoneLookup   *string
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := row.Scan(
		&account.ID,
		&account.Email.Envelope,
		&account.Email.LookupHash,
		&phoneEnvelope,
		&phoneLookup,
		&account.EmailVerified,
		&account.PhoneVerified,
		&account.CountryCode,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Phone.Envelope = phoneEnvelope
	if phoneLookup != nil {
		account.Phone.LookupHash = *phoneLookup
	}
	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt
	return &account, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
