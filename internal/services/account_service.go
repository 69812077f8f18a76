package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pulsepoll/voteguard/internal/models"
	"github.com/pulsepoll/voteguard/pkg/crypto"
)

// AccountRepository defines the persistence contract for accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmailLookup(ctx context.Context, lookupHash string) (*models.Account, error)
	FindByPhoneLookup(ctx context.Context, lookupHash string) (*models.Account, error)
	GetVerificationState(ctx context.Context, id string) (*models.VerificationState, error)
}

// AccountService owns the searchable-encryption boundary: raw PII comes
// in, envelopes and lookup hashes go to the repository, and plaintext
// is only ever recovered at a delivery boundary.
type AccountService struct {
	repo   AccountRepository
	keys   *crypto.KeySet
	alerts AlertService
	logger *slog.Logger
}

func NewAccountService(repo AccountRepository, keys *crypto.KeySet, alerts AlertService, logger *slog.Logger) *AccountService {
	return &AccountService{
		repo:   repo,
		keys:   keys,
		alerts: alerts,
		logger: logger,
	}
}

// encryptValue produces the envelope and lookup hash for one
// already-normalized PII value.
func (s *AccountService) encryptValue(normalized string) (models.EncryptedField, error) {
	envelope, err := crypto.EncryptField([]byte(normalized), s.keys.EncryptionKey)
	if err != nil {
		return models.EncryptedField{}, err
	}
	return models.EncryptedField{
		Envelope:   envelope,
		LookupHash: crypto.ComputeLookupHash(normalized, s.keys.LookupSalt),
	}, nil
}

// Register creates an account with encrypted email and optional phone.
// A duplicate normalized email surfaces as ErrConflict through the
// unique index on the email lookup hash.
func (s *AccountService) Register(ctx context.Context, email, phone, countryCode string) (*models.Account, error) {
	normalizedEmail := crypto.NormalizeEmail(email)
	if normalizedEmail == "" {
		return nil, models.ErrBadRequest
	}

	emailField, err := s.encryptValue(normalizedEmail)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:       emailField,
		CountryCode: countryCode,
	}

	if phone != "" {
		phoneField, err := s.encryptValue(crypto.NormalizePhone(phone))
		if err != nil {
			return nil, err
		}
		account.Phone = phoneField
	}

	created, err := s.repo.Create(ctx, account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", slog.String("account_id", created.ID))
	return created, nil
}

// FindByEmail resolves an account from a raw email address via its
// lookup hash. Case and whitespace variants of the same address
// resolve to the same account.
func (s *AccountService) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	normalized := crypto.NormalizeEmail(email)
	if normalized == "" {
		return nil, models.ErrBadRequest
	}
	return s.repo.FindByEmailLookup(ctx, crypto.ComputeLookupHash(normalized, s.keys.LookupSalt))
}

// FindByPhone resolves an account from a raw phone number.
func (s *AccountService) FindByPhone(ctx context.Context, phone string) (*models.Account, error) {
	normalized := crypto.NormalizePhone(phone)
	if normalized == "" {
		return nil, models.ErrBadRequest
	}
	return s.repo.FindByPhoneLookup(ctx, crypto.ComputeLookupHash(normalized, s.keys.LookupSalt))
}

// VerificationState returns the risk engine's view of an account. A
// missing or empty account id means anonymous: nil state, no error.
func (s *AccountService) VerificationState(ctx context.Context, accountID string) (*models.VerificationState, error) {
	if accountID == "" {
		return nil, nil
	}
	state, err := s.repo.GetVerificationState(ctx, accountID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return state, err
}

// DecryptEmail recovers the plaintext email for out-of-band code
// delivery. An envelope that fails authenticated decryption raises an
// operator alert: that is key mismatch or corruption, not bad input.
func (s *AccountService) DecryptEmail(ctx context.Context, accountID string) (string, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}

	plaintext, err := crypto.DecryptField(account.Email.Envelope, s.keys.EncryptionKey)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryption) {
			s.alerts.DecryptionFailure(ctx, accountID, err)
			return "", models.ErrDecryptionFailed
		}
		return "", err
	}
	return string(plaintext), nil
}
